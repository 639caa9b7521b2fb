package models

import (
	"time"
)

// BranchStatus represents the current state of a branch.
type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "active"
	BranchStatusArchived BranchStatus = "archived"
)

// Branch represents a conversation branch within a session.
// Branches allow exploring alternative conversation paths from any point.
type Branch struct {
	// ID is the unique identifier for this branch.
	ID string `json:"id"`

	// SessionID is the session this branch belongs to.
	SessionID string `json:"session_id"`

	// ParentBranchID is the ID of the parent branch (nil for primary branch).
	ParentBranchID *string `json:"parent_branch_id,omitempty"`

	// Name is a human-readable name for the branch.
	Name string `json:"name"`

	// Description provides optional context about the branch purpose.
	Description string `json:"description,omitempty"`

	// BranchPoint is the sequence number in the parent branch where this branch diverges.
	// Messages with sequence <= BranchPoint are inherited from parent.
	BranchPoint int64 `json:"branch_point"`

	// Status indicates whether the branch is active, merged, or archived.
	Status BranchStatus `json:"status"`

	// IsPrimary indicates if this is the session's primary (main) branch.
	IsPrimary bool `json:"is_primary"`

	// Metadata stores additional branch-specific data.
	Metadata map[string]any `json:"metadata,omitempty"`

	// CreatedAt is when the branch was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the branch was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewBranch creates a new branch with default values.
func NewBranch(sessionID, name string) *Branch {
	now := time.Now()
	return &Branch{
		SessionID: sessionID,
		Name:      name,
		Status:    BranchStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewPrimaryBranch creates the primary branch for a session.
func NewPrimaryBranch(sessionID string) *Branch {
	branch := NewBranch(sessionID, "main")
	branch.IsPrimary = true
	branch.Description = "Primary conversation branch"
	return branch
}

// IsRoot returns true if this is a root branch (no parent).
func (b *Branch) IsRoot() bool {
	return b.ParentBranchID == nil
}

// CanArchive checks if this branch can be archived.
func (b *Branch) CanArchive() bool {
	return b.Status == BranchStatusActive && !b.IsPrimary
}

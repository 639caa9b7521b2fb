package sessions

import (
	"context"
	"errors"

	"github.com/conclave-ai/conclave/pkg/models"
)

// Common branch store errors.
var (
	ErrBranchNotFound       = errors.New("branch not found")
	ErrBranchAlreadyExists  = errors.New("branch already exists")
	ErrPrimaryBranchExists  = errors.New("session already has a primary branch")
	ErrCannotArchivePrimary = errors.New("cannot archive the primary branch")
)

// BranchStore defines the interface for branch persistence operations.
type BranchStore interface {
	// Branch CRUD

	// CreateBranch creates a new branch in a session. The first branch of
	// a session becomes its primary branch.
	CreateBranch(ctx context.Context, branch *models.Branch) error

	// GetBranch retrieves a branch by ID.
	GetBranch(ctx context.Context, branchID string) (*models.Branch, error)

	// UpdateBranch updates an existing branch.
	UpdateBranch(ctx context.Context, branch *models.Branch) error

	// GetPrimaryBranch returns the active branch for a session.
	GetPrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)

	// ListBranches returns a session's branches, including the compacted
	// ones retained for audit.
	ListBranches(ctx context.Context, sessionID string, opts BranchListOptions) ([]*models.Branch, error)

	// ArchiveBranch marks a branch as archived.
	ArchiveBranch(ctx context.Context, branchID string) error

	// Branch-aware message operations

	// AppendMessageToBranch adds a message to a branch; an empty branchID
	// targets the session's primary branch.
	AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error

	// GetBranchHistory retrieves a branch's messages, including any
	// inherited from its ancestors, capped at limit.
	GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error)

	// EnsurePrimaryBranch creates a primary branch for a session if one
	// doesn't exist yet.
	EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error)
}

// BranchListOptions configures branch listing queries.
type BranchListOptions struct {
	// Status filters by branch status.
	Status *models.BranchStatus

	// ParentBranchID filters by parent branch (nil means root branches only).
	ParentBranchID *string

	// IncludeArchived includes archived branches in results.
	IncludeArchived bool

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int

	// OrderBy specifies sort order ("created_at", "updated_at", "name").
	OrderBy string

	// OrderDesc reverses sort order.
	OrderDesc bool
}

// DefaultBranchListOptions returns sensible defaults for branch listing.
func DefaultBranchListOptions() BranchListOptions {
	return BranchListOptions{
		IncludeArchived: false,
		Limit:           50,
		OrderBy:         "created_at",
		OrderDesc:       true,
	}
}


package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/conclave-ai/conclave/pkg/models"
)

// MemoryBranchStore implements BranchStore using in-memory storage for testing.
type MemoryBranchStore struct {
	mu       sync.RWMutex
	branches map[string]*models.Branch
	messages map[string][]*models.Message // branchID -> messages
}

// NewMemoryBranchStore creates a new in-memory branch store.
func NewMemoryBranchStore() *MemoryBranchStore {
	return &MemoryBranchStore{
		branches: make(map[string]*models.Branch),
		messages: make(map[string][]*models.Message),
	}
}

func (s *MemoryBranchStore) CreateBranch(ctx context.Context, branch *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branch.ID == "" {
		branch.ID = uuid.NewString()
	}
	if branch.CreatedAt.IsZero() {
		branch.CreatedAt = time.Now()
	}
	branch.UpdatedAt = branch.CreatedAt

	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

func (s *MemoryBranchStore) GetBranch(ctx context.Context, branchID string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}
	return cloneBranch(branch), nil
}

func (s *MemoryBranchStore) UpdateBranch(ctx context.Context, branch *models.Branch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.branches[branch.ID]; !ok {
		return ErrBranchNotFound
	}
	branch.UpdatedAt = time.Now()
	s.branches[branch.ID] = cloneBranch(branch)
	return nil
}

func (s *MemoryBranchStore) GetPrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, branch := range s.branches {
		if branch.SessionID == sessionID && branch.IsPrimary {
			return cloneBranch(branch), nil
		}
	}
	return nil, ErrBranchNotFound
}

func (s *MemoryBranchStore) ListBranches(ctx context.Context, sessionID string, opts BranchListOptions) ([]*models.Branch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Branch
	for _, branch := range s.branches {
		if branch.SessionID != sessionID {
			continue
		}
		if opts.Status != nil && branch.Status != *opts.Status {
			continue
		}
		if !opts.IncludeArchived && branch.Status == models.BranchStatusArchived {
			continue
		}
		result = append(result, cloneBranch(branch))
	}

	// Apply pagination
	start := opts.Offset
	if start > len(result) {
		return []*models.Branch{}, nil
	}
	end := len(result)
	if opts.Limit > 0 && start+opts.Limit < end {
		end = start + opts.Limit
	}
	return result[start:end], nil
}

func (s *MemoryBranchStore) ArchiveBranch(ctx context.Context, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return ErrBranchNotFound
	}
	if branch.IsPrimary {
		return ErrCannotArchivePrimary
	}
	branch.Status = models.BranchStatusArchived
	branch.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryBranchStore) AppendMessageToBranch(ctx context.Context, sessionID, branchID string, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if branchID == "" {
		for _, branch := range s.branches {
			if branch.SessionID == sessionID && branch.IsPrimary {
				branchID = branch.ID
				break
			}
		}
		if branchID == "" {
			return ErrBranchNotFound
		}
	}

	if _, ok := s.branches[branchID]; !ok {
		return ErrBranchNotFound
	}

	// Get next sequence number
	var maxSeq int64
	for _, m := range s.messages[branchID] {
		if m.SequenceNum > maxSeq {
			maxSeq = m.SequenceNum
		}
	}

	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.BranchID = branchID
	clone.SequenceNum = maxSeq + 1

	s.messages[branchID] = append(s.messages[branchID], clone)

	// Update branch timestamp
	if branch, ok := s.branches[branchID]; ok {
		branch.UpdatedAt = time.Now()
	}

	return nil
}

func (s *MemoryBranchStore) GetBranchHistory(ctx context.Context, branchID string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	branch, ok := s.branches[branchID]
	if !ok {
		return nil, ErrBranchNotFound
	}

	var result []*models.Message

	// Get inherited messages from ancestors with cycle detection
	visited := make(map[string]bool)
	currentBranch := branch
	for currentBranch.ParentBranchID != nil {
		parentID := *currentBranch.ParentBranchID
		if visited[parentID] {
			// Circular reference detected, stop traversal
			break
		}
		visited[currentBranch.ID] = true

		parentMsgs := s.messages[parentID]
		for _, msg := range parentMsgs {
			if msg.SequenceNum <= currentBranch.BranchPoint {
				result = append(result, cloneMessage(msg))
			}
		}
		var ok bool
		currentBranch, ok = s.branches[parentID]
		if !ok {
			break
		}
	}

	// Add own messages
	for _, msg := range s.messages[branchID] {
		result = append(result, cloneMessage(msg))
	}

	// Apply limit
	if len(result) > limit {
		result = result[len(result)-limit:]
	}

	return result, nil
}

func (s *MemoryBranchStore) EnsurePrimaryBranch(ctx context.Context, sessionID string) (*models.Branch, error) {
	branch, err := s.GetPrimaryBranch(ctx, sessionID)
	if err == nil {
		return branch, nil
	}

	branch = models.NewPrimaryBranch(sessionID)
	if err := s.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

func cloneBranch(b *models.Branch) *models.Branch {
	if b == nil {
		return nil
	}
	clone := *b
	if b.ParentBranchID != nil {
		parentID := *b.ParentBranchID
		clone.ParentBranchID = &parentID
	}
	if b.Metadata != nil {
		clone.Metadata = make(map[string]any)
		for k, v := range b.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

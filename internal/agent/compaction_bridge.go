package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conclave-ai/conclave/internal/sessions"
	"github.com/conclave-ai/conclave/pkg/models"
)

// CompactionBridge wires a sessions.Compactor and sessions.BranchStore
// together to implement CompactionFunc: on context overflow it summarizes
// the session's current branch and starts a fresh branch seeded with just
// that summary, so the prior branch and every message on it stay fully
// retrievable for audit while the active conversation continues with a much
// smaller prompt.
type CompactionBridge struct {
	Store     sessions.Store
	Branches  sessions.BranchStore
	Compactor *sessions.Compactor
}

// NewCompactionBridge builds a CompactionBridge from its collaborators.
func NewCompactionBridge(store sessions.Store, branches sessions.BranchStore, compactor *sessions.Compactor) *CompactionBridge {
	return &CompactionBridge{Store: store, Branches: branches, Compactor: compactor}
}

// Compact implements CompactionFunc. It never mutates the current branch in
// place; a fresh branch is created with BranchPoint 0 (inherits nothing) so
// the old branch remains the complete, untouched record of the conversation
// up to this point.
func (b *CompactionBridge) Compact(ctx context.Context, sessionID string) (string, error) {
	if b.Compactor == nil {
		return "", fmt.Errorf("compaction: no compactor configured")
	}
	if b.Branches == nil {
		return "", fmt.Errorf("compaction: no branch store configured")
	}

	result, err := b.Compactor.Compact(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("compaction failed: %w", err)
	}
	if result.Summary == "" {
		return "", fmt.Errorf("compaction failed: strategy %s produced no usable summary", result.Strategy)
	}

	session, err := b.Store.Get(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("compaction: load session: %w", err)
	}

	var parentBranchID *string
	if primary, perr := b.Branches.GetPrimaryBranch(ctx, sessionID); perr == nil && primary != nil {
		id := primary.ID
		parentBranchID = &id
		primary.IsPrimary = false
		primary.Status = models.BranchStatusArchived
		_ = b.Branches.UpdateBranch(ctx, primary)
	}

	now := time.Now()
	branch := &models.Branch{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		ParentBranchID: parentBranchID,
		Name:           fmt.Sprintf("compacted-%s", now.UTC().Format("20060102T150405")),
		Description:    fmt.Sprintf("auto-compacted via %s strategy after context overflow", result.Strategy),
		BranchPoint:    0,
		Status:         models.BranchStatusActive,
		IsPrimary:      true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := b.Branches.CreateBranch(ctx, branch); err != nil {
		return "", fmt.Errorf("compaction: create branch: %w", err)
	}

	summaryMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   "Summary of prior conversation:\n\n" + result.Summary,
		CreatedAt: now,
		Metadata: map[string]any{
			"compaction_summary":    true,
			"compacted_from_branch": derefBranchID(parentBranchID),
			"messages_compacted":    result.MessagesBeforeCompaction,
		},
	}
	if err := b.Branches.AppendMessageToBranch(ctx, sessionID, branch.ID, summaryMsg); err != nil {
		return "", fmt.Errorf("compaction: append summary: %w", err)
	}

	// Stores that keep the session log on disk record the branch boundary
	// in the log itself, so the file stays the single source of truth:
	// the old branch remains readable below the marker, and the active
	// context restarts at the summary.
	if w, ok := b.Store.(branchMarkerWriter); ok {
		if err := w.StartBranch(ctx, sessionID, branch.ID, "compaction"); err != nil {
			return "", fmt.Errorf("compaction: write branch marker: %w", err)
		}
		if err := b.Store.AppendMessage(ctx, sessionID, summaryMsg); err != nil {
			return "", fmt.Errorf("compaction: append summary to log: %w", err)
		}
	}

	info := &sessions.CompactionInfo{
		LastCompactedAt:          now,
		Strategy:                 result.Strategy,
		MessagesBeforeCompaction: result.MessagesBeforeCompaction,
		MessagesAfterCompaction:  result.MessagesAfterCompaction,
		TokensSaved:              result.TokensEstimateBefore - result.TokensEstimateAfter,
		CompactionCount:          1,
	}
	if prev := sessions.GetCompactionInfo(session); prev != nil {
		info.CompactionCount = prev.CompactionCount + 1
	}
	sessions.SetCompactionInfo(session, info)
	if err := b.Store.Update(ctx, session); err != nil {
		return "", fmt.Errorf("compaction: update session metadata: %w", err)
	}

	return branch.ID, nil
}

// branchMarkerWriter is implemented by session stores whose log format
// carries branch markers inline (the file-backed store).
type branchMarkerWriter interface {
	StartBranch(ctx context.Context, sessionID, branchID, reason string) error
}

func derefBranchID(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

package sessions

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/conclave-ai/conclave/pkg/models"
)

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	session := &models.Session{Key: "board:finance", Channel: models.ChannelAPI}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	for _, content := range []string{"what's our runway?", "about 14 months"} {
		err := store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: content})
		if err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := reopened.GetByKey(ctx, "board:finance")
	if err != nil {
		t.Fatalf("GetByKey() after reopen error = %v", err)
	}
	history, err := reopened.GetHistory(ctx, got.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages after reopen, got %d", len(history))
	}
	if history[1].Content != "about 14 months" {
		t.Errorf("message order lost: %q", history[1].Content)
	}
}

func TestFileStoreBranchMarkerScopesHistory(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	session := &models.Session{Key: "alice"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	oldBranch := []string{"old turn 1", "old turn 2", "old turn 3"}
	for _, content := range oldBranch {
		if err := store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: content}); err != nil {
			t.Fatalf("AppendMessage() error = %v", err)
		}
	}

	if err := store.StartBranch(ctx, session.ID, "b2", "compaction"); err != nil {
		t.Fatalf("StartBranch() error = %v", err)
	}
	if err := store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleAssistant, Content: "summary of old turns"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	history, err := store.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "summary of old turns" {
		t.Fatalf("active branch should hold only the summary, got %v", history)
	}

	// The pre-compaction transcript is still on disk and retrievable.
	full, err := store.FullHistory(ctx, session.ID)
	if err != nil {
		t.Fatalf("FullHistory() error = %v", err)
	}
	if len(full) != 4 {
		t.Fatalf("expected 4 messages across branches, got %d", len(full))
	}

	branches, err := store.Branches(ctx, session.ID)
	if err != nil {
		t.Fatalf("Branches() error = %v", err)
	}
	if len(branches) != 1 || branches[0].ID != "b2" || branches[0].Reason != "compaction" {
		t.Fatalf("unexpected branch markers: %+v", branches)
	}

	// Branch scoping survives a reopen.
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	history, err = reopened.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() after reopen error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("branch scope lost on reopen: %d messages", len(history))
	}
}

func TestFileStoreDiscardsTornFinalRecord(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	session := &models.Session{Key: "crashy"}
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.AppendMessage(ctx, session.ID, &models.Message{Role: models.RoleUser, Content: "survived"}); err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}

	// Simulate a crash mid-write: a half-flushed record at the tail.
	path := filepath.Join(dir, sanitizeSessionID(session.ID)+".jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	if _, err := f.WriteString(`{"type":"message","message":{"content":"torn`); err != nil {
		t.Fatalf("WriteString() error = %v", err)
	}
	f.Close()

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen with torn record error = %v", err)
	}
	history, err := reopened.GetHistory(ctx, session.ID, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "survived" {
		t.Fatalf("torn record should be discarded, got %v", history)
	}
}

func TestFileStoreGetOrCreateIsIdempotent(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "cli:default", "general", models.ChannelAPI, "cli")
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	second, err := store.GetOrCreate(ctx, "cli:default", "general", models.ChannelAPI, "cli")
	if err != nil {
		t.Fatalf("GetOrCreate() second error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same session, got %s vs %s", first.ID, second.ID)
	}
}

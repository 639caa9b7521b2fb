package tasks

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreTaskCRUD(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	task := &ScheduledTask{
		ID:        "t1",
		Name:      "daily digest",
		AgentID:   "general",
		Schedule:  "0 9 * * *",
		Status:    TaskStatusActive,
		NextRunAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask() error = %v", err)
	}
	if err := store.CreateTask(ctx, task); err == nil {
		t.Fatal("duplicate create should fail")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask() error = %v", err)
	}
	got.Name = "mutated"
	fresh, _ := store.GetTask(ctx, "t1")
	if fresh.Name != "daily digest" {
		t.Error("GetTask must return a copy, not shared state")
	}

	task.Status = TaskStatusPaused
	if err := store.UpdateTask(ctx, task); err != nil {
		t.Fatalf("UpdateTask() error = %v", err)
	}
	updated, _ := store.GetTask(ctx, "t1")
	if updated.Status != TaskStatusPaused {
		t.Errorf("status = %s, want paused", updated.Status)
	}

	if err := store.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask() error = %v", err)
	}
	if _, err := store.GetTask(ctx, "t1"); err == nil {
		t.Fatal("deleted task should not be found")
	}
}

func TestMemoryStoreGetDueTasks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	mk := func(id string, next time.Time, status TaskStatus) {
		t.Helper()
		err := store.CreateTask(ctx, &ScheduledTask{
			ID: id, Name: id, Schedule: "* * * * *",
			Status: status, NextRunAt: next, CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateTask(%s) error = %v", id, err)
		}
	}
	mk("due-old", now.Add(-2*time.Hour), TaskStatusActive)
	mk("due-new", now.Add(-time.Minute), TaskStatusActive)
	mk("future", now.Add(time.Hour), TaskStatusActive)
	mk("paused", now.Add(-time.Hour), TaskStatusPaused)

	due, err := store.GetDueTasks(ctx, now, 10)
	if err != nil {
		t.Fatalf("GetDueTasks() error = %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due tasks, got %d", len(due))
	}
	if due[0].ID != "due-old" {
		t.Errorf("oldest due task first, got %s", due[0].ID)
	}
}

func TestMemoryStoreExecutionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	exec := &TaskExecution{
		ID:          "e1",
		TaskID:      "t1",
		Status:      ExecutionStatusPending,
		ScheduledAt: now,
		Prompt:      "do the thing",
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution() error = %v", err)
	}

	acquired, err := store.AcquireExecution(ctx, "worker-1", time.Minute)
	if err != nil {
		t.Fatalf("AcquireExecution() error = %v", err)
	}
	if acquired == nil || acquired.ID != "e1" {
		t.Fatalf("expected to acquire e1, got %+v", acquired)
	}

	// Locked execution is not handed out again while the lease holds.
	again, err := store.AcquireExecution(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("AcquireExecution() second error = %v", err)
	}
	if again != nil {
		t.Fatalf("locked execution re-acquired: %+v", again)
	}

	if err := store.CompleteExecution(ctx, "e1", ExecutionStatusSucceeded, "done", ""); err != nil {
		t.Fatalf("CompleteExecution() error = %v", err)
	}
	final, _ := store.GetExecution(ctx, "e1")
	if final.Status != ExecutionStatusSucceeded || final.Response != "done" {
		t.Errorf("unexpected final state: %+v", final)
	}
	if final.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

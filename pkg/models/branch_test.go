package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBranchStatusConstants(t *testing.T) {
	tests := []struct {
		constant BranchStatus
		expected string
	}{
		{BranchStatusActive, "active"},
		{BranchStatusArchived, "archived"},
	}
	for _, tt := range tests {
		if string(tt.constant) != tt.expected {
			t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
		}
	}
}

func TestBranchJSONRoundTrip(t *testing.T) {
	parent := "parent-branch"
	branch := Branch{
		ID:             "b1",
		SessionID:      "s1",
		ParentBranchID: &parent,
		Name:           "compacted-20260802T090000",
		Description:    "auto-compacted after context overflow",
		BranchPoint:    0,
		Status:         BranchStatusActive,
		IsPrimary:      true,
		CreatedAt:      time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
		UpdatedAt:      time.Date(2026, 8, 2, 9, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(branch)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var got Branch
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if got.ID != branch.ID || got.SessionID != branch.SessionID {
		t.Errorf("identity fields lost: %+v", got)
	}
	if got.ParentBranchID == nil || *got.ParentBranchID != parent {
		t.Errorf("parent pointer lost: %v", got.ParentBranchID)
	}
	if !got.IsPrimary || got.Status != BranchStatusActive {
		t.Errorf("status fields lost: %+v", got)
	}
}

package store

import (
	"context"
	"testing"

	"github.com/tabwarden/tabwarden/internal/tab"
)

func TestDeleteEventsOlderThan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, ts := range []int64{100, 200, 300, 400} {
		s.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: ts})
	}

	// Cutoff is inclusive: ts <= 200 goes.
	deleted, err := s.DeleteEventsOlderThan(ctx, 200)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2", deleted)
	}

	events, _ := s.AllEvents(ctx)
	if len(events) != 2 {
		t.Errorf("remaining = %d, want 2", len(events))
	}
	for _, ev := range events {
		if ev.Timestamp <= 200 {
			t.Errorf("event with ts %d should have been deleted", ev.Timestamp)
		}
	}
}

func TestDeleteBatchesOlderThan(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.AppendBatch(ctx, tab.Batch{Timestamp: 100, DiscardedCount: 1, TotalTabs: 1})
	s.AppendBatch(ctx, tab.Batch{Timestamp: 900, DiscardedCount: 1, TotalTabs: 1})

	deleted, err := s.DeleteBatchesOlderThan(ctx, 500)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}
}

func TestDeleteOlderThan_MetadataUntouched(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertMetadata(ctx, 1, tab.MetadataPatch{SessionID: "A"}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	s.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: 100})

	if _, err := s.DeleteEventsOlderThan(ctx, 1<<60); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, ok, _ := s.GetMetadata(ctx, 1)
	if !ok {
		t.Error("metadata must survive event pruning")
	}
}

func TestClearAll(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.AppendEvent(ctx, tab.Event{TabID: 1, Kind: tab.EventCreated, Timestamp: 1})
	s.AppendBatch(ctx, tab.Batch{Timestamp: 1, DiscardedCount: 1, TotalTabs: 1})
	s.UpsertMetadata(ctx, 1, tab.MetadataPatch{SessionID: "A"})
	s.SaveSessionState(ctx, SessionState{SessionID: "A", ActiveTabID: 1})

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}

	c, _ := s.Count(ctx)
	if c != (Counts{}) {
		t.Errorf("counts after clear = %+v", c)
	}
	_, ok, _ := s.LoadSessionState(ctx)
	if ok {
		t.Error("session state should be cleared")
	}
}

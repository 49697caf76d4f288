// Package retention enforces the data retention window by pruning old
// event and discard-batch records.
package retention

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabwarden/tabwarden/internal/store"
	"github.com/tabwarden/tabwarden/internal/tab"
)

// Result holds per-family deletion counts from one purge.
type Result struct {
	Events  int64 `json:"events"`
	Batches int64 `json:"discardEvents"`
}

// Sweeper deletes records older than the retention cutoff.
// Metadata is exempt: it is keyed by tab ID and self-heals through the
// session-reset merge rule instead of expiring.
type Sweeper struct {
	store *store.Store
	clock tab.Clock
}

// New creates a Sweeper over st.
func New(st *store.Store, clock tab.Clock) *Sweeper {
	if clock == nil {
		clock = tab.SystemClock()
	}
	return &Sweeper{store: st, clock: clock}
}

// Purge deletes events and discard batches with timestamps at or before
// now minus retentionDays. Idempotent: repeating a purge with the same or a
// later cutoff deletes nothing further. retentionDays of 0 is valid and
// means "purge everything not created after this instant".
//
// Deletion is per-family; a failure part way leaves the remaining old
// records for the next sweep rather than corrupting anything.
func (s *Sweeper) Purge(ctx context.Context, retentionDays int) (Result, error) {
	if retentionDays < 0 {
		return Result{}, fmt.Errorf("purge: negative retention %d days", retentionDays)
	}

	cutoff := tab.Millis(s.clock.Now()) - int64(retentionDays)*86_400_000

	var res Result
	var err error

	res.Events, err = s.store.DeleteEventsOlderThan(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge events: %w", err)
	}

	res.Batches, err = s.store.DeleteBatchesOlderThan(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("purge batches: %w", err)
	}

	slog.Info("retention purge complete",
		"retention_days", retentionDays,
		"events_deleted", res.Events,
		"batches_deleted", res.Batches,
	)

	return res, nil
}

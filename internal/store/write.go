package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// AppendEvent inserts a lifecycle event and returns its store-assigned ID.
//
// Deliberate non-fatal failure mode: if the connection cannot be established
// or the insert fails, the event is dropped with a logged warning and 0 is
// returned. Discarding must keep working when telemetry is unavailable.
func (s *Store) AppendEvent(ctx context.Context, ev tab.Event) int64 {
	id, err := s.appendEvent(ctx, ev)
	if err != nil {
		slog.Warn("dropping telemetry event", "kind", ev.Kind, "tab_id", ev.TabID, "error", err)
		return 0
	}
	return id
}

func (s *Store) appendEvent(ctx context.Context, ev tab.Event) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	payload, err := marshalEventPayload(ev)
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO events (tab_id, kind, ts, payload)
		VALUES (?, ?, ?, ?)
	`, ev.TabID, string(ev.Kind), ev.Timestamp, payload)
	if err != nil {
		s.checkConn(ctx, db)
		return 0, fmt.Errorf("append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append event: last insert id: %w", err)
	}

	return id, nil
}

// AppendBatch inserts a discard-pass batch record and returns its ID.
// Same degradation contract as AppendEvent.
func (s *Store) AppendBatch(ctx context.Context, b tab.Batch) int64 {
	id, err := s.appendBatch(ctx, b)
	if err != nil {
		slog.Warn("dropping discard batch record", "discarded", b.DiscardedCount, "error", err)
		return 0
	}
	return id
}

func (s *Store) appendBatch(ctx context.Context, b tab.Batch) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}

	tabs, err := marshalBatchTabs(b.Tabs)
	if err != nil {
		return 0, fmt.Errorf("append batch: %w", err)
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO discard_batches (ts, discarded_count, total_tabs, tabs)
		VALUES (?, ?, ?, ?)
	`, b.Timestamp, b.DiscardedCount, b.TotalTabs, tabs)
	if err != nil {
		s.checkConn(ctx, db)
		return 0, fmt.Errorf("append batch: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append batch: last insert id: %w", err)
	}

	return id, nil
}

// UpsertMetadata applies a partial metadata write for one tab under the
// session-reset merge rule (tab.Merge).
//
// The read-modify-write runs inside a single transaction so two racing
// lifecycle callbacks on the same tab cannot interleave partial writes.
// The transaction, not an in-memory lock, is the serialization point: the
// connection may be shared across independent worker invocations.
func (s *Store) UpsertMetadata(ctx context.Context, tabID int, patch tab.MetadataPatch) error {
	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		s.checkConn(ctx, db)
		return fmt.Errorf("upsert metadata: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing tab.Metadata
	row := tx.QueryRowContext(ctx, `
		SELECT tab_id, url, domain, title, window_id, opener_tab_id,
		       created_at, last_updated, last_active,
		       activation_count, total_active_time,
		       was_discarded, discarded_at, session_id
		FROM metadata WHERE tab_id = ?
	`, tabID)
	if err := scanMetadata(row, &existing); err != nil && err != errNoRow {
		return fmt.Errorf("upsert metadata: read existing: %w", err)
	}

	merged := tab.Merge(existing, tabID, patch)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO metadata
		(tab_id, url, domain, title, window_id, opener_tab_id,
		 created_at, last_updated, last_active,
		 activation_count, total_active_time,
		 was_discarded, discarded_at, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tab_id) DO UPDATE SET
			url = excluded.url,
			domain = excluded.domain,
			title = excluded.title,
			window_id = excluded.window_id,
			opener_tab_id = excluded.opener_tab_id,
			created_at = excluded.created_at,
			last_updated = excluded.last_updated,
			last_active = excluded.last_active,
			activation_count = excluded.activation_count,
			total_active_time = excluded.total_active_time,
			was_discarded = excluded.was_discarded,
			discarded_at = excluded.discarded_at,
			session_id = excluded.session_id
	`,
		merged.TabID,
		merged.URL,
		merged.Domain,
		merged.Title,
		merged.WindowID,
		merged.OpenerTabID,
		merged.CreatedAt,
		merged.LastUpdated,
		merged.LastActive,
		merged.ActivationCount,
		merged.TotalActiveTime,
		boolToInt(merged.WasDiscarded),
		merged.DiscardedAt,
		merged.SessionID,
	)
	if err != nil {
		return fmt.Errorf("upsert metadata: write merged: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("upsert metadata: commit: %w", err)
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

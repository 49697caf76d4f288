package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tabwarden/tabwarden/internal/tab"
)

// errNoRow normalizes sql.ErrNoRows across row/rows scanning.
var errNoRow = errors.New("no row")

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanMetadata(sc scanner, m *tab.Metadata) error {
	var wasDiscarded int
	err := sc.Scan(
		&m.TabID,
		&m.URL,
		&m.Domain,
		&m.Title,
		&m.WindowID,
		&m.OpenerTabID,
		&m.CreatedAt,
		&m.LastUpdated,
		&m.LastActive,
		&m.ActivationCount,
		&m.TotalActiveTime,
		&wasDiscarded,
		&m.DiscardedAt,
		&m.SessionID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return errNoRow
	}
	if err != nil {
		return fmt.Errorf("scan metadata: %w", err)
	}
	m.WasDiscarded = wasDiscarded != 0
	return nil
}

// GetMetadata returns the metadata record for tabID.
// ok is false when no record exists or the store is unavailable.
func (s *Store) GetMetadata(ctx context.Context, tabID int) (tab.Metadata, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return tab.Metadata{}, false, nil
	}

	var m tab.Metadata
	row := db.QueryRowContext(ctx, `
		SELECT tab_id, url, domain, title, window_id, opener_tab_id,
		       created_at, last_updated, last_active,
		       activation_count, total_active_time,
		       was_discarded, discarded_at, session_id
		FROM metadata WHERE tab_id = ?
	`, tabID)
	if err := scanMetadata(row, &m); err != nil {
		if err == errNoRow {
			return tab.Metadata{}, false, nil
		}
		return tab.Metadata{}, false, fmt.Errorf("get metadata: %w", err)
	}

	return m, true, nil
}

// AllEvents returns every event ordered by ID ascending.
// Returns an empty slice (not nil) on an empty or unavailable store.
func (s *Store) AllEvents(ctx context.Context) ([]tab.Event, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return []tab.Event{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, tab_id, kind, ts, payload
		FROM events
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []tab.Event{}
	for rows.Next() {
		var (
			ev      tab.Event
			kind    string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.TabID, &kind, &ev.Timestamp, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Kind = tab.EventKind(kind)
		if err := unmarshalEventPayload(payload, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// AllMetadata returns every metadata record ordered by tab ID.
// Returns an empty slice (not nil) on an empty or unavailable store.
func (s *Store) AllMetadata(ctx context.Context) ([]tab.Metadata, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return []tab.Metadata{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT tab_id, url, domain, title, window_id, opener_tab_id,
		       created_at, last_updated, last_active,
		       activation_count, total_active_time,
		       was_discarded, discarded_at, session_id
		FROM metadata
		ORDER BY tab_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query metadata: %w", err)
	}
	defer rows.Close()

	records := []tab.Metadata{}
	for rows.Next() {
		var m tab.Metadata
		if err := scanMetadata(rows, &m); err != nil {
			return nil, err
		}
		records = append(records, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}

	return records, nil
}

// AllBatches returns every discard batch record ordered by ID ascending.
// Returns an empty slice (not nil) on an empty or unavailable store.
func (s *Store) AllBatches(ctx context.Context) ([]tab.Batch, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return []tab.Batch{}, nil
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, ts, discarded_count, total_tabs, tabs
		FROM discard_batches
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches := []tab.Batch{}
	for rows.Next() {
		var (
			b    tab.Batch
			tabs string
		)
		if err := rows.Scan(&b.ID, &b.Timestamp, &b.DiscardedCount, &b.TotalTabs, &tabs); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.Tabs, err = unmarshalBatchTabs(tabs)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}

	return batches, nil
}

// Counts holds per-family record counts.
type Counts struct {
	Events   int64 `json:"events"`
	Metadata int64 `json:"metadata"`
	Batches  int64 `json:"discardEvents"`
}

// Count returns record counts for all three families.
// Returns zeros on an unavailable store.
func (s *Store) Count(ctx context.Context) (Counts, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return Counts{}, nil
	}

	var c Counts
	for _, q := range []struct {
		table string
		dest  *int64
	}{
		{"events", &c.Events},
		{"metadata", &c.Metadata},
		{"discard_batches", &c.Batches},
	} {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+q.table).Scan(q.dest); err != nil {
			return Counts{}, fmt.Errorf("count %s: %w", q.table, err)
		}
	}

	return c, nil
}

// Export is a full dump of the three record families.
type Export struct {
	ExportedAt int64          `json:"exportedAt"`
	Events     []tab.Event    `json:"events"`
	Metadata   []tab.Metadata `json:"metadata"`
	Batches    []tab.Batch    `json:"discardEvents"`
}

// ExportAll dumps every record plus an export timestamp.
// On an empty store all three sequences are empty, never nil.
func (s *Store) ExportAll(ctx context.Context, exportedAt int64) (Export, error) {
	events, err := s.AllEvents(ctx)
	if err != nil {
		return Export{}, fmt.Errorf("export: %w", err)
	}
	metadata, err := s.AllMetadata(ctx)
	if err != nil {
		return Export{}, fmt.Errorf("export: %w", err)
	}
	batches, err := s.AllBatches(ctx)
	if err != nil {
		return Export{}, fmt.Errorf("export: %w", err)
	}

	return Export{
		ExportedAt: exportedAt,
		Events:     events,
		Metadata:   metadata,
		Batches:    batches,
	}, nil
}

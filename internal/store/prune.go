package store

import (
	"context"
	"fmt"
)

// DeleteEventsOlderThan deletes events with timestamp <= cutoff and returns
// the number deleted. Scans the ts index; metadata is never touched here.
func (s *Store) DeleteEventsOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	return s.deleteOlderThan(ctx, "events", cutoff)
}

// DeleteBatchesOlderThan deletes discard batch records with timestamp <=
// cutoff and returns the number deleted.
func (s *Store) DeleteBatchesOlderThan(ctx context.Context, cutoff int64) (int64, error) {
	return s.deleteOlderThan(ctx, "discard_batches", cutoff)
}

func (s *Store) deleteOlderThan(ctx context.Context, table string, cutoff int64) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}

	result, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE ts <= ?", cutoff)
	if err != nil {
		s.checkConn(ctx, db)
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete from %s: rows affected: %w", table, err)
	}

	return deleted, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

const sessionStateKey = "session"

// SessionState is the process-lifetime tracking state that must survive a
// worker restart: which tab is active, when it became active, and the
// session ID used for the metadata counter-reset rule.
type SessionState struct {
	SessionID      string `json:"sessionId"`
	ActiveTabID    int    `json:"activeTabId"`
	ActiveTabStart int64  `json:"activeTabStartTime"`
}

// LoadSessionState returns the persisted session state.
// ok is false when none has been saved or the store is unavailable.
func (s *Store) LoadSessionState(ctx context.Context) (SessionState, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return SessionState{}, false, nil
	}

	var raw string
	err = db.QueryRowContext(ctx,
		"SELECT value FROM runtime_state WHERE key = ?", sessionStateKey,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionState{}, false, nil
	}
	if err != nil {
		return SessionState{}, false, fmt.Errorf("load session state: %w", err)
	}

	var st SessionState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return SessionState{}, false, fmt.Errorf("load session state: %w", err)
	}

	return st, true, nil
}

// SaveSessionState persists the session state, replacing any previous value.
func (s *Store) SaveSessionState(ctx context.Context, st SessionState) error {
	db, err := s.conn(ctx)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runtime_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, sessionStateKey, string(raw))
	if err != nil {
		s.checkConn(ctx, db)
		return fmt.Errorf("save session state: %w", err)
	}

	return nil
}

// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-only

package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Session is one UI/workflow session bundle recorded in the catalog;
// its on-disk artifacts live under <home>/sessions/<id>/.
type Session struct {
	ID        string
	Label     sql.NullString
	CreatedAt int64
}

// EnsureSessionsSchema creates the sessions table if absent.
func (s *Store) EnsureSessionsSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sessionsDDL)
	return err
}

// CreateSession records a new session with a server-generated id.
func (s *Store) CreateSession(ctx context.Context, label string, nowMs int64) (Session, error) {
	sess := Session{ID: uuid.NewString(), CreatedAt: nowMs}
	if label != "" {
		sess.Label = sql.NullString{String: label, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, label, created_at) VALUES (?, ?, ?)
	`, sess.ID, sess.Label, sess.CreatedAt); err != nil {
		return Session{}, fmt.Errorf("catalog: create session: %w", err)
	}
	return sess, nil
}

// GetSession loads one session by id, returning nil when absent.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, label, created_at FROM sessions WHERE id = ?`, id)
	var sess Session
	err := row.Scan(&sess.ID, &sess.Label, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get session: %w", err)
	}
	return &sess, nil
}

// ListSessions returns every recorded session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Label, &sess.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan session row: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

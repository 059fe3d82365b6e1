package stream

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/partyhost/dbopen"
)

// Schema holds the recent-window checkpoints, one row per chat surface.
// A restarted host restores its window from here instead of cold-starting,
// so messages that arrived while it was down are backfilled rather than
// skipped.
const Schema = `
CREATE TABLE IF NOT EXISTS stream_checkpoint (
    name       TEXT PRIMARY KEY,
    items      TEXT NOT NULL DEFAULT '[]',
    delivered  INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// Checkpoint is one saved window.
type Checkpoint struct {
	Name      string
	Items     []string
	Delivered uint64
	UpdatedAt time.Time
}

// Store persists window checkpoints.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. The schema must already be applied.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save upserts the checkpoint for name.
func (s *Store) Save(ctx context.Context, name string, items []string, delivered uint64) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("stream: marshal checkpoint: %w", err)
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_checkpoint (name, items, delivered, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				items = excluded.items,
				delivered = excluded.delivered,
				updated_at = excluded.updated_at`,
			name, string(data), int64(delivered), time.Now().Unix())
		if err != nil {
			return fmt.Errorf("stream: save checkpoint: %w", err)
		}
		return nil
	})
}

// Load returns the checkpoint for name, or nil when none was saved.
func (s *Store) Load(ctx context.Context, name string) (*Checkpoint, error) {
	var raw string
	var delivered, ts int64
	err := s.db.QueryRowContext(ctx,
		`SELECT items, delivered, updated_at FROM stream_checkpoint WHERE name = ?`, name).
		Scan(&raw, &delivered, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stream: load checkpoint: %w", err)
	}
	cp := &Checkpoint{Name: name, Delivered: uint64(delivered), UpdatedAt: time.Unix(ts, 0)}
	if err := json.Unmarshal([]byte(raw), &cp.Items); err != nil {
		return nil, fmt.Errorf("stream: decode checkpoint: %w", err)
	}
	return cp, nil
}

// Clear removes the checkpoint for name.
func (s *Store) Clear(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stream_checkpoint WHERE name = ?`, name); err != nil {
		return fmt.Errorf("stream: clear checkpoint: %w", err)
	}
	return nil
}

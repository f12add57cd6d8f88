package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetMeta stores a small keyed value alongside the jobs table.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.execWithRetry(ctx,
		`INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, timestamp())
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta reads a keyed value. ok is false when the key has never been set.
func (s *Store) Meta(ctx context.Context, key string) (value string, updated time.Time, ok bool, err error) {
	var updatedRaw sql.NullString
	err = s.db.QueryRowContext(ensureContext(ctx),
		`SELECT value, updated_at FROM meta WHERE key = ?`, key,
	).Scan(&value, &updatedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, fmt.Errorf("read meta %s: %w", key, err)
	}
	if t, perr := parseTimeString(updatedRaw.String); perr == nil {
		updated = t
	}
	return value, updated, true, nil
}

// DeleteMeta removes a keyed value.
func (s *Store) DeleteMeta(ctx context.Context, key string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM meta WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete meta %s: %w", key, err)
	}
	return nil
}

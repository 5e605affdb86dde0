package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetValue returns the value stored under key.
func (s *Store) GetValue(ctx context.Context, key string) (string, bool, error) {
	ctx = ensureContext(ctx)
	var value string
	err := s.retry(ctx, func() error {
		return s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return value, true, nil
}

const upsertValueSQL = `INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, ?)
 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// PutValue upserts key.
func (s *Store) PutValue(ctx context.Context, key, value string) error {
	err := s.exec(ctx, upsertValueSQL, key, value, s.timestamp())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// DeleteValue removes key. Missing keys are not an error.
func (s *Store) DeleteValue(ctx context.Context, key string) error {
	if err := s.exec(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// MoveValue stores value under putKey and removes deleteKey atomically.
func (s *Store) MoveValue(ctx context.Context, putKey, value, deleteKey string) error {
	ctx = ensureContext(ctx)
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin move tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, upsertValueSQL, putKey, value, s.timestamp()); err != nil {
			return fmt.Errorf("put %s: %w", putKey, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", deleteKey); err != nil {
			return fmt.Errorf("delete %s: %w", deleteKey, err)
		}
		return tx.Commit()
	})
}

// UpdateValue replaces the value under key with update(current) inside one
// write transaction, so read-modify-write cycles from several processes
// serialize instead of overwriting each other. update may run more than once
// when the database is busy.
func (s *Store) UpdateValue(ctx context.Context, key string, update func(current string, found bool) (string, error)) error {
	ctx = ensureContext(ctx)
	return s.retry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin update tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var current string
		found := true
		err = tx.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			found = false
		case err != nil:
			return fmt.Errorf("get %s: %w", key, err)
		}
		next, err := update(current, found)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsertValueSQL, key, next, s.timestamp()); err != nil {
			return fmt.Errorf("put %s: %w", key, err)
		}
		return tx.Commit()
	})
}

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (s *Store) timestamp() string {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return now().UTC().Format(timestampLayout)
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"yard-ttms/internal/storage"
)

const defaultTable = "ttms_kv"

// Store keeps values in a Postgres table. Update holds row locks for the
// duration of the read-modify-write.
type Store struct {
	db *sql.DB
}

// NewStore constructs a store over an open pgx database/sql handle.
func NewStore(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("postgres store: nil db")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the backing table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store: nil db")
	}
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS ttms_kv (
	key TEXT PRIMARY KEY,
	value BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`)
	return err
}

// Get reads a single key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("postgres store: nil db")
	}
	if key == "" {
		return nil, false, storage.ErrEmptyKey
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM ttms_kv WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Update locks keys in sorted order, then applies fn in one transaction.
// Absent keys are covered by a transaction-scoped advisory lock.
func (s *Store) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store: nil db")
	}
	ordered := append([]string(nil), keys...)
	sort.Strings(ordered)
	for _, key := range ordered {
		if key == "" {
			return storage.ErrEmptyKey
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current := make(map[string][]byte, len(ordered))
	for _, key := range ordered {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, defaultTable+":"+key); err != nil {
			return err
		}
		var value []byte
		err := tx.QueryRowContext(ctx, `SELECT value FROM ttms_kv WHERE key = $1 FOR UPDATE`, key).Scan(&value)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		current[key] = value
	}

	next, err := fn(current)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for key, value := range next {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM ttms_kv WHERE key = $1`, key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ttms_kv (key, value, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (key) DO UPDATE SET
	value = EXCLUDED.value,
	updated_at = EXCLUDED.updated_at`, key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close is a no-op; the caller owns the db handle.
func (s *Store) Close() error {
	return nil
}

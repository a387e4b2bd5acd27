package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"yard-ttms/internal/storage"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS ttms_kv (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

// Store keeps values in a single SQLite file. Writes are serialized.
type Store struct {
	conn    *sql.DB
	writeMu sync.Mutex
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite store: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil && logger != nil {
		logger.Printf("sqlite store: pragma synchronous failed: %v", err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite store: schema: %w", err)
	}
	if logger != nil {
		logger.Printf("sqlite store ready: %s", path)
	}
	return &Store{conn: conn}, nil
}

// Get reads a single key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.conn == nil {
		return nil, false, storage.ErrClosed
	}
	if key == "" {
		return nil, false, storage.ErrEmptyKey
	}
	var value []byte
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM ttms_kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Update runs fn inside a write transaction.
func (s *Store) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	if s == nil || s.conn == nil {
		return storage.ErrClosed
	}
	for _, key := range keys {
		if key == "" {
			return storage.ErrEmptyKey
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current := make(map[string][]byte, len(keys))
	for _, key := range keys {
		var value []byte
		err := tx.QueryRowContext(ctx, `SELECT value FROM ttms_kv WHERE key = ?`, key).Scan(&value)
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
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for key, value := range next {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM ttms_kv WHERE key = ?`, key); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ttms_kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

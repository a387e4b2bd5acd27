package storage

import (
	"context"
	"errors"
	"log"
	"sync"

	"yard-ttms/internal/observability/metrics"
)

// ResilientStore fronts a durable backend with an in-memory mirror. The first
// backend failure is logged and the store keeps serving from the mirror for
// the rest of the process lifetime.
type ResilientStore struct {
	primary Store
	mirror  *MemoryStore
	logger  *log.Logger

	mu       sync.RWMutex
	degraded bool
}

// NewResilientStore wraps primary. A nil primary starts degraded.
func NewResilientStore(primary Store, logger *log.Logger) *ResilientStore {
	return &ResilientStore{
		primary:  primary,
		mirror:   NewMemoryStore(),
		logger:   logger,
		degraded: primary == nil,
	}
}

// Degraded reports whether the backend has been abandoned.
func (s *ResilientStore) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Get reads from the backend, falling back to the mirror.
func (s *ResilientStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	if s.Degraded() {
		return s.mirror.Get(ctx, key)
	}
	value, ok, err := s.primary.Get(ctx, key)
	if err != nil {
		s.degrade("get", key, err)
		return s.mirror.Get(ctx, key)
	}
	_ = s.mirror.Update(ctx, []string{key}, func(map[string][]byte) (map[string][]byte, error) {
		if !ok {
			return map[string][]byte{key: nil}, nil
		}
		return map[string][]byte{key: value}, nil
	})
	return value, ok, nil
}

// Update runs fn against the backend and mirrors the written values. Errors
// returned by fn are passed through untouched.
func (s *ResilientStore) Update(ctx context.Context, keys []string, fn UpdateFunc) error {
	if err := validateKeys(keys); err != nil {
		return err
	}
	if s.Degraded() {
		return s.mirror.Update(ctx, keys, fn)
	}

	var (
		written map[string][]byte
		seen    map[string][]byte
		fnErr   error
	)
	err := s.primary.Update(ctx, keys, func(current map[string][]byte) (map[string][]byte, error) {
		seen = current
		written, fnErr = fn(current)
		return written, fnErr
	})
	if err == nil {
		s.mirrorWrite(ctx, keys, seen, written)
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return err
	}
	s.degrade("update", keys[0], err)
	return s.mirror.Update(ctx, keys, fn)
}

// Close closes the backend.
func (s *ResilientStore) Close() error {
	_ = s.mirror.Close()
	if s.primary == nil {
		return nil
	}
	return s.primary.Close()
}

func (s *ResilientStore) mirrorWrite(ctx context.Context, keys []string, seen, written map[string][]byte) {
	_ = s.mirror.Update(ctx, keys, func(map[string][]byte) (map[string][]byte, error) {
		out := make(map[string][]byte, len(keys))
		for _, key := range keys {
			if value, ok := written[key]; ok {
				out[key] = value
				continue
			}
			out[key] = seen[key]
		}
		return out, nil
	})
}

func (s *ResilientStore) degrade(op, key string, err error) {
	metrics.IncPersistenceError(op)
	s.mu.Lock()
	already := s.degraded
	s.degraded = true
	s.mu.Unlock()
	if !already && s.logger != nil {
		s.logger.Printf("storage: backend %s failed key=%s err=%v; continuing in memory", op, key, err)
	}
}

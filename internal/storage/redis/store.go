package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"yard-ttms/internal/storage"
)

const (
	defaultPrefix     = "ttms:"
	defaultMaxRetries = 10
)

// Store keeps values as Redis strings. Update is an optimistic WATCH/MULTI
// transaction retried on conflict.
type Store struct {
	client     *goredis.Client
	prefix     string
	maxRetries int
}

// Option configures the store.
type Option func(*Store)

// WithPrefix namespaces every key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithMaxRetries bounds optimistic retries.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStore connects to addr.
func NewStore(ctx context.Context, addr, password string, db int, opts ...Option) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis store: empty addr")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewStoreWithClient(client, opts...), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *goredis.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: defaultPrefix, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get reads a single key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, storage.ErrClosed
	}
	if key == "" {
		return nil, false, storage.ErrEmptyKey
	}
	value, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Update watches keys and commits fn's writes in a MULTI block.
func (s *Store) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	if s == nil || s.client == nil {
		return storage.ErrClosed
	}
	watched := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			return storage.ErrEmptyKey
		}
		watched = append(watched, s.prefix+key)
	}

	txf := func(tx *goredis.Tx) error {
		current := make(map[string][]byte, len(keys))
		for _, key := range keys {
			value, err := tx.Get(ctx, s.prefix+key).Bytes()
			if err != nil {
				if errors.Is(err, goredis.Nil) {
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
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for key, value := range next {
				if value == nil {
					pipe.Del(ctx, s.prefix+key)
					continue
				}
				pipe.Set(ctx, s.prefix+key, value, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, watched...)
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return err
	}
	return storage.ErrConflict
}

// Close closes the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

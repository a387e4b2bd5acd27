package redis

import (
	"context"
	"os"
	"sync"
	"testing"

	"yard-ttms/internal/storage"
)

func TestRedisStoreUpdate_Redis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	store, err := NewStore(ctx, addr, os.Getenv("REDIS_PASSWORD"), 0, WithPrefix("ttms-it:"), WithMaxRetries(100))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	key := "counter"
	if err := store.Update(ctx, []string{key}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{key: nil}, nil
	}); err != nil {
		t.Fatalf("reset: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, []string{key}, func(current map[string][]byte) (map[string][]byte, error) {
				n := storage.Decode[int](current[key], key, nil)
				raw, err := storage.Encode(n + 1)
				return map[string][]byte{key: raw}, err
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := storage.Load[int](ctx, store, key, nil); got != 10 {
		t.Fatalf("expected 10, got %d", got)
	}
}

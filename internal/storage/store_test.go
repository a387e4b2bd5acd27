package storage

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
)

func TestMemoryStoreUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Update(ctx, []string{"a", "b"}, func(current map[string][]byte) (map[string][]byte, error) {
		if len(current) != 0 {
			t.Fatalf("expected empty current, got %v", current)
		}
		return map[string][]byte{"a": []byte("1"), "b": []byte("2")}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.Update(ctx, []string{"a", "b"}, func(current map[string][]byte) (map[string][]byte, error) {
		if string(current["a"]) != "1" || string(current["b"]) != "2" {
			t.Fatalf("unexpected current %v", current)
		}
		return map[string][]byte{"a": nil}, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("expected a deleted")
	}
	value, ok, err := store.Get(ctx, "b")
	if err != nil || !ok || string(value) != "2" {
		t.Fatalf("expected b=2, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestMemoryStoreUpdateErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	boom := errors.New("boom")
	err := store.Update(ctx, []string{"a"}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{"a": []byte("x")}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok, _ := store.Get(ctx, "a"); ok {
		t.Fatalf("failed update must not write")
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, []string{"n"}, func(current map[string][]byte) (map[string][]byte, error) {
				count := Decode[int](current["n"], "n", nil)
				raw, err := Encode(count + 1)
				if err != nil {
					return nil, err
				}
				return map[string][]byte{"n": raw}, nil
			})
		}()
	}
	wg.Wait()
	if got := Load[int](ctx, store, "n", nil); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestDecodeCorruptValueIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	got := Decode[map[string]string]([]byte("{not json"), "parking.overrides", logger)
	if len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
	if !strings.Contains(buf.String(), "parking.overrides") {
		t.Fatalf("expected corrupt value to be logged, got %q", buf.String())
	}
}

type failingStore struct {
	mu    sync.Mutex
	calls int
}

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return nil, false, errors.New("backend down")
}

func (f *failingStore) Update(context.Context, []string, UpdateFunc) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("backend down")
}

func (f *failingStore) Close() error { return nil }

func TestResilientStoreDegradesToMemory(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	backend := &failingStore{}
	store := NewResilientStore(backend, log.New(&buf, "", 0))

	err := store.Update(ctx, []string{KeyAlertsPending}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{KeyAlertsPending: []byte(`[]`)}, nil
	})
	if err != nil {
		t.Fatalf("update must be swallowed into memory, got %v", err)
	}
	if !store.Degraded() {
		t.Fatalf("expected degraded store")
	}
	value, ok, err := store.Get(ctx, KeyAlertsPending)
	if err != nil || !ok || string(value) != "[]" {
		t.Fatalf("expected mirrored value, got %q ok=%v err=%v", value, ok, err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend must not be retried after degrading, calls=%d", backend.calls)
	}
	if strings.Count(buf.String(), "continuing in memory") != 1 {
		t.Fatalf("expected a single degrade log line, got %q", buf.String())
	}
}

func TestResilientStorePassesThroughCallbackErrors(t *testing.T) {
	ctx := context.Background()
	store := NewResilientStore(NewMemoryStore(), nil)
	boom := errors.New("validation")
	err := store.Update(ctx, []string{"a"}, func(map[string][]byte) (map[string][]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if store.Degraded() {
		t.Fatalf("callback errors must not degrade the store")
	}
}

func TestResilientStoreMirrorsWrites(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	store := NewResilientStore(primary, nil)
	if err := store.Update(ctx, []string{"a", "b"}, func(map[string][]byte) (map[string][]byte, error) {
		return map[string][]byte{"a": []byte("1"), "b": []byte("2")}, nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	mirror := store.mirror.Snapshot()
	if string(mirror["a"]) != "1" || string(mirror["b"]) != "2" {
		t.Fatalf("expected writes mirrored, got %v", mirror)
	}
}

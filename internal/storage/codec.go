package storage

import (
	"context"
	"encoding/json"
	"log"
)

// Decode unmarshals raw into a fresh T. Empty input yields the zero value.
// A corrupt blob is logged and treated as empty.
func Decode[T any](raw []byte, key string, logger *log.Logger) T {
	var out T
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		if logger != nil {
			logger.Printf("storage: corrupt value key=%s err=%v", key, err)
		}
		var zero T
		return zero
	}
	return out
}

// Encode marshals v for storage.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Load reads and decodes key. Read failures are logged and yield the zero value.
func Load[T any](ctx context.Context, store Store, key string, logger *log.Logger) T {
	var zero T
	if store == nil {
		return zero
	}
	raw, ok, err := store.Get(ctx, key)
	if err != nil {
		if logger != nil {
			logger.Printf("storage: read failed key=%s err=%v", key, err)
		}
		return zero
	}
	if !ok {
		return zero
	}
	return Decode[T](raw, key, logger)
}

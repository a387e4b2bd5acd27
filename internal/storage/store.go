package storage

import (
	"context"
	"errors"
)

// Persisted keys shared by every view of the yard.
const (
	KeyAlertsPending             = "alerts.pending"
	KeyAlertsAcknowledged        = "alerts.acknowledged"
	KeyAlertsHistory             = "alerts.history"
	KeyParkingOverrides          = "parking.overrides"
	KeyParkingColorState         = "parking.colorState"
	KeyVehicleParkingAssignments = "vehicle.parkingAssignments"
	KeyVehicleGateAssignments    = "vehicle.gateAssignments"
	KeyGateOverrides             = "gates.overrides"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage: closed")
	// ErrEmptyKey is returned for a blank key.
	ErrEmptyKey = errors.New("storage: empty key")
	// ErrConflict is returned when an optimistic update keeps losing races.
	ErrConflict = errors.New("storage: update conflict")
)

// UpdateFunc receives the current values of the requested keys (absent keys
// are missing from the map) and returns the values to write. A nil value
// deletes the key; keys missing from the result are left untouched.
type UpdateFunc func(current map[string][]byte) (map[string][]byte, error)

// Store is a string-keyed blob store. Update runs fn as one atomic
// read-modify-write over keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Update(ctx context.Context, keys []string, fn UpdateFunc) error
	Close() error
}

func validateKeys(keys []string) error {
	for _, key := range keys {
		if key == "" {
			return ErrEmptyKey
		}
	}
	return nil
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out
}

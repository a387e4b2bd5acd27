package application

import (
	"context"
	"log"

	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/storage"
)

var (
	parkingKeys = []string{
		storage.KeyParkingOverrides,
		storage.KeyParkingColorState,
		storage.KeyVehicleParkingAssignments,
	}
	gateKeys = []string{
		storage.KeyGateOverrides,
		storage.KeyVehicleGateAssignments,
	}
)

type parkingState struct {
	overrides   parking.Overrides
	colors      map[string]parking.Color
	assignments map[string]parking.Assignment
}

func decodeParking(current map[string][]byte, logger *log.Logger) parkingState {
	state := parkingState{
		overrides:   storage.Decode[parking.Overrides](current[storage.KeyParkingOverrides], storage.KeyParkingOverrides, logger),
		colors:      storage.Decode[map[string]parking.Color](current[storage.KeyParkingColorState], storage.KeyParkingColorState, logger),
		assignments: storage.Decode[map[string]parking.Assignment](current[storage.KeyVehicleParkingAssignments], storage.KeyVehicleParkingAssignments, logger),
	}
	if state.overrides == nil {
		state.overrides = parking.Overrides{}
	}
	if state.colors == nil {
		state.colors = map[string]parking.Color{}
	}
	if state.assignments == nil {
		state.assignments = map[string]parking.Assignment{}
	}
	return state
}

func (s parkingState) encode() (map[string][]byte, error) {
	out := make(map[string][]byte, 3)
	var err error
	if out[storage.KeyParkingOverrides], err = encodeMap(s.overrides, len(s.overrides)); err != nil {
		return nil, err
	}
	if out[storage.KeyParkingColorState], err = encodeMap(s.colors, len(s.colors)); err != nil {
		return nil, err
	}
	if out[storage.KeyVehicleParkingAssignments], err = encodeMap(s.assignments, len(s.assignments)); err != nil {
		return nil, err
	}
	return out, nil
}

type gateState struct {
	overrides   parking.Overrides
	assignments map[string]string
}

func decodeGates(current map[string][]byte, logger *log.Logger) gateState {
	state := gateState{
		overrides:   storage.Decode[parking.Overrides](current[storage.KeyGateOverrides], storage.KeyGateOverrides, logger),
		assignments: storage.Decode[map[string]string](current[storage.KeyVehicleGateAssignments], storage.KeyVehicleGateAssignments, logger),
	}
	if state.overrides == nil {
		state.overrides = parking.Overrides{}
	}
	if state.assignments == nil {
		state.assignments = map[string]string{}
	}
	return state
}

func (s gateState) encode() (map[string][]byte, error) {
	out := make(map[string][]byte, 2)
	var err error
	if out[storage.KeyGateOverrides], err = encodeMap(s.overrides, len(s.overrides)); err != nil {
		return nil, err
	}
	if out[storage.KeyVehicleGateAssignments], err = encodeMap(s.assignments, len(s.assignments)); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeMap returns nil for an empty map so the key is deleted.
func encodeMap(v any, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	return storage.Encode(v)
}

func loadOverrides(ctx context.Context, kv storage.Store, key string, logger *log.Logger) parking.Overrides {
	out := storage.Load[parking.Overrides](ctx, kv, key, logger)
	if out == nil {
		out = parking.Overrides{}
	}
	return out
}

package application

import (
	"context"
	"errors"
	"log"
	"sync"

	"yard-ttms/internal/eventbus"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/storage"
)

// ViewState is one consumer's copy of the persisted override maps.
type ViewState struct {
	Overrides          parking.Overrides             `json:"overrides"`
	Colors             map[string]parking.Color      `json:"colors"`
	GateOverrides      parking.Overrides             `json:"gate_overrides"`
	ParkingAssignments map[string]parking.Assignment `json:"parking_assignments"`
	GateAssignments    map[string]string             `json:"gate_assignments"`
	Version            uint64                        `json:"version"`
}

// View is an independent consumer surface. It keeps its own copy of the
// override maps and re-reads all of them whenever a change is announced.
type View struct {
	kv       storage.Store
	logger   *log.Logger
	onChange func(ViewState)

	// reloadMu orders reloads so an older read never replaces a newer one.
	reloadMu sync.Mutex
	mu       sync.RWMutex
	state    ViewState

	unsubscribe []func()
}

// ViewOption customizes a view.
type ViewOption func(*View)

// WithViewLogger assigns a logger.
func WithViewLogger(logger *log.Logger) ViewOption {
	return func(v *View) {
		v.logger = logger
	}
}

// WithOnChange registers a callback run after every reload.
func WithOnChange(fn func(ViewState)) ViewOption {
	return func(v *View) {
		v.onChange = fn
	}
}

// NewView loads the current state and subscribes to change notifications.
func NewView(ctx context.Context, kv storage.Store, bus eventbus.Bus, opts ...ViewOption) (*View, error) {
	if kv == nil {
		return nil, errors.New("parking view: nil store")
	}
	v := &View{kv: kv}
	for _, opt := range opts {
		opt(v)
	}
	v.reload(ctx)
	if bus != nil {
		handler := func(ctx context.Context, _ string) error {
			v.reload(ctx)
			return nil
		}
		v.unsubscribe = append(v.unsubscribe,
			bus.Subscribe(eventbus.TopicParkingOverridesChanged, handler),
			bus.Subscribe(eventbus.TopicGatesChanged, handler),
		)
	}
	return v, nil
}

// State returns the view's current copy.
func (v *View) State() ViewState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.clone()
}

// Close stops listening for changes.
func (v *View) Close() {
	for _, off := range v.unsubscribe {
		off()
	}
	v.unsubscribe = nil
}

func (v *View) reload(ctx context.Context) {
	v.reloadMu.Lock()
	defer v.reloadMu.Unlock()

	next := ViewState{
		Overrides:          loadOverrides(ctx, v.kv, storage.KeyParkingOverrides, v.logger),
		Colors:             storage.Load[map[string]parking.Color](ctx, v.kv, storage.KeyParkingColorState, v.logger),
		GateOverrides:      loadOverrides(ctx, v.kv, storage.KeyGateOverrides, v.logger),
		ParkingAssignments: storage.Load[map[string]parking.Assignment](ctx, v.kv, storage.KeyVehicleParkingAssignments, v.logger),
		GateAssignments:    storage.Load[map[string]string](ctx, v.kv, storage.KeyVehicleGateAssignments, v.logger),
	}
	if next.Colors == nil {
		next.Colors = map[string]parking.Color{}
	}
	if next.ParkingAssignments == nil {
		next.ParkingAssignments = map[string]parking.Assignment{}
	}
	if next.GateAssignments == nil {
		next.GateAssignments = map[string]string{}
	}

	v.mu.Lock()
	next.Version = v.state.Version + 1
	v.state = next
	v.mu.Unlock()

	if v.onChange != nil {
		v.onChange(next.clone())
	}
}

func (s ViewState) clone() ViewState {
	out := ViewState{
		Overrides:          cloneOverrides(s.Overrides),
		Colors:             make(map[string]parking.Color, len(s.Colors)),
		GateOverrides:      cloneOverrides(s.GateOverrides),
		ParkingAssignments: make(map[string]parking.Assignment, len(s.ParkingAssignments)),
		GateAssignments:    make(map[string]string, len(s.GateAssignments)),
		Version:            s.Version,
	}
	for k, c := range s.Colors {
		out.Colors[k] = c
	}
	for k, a := range s.ParkingAssignments {
		out.ParkingAssignments[k] = a
	}
	for k, g := range s.GateAssignments {
		out.GateAssignments[k] = g
	}
	return out
}

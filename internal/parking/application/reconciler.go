package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"yard-ttms/internal/eventbus"
	"yard-ttms/internal/observability/metrics"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/storage"
)

// ErrNoSource is returned by Refresh when no feed source is configured.
var ErrNoSource = errors.New("parking: nil feed source")

// Allocation kinds reported to metrics.
const (
	KindParking = "parking"
	KindGate    = "gate"
	KindRevert  = "revert"
)

// Source is the live feed of parking areas and loading gates.
type Source interface {
	Parking(ctx context.Context) (map[string]parking.Grid, error)
	Gates(ctx context.Context) ([]parking.Gate, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Snapshot is the merged view: feed statuses with overrides applied.
type Snapshot struct {
	Areas         map[string]parking.Grid `json:"areas"`
	Gates         []parking.Gate          `json:"gates"`
	Overrides     parking.Overrides       `json:"overrides"`
	GateOverrides parking.Overrides       `json:"gate_overrides"`
	RefreshedAt   time.Time               `json:"refreshed_at"`
}

// Reconciler merges the live feed with persisted overrides and writes
// overrides on allocation.
type Reconciler struct {
	kv     storage.Store
	bus    eventbus.Bus
	source Source
	logger *log.Logger
	clock  Clock

	mu        sync.Mutex
	feedAreas map[string]parking.Grid
	feedGates []parking.Gate
	current   atomic.Pointer[Snapshot]
}

// Option customizes the reconciler.
type Option func(*Reconciler)

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReconciler constructs a reconciler. bus may be nil to skip change
// notifications.
func NewReconciler(kv storage.Store, bus eventbus.Bus, source Source, opts ...Option) (*Reconciler, error) {
	if kv == nil {
		return nil, errors.New("parking: nil store")
	}
	r := &Reconciler{
		kv:     kv,
		bus:    bus,
		source: source,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Refresh pulls the feed and republishes the merged view. Readers never see
// a feed update without overrides applied.
func (r *Reconciler) Refresh(ctx context.Context) error {
	if r.source == nil {
		return ErrNoSource
	}
	areas, err := r.source.Parking(ctx)
	if err != nil {
		return err
	}
	gates, err := r.source.Gates(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.feedAreas = parking.CloneAreas(areas)
	r.feedGates = append([]parking.Gate(nil), gates...)
	r.reapplyLocked(ctx)
	r.mu.Unlock()
	return nil
}

// Reload re-reads persisted overrides and re-merges the last feed.
func (r *Reconciler) Reload(ctx context.Context) {
	r.mu.Lock()
	r.reapplyLocked(ctx)
	r.mu.Unlock()
}

// Listen re-merges whenever another writer reports an override change.
func (r *Reconciler) Listen() (unsubscribe func()) {
	if r.bus == nil {
		return func() {}
	}
	handler := func(ctx context.Context, _ string) error {
		r.Reload(ctx)
		return nil
	}
	offParking := r.bus.Subscribe(eventbus.TopicParkingOverridesChanged, handler)
	offGates := r.bus.Subscribe(eventbus.TopicGatesChanged, handler)
	return func() {
		offParking()
		offGates()
	}
}

// Snapshot returns a copy of the current merged view.
func (r *Reconciler) Snapshot() Snapshot {
	current := r.current.Load()
	if current == nil {
		return Snapshot{
			Areas:         map[string]parking.Grid{},
			Gates:         []parking.Gate{},
			Overrides:     parking.Overrides{},
			GateOverrides: parking.Overrides{},
		}
	}
	return Snapshot{
		Areas:         parking.CloneAreas(current.Areas),
		Gates:         append([]parking.Gate(nil), current.Gates...),
		Overrides:     cloneOverrides(current.Overrides),
		GateOverrides: cloneOverrides(current.GateOverrides),
		RefreshedAt:   current.RefreshedAt,
	}
}

// Allocate reserves a slot for a vehicle. A vehicle holds at most one slot;
// allocating again moves it. Repeating an allocation writes nothing.
func (r *Reconciler) Allocate(ctx context.Context, area, label, registration string) (err error) {
	start := time.Now()
	defer func() { observe(KindParking, start, err) }()

	reg, err := parking.ValidateRegistration(registration)
	if err != nil {
		return err
	}
	area = strings.TrimSpace(area)
	label = strings.TrimSpace(label)
	if err := r.checkSlot(area, label); err != nil {
		return err
	}
	target := parking.Assignment{Area: area, Label: label}
	key := target.Key()

	changed := false
	err = r.kv.Update(ctx, parkingKeys, func(current map[string][]byte) (map[string][]byte, error) {
		state := decodeParking(current, r.logger)
		changed = false
		if prev, ok := state.assignments[reg]; ok && prev.Key() != key {
			delete(state.overrides, prev.Key())
			delete(state.colors, prev.Key())
			changed = true
		}
		for other, held := range state.assignments {
			if other != reg && held.Key() == key {
				delete(state.assignments, other)
				changed = true
			}
		}
		if state.overrides[key] != parking.StatusReserved {
			state.overrides[key] = parking.StatusReserved
			changed = true
		}
		if color := parking.ColorFor(parking.StatusReserved); state.colors[key] != color {
			state.colors[key] = color
			changed = true
		}
		if state.assignments[reg] != target {
			state.assignments[reg] = target
			changed = true
		}
		if !changed {
			return nil, nil
		}
		return state.encode()
	})
	if err != nil {
		r.logf("parking: allocate failed slot=%s registration=%s err=%v", key, reg, err)
		return err
	}
	if changed {
		r.Reload(ctx)
		r.publish(ctx, eventbus.TopicParkingOverridesChanged)
		r.logf("parking: allocated slot=%s registration=%s", key, reg)
	}
	return nil
}

// AllocateGate marks a loading gate occupied by a vehicle.
func (r *Reconciler) AllocateGate(ctx context.Context, gateID, registration string) (err error) {
	start := time.Now()
	defer func() { observe(KindGate, start, err) }()

	reg, err := parking.ValidateRegistration(registration)
	if err != nil {
		return err
	}
	gateID = strings.TrimSpace(gateID)
	if err := r.checkGate(gateID); err != nil {
		return err
	}

	changed := false
	err = r.kv.Update(ctx, gateKeys, func(current map[string][]byte) (map[string][]byte, error) {
		state := decodeGates(current, r.logger)
		changed = false
		if prev, ok := state.assignments[reg]; ok && prev != gateID {
			delete(state.overrides, prev)
			changed = true
		}
		for other, held := range state.assignments {
			if other != reg && held == gateID {
				delete(state.assignments, other)
				changed = true
			}
		}
		if state.overrides[gateID] != parking.StatusOccupied {
			state.overrides[gateID] = parking.StatusOccupied
			changed = true
		}
		if state.assignments[reg] != gateID {
			state.assignments[reg] = gateID
			changed = true
		}
		if !changed {
			return nil, nil
		}
		return state.encode()
	})
	if err != nil {
		r.logf("parking: gate allocate failed gate=%s registration=%s err=%v", gateID, reg, err)
		return err
	}
	if changed {
		r.Reload(ctx)
		r.publish(ctx, eventbus.TopicGatesChanged)
		r.logf("parking: allocated gate=%s registration=%s", gateID, reg)
	}
	return nil
}

// Revert releases the slot and loading gate held by a vehicle. It reports
// whether anything was released.
func (r *Reconciler) Revert(ctx context.Context, registration string) (released bool, err error) {
	start := time.Now()
	defer func() { observe(KindRevert, start, err) }()

	reg, err := parking.ValidateRegistration(registration)
	if err != nil {
		return false, err
	}

	var parkingChanged, gatesChanged bool
	keys := append(append([]string(nil), parkingKeys...), gateKeys...)
	err = r.kv.Update(ctx, keys, func(current map[string][]byte) (map[string][]byte, error) {
		slots := decodeParking(current, r.logger)
		gates := decodeGates(current, r.logger)
		parkingChanged, gatesChanged = false, false
		if held, ok := slots.assignments[reg]; ok {
			delete(slots.overrides, held.Key())
			delete(slots.colors, held.Key())
			delete(slots.assignments, reg)
			parkingChanged = true
		}
		if gateID, ok := gates.assignments[reg]; ok {
			delete(gates.overrides, gateID)
			delete(gates.assignments, reg)
			gatesChanged = true
		}
		out := make(map[string][]byte, len(keys))
		if parkingChanged {
			encoded, err := slots.encode()
			if err != nil {
				return nil, err
			}
			for k, v := range encoded {
				out[k] = v
			}
		}
		if gatesChanged {
			encoded, err := gates.encode()
			if err != nil {
				return nil, err
			}
			for k, v := range encoded {
				out[k] = v
			}
		}
		return out, nil
	})
	if err != nil {
		r.logf("parking: revert failed registration=%s err=%v", reg, err)
		return false, err
	}
	if !parkingChanged && !gatesChanged {
		return false, nil
	}
	r.Reload(ctx)
	if parkingChanged {
		r.publish(ctx, eventbus.TopicParkingOverridesChanged)
	}
	if gatesChanged {
		r.publish(ctx, eventbus.TopicGatesChanged)
	}
	r.logf("parking: reverted registration=%s slot=%t gate=%t", reg, parkingChanged, gatesChanged)
	return true, nil
}

// ParkingAssignments returns the persisted vehicle to slot map.
func (r *Reconciler) ParkingAssignments(ctx context.Context) map[string]parking.Assignment {
	out := storage.Load[map[string]parking.Assignment](ctx, r.kv, storage.KeyVehicleParkingAssignments, r.logger)
	if out == nil {
		out = map[string]parking.Assignment{}
	}
	return out
}

// GateAssignments returns the persisted vehicle to gate map.
func (r *Reconciler) GateAssignments(ctx context.Context) map[string]string {
	out := storage.Load[map[string]string](ctx, r.kv, storage.KeyVehicleGateAssignments, r.logger)
	if out == nil {
		out = map[string]string{}
	}
	return out
}

func (r *Reconciler) reapplyLocked(ctx context.Context) {
	overrides := loadOverrides(ctx, r.kv, storage.KeyParkingOverrides, r.logger)
	gateOverrides := loadOverrides(ctx, r.kv, storage.KeyGateOverrides, r.logger)
	gates := parking.ApplyGateOverrides(r.feedGates, gateOverrides)
	r.current.Store(&Snapshot{
		Areas:         parking.ApplyOverrides(r.feedAreas, overrides),
		Gates:         gates,
		Overrides:     overrides,
		GateOverrides: gateOverrides,
		RefreshedAt:   r.clock.Now(),
	})
}

func (r *Reconciler) checkSlot(area, label string) error {
	if area == "" || label == "" {
		return &parking.ValidationError{Field: "slot", Value: parking.SlotKey(area, label), Reason: parking.ErrUnknownSlot}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedAreas == nil {
		return nil
	}
	grid, ok := r.feedAreas[area]
	if ok {
		_, ok = grid.Find(label)
	}
	if !ok {
		return &parking.ValidationError{Field: "slot", Value: parking.SlotKey(area, label), Reason: parking.ErrUnknownSlot}
	}
	return nil
}

func (r *Reconciler) checkGate(gateID string) error {
	if gateID == "" {
		return &parking.ValidationError{Field: "gate", Value: gateID, Reason: parking.ErrUnknownGate}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.feedGates == nil {
		return nil
	}
	for _, gate := range r.feedGates {
		if gate.ID == gateID {
			return nil
		}
	}
	return &parking.ValidationError{Field: "gate", Value: gateID, Reason: parking.ErrUnknownGate}
}

func (r *Reconciler) publish(ctx context.Context, topic string) {
	if r.bus == nil {
		return
	}
	result := metrics.ResultSuccess
	if err := r.bus.Publish(ctx, topic); err != nil {
		result = metrics.ResultError
		r.logf("parking: publish failed topic=%s err=%v", topic, err)
	}
	metrics.IncBusPublish(topic, result)
}

func (r *Reconciler) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	}
}

func observe(kind string, start time.Time, err error) {
	result := metrics.ResultSuccess
	var vErr *parking.ValidationError
	switch {
	case errors.As(err, &vErr):
		result = metrics.ResultInvalid
	case err != nil:
		result = metrics.ResultError
	}
	metrics.ObserveAllocation(kind, result, time.Since(start))
}

func cloneOverrides(in parking.Overrides) parking.Overrides {
	out := make(parking.Overrides, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

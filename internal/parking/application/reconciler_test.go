package application

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"yard-ttms/internal/eventbus"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/storage"
)

type stubSource struct {
	mu    sync.Mutex
	areas map[string]parking.Grid
	gates []parking.Gate
}

func newStubSource() *stubSource {
	gates := make([]parking.Gate, 0, 4)
	for _, id := range []string{"G-1", "G-2", "G-3", "G-4"} {
		gates = append(gates, parking.Gate{ID: id, Status: parking.StatusAvailable})
	}
	return &stubSource{
		areas: map[string]parking.Grid{"AREA-1": parking.NewGrid(4, 5), "AREA-2": parking.NewGrid(4, 5)},
		gates: gates,
	}
}

func (s *stubSource) Parking(context.Context) (map[string]parking.Grid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parking.CloneAreas(s.areas), nil
}

func (s *stubSource) Gates(context.Context) ([]parking.Gate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]parking.Gate(nil), s.gates...), nil
}

func (s *stubSource) set(area, label string, status parking.SlotStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.areas[area] {
		for i := range row {
			if row[i].Label == label {
				row[i].Status = status
			}
		}
	}
}

type countingStore struct {
	storage.Store
	mu      sync.Mutex
	updates int
}

func (c *countingStore) Update(ctx context.Context, keys []string, fn storage.UpdateFunc) error {
	c.mu.Lock()
	c.updates++
	c.mu.Unlock()
	return c.Store.Update(ctx, keys, fn)
}

type recordingBus struct {
	*eventbus.InMemoryBus
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(ctx context.Context, topic string) error {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
	return b.InMemoryBus.Publish(ctx, topic)
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

type fixture struct {
	kv     *storage.MemoryStore
	bus    *recordingBus
	source *stubSource
	rec    *Reconciler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	kv := storage.NewMemoryStore()
	bus := &recordingBus{InMemoryBus: eventbus.NewInMemoryBus()}
	source := newStubSource()
	rec, err := NewReconciler(kv, bus, source)
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	if err := rec.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return fixture{kv: kv, bus: bus, source: source, rec: rec}
}

func cellStatus(t *testing.T, snap Snapshot, area, label string) parking.SlotStatus {
	t.Helper()
	cell, ok := snap.Areas[area].Find(label)
	if !ok {
		t.Fatalf("cell %s-%s missing", area, label)
	}
	return cell.Status
}

func TestAllocateThenRevertRestoresState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.rec.Allocate(ctx, "AREA-1", "S3", "MH12-1000"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	snap := f.rec.Snapshot()
	if snap.Overrides["AREA-1-S3"] != parking.StatusReserved {
		t.Fatalf("expected reserved override, got %+v", snap.Overrides)
	}
	if cellStatus(t, snap, "AREA-1", "S3") != parking.StatusReserved {
		t.Fatalf("merged view must show reserved")
	}
	if got := f.rec.ParkingAssignments(ctx)["MH12-1000"]; got != (parking.Assignment{Area: "AREA-1", Label: "S3"}) {
		t.Fatalf("unexpected assignment %+v", got)
	}

	released, err := f.rec.Revert(ctx, "MH12-1000")
	if err != nil || !released {
		t.Fatalf("revert: released=%v err=%v", released, err)
	}
	snap = f.rec.Snapshot()
	if _, ok := snap.Overrides["AREA-1-S3"]; ok {
		t.Fatalf("override must be removed after revert")
	}
	if _, ok := f.rec.ParkingAssignments(ctx)["MH12-1000"]; ok {
		t.Fatalf("assignment must be removed after revert")
	}
	if len(f.kv.Snapshot()) != 0 {
		t.Fatalf("expected no persisted keys, got %v", f.kv.Snapshot())
	}
	if cellStatus(t, snap, "AREA-1", "S3") != parking.StatusAvailable {
		t.Fatalf("feed status must show again after revert")
	}

	released, err = f.rec.Revert(ctx, "MH12-1000")
	if err != nil || released {
		t.Fatalf("second revert must be a no-op, released=%v err=%v", released, err)
	}
}

func TestAllocateRejectsInvalidRegistrationWithoutWriting(t *testing.T) {
	kv := &countingStore{Store: storage.NewMemoryStore()}
	bus := &recordingBus{InMemoryBus: eventbus.NewInMemoryBus()}
	rec, err := NewReconciler(kv, bus, newStubSource())
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	for _, reg := range []string{"mh12-1000", "MH121000", ""} {
		err := rec.Allocate(context.Background(), "AREA-1", "S3", reg)
		var vErr *parking.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected validation error for %q, got %v", reg, err)
		}
		if err := rec.AllocateGate(context.Background(), "G-1", reg); !errors.Is(err, parking.ErrInvalidRegistration) {
			t.Fatalf("expected gate validation error for %q, got %v", reg, err)
		}
	}
	if kv.updates != 0 {
		t.Fatalf("expected no writes, got %d", kv.updates)
	}
	if bus.count() != 0 {
		t.Fatalf("expected no notifications, got %d", bus.count())
	}
}

func TestAllocateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.rec.Allocate(ctx, "AREA-2", "S7", "KA01-2345"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	first := f.kv.Snapshot()
	published := f.bus.count()

	if err := f.rec.Allocate(ctx, "AREA-2", " S7 ", " KA01-2345 "); err != nil {
		t.Fatalf("allocate again: %v", err)
	}
	if !reflect.DeepEqual(first, f.kv.Snapshot()) {
		t.Fatalf("second allocation changed persisted state")
	}
	if f.bus.count() != published {
		t.Fatalf("second allocation must not republish")
	}
}

func TestAllocateMovesVehicleAndTakesOverSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.rec.Allocate(ctx, "AREA-1", "S3", "MH12-1000")
	_ = f.rec.Allocate(ctx, "AREA-1", "S4", "MH12-1000")

	snap := f.rec.Snapshot()
	if _, ok := snap.Overrides["AREA-1-S3"]; ok {
		t.Fatalf("old slot must be released when the vehicle moves")
	}
	if snap.Overrides["AREA-1-S4"] != parking.StatusReserved {
		t.Fatalf("new slot must be reserved")
	}

	_ = f.rec.Allocate(ctx, "AREA-1", "S4", "MH12-2000")
	assignments := f.rec.ParkingAssignments(ctx)
	if _, ok := assignments["MH12-1000"]; ok {
		t.Fatalf("last writer must take over the slot")
	}
	if assignments["MH12-2000"].Label != "S4" {
		t.Fatalf("unexpected assignments %+v", assignments)
	}
}

func TestAllocateRejectsUnknownSlot(t *testing.T) {
	f := newFixture(t)
	err := f.rec.Allocate(context.Background(), "AREA-9", "S1", "MH12-1000")
	if !errors.Is(err, parking.ErrUnknownSlot) {
		t.Fatalf("expected unknown slot, got %v", err)
	}
	err = f.rec.AllocateGate(context.Background(), "G-99", "MH12-1000")
	if !errors.Is(err, parking.ErrUnknownGate) {
		t.Fatalf("expected unknown gate, got %v", err)
	}
	if len(f.kv.Snapshot()) != 0 {
		t.Fatalf("nothing must be written")
	}
}

func TestOverridesSurviveFeedRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.rec.Allocate(ctx, "AREA-1", "S3", "MH12-1000")

	f.source.set("AREA-1", "S3", parking.StatusOccupied)
	f.source.set("AREA-1", "S5", parking.StatusOccupied)
	if err := f.rec.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := f.rec.Snapshot()
	if cellStatus(t, snap, "AREA-1", "S3") != parking.StatusReserved {
		t.Fatalf("override must win over the feed")
	}
	if cellStatus(t, snap, "AREA-1", "S5") != parking.StatusOccupied {
		t.Fatalf("feed status must pass through without override")
	}
}

func TestGateAllocationAndRevert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.rec.AllocateGate(ctx, "G-3", "MH12-1000"); err != nil {
		t.Fatalf("allocate gate: %v", err)
	}
	snap := f.rec.Snapshot()
	if snap.GateOverrides["G-3"] != parking.StatusOccupied || snap.Gates[2].Status != parking.StatusOccupied {
		t.Fatalf("expected G-3 occupied, got %+v", snap.Gates)
	}
	if f.rec.GateAssignments(ctx)["MH12-1000"] != "G-3" {
		t.Fatalf("expected gate assignment")
	}

	released, err := f.rec.Revert(ctx, "MH12-1000")
	if err != nil || !released {
		t.Fatalf("revert: released=%v err=%v", released, err)
	}
	snap = f.rec.Snapshot()
	if _, ok := snap.GateOverrides["G-3"]; ok || snap.Gates[2].Status != parking.StatusAvailable {
		t.Fatalf("gate must be released, got %+v", snap.Gates)
	}
	if len(f.rec.GateAssignments(ctx)) != 0 {
		t.Fatalf("gate assignment must be removed")
	}
}

func TestViewsStayConsistentAcrossAllocations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var mu sync.Mutex
	changes := 0
	dashboard, err := NewView(ctx, f.kv, f.bus, WithOnChange(func(ViewState) {
		mu.Lock()
		changes++
		mu.Unlock()
	}))
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	defer dashboard.Close()
	scheduling, err := NewView(ctx, f.kv, f.bus)
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	defer scheduling.Close()

	_ = f.rec.Allocate(ctx, "AREA-1", "S3", "MH12-1000")
	_ = f.rec.AllocateGate(ctx, "G-2", "MH12-1000")

	for _, view := range []*View{dashboard, scheduling} {
		state := view.State()
		if state.Overrides["AREA-1-S3"] != parking.StatusReserved {
			t.Fatalf("view missed override: %+v", state.Overrides)
		}
		if state.Colors["AREA-1-S3"] != parking.ColorYellow {
			t.Fatalf("color cache must match override: %+v", state.Colors)
		}
		if state.GateAssignments["MH12-1000"] != "G-2" {
			t.Fatalf("view missed gate assignment")
		}
	}
	mu.Lock()
	if changes != 3 {
		t.Fatalf("expected initial load plus two reloads, got %d", changes)
	}
	mu.Unlock()

	scheduling.Close()
	_, _ = f.rec.Revert(ctx, "MH12-1000")
	if _, ok := dashboard.State().Overrides["AREA-1-S3"]; ok {
		t.Fatalf("subscribed view must see revert")
	}
	if _, ok := scheduling.State().Overrides["AREA-1-S3"]; !ok {
		t.Fatalf("closed view must keep its stale copy")
	}
}

// stallingStore parks the first armed read of the gate assignment key until
// release is closed. Views read that key last.
type stallingStore struct {
	storage.Store
	armed   chan struct{}
	stalled chan struct{}
	release chan struct{}
}

func (s *stallingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == storage.KeyVehicleGateAssignments {
		select {
		case <-s.armed:
			close(s.stalled)
			<-s.release
		default:
		}
	}
	return s.Store.Get(ctx, key)
}

func TestViewConvergesUnderConcurrentAllocations(t *testing.T) {
	ctx := context.Background()
	kv := &stallingStore{
		Store:   storage.NewMemoryStore(),
		armed:   make(chan struct{}, 1),
		stalled: make(chan struct{}),
		release: make(chan struct{}),
	}
	bus := eventbus.NewInMemoryBus()
	rec, err := NewReconciler(kv, bus, newStubSource())
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	if err := rec.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	view, err := NewView(ctx, kv, bus)
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	defer view.Close()

	kv.armed <- struct{}{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = rec.Allocate(ctx, "AREA-1", "S1", "MH12-1000")
	}()
	<-kv.stalled
	go func() {
		defer wg.Done()
		_ = rec.Allocate(ctx, "AREA-1", "S2", "MH12-1001")
	}()
	time.Sleep(50 * time.Millisecond)
	close(kv.release)
	wg.Wait()

	state := view.State()
	if state.Overrides["AREA-1-S1"] != parking.StatusReserved || state.Overrides["AREA-1-S2"] != parking.StatusReserved {
		t.Fatalf("view must hold both allocations, got %v", state.Overrides)
	}
}

func TestViewStateIsACopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	view, err := NewView(ctx, f.kv, f.bus)
	if err != nil {
		t.Fatalf("new view: %v", err)
	}
	defer view.Close()
	_ = f.rec.Allocate(ctx, "AREA-1", "S3", "MH12-1000")

	state := view.State()
	state.Overrides["AREA-1-S4"] = parking.StatusOccupied
	delete(state.ParkingAssignments, "MH12-1000")
	state.Colors["AREA-1-S3"] = parking.ColorGreen

	again := view.State()
	if _, ok := again.Overrides["AREA-1-S4"]; ok {
		t.Fatalf("caller mutation leaked into the view")
	}
	if _, ok := again.ParkingAssignments["MH12-1000"]; !ok {
		t.Fatalf("caller deletion leaked into the view")
	}
	if again.Colors["AREA-1-S3"] != parking.ColorYellow {
		t.Fatalf("caller color change leaked into the view")
	}
}

func TestListenReloadsFromOtherWriters(t *testing.T) {
	kv := storage.NewMemoryStore()
	bus := eventbus.NewInMemoryBus()
	source := newStubSource()

	reader, _ := NewReconciler(kv, bus, source)
	writer, _ := NewReconciler(kv, bus, source)
	_ = reader.Refresh(context.Background())
	_ = writer.Refresh(context.Background())
	off := reader.Listen()
	defer off()

	if err := writer.Allocate(context.Background(), "AREA-2", "S1", "MH12-1000"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if cellStatus(t, reader.Snapshot(), "AREA-2", "S1") != parking.StatusReserved {
		t.Fatalf("listening reconciler must re-merge on change")
	}
}

func TestRefreshWithoutSource(t *testing.T) {
	rec, _ := NewReconciler(storage.NewMemoryStore(), nil, nil)
	if err := rec.Refresh(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
	if err := rec.Allocate(context.Background(), "AREA-1", "S1", "MH12-1000"); err != nil {
		t.Fatalf("allocation without a feed must still persist: %v", err)
	}
}

package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/config"
	parkingapp "yard-ttms/internal/parking/application"
	parking "yard-ttms/internal/parking/domain"
	"yard-ttms/internal/scheduler"
	"yard-ttms/internal/storage"
	yard "yard-ttms/internal/yard/domain"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Feed.Seed = 42
	cfg.Feed.Vehicles = 10
	return cfg
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *scheduler.Manual) {
	t.Helper()
	sched := scheduler.NewManual(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	opts.Scheduler = sched
	opts.Now = sched.Now
	if opts.Config.Feed.Interval == 0 {
		opts.Config = testConfig()
	}
	e, err := New(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, sched
}

func TestEngineStartLoadsSnapshots(t *testing.T) {
	e, sched := newTestEngine(t, Options{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(e.Monitor.History()); got != 10 {
		t.Fatalf("expected 10 vehicles, got %d", got)
	}
	snap := e.Reconciler.Snapshot()
	if len(snap.Areas) != 2 || len(snap.Gates) != 12 {
		t.Fatalf("unexpected parking snapshot areas=%d gates=%d", len(snap.Areas), len(snap.Gates))
	}
	if sched.Pending() != 2 {
		t.Fatalf("expected feed and alert tasks, got %d", sched.Pending())
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if sched.Pending() != 2 {
		t.Fatalf("second start must not reschedule, got %d", sched.Pending())
	}
}

func TestEngineFeedTickRefreshesParking(t *testing.T) {
	e, sched := newTestEngine(t, Options{})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	before := e.Reconciler.Snapshot().RefreshedAt
	sched.Advance(30 * time.Second)
	after := e.Reconciler.Snapshot().RefreshedAt
	if !after.Equal(before.Add(30 * time.Second)) {
		t.Fatalf("expected refresh at %s, got %s", before.Add(30*time.Second), after)
	}
}

func TestEngineAllocationReachesView(t *testing.T) {
	var states []parkingapp.ViewState
	e, _ := newTestEngine(t, Options{OnParkingChange: func(s parkingapp.ViewState) {
		states = append(states, s)
	}})
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Reconciler.Allocate(ctx, "AREA-1", "S3", "MH12-1000"); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	key := parking.SlotKey("AREA-1", "S3")
	if got := e.View.State().Overrides[key]; got != parking.StatusReserved {
		t.Fatalf("expected view override reserved, got %q", got)
	}
	if len(states) == 0 {
		t.Fatalf("expected change callback")
	}
	if cell, ok := e.Reconciler.Snapshot().Areas["AREA-1"].Find("S3"); !ok || cell.Status != parking.StatusReserved {
		t.Fatalf("expected merged slot reserved, got %+v", cell)
	}
}

func TestEngineCloseCancelsTasks(t *testing.T) {
	kv := storage.NewMemoryStore()
	e, sched := newTestEngine(t, Options{Store: kv})
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no tasks after close, got %d", sched.Pending())
	}
	if err := e.Start(context.Background()); err == nil {
		t.Fatalf("expected start after close to fail")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestEngineGaugesTrackState(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	if err := e.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	gauges := e.Gauges()
	if gauges.PendingAlerts() != len(e.Alerts.ListPending(ctx)) {
		t.Fatalf("pending gauge mismatch")
	}
	if gauges.ActiveVehicles() != e.Monitor.ActiveSummary().Count {
		t.Fatalf("active gauge mismatch")
	}
	if gauges.StoreDegraded() {
		t.Fatalf("memory store must not be degraded")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Alerts.PendingMode = "bogus"
	if _, err := New(Options{Config: cfg, Scheduler: scheduler.NewManual(time.Now())}); err == nil {
		t.Fatalf("expected invalid config error")
	}
}

func TestStalledWebhookDoesNotBlockAlerts(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Notify.WebhookURL = server.URL
	e, _ := newTestEngine(t, Options{Config: cfg})
	ctx := context.Background()

	within := func(name string, fn func()) {
		t.Helper()
		done := make(chan struct{})
		go func() {
			fn()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("%s waited on webhook delivery", name)
		}
	}

	within("start", func() {
		if err := e.Start(ctx); err != nil {
			t.Errorf("start: %v", err)
		}
	})
	var raised alerts.AlertEvent
	within("raise", func() {
		var err error
		raised, err = e.Alerts.Raise(ctx, alerts.AlertEvent{
			VehicleID:    "veh-slow",
			Registration: "MH12-9999",
			Stage:        yard.StageLoading,
			WaitTime:     70,
			StandardTime: 30,
			Level:        alerts.LevelCritical,
		})
		if err != nil {
			t.Errorf("raise: %v", err)
		}
	})
	within("acknowledge", func() {
		if !e.Alerts.AcknowledgeBy(ctx, raised.ID, "marshal-7") {
			t.Errorf("expected acknowledge to succeed")
		}
	})
}

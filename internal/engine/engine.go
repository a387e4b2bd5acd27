package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alertapp "yard-ttms/internal/alerts/application"
	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/alerts/notify"
	"yard-ttms/internal/config"
	"yard-ttms/internal/eventbus"
	"yard-ttms/internal/feed"
	"yard-ttms/internal/observability/metrics"
	parkingapp "yard-ttms/internal/parking/application"
	"yard-ttms/internal/scheduler"
	"yard-ttms/internal/storage"
	yardapp "yard-ttms/internal/yard/application"
)

// Options wires external collaborators into the engine. Nil fields fall back
// to in-process defaults.
type Options struct {
	Config          config.Config
	Store           storage.Store
	Bus             eventbus.Bus
	Scheduler       scheduler.Scheduler
	Notifiers       []alertapp.AlertNotifier
	OnParkingChange func(parkingapp.ViewState)
	Logger          *log.Logger
	Now             func() time.Time
}

// Engine owns the yard components and the periodic work that drives them.
type Engine struct {
	cfg       config.Config
	logger    *log.Logger
	now       func() time.Time
	kv        *storage.ResilientStore
	bus       eventbus.Bus
	sched     scheduler.Scheduler
	ownsSched bool
	notifier  *notify.Notifier

	Alerts     *alertapp.Store
	Classifier *alertapp.Classifier
	Simulator  *feed.Simulator
	Monitor    *yardapp.Monitor
	Reconciler *parkingapp.Reconciler
	View       *parkingapp.View

	mu       sync.Mutex
	started  bool
	closed   bool
	cancels  []func()
	onChange func(parkingapp.ViewState)
}

// New builds every component. Nothing runs until Start.
func New(opts Options) (*Engine, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Policy = cfg.Policy.Normalize()

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	primary := opts.Store
	if primary == nil {
		primary = storage.NewMemoryStore()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.NewInMemoryBus()
	}
	sched := opts.Scheduler
	ownsSched := false
	if sched == nil {
		sched = scheduler.NewTickerScheduler(context.Background())
		ownsSched = true
	}

	e := &Engine{
		cfg:       cfg,
		logger:    opts.Logger,
		now:       now,
		kv:        storage.NewResilientStore(primary, opts.Logger),
		bus:       bus,
		sched:     sched,
		ownsSched: ownsSched,
		onChange:  opts.OnParkingChange,
	}

	notifiers := append([]alertapp.AlertNotifier(nil), opts.Notifiers...)
	if cfg.Notify.WebhookURL != "" {
		notifier, err := e.buildWebhookNotifier()
		if err != nil {
			return nil, err
		}
		e.notifier = notifier
		notifiers = append(notifiers, notifier)
	}

	alertStore, err := alertapp.NewStore(e.kv,
		alertapp.WithPendingMode(alertapp.PendingMode(cfg.Alerts.PendingMode)),
		alertapp.WithCaps(cfg.Alerts.AcknowledgedCap, cfg.Alerts.HistoryCap),
		alertapp.WithNotifier(notify.NewMultiNotifier(notifiers...)),
		alertapp.WithClock(clockFunc(now)),
		alertapp.WithLogger(opts.Logger),
	)
	if err != nil {
		return nil, err
	}
	e.Alerts = alertStore

	classifier, err := alertapp.NewClassifier(alertStore,
		alertapp.WithPolicy(cfg.Policy),
		alertapp.WithRecipients(cfg.Notify.Recipients),
		alertapp.WithClassifierLogger(opts.Logger),
	)
	if err != nil {
		return nil, err
	}
	e.Classifier = classifier

	e.Simulator = feed.NewSimulator(feed.Config{
		Vehicles:        cfg.Feed.Vehicles,
		Seed:            cfg.Feed.Seed,
		StdMinutes:      cfg.Policy.DefaultStdMinutes,
		ParkingFlipRate: cfg.Feed.ParkingFlipRate,
		GateChangeRate:  cfg.Feed.GateChangeRate,
		AdvanceRate:     cfg.Feed.AdvanceRate,
	}, now())

	monitor, err := yardapp.NewMonitor(e.Simulator, classifier,
		yardapp.WithPolicy(cfg.Policy),
		yardapp.WithLogger(opts.Logger),
		yardapp.WithNow(now),
	)
	if err != nil {
		return nil, err
	}
	e.Monitor = monitor

	reconciler, err := parkingapp.NewReconciler(e.kv, bus, e.Simulator,
		parkingapp.WithLogger(opts.Logger),
		parkingapp.WithClock(clockFunc(now)),
	)
	if err != nil {
		return nil, err
	}
	e.Reconciler = reconciler
	return e, nil
}

// Start loads the first snapshot and schedules the feed and alert ticks.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine: closed")
	}
	if e.started {
		return nil
	}

	if _, err := e.Monitor.Refresh(ctx); err != nil {
		e.logf("engine: initial vehicle refresh failed err=%v", err)
	}
	if err := e.Reconciler.Refresh(ctx); err != nil {
		e.logf("engine: initial parking refresh failed err=%v", err)
	}
	e.cancels = append(e.cancels, e.Reconciler.Listen())

	viewOpts := []parkingapp.ViewOption{parkingapp.WithViewLogger(e.logger)}
	if e.onChange != nil {
		viewOpts = append(viewOpts, parkingapp.WithOnChange(e.onChange))
	}
	view, err := parkingapp.NewView(ctx, e.kv, e.bus, viewOpts...)
	if err != nil {
		return err
	}
	e.View = view

	e.cancels = append(e.cancels, e.sched.Every(e.cfg.Feed.Interval, e.feedTick))
	if e.cfg.Alerts.PollInterval > 0 && e.cfg.Alerts.PollInterval < e.cfg.Feed.Interval {
		e.cancels = append(e.cancels, e.sched.Every(e.cfg.Alerts.PollInterval, e.alertTick))
	}
	e.started = true
	e.logf("engine: started feed_interval=%s alert_interval=%s pending_mode=%s",
		e.cfg.Feed.Interval, e.cfg.Alerts.PollInterval, e.Alerts.Mode())
	return nil
}

// Close cancels periodic work and releases the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cancels := e.cancels
	e.cancels = nil
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	if e.ownsSched {
		e.sched.Stop()
	}
	if e.View != nil {
		e.View.Close()
	}
	e.notifier.Close()
	return e.kv.Close()
}

// Tick runs one feed tick: advance the feed, refresh vehicles and alerts,
// then the parking view.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	e.feedTick(ctx, now)
}

// StoreDegraded reports whether persistence fell back to memory.
func (e *Engine) StoreDegraded() bool {
	return e.kv.Degraded()
}

// Gauges exposes live values for the metrics endpoint.
func (e *Engine) Gauges() metrics.Gauges {
	return metrics.Gauges{
		PendingAlerts: func() int {
			return len(e.Alerts.ListPending(context.Background()))
		},
		ActiveVehicles: e.Monitor.ActiveCount,
		StoreDegraded:  e.StoreDegraded,
	}
}

func (e *Engine) feedTick(ctx context.Context, now time.Time) {
	start := time.Now()
	e.Simulator.Tick(now)
	result, err := e.Monitor.Refresh(ctx)
	if err != nil {
		metrics.ObserveFeedTick(metrics.ResultError, time.Since(start))
		e.logf("engine: vehicle refresh failed err=%v", err)
		return
	}
	if err := e.Reconciler.Refresh(ctx); err != nil {
		metrics.ObserveFeedTick(metrics.ResultError, time.Since(start))
		e.logf("engine: parking refresh failed err=%v", err)
		return
	}
	metrics.ObserveFeedTick(metrics.ResultSuccess, time.Since(start))
	if result.Dropped > 0 || len(result.Raised) > 0 {
		e.logf("engine: feed tick rows=%d dropped=%d raised=%d", result.Rows, result.Dropped, len(result.Raised))
	}
}

func (e *Engine) alertTick(ctx context.Context, _ time.Time) {
	if _, err := e.Monitor.Refresh(ctx); err != nil {
		e.logf("engine: alert refresh failed err=%v", err)
	}
}

func (e *Engine) buildWebhookNotifier() (*notify.Notifier, error) {
	channel, err := notify.NewWebhookChannel(e.cfg.Notify.WebhookURL,
		notify.WithFormat(e.cfg.Notify.Format),
		notify.WithSigningSecret(e.cfg.Notify.SigningSecret),
		notify.WithRetries(e.cfg.Notify.Retries, 0),
	)
	if err != nil {
		return nil, err
	}
	template, err := notify.NewTemplate(e.cfg.Notify.Template)
	if err != nil {
		return nil, err
	}
	opts := []notify.Option{
		notify.WithClock(clockFunc(e.now)),
		notify.WithCooldown(e.cfg.Notify.Cooldown),
		notify.WithDedupeWindow(e.cfg.Notify.DedupeWindow),
		notify.WithRequestTimeout(e.cfg.Notify.Timeout),
		notify.WithLogger(e.logger),
	}
	if e.cfg.Notify.EscalateAfter > 0 {
		opts = append(opts, notify.WithEscalation(e.cfg.Notify.EscalateAfter))
	}
	return notify.NewNotifier(pendingAlerts{engine: e}, channel, template, opts...)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

// pendingAlerts resolves the alert store lazily; the notifier is built
// before the store it reads from.
type pendingAlerts struct {
	engine *Engine
}

func (p pendingAlerts) ListPending(ctx context.Context) []alerts.AlertEvent {
	if p.engine.Alerts == nil {
		return nil
	}
	return p.engine.Alerts.ListPending(ctx)
}

type clockFunc func() time.Time

func (f clockFunc) Now() time.Time { return f() }

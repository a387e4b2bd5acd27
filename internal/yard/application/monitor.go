package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	alerts "yard-ttms/internal/alerts/domain"
	yard "yard-ttms/internal/yard/domain"
)

// VehicleSource is the pull-based vehicle feed.
type VehicleSource interface {
	VehicleRows(ctx context.Context) ([]yard.VehicleRecord, error)
}

// StageObserver turns stage samples into alerts.
type StageObserver interface {
	ObserveVehicle(ctx context.Context, v yard.VehicleRecord) []alerts.AlertEvent
	Forget(present map[string]struct{})
}

// RowView is one vehicle as rendered by progress surfaces.
type RowView struct {
	Vehicle     yard.VehicleRecord                    `json:"vehicle"`
	TTR         int                                   `json:"ttr"`
	ActiveStage yard.StageKey                         `json:"active_stage,omitempty"`
	Stages      map[yard.StageKey]yard.Classification `json:"stages"`
	Projected   map[yard.StageKey]time.Time           `json:"projected"`
	Retired     bool                                  `json:"retired"`
	Overdue     bool                                  `json:"overdue"`
	IsMaxTTR    bool                                  `json:"is_max_ttr"`
}

// Summary is the active vehicle view.
type Summary struct {
	Rows        []RowView `json:"rows"`
	MaxTTR      int       `json:"max_ttr"`
	Count       int       `json:"count"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// RefreshResult reports one monitor pass.
type RefreshResult struct {
	Rows    int
	Dropped int
	Raised  []alerts.AlertEvent
}

type snapshot struct {
	rows        []yard.VehicleRecord
	refreshedAt time.Time
}

// Monitor pulls the vehicle feed, validates it and feeds active stages to
// the alert classifier. Readers see whole snapshots only.
type Monitor struct {
	source   VehicleSource
	observer StageObserver
	policy   yard.Policy
	logger   *log.Logger
	clock    func() time.Time

	mu      sync.Mutex
	prev    map[string]yard.VehicleRecord
	current atomic.Pointer[snapshot]
}

// MonitorOption customizes the monitor.
type MonitorOption func(*Monitor)

// WithPolicy sets the classification policy.
func WithPolicy(policy yard.Policy) MonitorOption {
	return func(m *Monitor) {
		m.policy = policy.Normalize()
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithNow overrides the time source.
func WithNow(now func() time.Time) MonitorOption {
	return func(m *Monitor) {
		if now != nil {
			m.clock = now
		}
	}
}

// NewMonitor constructs a monitor. observer may be nil to disable alerting.
func NewMonitor(source VehicleSource, observer StageObserver, opts ...MonitorOption) (*Monitor, error) {
	if source == nil {
		return nil, errors.New("yard monitor: nil source")
	}
	m := &Monitor{
		source:   source,
		observer: observer,
		policy:   yard.DefaultPolicy(),
		clock:    func() time.Time { return time.Now().UTC() },
		prev:     make(map[string]yard.VehicleRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Refresh pulls the feed once. Rows that break the stage layout or move a
// stage backwards are logged and dropped; a regressed vehicle keeps its
// previous record.
func (m *Monitor) Refresh(ctx context.Context) (RefreshResult, error) {
	rows, err := m.source.VehicleRows(ctx)
	if err != nil {
		return RefreshResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := RefreshResult{}
	accepted := make([]yard.VehicleRecord, 0, len(rows))
	next := make(map[string]yard.VehicleRecord, len(rows))
	for _, row := range rows {
		if err := row.Validate(); err != nil {
			m.logf("yard monitor: dropped vehicle=%s err=%v", row.ID, err)
			result.Dropped++
			continue
		}
		if _, dup := next[row.ID]; dup {
			m.logf("yard monitor: dropped duplicate vehicle=%s", row.ID)
			result.Dropped++
			continue
		}
		if prev, ok := m.prev[row.ID]; ok {
			if err := yard.CheckProgression(prev, row); err != nil {
				m.logf("yard monitor: kept previous record vehicle=%s err=%v", row.ID, err)
				result.Dropped++
				row = prev
			}
		}
		row = row.Clone()
		accepted = append(accepted, row)
		next[row.ID] = row
	}
	m.prev = next
	m.current.Store(&snapshot{rows: accepted, refreshedAt: m.clock()})
	result.Rows = len(accepted)

	if m.observer != nil {
		present := make(map[string]struct{}, len(accepted))
		for _, row := range accepted {
			present[row.ID] = struct{}{}
			result.Raised = append(result.Raised, m.observer.ObserveVehicle(ctx, row)...)
		}
		m.observer.Forget(present)
	}
	return result, nil
}

// ActiveSummary returns vehicles not yet retired. MaxTTR is taken over the
// whole snapshot, retired vehicles included, so the marker can land on a row
// that is not shown.
func (m *Monitor) ActiveSummary() Summary {
	snap := m.load()
	highest := yard.MaxTTR(snap.rows)
	active := m.policy.ActiveSummary(snap.rows)
	views := make([]RowView, 0, len(active))
	for _, row := range active {
		views = append(views, m.view(row, highest))
	}
	return Summary{Rows: views, MaxTTR: highest, Count: len(views), RefreshedAt: snap.refreshedAt}
}

// History returns every vehicle in the last snapshot, retired ones included.
func (m *Monitor) History() []RowView {
	snap := m.load()
	highest := yard.MaxTTR(snap.rows)
	views := make([]RowView, 0, len(snap.rows))
	for _, row := range snap.rows {
		views = append(views, m.view(row, highest))
	}
	return views
}

// Row returns one vehicle by id or registration.
func (m *Monitor) Row(idOrRegistration string) (RowView, bool) {
	snap := m.load()
	for _, row := range snap.rows {
		if row.ID == idOrRegistration || row.Registration == idOrRegistration {
			return m.view(row, yard.MaxTTR(snap.rows)), true
		}
	}
	return RowView{}, false
}

// ActiveCount returns the number of vehicles in the active summary.
func (m *Monitor) ActiveCount() int {
	return len(m.policy.ActiveSummary(m.load().rows))
}

func (m *Monitor) view(row yard.VehicleRecord, highest int) RowView {
	stages := make(map[yard.StageKey]yard.Classification, len(yard.Stages))
	for _, key := range yard.Stages {
		stages[key] = m.policy.ClassifyStage(row, key)
	}
	active, _ := row.ActiveStage()
	ttr := yard.ComputeTTR(row)
	return RowView{
		Vehicle:     row.Clone(),
		TTR:         ttr,
		ActiveStage: active,
		Stages:      stages,
		Projected:   yard.ProjectedStageTimestamps(row),
		Retired:     m.policy.Retired(row),
		Overdue:     m.policy.Overdue(row),
		IsMaxTTR:    highest > 0 && ttr == highest,
	}
}

func (m *Monitor) load() snapshot {
	if snap := m.current.Load(); snap != nil {
		return *snap
	}
	return snapshot{}
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

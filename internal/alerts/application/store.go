package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/observability/metrics"
	"yard-ttms/internal/storage"
)

// PendingMode controls which pending alerts a new alert supersedes.
type PendingMode string

const (
	// PendingKeyed supersedes only the pending alert for the same vehicle and stage.
	PendingKeyed PendingMode = "keyed"
	// PendingSingle keeps one pending alert; a new alert moves all others to history.
	PendingSingle PendingMode = "single"
)

const (
	DefaultAcknowledgedCap = 500
	DefaultHistoryCap      = 1000
	DefaultRecentLimit     = 10
)

// IDGenerator returns unique alert ids.
type IDGenerator func() (string, error)

// Store is the three-bucket alert queue: pending, acknowledged and history.
// Each transition is a single read-modify-write on the underlying store.
type Store struct {
	kv       storage.Store
	logger   *log.Logger
	notifier AlertNotifier
	clock    Clock
	newID    IDGenerator
	mode     PendingMode
	ackCap   int
	histCap  int

	mu sync.Mutex
}

// StoreOption customizes the alert store.
type StoreOption func(*Store)

// WithPendingMode selects keyed or single pending behavior.
func WithPendingMode(mode PendingMode) StoreOption {
	return func(s *Store) {
		if mode == PendingKeyed || mode == PendingSingle {
			s.mode = mode
		}
	}
}

// WithCaps bounds the acknowledged and history buckets.
func WithCaps(acknowledged, history int) StoreOption {
	return func(s *Store) {
		if acknowledged > 0 {
			s.ackCap = acknowledged
		}
		if history > 0 {
			s.histCap = history
		}
	}
}

// WithNotifier assigns a notifier.
func WithNotifier(notifier AlertNotifier) StoreOption {
	return func(s *Store) {
		s.notifier = notifier
	}
}

// WithClock assigns a clock.
func WithClock(clock Clock) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithIDGenerator overrides alert id generation.
func WithIDGenerator(gen IDGenerator) StoreOption {
	return func(s *Store) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// NewStore constructs an alert store over kv.
func NewStore(kv storage.Store, opts ...StoreOption) (*Store, error) {
	if kv == nil {
		return nil, errors.New("alerts: nil store")
	}
	s := &Store{
		kv:      kv,
		clock:   systemClock{},
		newID:   newUUIDv7,
		mode:    PendingKeyed,
		ackCap:  DefaultAcknowledgedCap,
		histCap: DefaultHistoryCap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mode returns the pending mode.
func (s *Store) Mode() PendingMode {
	return s.mode
}

// Raise makes event pending, superseding earlier pending alerts per the
// pending mode. Missing id, timestamp and message are filled in.
func (s *Store) Raise(ctx context.Context, event alerts.AlertEvent) (alerts.AlertEvent, error) {
	if event.ID == "" {
		id, err := s.newID()
		if err != nil {
			return event, err
		}
		event.ID = id
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now().UTC()
	}
	if event.Message == "" {
		event.Message = alerts.Message(event.Registration, event.Stage, event.WaitTime)
	}
	event.Acknowledged = false
	event.AcknowledgedBy = ""
	event.AcknowledgedAt = nil
	if err := event.Validate(); err != nil {
		return event, err
	}

	s.mu.Lock()
	var superseded []alerts.AlertEvent
	err := s.kv.Update(ctx, []string{storage.KeyAlertsPending, storage.KeyAlertsHistory}, func(current map[string][]byte) (map[string][]byte, error) {
		pending := s.decode(current, storage.KeyAlertsPending)
		history := s.decode(current, storage.KeyAlertsHistory)

		kept := make([]alerts.AlertEvent, 0, len(pending))
		superseded = superseded[:0]
		for _, item := range pending {
			if s.mode == PendingSingle || item.Key() == event.Key() {
				superseded = append(superseded, item)
				continue
			}
			kept = append(kept, item)
		}
		history = capAlerts(append(append([]alerts.AlertEvent(nil), superseded...), history...), s.histCap)
		pending = append([]alerts.AlertEvent{event}, kept...)
		return s.encode(map[string][]alerts.AlertEvent{
			storage.KeyAlertsPending: pending,
			storage.KeyAlertsHistory: history,
		})
	})
	s.mu.Unlock()
	if err != nil {
		s.logf("alerts: raise persist failed id=%s err=%v", event.ID, err)
		superseded = nil
	}

	metrics.IncAlertEvent(EventRaised)
	for _, item := range superseded {
		metrics.IncAlertEvent(EventSuperseded)
		s.notify(ctx, EventSuperseded, item)
	}
	s.notify(ctx, EventRaised, event)
	return event, nil
}

// Acknowledge moves a pending alert to the acknowledged bucket. Returns false
// when id is not pending.
func (s *Store) Acknowledge(ctx context.Context, id string) bool {
	return s.AcknowledgeBy(ctx, id, "")
}

// AcknowledgeBy is Acknowledge recording who acknowledged and when.
func (s *Store) AcknowledgeBy(ctx context.Context, id, actor string) bool {
	if id == "" {
		return false
	}
	at := s.clock.Now().UTC()
	s.mu.Lock()
	var (
		found bool
		acked alerts.AlertEvent
	)
	err := s.kv.Update(ctx, []string{storage.KeyAlertsPending, storage.KeyAlertsAcknowledged}, func(current map[string][]byte) (map[string][]byte, error) {
		found = false
		pending := s.decode(current, storage.KeyAlertsPending)
		idx := -1
		for i, item := range pending {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, nil
		}
		found = true
		acked = pending[idx]
		acked.Acknowledged = true
		acked.AcknowledgedBy = actor
		acked.AcknowledgedAt = &at
		pending = append(pending[:idx:idx], pending[idx+1:]...)
		acknowledged := s.decode(current, storage.KeyAlertsAcknowledged)
		acknowledged = capAlerts(append([]alerts.AlertEvent{acked}, acknowledged...), s.ackCap)
		return s.encode(map[string][]alerts.AlertEvent{
			storage.KeyAlertsPending:      pending,
			storage.KeyAlertsAcknowledged: acknowledged,
		})
	})
	s.mu.Unlock()
	if err != nil {
		s.logf("alerts: acknowledge persist failed id=%s err=%v", id, err)
		return false
	}
	if !found {
		return false
	}
	s.logf("alerts: acknowledged id=%s by=%s", id, actor)
	metrics.IncAlertEvent(EventAcknowledged)
	s.notify(ctx, EventAcknowledged, acked)
	return true
}

// ListPending returns pending alerts, newest first.
func (s *Store) ListPending(ctx context.Context) []alerts.AlertEvent {
	return s.load(ctx, storage.KeyAlertsPending)
}

// ListAcknowledged returns acknowledged alerts, newest first.
func (s *Store) ListAcknowledged(ctx context.Context) []alerts.AlertEvent {
	return s.load(ctx, storage.KeyAlertsAcknowledged)
}

// ListHistory returns superseded alerts, newest first.
func (s *Store) ListHistory(ctx context.Context) []alerts.AlertEvent {
	return s.load(ctx, storage.KeyAlertsHistory)
}

// Recent merges every bucket newest first, one entry per id, up to limit.
func (s *Store) Recent(ctx context.Context, limit int) []alerts.AlertEvent {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	merged := append(s.ListPending(ctx), s.ListAcknowledged(ctx)...)
	merged = append(merged, s.ListHistory(ctx)...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	seen := make(map[string]struct{}, len(merged))
	out := make([]alerts.AlertEvent, 0, limit)
	for _, item := range merged {
		if _, ok := seen[item.ID]; ok {
			continue
		}
		seen[item.ID] = struct{}{}
		out = append(out, item)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (s *Store) load(ctx context.Context, key string) []alerts.AlertEvent {
	list := storage.Load[[]alerts.AlertEvent](ctx, s.kv, key, s.logger)
	if list == nil {
		return []alerts.AlertEvent{}
	}
	return list
}

func (s *Store) decode(current map[string][]byte, key string) []alerts.AlertEvent {
	return storage.Decode[[]alerts.AlertEvent](current[key], key, s.logger)
}

func (s *Store) encode(buckets map[string][]alerts.AlertEvent) (map[string][]byte, error) {
	out := make(map[string][]byte, len(buckets))
	for key, list := range buckets {
		if list == nil {
			list = []alerts.AlertEvent{}
		}
		raw, err := storage.Encode(list)
		if err != nil {
			return nil, err
		}
		out[key] = raw
	}
	return out, nil
}

func (s *Store) notify(ctx context.Context, eventType string, alert alerts.AlertEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, AlertNotification{Type: eventType, Alert: alert})
}

func (s *Store) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

func capAlerts(list []alerts.AlertEvent, limit int) []alerts.AlertEvent {
	if limit > 0 && len(list) > limit {
		return list[:limit]
	}
	return list
}

func newUUIDv7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

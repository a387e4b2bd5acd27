package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	alertapp "yard-ttms/internal/alerts/application"
	alerts "yard-ttms/internal/alerts/domain"
	"yard-ttms/internal/observability/metrics"
)

const defaultQueueSize = 256

// PendingReader lists alerts still waiting for acknowledgement.
type PendingReader interface {
	ListPending(ctx context.Context) []alerts.AlertEvent
}

// Clock provides time for scheduling.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

type job struct {
	event   alertapp.AlertNotification
	flushed chan struct{}
}

// Notifier renders alert events through a template and sends them on a
// channel from a single worker goroutine. Notify only enqueues; a full queue
// drops the event. Critical alerts still pending after the escalation delay
// are sent again as escalations.
type Notifier struct {
	pending        PendingReader
	channel        Channel
	template       *Template
	escalation     time.Duration
	clock          Clock
	logger         *log.Logger
	mu             sync.Mutex
	timers         map[string]*time.Timer
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
	queueSize      int

	queueMu sync.RWMutex
	queue   chan job
	closed  bool
	done    chan struct{}
	base    context.Context
	cancel  context.CancelFunc
}

// Option configures the notifier.
type Option func(*Notifier)

// WithEscalation configures the escalation delay.
func WithEscalation(after time.Duration) Option {
	return func(n *Notifier) {
		if after > 0 {
			n.escalation = after
		}
	}
}

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithRequestTimeout bounds escalation sends.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alert and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// WithQueueSize bounds the number of events waiting for delivery.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queueSize = size
		}
	}
}

// WithLogger logs delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// NewNotifier constructs an alert notifier. pending may be nil when
// escalation is disabled.
func NewNotifier(pending PendingReader, channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alert notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		pending:        pending,
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		timers:         make(map[string]*time.Timer),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
		queueSize:      defaultQueueSize,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.escalation > 0 && n.pending == nil {
		return nil, errors.New("alert notifier: escalation needs a pending reader")
	}
	n.queue = make(chan job, n.queueSize)
	n.done = make(chan struct{})
	n.base, n.cancel = context.WithCancel(context.Background())
	go n.run()
	return n, nil
}

// Notify implements AlertNotifier. Delivery is detached from ctx.
func (n *Notifier) Notify(_ context.Context, event alertapp.AlertNotification) {
	if n == nil || n.channel == nil {
		return
	}
	n.queueMu.RLock()
	defer n.queueMu.RUnlock()
	if n.closed {
		return
	}

	switch event.Type {
	case alertapp.EventRaised:
		n.scheduleEscalation(event.Alert)
	case alertapp.EventAcknowledged, alertapp.EventSuperseded:
		n.cancelEscalation(event.Alert.ID)
	}

	select {
	case n.queue <- job{event: event}:
	default:
		metrics.IncNotification(metrics.ResultDropped)
		n.logf("alert notify: queue full, dropped id=%s event=%s", event.Alert.ID, event.Type)
	}
}

// Close stops accepting events, abandons queued deliveries, waits for the
// worker and stops all pending escalation timers.
func (n *Notifier) Close() {
	if n == nil || n.queue == nil {
		return
	}
	n.queueMu.Lock()
	if !n.closed {
		n.closed = true
		n.cancel()
		close(n.queue)
	}
	n.queueMu.Unlock()
	<-n.done

	n.mu.Lock()
	timers := n.timers
	n.timers = make(map[string]*time.Timer)
	n.mu.Unlock()
	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
}

func (n *Notifier) run() {
	defer close(n.done)
	for j := range n.queue {
		if j.flushed != nil {
			close(j.flushed)
			continue
		}
		if n.base.Err() != nil {
			metrics.IncNotification(metrics.ResultDropped)
			continue
		}
		ctx, cancel := n.sendContext()
		n.dispatch(ctx, j.event.Type, j.event.Alert)
		cancel()
	}
}

func (n *Notifier) sendContext() (context.Context, context.CancelFunc) {
	if n.requestTimeout > 0 {
		return context.WithTimeout(n.base, n.requestTimeout)
	}
	return context.WithCancel(n.base)
}

func (n *Notifier) dispatch(ctx context.Context, eventType string, alert alerts.AlertEvent) {
	content, err := n.template.Render(buildTemplateData(eventType, alert))
	if err != nil {
		n.logf("alert notify: render failed id=%s err=%v", alert.ID, err)
		return
	}
	if !n.shouldSend(alert.ID, eventType, content) {
		return
	}
	if err := n.channel.Send(ctx, content); err != nil {
		metrics.IncNotification(metrics.ResultError)
		n.logf("alert notify: send failed id=%s event=%s err=%v", alert.ID, eventType, err)
		return
	}
	metrics.IncNotification(metrics.ResultSuccess)
	n.markSent(alert.ID, eventType, content)
}

func (n *Notifier) scheduleEscalation(alert alerts.AlertEvent) {
	if n.escalation <= 0 || alert.ID == "" || alert.Level != alerts.LevelCritical {
		return
	}
	n.mu.Lock()
	if existing, ok := n.timers[alert.ID]; ok && existing != nil {
		existing.Stop()
	}
	n.timers[alert.ID] = time.AfterFunc(n.escalation, func() {
		n.runEscalation(alert.ID)
	})
	n.mu.Unlock()
}

func (n *Notifier) cancelEscalation(alertID string) {
	if alertID == "" {
		return
	}
	n.mu.Lock()
	timer := n.timers[alertID]
	delete(n.timers, alertID)
	n.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

func (n *Notifier) runEscalation(alertID string) {
	n.mu.Lock()
	delete(n.timers, alertID)
	n.mu.Unlock()

	ctx, cancel := n.sendContext()
	defer cancel()
	for _, alert := range n.pending.ListPending(ctx) {
		if alert.ID == alertID {
			n.dispatch(ctx, "escalated", alert)
			return
		}
	}
}

func buildTemplateData(eventType string, alert alerts.AlertEvent) TemplateData {
	registration := alert.Registration
	if registration == "" {
		registration = alert.VehicleID
	}
	return TemplateData{
		AlertID:      alert.ID,
		Registration: registration,
		Stage:        string(alert.Stage),
		WaitTime:     alert.WaitTime,
		StandardTime: alert.StandardTime,
		Ratio:        fmt.Sprintf("%.2f", alert.ExceedanceRatio),
		Level:        string(alert.Level),
		RaisedAt:     alert.Timestamp.UTC().Format(time.RFC3339),
		Status:       statusLabel(eventType),
		Suggestion:   suggestionFor(alert.Level),
		Recipients:   strings.Join(alert.Recipients, ", "),
		Event:        eventType,
		EventLabel:   eventLabel(eventType),
	}
}

func statusLabel(eventType string) string {
	switch eventType {
	case alertapp.EventAcknowledged:
		return "acknowledged"
	case alertapp.EventSuperseded:
		return "superseded"
	default:
		return "pending"
	}
}

func eventLabel(event string) string {
	switch event {
	case alertapp.EventRaised:
		return "Raised"
	case alertapp.EventAcknowledged:
		return "Acknowledged"
	case alertapp.EventSuperseded:
		return "Superseded"
	case "escalated":
		return "Escalated"
	default:
		return event
	}
}

func suggestionFor(level alerts.Level) string {
	switch level {
	case alerts.LevelCritical:
		return "Dispatch a supervisor to the stage and clear the bottleneck."
	case alerts.LevelWarning:
		return "Check the stage queue and prepare to reassign resources."
	default:
		return "Monitor the vehicle."
	}
}

func (n *Notifier) shouldSend(alertID, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	key := notificationKey(alertID, eventType)
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[key]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(alertID, eventType, content string) {
	key := notificationKey(alertID, eventType)
	n.mu.Lock()
	n.sent[key] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func (n *Notifier) logf(format string, args ...any) {
	if n.logger != nil {
		n.logger.Printf(format, args...)
	}
}

func notificationKey(alertID, eventType string) string {
	return alertID + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

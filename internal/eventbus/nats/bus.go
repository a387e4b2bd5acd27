package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"yard-ttms/internal/eventbus"
)

const defaultSubjectPrefix = "ttms."

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	MaxReconnects int
	Timeout       time.Duration
}

type notification struct {
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
}

// Bus fans change notifications out across processes through NATS subjects.
// Handlers run on the NATS delivery goroutine.
type Bus struct {
	conn   *natsgo.Conn
	prefix string
	logger *log.Logger

	mu   sync.Mutex
	subs map[*natsgo.Subscription]struct{}
}

// Connect dials NATS and returns a bus.
func Connect(cfg Config, logger *log.Logger) (*Bus, error) {
	if cfg.URL == "" {
		return nil, errors.New("nats bus: empty url")
	}
	if cfg.Name == "" {
		cfg.Name = "yard-ttms"
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	opts := []natsgo.Option{
		natsgo.Name(cfg.Name),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.Timeout(cfg.Timeout),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if logger != nil && err != nil {
				logger.Printf("nats bus: disconnected: %v", err)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			if logger != nil {
				logger.Printf("nats bus: reconnected to %s", nc.ConnectedUrl())
			}
		}),
	}
	conn, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats bus: connect: %w", err)
	}
	return NewBus(conn, cfg.SubjectPrefix, logger), nil
}

// NewBus wraps an established connection.
func NewBus(conn *natsgo.Conn, prefix string, logger *log.Logger) *Bus {
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	return &Bus{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		subs:   make(map[*natsgo.Subscription]struct{}),
	}
}

// Publish sends a notification on the topic subject.
func (b *Bus) Publish(_ context.Context, topic string) error {
	if topic == "" {
		return eventbus.ErrEmptyTopic
	}
	if b == nil || b.conn == nil {
		return errors.New("nats bus: not connected")
	}
	payload, err := json.Marshal(notification{Topic: topic, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	return b.conn.Publish(b.prefix+topic, payload)
}

// Subscribe registers handler on the topic subject.
func (b *Bus) Subscribe(topic string, handler eventbus.Handler) func() {
	if b == nil || b.conn == nil || topic == "" || handler == nil {
		return func() {}
	}
	sub, err := b.conn.Subscribe(b.prefix+topic, func(msg *natsgo.Msg) {
		if err := handler(context.Background(), topic); err != nil && b.logger != nil {
			b.logger.Printf("nats bus: handler error topic=%s err=%v", topic, err)
		}
	})
	if err != nil {
		if b.logger != nil {
			b.logger.Printf("nats bus: subscribe failed topic=%s err=%v", topic, err)
		}
		return func() {}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			_ = sub.Unsubscribe()
		})
	}
}

// Close drains subscriptions and closes the connection.
func (b *Bus) Close() error {
	if b == nil || b.conn == nil {
		return nil
	}
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = make(map[*natsgo.Subscription]struct{})
	b.mu.Unlock()
	return b.conn.Drain()
}

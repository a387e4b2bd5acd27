package scheduler

import (
	"context"
	"sync"
	"time"
)

// Task runs on every tick.
type Task func(ctx context.Context, now time.Time)

// Scheduler runs tasks periodically.
type Scheduler interface {
	Every(interval time.Duration, task Task) (cancel func())
	Stop()
}

// TickerScheduler runs each task on its own goroutine driven by a time.Ticker.
type TickerScheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTickerScheduler constructs a scheduler bound to parent.
func NewTickerScheduler(parent context.Context) *TickerScheduler {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	return &TickerScheduler{ctx: ctx, cancel: cancel}
}

// Every starts task after each interval until cancelled or the scheduler stops.
func (s *TickerScheduler) Every(interval time.Duration, task Task) func() {
	if s == nil || interval <= 0 || task == nil {
		return func() {}
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				task(ctx, now.UTC())
			}
		}
	}()
	return cancel
}

// Stop cancels every task and waits for running ticks to return.
func (s *TickerScheduler) Stop() {
	if s == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
}

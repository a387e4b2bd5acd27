package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"
)

type manualTask struct {
	id       int
	interval time.Duration
	next     time.Time
	task     Task
	ctx      context.Context
	cancel   context.CancelFunc
}

// Manual is a deterministic scheduler driven by Advance.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	tasks  map[int]*manualTask
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManual constructs a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manual{
		now:    start.UTC(),
		tasks:  make(map[int]*manualTask),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Now returns the manual clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Every registers task to fire every interval of manual time.
func (m *Manual) Every(interval time.Duration, task Task) func() {
	if interval <= 0 || task == nil {
		return func() {}
	}
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	ctx, cancel := context.WithCancel(m.ctx)
	m.tasks[id] = &manualTask{
		id:       id,
		interval: interval,
		next:     m.now.Add(interval),
		task:     task,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		if t, ok := m.tasks[id]; ok {
			t.cancel()
			delete(m.tasks, id)
		}
		m.mu.Unlock()
	}
}

// Advance moves the clock forward by d and runs every tick that falls due,
// in time order. Tasks run on the caller's goroutine.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		due := m.nextDue(target)
		if due == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		at := due.next
		m.now = at
		due.next = at.Add(due.interval)
		task, ctx := due.task, due.ctx
		m.mu.Unlock()

		task(ctx, at)
	}
}

// Pending returns the number of registered tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// Stop cancels every task.
func (m *Manual) Stop() {
	m.mu.Lock()
	m.cancel()
	m.tasks = make(map[int]*manualTask)
	m.mu.Unlock()
}

func (m *Manual) nextDue(target time.Time) *manualTask {
	candidates := make([]*manualTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if !t.next.After(target) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].next.Equal(candidates[j].next) {
			return candidates[i].id < candidates[j].id
		}
		return candidates[i].next.Before(candidates[j].next)
	})
	return candidates[0]
}

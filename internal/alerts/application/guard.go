package application

import "sync"

// ActivationGuard lets one alert through per stage activation. The guard for
// a key re-arms once the stage is observed not active.
type ActivationGuard struct {
	mu    sync.Mutex
	fired map[string]struct{}
}

// NewActivationGuard constructs an empty guard.
func NewActivationGuard() *ActivationGuard {
	return &ActivationGuard{fired: make(map[string]struct{})}
}

// Observe reports whether an alert should be emitted for key now.
func (g *ActivationGuard) Observe(key string, active, shouldAlert bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !active {
		delete(g.fired, key)
		return false
	}
	if !shouldAlert {
		return false
	}
	if _, ok := g.fired[key]; ok {
		return false
	}
	g.fired[key] = struct{}{}
	return true
}

// Retain drops every key for which keep returns false.
func (g *ActivationGuard) Retain(keep func(key string) bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for key := range g.fired {
		if !keep(key) {
			delete(g.fired, key)
		}
	}
}

// Len returns the number of armed keys.
func (g *ActivationGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.fired)
}

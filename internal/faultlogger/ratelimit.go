package faultlogger

import (
	"sync"
	"time"
)

// pidLimiter admits at most one event per process within a window.
type pidLimiter struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[int32]time.Time
}

func newPIDLimiter(window time.Duration, now func() time.Time) *pidLimiter {
	return &pidLimiter{
		window: window,
		now:    now,
		last:   make(map[int32]time.Time),
	}
}

// allow records an event for pid and reports whether it is admitted.
// A zero or negative window admits everything.
func (p *pidLimiter) allow(pid int32) bool {
	if p.window <= 0 {
		return true
	}

	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for k, t := range p.last {
		if now.Sub(t) >= p.window {
			delete(p.last, k)
		}
	}

	if t, ok := p.last[pid]; ok && now.Sub(t) < p.window {
		return false
	}
	p.last[pid] = now
	return true
}

// Package ratelimit provides the sliding-window call governor shared by all
// in-flight agent requests. It protects the upstream completion provider from
// overload: acquisition and recording are split so a caller that decides not
// to issue a permitted call never charges the budget.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter tracks recent call timestamps within a trailing window. A single
// instance is shared process-wide and is safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	calls    []time.Time
	now      func() time.Time
}

// New creates a limiter permitting at most capacity calls per window.
func New(capacity int, window time.Duration) *Limiter {
	return &Limiter{
		capacity: capacity,
		window:   window,
		now:      time.Now,
	}
}

// evict drops timestamps older than the window, oldest first.
// Caller must hold mu.
func (l *Limiter) evict(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// TryAcquire reports whether the next provider call may proceed and how much
// budget remains. It does not record a call; use RecordCall after the call is
// actually issued.
func (l *Limiter) TryAcquire() (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.evict(l.now())
	remaining := l.capacity - len(l.calls)
	if remaining < 0 {
		remaining = 0
	}
	return remaining > 0, remaining
}

// RecordCall charges one call against the window.
func (l *Limiter) RecordCall() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.evict(now)
	l.calls = append(l.calls, now)
}

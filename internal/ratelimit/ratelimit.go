package ratelimit

import (
	"sync"
	"time"
)

// Limiter gates summarization requests per identity. Implementations
// must count admissions atomically so that concurrent requests at the
// ceiling boundary never over-admit. The in-process WindowLimiter can
// be swapped for a shared counter store in multi-instance deployments.
type Limiter interface {
	Check(identity string) (allowed bool, remaining int, resetAt time.Time)
}

type entry struct {
	count   int
	resetAt time.Time
}

// WindowLimiter is a fixed-window per-identity counter held in process
// memory. A counter miss is treated as first use, never rejected.
type WindowLimiter struct {
	mu      sync.Mutex
	ceiling int
	window  time.Duration
	entries map[string]*entry
	now     func() time.Time
}

// NewWindowLimiter creates a limiter admitting up to ceiling requests
// per identity per window
func NewWindowLimiter(ceiling int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		ceiling: ceiling,
		window:  window,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Check performs an atomic check-and-increment for the identity. It
// returns whether the request is admitted, how many requests remain in
// the current window, and when the window resets.
func (l *WindowLimiter) Check(identity string) (bool, int, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok := l.entries[identity]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(l.window)}
		l.entries[identity] = e
		return true, l.ceiling - 1, e.resetAt
	}

	if e.count >= l.ceiling {
		return false, 0, e.resetAt
	}

	e.count++
	return true, l.ceiling - e.count, e.resetAt
}

// Prune drops expired entries. Called opportunistically by the owner;
// correctness does not depend on it.
func (l *WindowLimiter) Prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for identity, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, identity)
		}
	}
}

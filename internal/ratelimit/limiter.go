// Package ratelimit provides an in-process sliding-window limiter for site
// creation. State lives only in this process: a restart resets every window,
// and running multiple replicas multiplies the effective limit. That
// approximation is acceptable for this workload and is not a defense against
// distributed abuse.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the rolling period over which attempts are counted.
const Window = time.Hour

// Limiter counts allowed attempts per client key within a rolling window.
type Limiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	limit    int
	clock    func() time.Time
}

// Config describes a Limiter.
type Config struct {
	// Limit is the maximum number of allowed attempts per key per window.
	Limit int
	// Clock defaults to time.Now and exists for deterministic tests.
	Clock func() time.Time
}

// New constructs a Limiter.
func New(cfg Config) *Limiter {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Limiter{
		attempts: make(map[string][]time.Time),
		limit:    cfg.Limit,
		clock:    clock,
	}
}

// Allow records an attempt for key and reports whether it is within the
// limit. Denied attempts are not recorded. The prune-count-append sequence
// runs under one lock so concurrent checks for the same key never miscount.
func (l *Limiter) Allow(key string) bool {
	now := l.clock()
	cutoff := now.Add(-Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.attempts[key][:0]
	for _, at := range l.attempts[key] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.limit {
		l.attempts[key] = recent
		return false
	}

	l.attempts[key] = append(recent, now)
	return true
}

// RetryAfter reports how long the caller of a denied key must wait before an
// attempt can succeed. Zero means the key is not currently limited.
func (l *Limiter) RetryAfter(key string) time.Duration {
	now := l.clock()
	cutoff := now.Add(-Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	recorded := l.attempts[key]
	live := 0
	var oldest time.Time
	for _, at := range recorded {
		if at.After(cutoff) {
			if live == 0 {
				oldest = at
			}
			live++
		}
	}
	if live < l.limit {
		return 0
	}
	return oldest.Add(Window).Sub(now)
}

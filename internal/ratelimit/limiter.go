// Package ratelimit keeps one token bucket per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages rate limits for multiple users
type Limiter struct {
	limiters map[string]*entry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	perHour  int
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new rate limiter
// requestsPerHour: requests allowed per hour per user (e.g., 20)
// burst: max requests in a burst (e.g., 3)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	// Convert requests per hour to requests per second
	r := rate.Limit(float64(requestsPerHour) / 3600.0)

	return &Limiter{
		limiters: make(map[string]*entry),
		rate:     r,
		burst:    burst,
		perHour:  requestsPerHour,
		now:      time.Now,
	}
}

// GetLimiter returns the rate limiter for a specific user
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, exists := l.limiters[key]
	if !exists {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = l.now()

	return e.limiter
}

// Allow checks if a request is allowed for the given user
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).AllowN(l.now(), 1)
}

// Tokens returns the current number of available tokens for a user
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).TokensAt(l.now())
}

// RetryAfter returns how long until the user gets the next token.
func (l *Limiter) RetryAfter(key string) time.Duration {
	lim := l.GetLimiter(key)
	now := l.now()
	r := lim.ReserveN(now, 1)
	if !r.OK() {
		return time.Hour
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return d
}

// PerHour returns the configured hourly allowance.
func (l *Limiter) PerHour() int {
	return l.perHour
}

// Prune forgets users idle for longer than idle and returns how many were
// removed.
func (l *Limiter) Prune(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idle)
	n := 0
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
			n++
		}
	}
	return n
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter throttles webhook deliveries per provider and caller address.
type rateLimiter interface {
	Allow(key string) bool
}

// windowLimiter is a fixed-window counter. Windows are short (a minute) and
// the key space is small, so expired windows are swept whenever a new one
// opens.
type windowLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]countWindow
}

type countWindow struct {
	count   int
	expires time.Time
}

// newSimpleRateLimiter returns nil when limit or window disable throttling.
func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]countWindow),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	current, ok := l.windows[key]
	if !ok || now.After(current.expires) {
		l.sweepLocked(now)
		l.windows[key] = countWindow{count: 1, expires: now.Add(l.window)}
		return true
	}
	if current.count >= l.limit {
		return false
	}
	current.count++
	l.windows[key] = current
	return true
}

func (l *windowLimiter) sweepLocked(now time.Time) {
	for key, w := range l.windows {
		if now.After(w.expires) {
			delete(l.windows, key)
		}
	}
}

package handlers

import (
	"strings"
	"sync"
	"time"
)

// checkoutLimiter throttles order placement per shopper. Checkout is the one
// endpoint where a stuck retry loop both hammers Stripe and reserves stock,
// so attempts beyond the per-UID budget are refused until the window rolls
// over.
type checkoutLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]attemptWindow
}

type attemptWindow struct {
	attempts int
	resetAt  time.Time
}

func newCheckoutLimiter(limit int, window time.Duration, clock func() time.Time) *checkoutLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &checkoutLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		windows: make(map[string]attemptWindow),
	}
}

// Allow records one attempt for the shopper and reports whether it fits the
// current window.
func (l *checkoutLimiter) Allow(shopperID string) bool {
	if l == nil {
		return true
	}
	key := strings.TrimSpace(shopperID)
	if key == "" {
		key = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	win, ok := l.windows[key]
	if !ok || now.After(win.resetAt) {
		l.dropExpiredLocked(now)
		l.windows[key] = attemptWindow{attempts: 1, resetAt: now.Add(l.window)}
		return true
	}
	if win.attempts >= l.limit {
		return false
	}
	win.attempts++
	l.windows[key] = win
	return true
}

// dropExpiredLocked keeps the map from accumulating one entry per shopper
// forever. Called on window rollover, which bounds the sweep frequency.
func (l *checkoutLimiter) dropExpiredLocked(now time.Time) {
	for key, win := range l.windows {
		if now.After(win.resetAt) {
			delete(l.windows, key)
		}
	}
}

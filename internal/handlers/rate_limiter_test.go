package handlers

import (
	"testing"
	"time"
)

func TestCheckoutLimiterWindowRollover(t *testing.T) {
	now := time.Date(2026, time.April, 7, 10, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("shopper-1") || !limiter.Allow("shopper-1") {
		t.Fatalf("expected first two attempts to pass")
	}
	if limiter.Allow("shopper-1") {
		t.Fatalf("expected third attempt inside the window to be refused")
	}
	if !limiter.Allow("shopper-2") {
		t.Fatalf("expected a different shopper to have an independent budget")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("shopper-1") {
		t.Fatalf("expected the budget to reset after the window")
	}
}

func TestCheckoutLimiterDropsExpiredWindows(t *testing.T) {
	now := time.Date(2026, time.April, 7, 10, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(1, time.Minute, func() time.Time { return now })

	limiter.Allow("shopper-1")
	limiter.Allow("shopper-2")

	now = now.Add(2 * time.Minute)
	limiter.Allow("shopper-3")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	if _, ok := limiter.windows["shopper-1"]; ok {
		t.Fatalf("expected expired window for shopper-1 to be dropped")
	}
	if len(limiter.windows) != 1 {
		t.Fatalf("expected only the live window to remain, got %d", len(limiter.windows))
	}
}

func TestCheckoutLimiterDisabledForInvalidConfig(t *testing.T) {
	if limiter := newCheckoutLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatalf("expected nil limiter for zero limit")
	}
	var limiter *checkoutLimiter
	if !limiter.Allow("shopper-1") {
		t.Fatalf("expected nil limiter to allow everything")
	}
}

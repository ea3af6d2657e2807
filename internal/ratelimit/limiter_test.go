package ratelimit

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestThrottleAdaptation(t *testing.T) {
	l := NewAdaptiveLimiter("test", 8, testLogger())

	l.ReportError("rest", "HTTP 429 Too Many Requests")

	stats := l.Stats()
	if stats.CurrentRPS != 4 {
		t.Errorf("Expected rate halved to 4, got %v", stats.CurrentRPS)
	}
	if stats.BackoffMultiplier != 2 {
		t.Errorf("Expected backoff 2, got %v", stats.BackoffMultiplier)
	}
	if stats.ConsecutiveSuccesses != 0 {
		t.Errorf("Expected success streak reset, got %d", stats.ConsecutiveSuccesses)
	}

	for i := 0; i < 20; i++ {
		l.ReportSuccess()
	}
	stats = l.Stats()
	if stats.BackoffMultiplier > 1.8+1e-9 {
		t.Errorf("Expected backoff relaxed to <= 1.8 after 20 successes, got %v", stats.BackoffMultiplier)
	}

	for i := 0; i < 30; i++ {
		l.ReportSuccess()
	}
	stats = l.Stats()
	if stats.CurrentRPS < 4.2 {
		t.Errorf("Expected rate recovered to >= 4.2 after 50 successes, got %v", stats.CurrentRPS)
	}
	if stats.CurrentRPS > 12 {
		t.Errorf("Expected rate capped at 1.5x base (12), got %v", stats.CurrentRPS)
	}
}

func TestThrottleSignals(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		throttle bool
	}{
		{"status code", "server returned 429", true},
		{"rate limit text", "Rate Limit exceeded", true},
		{"too many requests", "too many requests, slow down", true},
		{"throttle keyword", "request throttled", true},
		{"plain network error", "connection refused", false},
		{"timeout", "context deadline exceeded", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewAdaptiveLimiter("sig", 8, testLogger())
			l.ReportError("rest", tt.message)

			stats := l.Stats()
			halved := stats.CurrentRPS == 4
			if halved != tt.throttle {
				t.Errorf("message %q: throttle handling = %v, want %v", tt.message, halved, tt.throttle)
			}
		})
	}
}

func TestSoftBackoffAfterRepeatedFailures(t *testing.T) {
	l := NewAdaptiveLimiter("soft", 8, testLogger())

	for i := 0; i < 5; i++ {
		l.ReportError("rest", "connection reset by peer")
	}

	stats := l.Stats()
	if stats.BackoffMultiplier != 1.5 {
		t.Errorf("Expected soft backoff 1.5 after 5 failures, got %v", stats.BackoffMultiplier)
	}
	if stats.CurrentRPS != 8 {
		t.Errorf("Expected rate unchanged for non-throttle errors, got %v", stats.CurrentRPS)
	}
}

func TestRateStaysInBounds(t *testing.T) {
	l := NewAdaptiveLimiter("bounds", 8, testLogger())

	// Hammer the rate downward.
	for i := 0; i < 10; i++ {
		l.ReportError("rest", "429")
	}
	if stats := l.Stats(); stats.CurrentRPS < 1 {
		t.Errorf("Rate fell below 1: %v", stats.CurrentRPS)
	}
	if stats := l.Stats(); stats.BackoffMultiplier > 4 {
		t.Errorf("Backoff exceeded 4: %v", stats.BackoffMultiplier)
	}

	// Then push it upward well past the recovery thresholds.
	for i := 0; i < 500; i++ {
		l.ReportSuccess()
	}
	if stats := l.Stats(); stats.CurrentRPS > 8*1.5 {
		t.Errorf("Rate exceeded 1.5x base: %v", stats.CurrentRPS)
	}
}

func TestAcquireConsumesAndCounts(t *testing.T) {
	l := NewAdaptiveLimiter("acquire", 100, testLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}

	stats := l.Stats()
	if stats.TotalRequests != 5 {
		t.Errorf("Expected 5 total requests, got %d", stats.TotalRequests)
	}
}

func TestAcquireHonorsCancellation(t *testing.T) {
	l := NewAdaptiveLimiter("cancel", 1, testLogger())
	ctx := context.Background()

	// Drain the burst so the next acquire has to wait.
	for i := 0; i < defaultBurst; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}

	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	if err := l.Acquire(cancelCtx); err == nil {
		t.Error("Expected cancellation error from blocked Acquire")
	}
}

func TestUpdateBaseRate(t *testing.T) {
	l := NewAdaptiveLimiter("update", 8, testLogger())

	l.UpdateBaseRate(120)
	stats := l.Stats()
	if stats.BaseRPS != 120 || stats.CurrentRPS != 120 {
		t.Errorf("Expected base and current 120, got %v/%v", stats.BaseRPS, stats.CurrentRPS)
	}

	l.UpdateBaseRate(8)
	stats = l.Stats()
	if stats.BaseRPS != 8 || stats.CurrentRPS != 8 {
		t.Errorf("Expected base and current back to 8, got %v/%v", stats.BaseRPS, stats.CurrentRPS)
	}
}

func TestRegistryAggregates(t *testing.T) {
	r := NewRegistry(8, testLogger())

	a := r.Get("a")
	b := r.Get("b")
	if r.Get("a") != a {
		t.Error("Expected registry to return the same limiter per name")
	}

	a.ReportSuccess()
	a.ReportSuccess()
	b.ReportError("rest", "boom")

	_, successful, failed := r.Aggregate()
	if successful != 2 {
		t.Errorf("Expected 2 successes, got %d", successful)
	}
	if failed != 1 {
		t.Errorf("Expected 1 failure, got %d", failed)
	}

	r.UpdateBaseRate(120)
	if stats := a.Stats(); stats.BaseRPS != 120 {
		t.Errorf("Expected registry update to reach limiter a, got %v", stats.BaseRPS)
	}
	if stats := r.Get("c").Stats(); stats.BaseRPS != 120 {
		t.Errorf("Expected new limiter to inherit updated base, got %v", stats.BaseRPS)
	}
}

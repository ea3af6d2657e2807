// Package ratelimit implements an adaptive token-bucket rate limiter.
//
// Each named caller owns one AdaptiveLimiter. The bucket refills continuously
// at the current target rate; throttle signals from the venue halve the rate
// and grow a multiplicative back-off factor, sustained success slowly walks
// both back toward the base configuration.
package ratelimit

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// defaultBurst is the bucket capacity B.
	defaultBurst = 10

	// maxSingleWait bounds one suspension inside Acquire before re-checking.
	maxSingleWait = 5 * time.Second

	minRPS            = 1.0
	maxBackoff        = 4.0
	maxSoftBackoff    = 2.0
	rateCeilingFactor = 1.5
)

// Stats is a read-only snapshot of a limiter's counters.
type Stats struct {
	Name                 string  `json:"name"`
	BaseRPS              float64 `json:"base_rps"`
	CurrentRPS           float64 `json:"current_rps"`
	BackoffMultiplier    float64 `json:"backoff_multiplier"`
	TotalRequests        int64   `json:"total_requests"`
	SuccessfulRequests   int64   `json:"successful_requests"`
	FailedRequests       int64   `json:"failed_requests"`
	ThrottledRequests    int64   `json:"throttled_requests"`
	ConsecutiveSuccesses int     `json:"consecutive_successes"`
	ConsecutiveFailures  int     `json:"consecutive_failures"`
}

// AdaptiveLimiter is a token bucket with success/failure feedback.
// Safe for concurrent use.
type AdaptiveLimiter struct {
	name   string
	logger *logrus.Logger

	mu          sync.Mutex
	bucket      *rate.Limiter
	baseRPS     float64
	currentRPS  float64
	backoff     float64
	lastRequest time.Time

	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	throttledRequests  int64
	consecSuccesses    int
	consecFailures     int
}

// NewAdaptiveLimiter creates a limiter with the given base rate in requests
// per second. Rates below 1 are clamped to 1.
func NewAdaptiveLimiter(name string, baseRPS float64, logger *logrus.Logger) *AdaptiveLimiter {
	if baseRPS < minRPS {
		baseRPS = minRPS
	}
	return &AdaptiveLimiter{
		name:       name,
		logger:     logger,
		bucket:     rate.NewLimiter(rate.Limit(baseRPS), defaultBurst),
		baseRPS:    baseRPS,
		currentRPS: baseRPS,
		backoff:    1.0,
	}
}

// Acquire blocks until one token is available and any back-off floor has
// elapsed, then consumes the token. It only fails when ctx is cancelled.
func (l *AdaptiveLimiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		backoff := l.backoff
		currentRPS := l.currentRPS
		sinceLast := time.Since(l.lastRequest)
		l.mu.Unlock()

		// Back-off floor: after errors the minimum inter-request interval
		// is f/r regardless of available tokens.
		if backoff > 1.0 {
			minInterval := time.Duration(float64(time.Second) * backoff / currentRPS)
			if wait := minInterval - sinceLast; wait > 0 {
				l.mu.Lock()
				l.throttledRequests++
				l.mu.Unlock()

				if wait > maxSingleWait {
					wait = maxSingleWait
				}
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
		}

		if !l.bucket.Allow() {
			l.mu.Lock()
			l.throttledRequests++
			l.mu.Unlock()
			if err := l.bucket.Wait(ctx); err != nil {
				return err
			}
		}

		l.mu.Lock()
		l.lastRequest = time.Now()
		l.totalRequests++
		l.mu.Unlock()
		return nil
	}
}

// ReportSuccess records a successful request and relaxes back-off and rate
// restrictions after sustained success.
func (l *AdaptiveLimiter) ReportSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.successfulRequests++
	l.consecSuccesses++
	l.consecFailures = 0

	if l.consecSuccesses >= 20 && l.backoff > 1.0 {
		l.backoff = maxFloat(1.0, l.backoff*0.9)
	}
	if l.consecSuccesses >= 50 && l.currentRPS < l.baseRPS*rateCeilingFactor {
		l.setRateLocked(minFloat(l.baseRPS*rateCeilingFactor, l.currentRPS*1.05))
	}
}

// ReportError records a failed request. Throttle signals (HTTP 429, "rate
// limit", "too many requests", "throttle") halve the rate and double the
// back-off factor; other errors grow the back-off gently after 5 in a row.
func (l *AdaptiveLimiter) ReportError(kind, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failedRequests++
	l.consecFailures++
	l.consecSuccesses = 0

	if isThrottleSignal(kind) || isThrottleSignal(message) {
		l.backoff = minFloat(maxBackoff, l.backoff*2.0)
		l.setRateLocked(maxFloat(minRPS, l.currentRPS*0.5))
		l.logger.Warnf("[%s] throttle signal - backing off %.2fx, rate %.2f rps", l.name, l.backoff, l.currentRPS)
		return
	}

	if l.consecFailures >= 5 {
		l.backoff = minFloat(maxSoftBackoff, l.backoff*1.5)
		l.logger.Warnf("[%s] %d consecutive failures - backoff %.2fx", l.name, l.consecFailures, l.backoff)
	}
}

// UpdateBaseRate hot-replaces the base rate, e.g. after a tier change.
func (l *AdaptiveLimiter) UpdateBaseRate(newRPS float64) {
	if newRPS < minRPS {
		newRPS = minRPS
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if newRPS == l.baseRPS {
		return
	}
	old := l.baseRPS
	l.baseRPS = newRPS
	l.setRateLocked(newRPS)
	l.logger.Infof("[%s] base rate updated: %.1f -> %.1f rps", l.name, old, newRPS)
}

// Stats returns a read-only snapshot.
func (l *AdaptiveLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Name:                 l.name,
		BaseRPS:              l.baseRPS,
		CurrentRPS:           l.currentRPS,
		BackoffMultiplier:    l.backoff,
		TotalRequests:        l.totalRequests,
		SuccessfulRequests:   l.successfulRequests,
		FailedRequests:       l.failedRequests,
		ThrottledRequests:    l.throttledRequests,
		ConsecutiveSuccesses: l.consecSuccesses,
		ConsecutiveFailures:  l.consecFailures,
	}
}

// setRateLocked updates the target rate and the underlying bucket.
// Callers must hold l.mu.
func (l *AdaptiveLimiter) setRateLocked(rps float64) {
	if rps < minRPS {
		rps = minRPS
	}
	ceiling := l.baseRPS * rateCeilingFactor
	if rps > ceiling {
		rps = ceiling
	}
	l.currentRPS = rps
	l.bucket.SetLimit(rate.Limit(rps))
}

func isThrottleSignal(s string) bool {
	s = strings.ToLower(s)
	for _, keyword := range []string{"rate limit", "too many requests", "429", "throttle"} {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

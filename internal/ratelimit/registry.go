package ratelimit

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry hands out named limiters and aggregates their statistics.
// One registry is owned by the application context; components receive
// a handle instead of reaching for globals.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*AdaptiveLimiter
	baseRPS  float64
	logger   *logrus.Logger
}

// NewRegistry creates a registry whose limiters start at baseRPS.
func NewRegistry(baseRPS float64, logger *logrus.Logger) *Registry {
	return &Registry{
		limiters: make(map[string]*AdaptiveLimiter),
		baseRPS:  baseRPS,
		logger:   logger,
	}
}

// Get returns the limiter for name, creating it on first use.
func (r *Registry) Get(name string) *AdaptiveLimiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		return l
	}
	l := NewAdaptiveLimiter(name, r.baseRPS, r.logger)
	r.limiters[name] = l
	return l
}

// UpdateBaseRate hot-replaces the base rate of every limiter, and of
// limiters created afterwards.
func (r *Registry) UpdateBaseRate(newRPS float64) {
	r.mu.Lock()
	r.baseRPS = newRPS
	limiters := make([]*AdaptiveLimiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.Unlock()

	for _, l := range limiters {
		l.UpdateBaseRate(newRPS)
	}
}

// AllStats returns a snapshot per limiter.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]Stats, len(r.limiters))
	for name, l := range r.limiters {
		out[name] = l.Stats()
	}
	return out
}

// Aggregate sums request counters across all limiters. Used by the health
// supervisor to compute throughput and error rate.
func (r *Registry) Aggregate() (total, successful, failed int64) {
	for _, s := range r.AllStats() {
		total += s.TotalRequests
		successful += s.SuccessfulRequests
		failed += s.FailedRequests
	}
	return total, successful, failed
}

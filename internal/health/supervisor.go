// Package health runs the periodic liveness probes and owns the failover
// latch that gates upstream sessions.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/ratelimit"
)

// Overall status taxonomy surfaced by the control plane.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Per-check status values. A dependency without a prober reports unknown,
// never healthy.
const (
	CheckHealthy   = "healthy"
	CheckUnhealthy = "unhealthy"
	CheckUnknown   = "unknown"
)

const (
	defaultInterval = 30 * time.Second
	failureInterval = 5 * time.Second
	probeTimeout    = 10 * time.Second
	minThroughput   = 0.5
	maxErrorRate    = 0.25
	degradedErrRate = 0.10
)

// Probe checks one dependency. A nil Probe means the dependency is not
// configured and is reported as unknown.
type Probe func(ctx context.Context) error

// CheckResult is the last outcome of one probe.
type CheckResult struct {
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	LastCheck time.Time     `json:"last_check"`
}

// Report aggregates one probe round.
type Report struct {
	Status         string                 `json:"status"`
	Checks         map[string]CheckResult `json:"checks"`
	Throughput     float64                `json:"throughput"`
	ErrorRate      float64                `json:"error_rate"`
	FailoverActive bool                   `json:"failover_active"`
	FailoverReason string                 `json:"failover_reason,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Supervisor probes the cache sink, the catalog endpoint and the analytical
// store, aggregates rate-limiter statistics, and latches failover when the
// pipeline cannot make progress.
type Supervisor struct {
	cacheProbe      Probe
	catalogProbe    Probe
	analyticalProbe Probe
	registry        *ratelimit.Registry
	latch           *Latch
	logger          *logrus.Logger
	interval        time.Duration

	mu   sync.RWMutex
	last Report

	stop chan struct{}
	done chan struct{}
}

// NewSupervisor wires the probes. analyticalProbe may be nil.
func NewSupervisor(cacheProbe, catalogProbe, analyticalProbe Probe, registry *ratelimit.Registry, latch *Latch, logger *logrus.Logger) *Supervisor {
	return &Supervisor{
		cacheProbe:      cacheProbe,
		catalogProbe:    catalogProbe,
		analyticalProbe: analyticalProbe,
		registry:        registry,
		latch:           latch,
		logger:          logger,
		interval:        defaultInterval,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// SetInterval overrides the healthy-path probe period. Test hook.
func (s *Supervisor) SetInterval(d time.Duration) {
	s.interval = d
}

// Start launches the probe loop.
func (s *Supervisor) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("health supervisor started")
}

// Stop terminates the probe loop and waits for it.
func (s *Supervisor) Stop() {
	close(s.stop)
	<-s.done
	s.logger.Info("health supervisor stopped")
}

// Snapshot returns the latest report.
func (s *Supervisor) Snapshot() Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)

	// Probe immediately so the first snapshot is meaningful.
	interval := s.probeRound(ctx)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-time.After(interval):
			interval = s.probeRound(ctx)
		}
	}
}

// probeRound runs all checks once and returns the next wait: short while
// any condition is failing, the regular interval otherwise.
func (s *Supervisor) probeRound(ctx context.Context) time.Duration {
	checks := map[string]CheckResult{
		"redis":      s.runProbe(ctx, s.cacheProbe),
		"catalog":    s.runProbe(ctx, s.catalogProbe),
		"clickhouse": s.runProbe(ctx, s.analyticalProbe),
	}

	total, successful, _ := s.registry.Aggregate()
	throughput := 1.0
	if total > 0 {
		throughput = float64(successful) / float64(total)
	}
	errorRate := 1.0 - throughput

	var reasons []string
	if checks["redis"].Status == CheckUnhealthy {
		reasons = append(reasons, "redis ping failed")
	}
	if checks["catalog"].Status == CheckUnhealthy {
		reasons = append(reasons, "catalog unreachable")
	}
	if throughput < minThroughput {
		reasons = append(reasons, fmt.Sprintf("throughput %.2f below %.2f", throughput, minThroughput))
	}
	if errorRate > maxErrorRate {
		reasons = append(reasons, fmt.Sprintf("error rate %.2f above %.2f", errorRate, maxErrorRate))
	}

	if len(reasons) > 0 {
		reason := strings.Join(reasons, "; ")
		if !s.latch.Active() {
			s.logger.Warnf("failover activated: %s", reason)
		}
		s.latch.Set(reason)
	} else if s.latch.Active() {
		s.latch.Clear()
		s.logger.Info("failover deactivated, system healthy again")
	}

	active, reason, _ := s.latch.State()

	status := StatusHealthy
	switch {
	case active:
		status = StatusCritical
	case checks["clickhouse"].Status == CheckUnhealthy || errorRate > degradedErrRate:
		status = StatusDegraded
	}

	report := Report{
		Status:         status,
		Checks:         checks,
		Throughput:     throughput,
		ErrorRate:      errorRate,
		FailoverActive: active,
		FailoverReason: reason,
		Timestamp:      time.Now(),
	}

	s.mu.Lock()
	s.last = report
	s.mu.Unlock()

	if len(reasons) > 0 {
		return failureInterval
	}
	return s.interval
}

// runProbe executes one probe with a bounded timeout.
func (s *Supervisor) runProbe(ctx context.Context, probe Probe) CheckResult {
	if probe == nil {
		return CheckResult{Status: CheckUnknown, LastCheck: time.Now()}
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := probe(probeCtx)
	result := CheckResult{
		Status:    CheckHealthy,
		Duration:  time.Since(start),
		LastCheck: start,
	}
	if err != nil {
		result.Status = CheckUnhealthy
		result.Error = err.Error()
	}
	return result
}

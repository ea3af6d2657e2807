package health

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/ratelimit"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func healthyProbe(ctx context.Context) error { return nil }
func failingProbe(ctx context.Context) error { return errors.New("down") }

func newTestSupervisor(cacheProbe, catalogProbe, storeProbe Probe, registry *ratelimit.Registry, latch *Latch) *Supervisor {
	return NewSupervisor(cacheProbe, catalogProbe, storeProbe, registry, latch, testLogger())
}

func TestHealthyRound(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	registry.Get("a").ReportSuccess()
	latch := NewLatch()

	s := newTestSupervisor(healthyProbe, healthyProbe, healthyProbe, registry, latch)
	s.probeRound(context.Background())

	report := s.Snapshot()
	if report.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", report.Status)
	}
	if latch.Active() {
		t.Error("Expected latch inactive on healthy round")
	}
	if report.Throughput != 1.0 {
		t.Errorf("Expected throughput 1.0, got %v", report.Throughput)
	}
}

func TestCachePingFailureLatchesFailover(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	latch := NewLatch()

	s := newTestSupervisor(failingProbe, healthyProbe, healthyProbe, registry, latch)
	s.probeRound(context.Background())

	if !latch.Active() {
		t.Fatal("Expected latch active after cache ping failure")
	}
	_, reason, _ := latch.State()
	if reason == "" {
		t.Error("Expected recorded failover reason")
	}

	report := s.Snapshot()
	if report.Status != StatusCritical {
		t.Errorf("Expected critical, got %s", report.Status)
	}
}

func TestLowThroughputLatchesFailover(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	l := registry.Get("a")
	for i := 0; i < 4; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
	}
	l.ReportSuccess()
	l.ReportError("rest", "x")
	l.ReportError("rest", "y")
	l.ReportError("rest", "z") // throughput 1/4

	latch := NewLatch()
	s := newTestSupervisor(healthyProbe, healthyProbe, healthyProbe, registry, latch)
	s.probeRound(context.Background())

	if !latch.Active() {
		t.Error("Expected latch active on throughput below 0.5")
	}
}

func TestLatchClearsOnRecovery(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	latch := NewLatch()
	latch.Set("manual")

	s := newTestSupervisor(healthyProbe, healthyProbe, healthyProbe, registry, latch)
	s.probeRound(context.Background())

	if latch.Active() {
		t.Error("Expected latch cleared once all conditions are healthy")
	}
}

func TestMissingAnalyticalProbeIsUnknown(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	latch := NewLatch()

	s := newTestSupervisor(healthyProbe, healthyProbe, nil, registry, latch)
	s.probeRound(context.Background())

	report := s.Snapshot()
	if report.Checks["clickhouse"].Status != CheckUnknown {
		t.Errorf("Expected unknown clickhouse status, got %s", report.Checks["clickhouse"].Status)
	}
	// An unconfigured store never triggers failover by itself.
	if latch.Active() {
		t.Error("Expected latch inactive with unknown analytical store")
	}
}

func TestDegradedOnAnalyticalFailure(t *testing.T) {
	registry := ratelimit.NewRegistry(8, testLogger())
	latch := NewLatch()

	s := newTestSupervisor(healthyProbe, healthyProbe, failingProbe, registry, latch)
	s.probeRound(context.Background())

	report := s.Snapshot()
	if report.Status != StatusDegraded {
		t.Errorf("Expected degraded when only the analytical store fails, got %s", report.Status)
	}
	if latch.Active() {
		t.Error("Expected no failover for analytical store failure alone")
	}
}

func TestLatchTransitions(t *testing.T) {
	latch := NewLatch()

	if latch.Active() {
		t.Fatal("Expected new latch inactive")
	}

	latch.Set("first reason")
	active, reason, since := latch.State()
	if !active || reason != "first reason" || since.IsZero() {
		t.Errorf("Unexpected state after Set: %v %q %v", active, reason, since)
	}

	// Re-setting keeps the original transition time.
	latch.Set("second reason")
	_, reason2, since2 := latch.State()
	if reason2 != "second reason" || !since2.Equal(since) {
		t.Errorf("Expected updated reason with original transition time")
	}

	latch.Clear()
	if latch.Active() {
		t.Error("Expected latch inactive after Clear")
	}
}

package bitget

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitget-radar/configs"
	"bitget-radar/internal/model"
	"bitget-radar/internal/ratelimit"
)

func TestSupervisorReconfigureReplacesSessions(t *testing.T) {
	stub := &upstreamStub{t: t}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	defer srv.Close()

	mappings := map[string]configs.MarketMapping{"spot": spotMapping}
	sv := NewSessionSupervisor(newFakeSink(), newFakeSink(), &fakeBroker{}, ratelimit.NewRegistry(1000, testLogger()), &fakeLatch{}, mappings, testLogger())
	sv.SetURLOverride("spot", wsURL(srv))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)

	sv.Reconfigure([]model.SubscriptionGroup{
		{ID: "spot-0", Market: "spot", Symbols: []string{"BTCUSDT"}},
	}, false)

	if !waitFor(t, 2*time.Second, func() bool { return stub.subscribeCount() == 1 }) {
		t.Fatalf("Expected 1 subscribe, got %d", stub.subscribeCount())
	}
	if len(sv.Stats()) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sv.Stats()))
	}

	// Reconfiguration replaces the whole set atomically.
	sv.Reconfigure([]model.SubscriptionGroup{
		{ID: "spot-0", Market: "spot", Symbols: []string{"BTCUSDT"}},
		{ID: "spot-1", Market: "spot", Symbols: []string{"ETHUSDT"}},
	}, false)

	if !waitFor(t, 2*time.Second, func() bool { return stub.subscribeCount() == 3 }) {
		t.Fatalf("Expected 3 subscribes after reconfigure, got %d", stub.subscribeCount())
	}
	if len(sv.Stats()) != 2 {
		t.Errorf("Expected 2 sessions, got %d", len(sv.Stats()))
	}

	sv.StopAll()
	if len(sv.Stats()) != 0 {
		t.Errorf("Expected no sessions after StopAll, got %d", len(sv.Stats()))
	}
}

func TestSupervisorSkipsUnmappedMarket(t *testing.T) {
	sv := NewSessionSupervisor(newFakeSink(), newFakeSink(), &fakeBroker{}, ratelimit.NewRegistry(1000, testLogger()), &fakeLatch{}, map[string]configs.MarketMapping{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sv.Start(ctx)

	sv.Reconfigure([]model.SubscriptionGroup{
		{ID: "spot-0", Market: "spot", Symbols: []string{"BTCUSDT"}},
	}, false)

	if len(sv.Stats()) != 0 {
		t.Errorf("Expected unmapped market to be skipped, got %d sessions", len(sv.Stats()))
	}
	sv.StopAll()
}

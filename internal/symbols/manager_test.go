package symbols

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"bitget-radar/internal/model"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// fakeCatalog serves a fixed ranking per market.
type fakeCatalog struct {
	perMarket map[string][]model.SymbolMeta
}

func (f *fakeCatalog) TopByVolume(ctx context.Context, market string, limit int) ([]model.SymbolMeta, error) {
	metas := f.perMarket[market]
	if limit > 0 && len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}

func meta(symbol, market string, volume float64) model.SymbolMeta {
	return model.SymbolMeta{Symbol: symbol, Market: market, Status: "online", Volume24h: volume}
}

func newTestManager(catalog *fakeCatalog, markets []string, maxPerMarket, maxPerGroup int) *Manager {
	return NewManager(catalog, markets, maxPerMarket, maxPerGroup, 1000000, testLogger())
}

func TestInitializeFiltersAndOrders(t *testing.T) {
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{
		"spot": {
			meta("BTCUSDT", "spot", 9000000),
			meta("ETHUSDT", "spot", 5000000),
			meta("DUSTUSDT", "spot", 500), // below min volume
		},
	}}

	m := newTestManager(catalog, []string{"spot"}, 10, 10)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	got := m.SymbolsFor("spot")
	want := []string{"BTCUSDT", "ETHUSDT"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestOrderingTieBreak(t *testing.T) {
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{
		"spot": {
			meta("ZZZUSDT", "spot", 2000000),
			meta("AAAUSDT", "spot", 2000000),
			meta("BTCUSDT", "spot", 9000000),
		},
	}}

	m := newTestManager(catalog, []string{"spot"}, 10, 10)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	got := m.SymbolsFor("spot")
	want := []string{"BTCUSDT", "AAAUSDT", "ZZZUSDT"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestGroupPartitioning(t *testing.T) {
	metas := make([]model.SymbolMeta, 0, 7)
	symbols := []string{"AUSDT", "BUSDT", "CUSDT", "DUSDT", "EUSDT", "FUSDT", "GUSDT"}
	for i, s := range symbols {
		metas = append(metas, meta(s, "spot", float64(9000000-i)))
	}
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{"spot": metas}}

	tests := []struct {
		name       string
		groupSize  int
		wantGroups int
	}{
		{"groups of 3", 3, 3},
		{"groups of 7", 7, 1},
		{"groups of 10", 10, 1},
		{"groups of 1", 1, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(catalog, []string{"spot"}, 10, tt.groupSize)
			if err := m.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize failed: %v", err)
			}

			groups := m.Groups()
			if len(groups) != tt.wantGroups {
				t.Fatalf("Expected %d groups, got %d", tt.wantGroups, len(groups))
			}

			total := 0
			for i, g := range groups {
				total += len(g.Symbols)
				if len(g.Symbols) > tt.groupSize {
					t.Errorf("Group %s oversized: %d", g.ID, len(g.Symbols))
				}
				wantID := "spot-" + string(rune('0'+i))
				if g.ID != wantID {
					t.Errorf("Expected stable id %s, got %s", wantID, g.ID)
				}
			}
			if total != len(symbols) {
				t.Errorf("Expected %d symbols across groups, got %d", len(symbols), total)
			}
		})
	}
}

func TestZeroSymbolWorkingSet(t *testing.T) {
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{"spot": nil}}

	m := newTestManager(catalog, []string{"spot"}, 10, 10)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if groups := m.Groups(); len(groups) != 0 {
		t.Errorf("Expected no groups for empty working set, got %d", len(groups))
	}
}

func TestReconcileEmitsDelta(t *testing.T) {
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{
		"spot":  {meta("BTCUSDT", "spot", 9000000)},
		"usdtm": {meta("BTCUSDT", "usdtm", 8000000)},
	}}

	m := newTestManager(catalog, []string{"spot"}, 10, 10)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	drain(m) // discard initial activations

	// Expand to both markets.
	if err := m.Reconcile(context.Background(), []string{"spot", "usdtm"}, 10, 100); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	events := drain(m)
	if len(events) != 1 {
		t.Fatalf("Expected 1 activation event, got %d", len(events))
	}
	if events[0].Type != EventActivate || events[0].Market != "usdtm" {
		t.Errorf("Unexpected event %+v", events[0])
	}

	// Shrink back; the usdtm symbol deactivates.
	if err := m.Reconcile(context.Background(), []string{"spot"}, 10, 10); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	events = drain(m)
	if len(events) != 1 || events[0].Type != EventDeactivate {
		t.Fatalf("Expected 1 deactivation event, got %+v", events)
	}
}

func TestReconcileRoundTripTopology(t *testing.T) {
	catalog := &fakeCatalog{perMarket: map[string][]model.SymbolMeta{
		"spot":  {meta("BTCUSDT", "spot", 9000000), meta("ETHUSDT", "spot", 5000000)},
		"usdtm": {meta("BTCUSDT", "usdtm", 8000000)},
	}}

	m := newTestManager(catalog, []string{"spot"}, 10, 10)
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	before := m.Groups()

	if err := m.Reconcile(context.Background(), []string{"spot", "usdtm"}, 10, 100); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}
	if err := m.Reconcile(context.Background(), []string{"spot"}, 10, 10); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	after := m.Groups()
	if len(before) != len(after) {
		t.Fatalf("Topology changed: %d vs %d groups", len(before), len(after))
	}
	for i := range before {
		if before[i].ID != after[i].ID || len(before[i].Symbols) != len(after[i].Symbols) {
			t.Errorf("Group %d differs: %+v vs %+v", i, before[i], after[i])
		}
		for j := range before[i].Symbols {
			if before[i].Symbols[j] != after[i].Symbols[j] {
				t.Errorf("Group %d symbol %d differs", i, j)
			}
		}
	}
}

func drain(m *Manager) []Event {
	var events []Event
	for {
		select {
		case ev := <-m.Events():
			events = append(events, ev)
		default:
			return events
		}
	}
}

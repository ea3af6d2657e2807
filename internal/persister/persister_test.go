package persister

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"bitget-radar/internal/model"
	"bitget-radar/internal/storage/models"
)

// fakeStore records batches in memory.
type fakeStore struct {
	trades [][]*models.TradeRow
	bars   [][]*models.Bar
}

func (f *fakeStore) CreateTrades(ctx context.Context, trades []*models.TradeRow) error {
	f.trades = append(f.trades, trades)
	return nil
}

func (f *fakeStore) CreateBars(ctx context.Context, bars []*models.Bar) error {
	f.bars = append(f.bars, bars)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

type emptySource struct{}

func (emptySource) All() []model.SymbolMeta { return nil }

func newTestPersister(store *fakeStore) *Persister {
	return New(nil, store, emptySource{}, slog.Default(), Config{
		BatchSize:     10,
		BatchTimeout:  time.Second,
		BarResolution: time.Minute,
	})
}

func trade(ts int64, price, size float64) model.Trade {
	return model.Trade{
		Symbol:    "BTCUSDT",
		Market:    "spot",
		Price:     price,
		Size:      size,
		Side:      "buy",
		Timestamp: ts,
	}
}

func TestToRow(t *testing.T) {
	p := newTestPersister(&fakeStore{})

	row := p.toRow(trade(1700000000000, 30000, 0.1))
	if row.Symbol != "BTCUSDT" || row.Market != "spot" {
		t.Errorf("Unexpected row identity %+v", row)
	}
	if row.QuoteAmount != 3000 {
		t.Errorf("Expected quote amount 3000, got %v", row.QuoteAmount)
	}
	if row.TradeID == "" {
		t.Error("Expected trade id derived from the dedup hash")
	}
	if !row.EventTime.Equal(time.UnixMilli(1700000000000).UTC()) {
		t.Errorf("Unexpected event time %v", row.EventTime)
	}
}

func TestBarAggregation(t *testing.T) {
	p := newTestPersister(&fakeStore{})

	base := int64(1700000000000) // mid-minute timestamp
	p.aggregate(trade(base, 30000, 0.25))
	p.aggregate(trade(base+1000, 30100, 0.25))
	p.aggregate(trade(base+2000, 29900, 0.5))

	if len(p.bars) != 1 {
		t.Fatalf("Expected 1 open bar, got %d", len(p.bars))
	}
	for _, bar := range p.bars {
		if bar.Open != 30000 || bar.Close != 29900 {
			t.Errorf("Unexpected open/close %v/%v", bar.Open, bar.Close)
		}
		if bar.High != 30100 || bar.Low != 29900 {
			t.Errorf("Unexpected high/low %v/%v", bar.High, bar.Low)
		}
		if bar.Trades != 3 {
			t.Errorf("Expected 3 trades aggregated, got %d", bar.Trades)
		}
		if bar.Volume != 1.0 {
			t.Errorf("Expected volume 1.0, got %v", bar.Volume)
		}
		if bar.Resolution != 60 {
			t.Errorf("Expected 60s resolution, got %d", bar.Resolution)
		}
	}
}

func TestBarsSplitAcrossWindows(t *testing.T) {
	p := newTestPersister(&fakeStore{})

	p.aggregate(trade(1700000000000, 30000, 0.1))
	p.aggregate(trade(1700000000000+60_000, 30100, 0.1)) // next minute

	if len(p.bars) != 2 {
		t.Errorf("Expected 2 bars across minute windows, got %d", len(p.bars))
	}
}

func TestFlushBarsFinal(t *testing.T) {
	store := &fakeStore{}
	p := newTestPersister(store)

	p.aggregate(trade(1700000000000, 30000, 0.1))
	if err := p.flushBars(context.Background(), true); err != nil {
		t.Fatalf("flushBars failed: %v", err)
	}

	if len(store.bars) != 1 || len(store.bars[0]) != 1 {
		t.Fatalf("Expected one flushed bar batch, got %+v", store.bars)
	}
	if len(p.bars) != 0 {
		t.Errorf("Expected open bars cleared after final flush, got %d", len(p.bars))
	}
}

func TestFlushBarsKeepsOpenWindow(t *testing.T) {
	store := &fakeStore{}
	p := newTestPersister(store)

	// A trade stamped now sits in the still-open window.
	p.aggregate(trade(time.Now().UnixMilli(), 30000, 0.1))
	if err := p.flushBars(context.Background(), false); err != nil {
		t.Fatalf("flushBars failed: %v", err)
	}

	if len(store.bars) != 0 {
		t.Errorf("Expected open bar retained, got %+v", store.bars)
	}
	if len(p.bars) != 1 {
		t.Errorf("Expected open bar still tracked, got %d", len(p.bars))
	}
}

func TestInsertWithRetryEmptyBatch(t *testing.T) {
	store := &fakeStore{}
	p := newTestPersister(store)

	if err := p.insertWithRetry(context.Background(), nil); err != nil {
		t.Fatalf("insertWithRetry failed: %v", err)
	}
	if len(store.trades) != 0 {
		t.Error("Expected no insert for empty batch")
	}
}

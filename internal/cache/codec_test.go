package cache

import (
	"testing"
	"time"

	"bitget-radar/internal/model"
)

func sampleTrade() model.Trade {
	return model.Trade{
		Symbol:     "BTCUSDT",
		Market:     "spot",
		Price:      30000.0,
		Size:       0.1,
		Side:       "buy",
		Timestamp:  1700000000000,
		IngestedAt: time.Unix(1700000001, 0).UTC(),
	}
}

func TestTradeCodecRoundTrip(t *testing.T) {
	trade := sampleTrade()

	payload, err := EncodeTrade(trade)
	if err != nil {
		t.Fatalf("EncodeTrade failed: %v", err)
	}

	decoded, err := DecodeTrade(payload)
	if err != nil {
		t.Fatalf("DecodeTrade failed: %v", err)
	}
	if decoded != trade {
		t.Errorf("Round trip mismatch: got %+v, want %+v", decoded, trade)
	}
}

func TestBookCodecRoundTrip(t *testing.T) {
	book := model.BookUpdate{
		Symbol:    "ETHUSDT",
		Market:    "usdtm",
		Bids:      []model.BookLevel{{Price: 2000.5, Size: 1.2}, {Price: 2000.0, Size: 3}},
		Asks:      []model.BookLevel{{Price: 2001.0, Size: 0.7}},
		Timestamp: 1700000000123,
		Snapshot:  true,
	}

	payload, err := EncodeBook(book)
	if err != nil {
		t.Fatalf("EncodeBook failed: %v", err)
	}

	decoded, err := DecodeBook(payload)
	if err != nil {
		t.Fatalf("DecodeBook failed: %v", err)
	}
	if decoded.Symbol != book.Symbol || len(decoded.Bids) != 2 || !decoded.Snapshot {
		t.Errorf("Round trip mismatch: got %+v", decoded)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeTrade([]byte("not gzip at all")); err == nil {
		t.Error("Expected error for uncompressed payload")
	}
}

func TestTradeHash(t *testing.T) {
	base := sampleTrade()

	same := base
	same.Side = "sell" // side is not part of the dedup identity
	if TradeHash(base) != TradeHash(same) {
		t.Error("Expected hash to ignore side")
	}

	tests := []struct {
		name   string
		mutate func(*model.Trade)
	}{
		{"different price", func(tr *model.Trade) { tr.Price = 30001 }},
		{"different size", func(tr *model.Trade) { tr.Size = 0.2 }},
		{"different timestamp", func(tr *model.Trade) { tr.Timestamp++ }},
		{"different market", func(tr *model.Trade) { tr.Market = "usdtm" }},
		{"different symbol", func(tr *model.Trade) { tr.Symbol = "ETHUSDT" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base
			tt.mutate(&other)
			if TradeHash(base) == TradeHash(other) {
				t.Error("Expected distinct hash")
			}
		})
	}
}

func TestLocalDedupe(t *testing.T) {
	c := &TradeCache{
		dedupWindow: 50 * time.Millisecond,
		dedupe:      make(map[string]time.Time),
	}

	hash := TradeHash(sampleTrade())
	if c.seenLocally(hash) {
		t.Error("Expected unseen hash")
	}

	c.markSeen(hash)
	if !c.seenLocally(hash) {
		t.Error("Expected hash to be seen inside the window")
	}

	time.Sleep(60 * time.Millisecond)
	if c.seenLocally(hash) {
		t.Error("Expected hash to expire after the window")
	}
}

func TestKeyNames(t *testing.T) {
	if got := TradeStreamKey("BTCUSDT", "spot"); got != "trades:BTCUSDT:spot" {
		t.Errorf("Unexpected stream key %q", got)
	}
	if got := OrderbookKey("BTCUSDT", "usdtm"); got != "orderbook:BTCUSDT:usdtm" {
		t.Errorf("Unexpected orderbook key %q", got)
	}
}

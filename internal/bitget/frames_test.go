package bitget

import (
	"encoding/json"
	"testing"
	"time"

	"bitget-radar/configs"
)

var spotMapping = configs.MarketMapping{
	WSURL:    "wss://example.invalid/spot",
	InstType: "SP",
	Suffix:   "_SPBL",
}

func TestInstIDRoundTrip(t *testing.T) {
	if got := InstID("BTCUSDT", spotMapping); got != "BTCUSDT_SPBL" {
		t.Errorf("Unexpected instId %q", got)
	}
	if got := SymbolFromInstID("BTCUSDT_SPBL", spotMapping); got != "BTCUSDT" {
		t.Errorf("Unexpected symbol %q", got)
	}
}

func TestParseTrades(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name        string
		data        string
		wantTrades  int
		wantDropped int
	}{
		{
			name:       "string tuple",
			data:       `[["1700000000000","30000.0","0.1","buy"]]`,
			wantTrades: 1,
		},
		{
			name:       "numeric tuple",
			data:       `[[1700000000000,30000.0,0.1,"SELL"]]`,
			wantTrades: 1,
		},
		{
			name:       "multiple tuples",
			data:       `[["1700000000000","30000","0.1","buy"],["1700000000001","30001","0.2","sell"]]`,
			wantTrades: 2,
		},
		{
			name:        "short tuple dropped",
			data:        `[["1700000000000","30000.0"]]`,
			wantDropped: 1,
		},
		{
			name:        "non-positive price dropped",
			data:        `[["1700000000000","0","0.1","buy"]]`,
			wantDropped: 1,
		},
		{
			name:        "garbage payload",
			data:        `{"not":"an array"}`,
			wantDropped: 1,
		},
		{
			name:        "mixed good and bad",
			data:        `[["1700000000000","30000","0.1","buy"],["oops","30001","0.2","sell"]]`,
			wantTrades:  1,
			wantDropped: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trades, dropped := parseTrades(json.RawMessage(tt.data), "BTCUSDT", "spot", now)
			if len(trades) != tt.wantTrades {
				t.Errorf("Expected %d trades, got %d", tt.wantTrades, len(trades))
			}
			if dropped != tt.wantDropped {
				t.Errorf("Expected %d dropped, got %d", tt.wantDropped, dropped)
			}
		})
	}
}

func TestParseTradesNormalizesSide(t *testing.T) {
	trades, _ := parseTrades(json.RawMessage(`[["1700000000000","30000","0.1","BUY"]]`), "BTCUSDT", "spot", time.Now())
	if len(trades) != 1 {
		t.Fatalf("Expected 1 trade, got %d", len(trades))
	}
	if trades[0].Side != "buy" {
		t.Errorf("Expected lowercased side, got %q", trades[0].Side)
	}
	if trades[0].Timestamp != 1700000000000 {
		t.Errorf("Expected source timestamp honored, got %d", trades[0].Timestamp)
	}
}

func TestParseBooks(t *testing.T) {
	data := json.RawMessage(`[{"bids":[["30000","1.5"],["29999","2"]],"asks":[["30001","0.5"]],"ts":"1700000000000"}]`)

	books, err := parseBooks(data, "BTCUSDT", "spot", true)
	if err != nil {
		t.Fatalf("parseBooks failed: %v", err)
	}
	if len(books) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(books))
	}

	b := books[0]
	if len(b.Bids) != 2 || len(b.Asks) != 1 {
		t.Errorf("Unexpected depth: %d bids, %d asks", len(b.Bids), len(b.Asks))
	}
	if b.Bids[0].Price != 30000 || b.Bids[0].Size != 1.5 {
		t.Errorf("Unexpected top bid %+v", b.Bids[0])
	}
	if !b.Snapshot {
		t.Error("Expected snapshot flag from action")
	}
	if b.Timestamp != 1700000000000 {
		t.Errorf("Unexpected timestamp %d", b.Timestamp)
	}
}

func TestDecodeFrame(t *testing.T) {
	raw := []byte(`{"action":"update","arg":{"instType":"SP","channel":"trade","instId":"BTCUSDT_SPBL"},"data":[["1700000000000","30000","0.1","buy"]]}`)

	frame, err := decodeFrame(raw)
	if err != nil {
		t.Fatalf("decodeFrame failed: %v", err)
	}
	if frame.Action != "update" || frame.Arg.Channel != "trade" || frame.Arg.InstID != "BTCUSDT_SPBL" {
		t.Errorf("Unexpected frame %+v", frame)
	}
}

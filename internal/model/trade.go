// Package model defines the domain models shared across the application.
package model

import "time"

// Trade represents a single normalized trade received from the venue stream.
// Instances are passed by value through the pipeline and never mutated.
type Trade struct {
	// Symbol is the plain venue symbol without the market suffix (e.g. "BTCUSDT").
	Symbol string `json:"symbol"`

	// Market is the market category: "spot", "usdtm", "coinm" or "usdcm".
	Market string `json:"market"`

	// Price is the trade price in quote currency.
	Price float64 `json:"price"`

	// Size is the traded quantity of base currency.
	Size float64 `json:"size"`

	// Side is the trade direction: "buy" or "sell".
	Side string `json:"side"`

	// Timestamp is the venue (source) timestamp in milliseconds.
	Timestamp int64 `json:"timestamp"`

	// IngestedAt is when the frame carrying this trade was received.
	IngestedAt time.Time `json:"ingested_at"`
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookUpdate is a 50-level order book snapshot or delta for one symbol.
// Only the latest value per (symbol, market) is retained, with a short TTL.
type BookUpdate struct {
	Symbol    string      `json:"symbol"`
	Market    string      `json:"market"`
	Bids      []BookLevel `json:"bids"`
	Asks      []BookLevel `json:"asks"`
	Timestamp int64       `json:"timestamp"`
	Snapshot  bool        `json:"snapshot"`
}

// SymbolMeta describes one tradeable symbol as reported by the venue catalog.
// Treated as immutable for the lifetime of the current working set.
type SymbolMeta struct {
	// Symbol is the plain venue symbol (e.g. "BTCUSDT").
	Symbol string `json:"symbol"`

	// Market is the market category this listing belongs to.
	Market string `json:"market"`

	BaseCoin  string `json:"base_coin"`
	QuoteCoin string `json:"quote_coin"`

	// Status is the venue listing status ("online" for spot, "normal" for futures).
	Status string `json:"status"`

	MinSize        float64 `json:"min_size"`
	MaxSize        float64 `json:"max_size"`
	SizeIncrement  float64 `json:"size_increment"`
	PriceIncrement float64 `json:"price_increment"`

	// Volume24h is the 24h quote notional used for ranking.
	Volume24h float64 `json:"volume_24h"`
}

// SubscriptionGroup is a bounded, ordered set of symbols served by one
// upstream streaming session. Groups are destroyed and recreated atomically
// on reconfiguration, never mutated in place.
type SubscriptionGroup struct {
	// ID is a stable identifier of the form "{market}-{n}".
	ID string `json:"id"`

	// Market is the market category all symbols in the group belong to.
	Market string `json:"market"`

	// Symbols is the ordered symbol list, at most MaxSymbolsPerGroup long.
	Symbols []string `json:"symbols"`
}

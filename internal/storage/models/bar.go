package models

import "time"

// Bar is one aggregated candle row in the unified candles table, keyed by
// (symbol, market, resolution, ts).
type Bar struct {
	Symbol string `json:"symbol"`
	Market string `json:"market"`

	// Resolution is the bar width in seconds.
	Resolution int32 `json:"resolution"`

	// Ts is the bar open time.
	Ts time.Time `json:"ts"`

	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`

	// Volume is the base volume traded inside the bar.
	Volume float64 `json:"volume"`

	// QuoteVolume is the quote notional traded inside the bar.
	QuoteVolume float64 `json:"quote_volume"`

	// Trades is the number of trades aggregated into the bar.
	Trades uint64 `json:"trades"`

	// InsertedAt is when the row was inserted into the store.
	InsertedAt time.Time `json:"inserted_at"`
}

// Package models defines the analytical store row models.
package models

import "time"

// TradeRow is a single raw trade row in the ClickHouse trade table.
// Duplicate suppression is handled by the replacing engine keyed on
// (symbol, market, toStartOfMinute(event_time), trade_id).
type TradeRow struct {
	// TradeID is the dedup hash assigned at publication.
	TradeID string `json:"trade_id"`

	// Symbol is the plain venue symbol (e.g. "BTCUSDT").
	Symbol string `json:"symbol"`

	// Market is the market category.
	Market string `json:"market"`

	// Side is the trade direction: "buy" or "sell".
	Side string `json:"side"`

	// Price is the trade price in quote currency.
	Price float64 `json:"price"`

	// Size is the traded base quantity.
	Size float64 `json:"size"`

	// QuoteAmount is Price * Size.
	QuoteAmount float64 `json:"quote_amount"`

	// EventTime is when the trade occurred on the venue.
	EventTime time.Time `json:"event_time"`

	// InsertedAt is when the row was inserted into the store.
	InsertedAt time.Time `json:"inserted_at"`
}

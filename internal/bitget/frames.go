package bitget

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bitget-radar/internal/model"
)

// Streaming channel names.
const (
	channelTrade = "trade"
	channelBooks = "books50"
)

// subscribeArg identifies one channel subscription.
type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

// subscribeEnvelope is the batched subscribe message.
type subscribeEnvelope struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

// wsFrame is the superset of frames the venue sends.
type wsFrame struct {
	Event  string          `json:"event"`
	Msg    string          `json:"msg"`
	Action string          `json:"action"`
	Arg    subscribeArg    `json:"arg"`
	Data   json.RawMessage `json:"data"`
}

// bookData is one order book element on the books channel. Numeric values
// arrive quoted, so fields decode through the tolerant raw helpers.
type bookData struct {
	Bids     [][]json.RawMessage `json:"bids"`
	Asks     [][]json.RawMessage `json:"asks"`
	Ts       json.RawMessage     `json:"ts"`
	Snapshot bool                `json:"snapshot"`
}

// decodeFrame parses a raw venue frame.
func decodeFrame(raw []byte) (wsFrame, error) {
	var frame wsFrame
	err := json.Unmarshal(raw, &frame)
	return frame, err
}

// parseTrades decodes the trade tuples [ts_ms, price, size, side] of an
// update frame. Elements that do not decode are skipped and counted by the
// caller via the returned dropped count.
func parseTrades(data json.RawMessage, symbol, market string, receivedAt time.Time) (trades []model.Trade, dropped int) {
	var tuples [][]json.RawMessage
	if err := json.Unmarshal(data, &tuples); err != nil {
		return nil, 1
	}

	for _, tuple := range tuples {
		if len(tuple) < 4 {
			dropped++
			continue
		}
		ts, err1 := rawInt(tuple[0])
		price, err2 := rawFloat(tuple[1])
		size, err3 := rawFloat(tuple[2])
		side, err4 := rawString(tuple[3])
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil || price <= 0 || size <= 0 {
			dropped++
			continue
		}

		trades = append(trades, model.Trade{
			Symbol:     symbol,
			Market:     market,
			Price:      price,
			Size:       size,
			Side:       strings.ToLower(side),
			Timestamp:  ts,
			IngestedAt: receivedAt,
		})
	}
	return trades, dropped
}

// parseBooks decodes the book elements of a books-channel frame.
func parseBooks(data json.RawMessage, symbol, market string, snapshotAction bool) ([]model.BookUpdate, error) {
	var elements []bookData
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, fmt.Errorf("decode book data: %w", err)
	}

	updates := make([]model.BookUpdate, 0, len(elements))
	for _, el := range elements {
		ts, _ := rawInt(el.Ts)
		updates = append(updates, model.BookUpdate{
			Symbol:    symbol,
			Market:    market,
			Bids:      toLevels(el.Bids),
			Asks:      toLevels(el.Asks),
			Timestamp: ts,
			Snapshot:  el.Snapshot || snapshotAction,
		})
	}
	return updates, nil
}

func toLevels(raw [][]json.RawMessage) []model.BookLevel {
	levels := make([]model.BookLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err1 := rawFloat(pair[0])
		size, err2 := rawFloat(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, model.BookLevel{Price: price, Size: size})
	}
	return levels
}

// rawInt accepts both numeric and quoted-numeric JSON values.
func rawInt(raw json.RawMessage) (int64, error) {
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseInt(s, 10, 64)
}

func rawFloat(raw json.RawMessage) (float64, error) {
	s := strings.Trim(string(raw), `"`)
	return strconv.ParseFloat(s, 64)
}

func rawString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", err
	}
	return s, nil
}

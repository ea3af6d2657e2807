package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"bitget-radar/internal/model"
)

// compress gzips a payload for storage.
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decompress reverses compress.
func decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// EncodeTrade serializes a trade to its compressed stream payload.
func EncodeTrade(t model.Trade) ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal trade: %w", err)
	}
	return compress(raw)
}

// DecodeTrade mirrors EncodeTrade. Stream readers use it.
func DecodeTrade(payload []byte) (model.Trade, error) {
	raw, err := decompress(payload)
	if err != nil {
		return model.Trade{}, fmt.Errorf("decompress trade: %w", err)
	}
	var t model.Trade
	if err := json.Unmarshal(raw, &t); err != nil {
		return model.Trade{}, fmt.Errorf("unmarshal trade: %w", err)
	}
	return t, nil
}

// EncodeBook serializes an order book update to its compressed payload.
func EncodeBook(b model.BookUpdate) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal book: %w", err)
	}
	return compress(raw)
}

// DecodeBook mirrors EncodeBook.
func DecodeBook(payload []byte) (model.BookUpdate, error) {
	raw, err := decompress(payload)
	if err != nil {
		return model.BookUpdate{}, fmt.Errorf("decompress book: %w", err)
	}
	var b model.BookUpdate
	if err := json.Unmarshal(raw, &b); err != nil {
		return model.BookUpdate{}, fmt.Errorf("unmarshal book: %w", err)
	}
	return b, nil
}

// Package storage provides the ClickHouse persistence layer for trade and
// bar data.
package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"bitget-radar/internal/storage/models"
)

// Storage defines the interface for persisting trades and bars.
// Implementations must be safe for concurrent use.
type Storage interface {
	// CreateTrades inserts a batch of raw trade rows.
	CreateTrades(ctx context.Context, trades []*models.TradeRow) error

	// CreateBars inserts a batch of aggregated bars.
	CreateBars(ctx context.Context, bars []*models.Bar) error

	// Ping verifies connectivity. Used as the health probe.
	Ping(ctx context.Context) error

	// Close releases database connection resources.
	Close() error
}

// clickhouseStorage implements Storage using the native ClickHouse driver.
// Uses batch inserts for high-throughput data ingestion.
type clickhouseStorage struct {
	conn driver.Conn
}

// NewClickHouseStorage creates a new ClickHouse storage connection.
// It parses the DSN, opens a connection, and verifies connectivity with a
// ping. Returns an error if connection cannot be established within 5
// seconds.
func NewClickHouseStorage(dsn string) (Storage, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &clickhouseStorage{conn: conn}, nil
}

// CreateTrades inserts trades using ClickHouse batch insert.
// All rows in the batch share the same inserted_at timestamp.
func (s *clickhouseStorage) CreateTrades(ctx context.Context, trades []*models.TradeRow) error {
	if len(trades) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO trade (
			trade_id, symbol, market, side,
			price, size, quote_amount,
			event_time, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range trades {
		err := batch.Append(
			t.TradeID,
			t.Symbol,
			t.Market,
			t.Side,
			t.Price,
			t.Size,
			t.QuoteAmount,
			t.EventTime,
			now,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// CreateBars inserts bar rows using ClickHouse batch insert.
func (s *clickhouseStorage) CreateBars(ctx context.Context, bars []*models.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles_unified (
			symbol, market, resolution, ts,
			open, high, low, close,
			volume, quote_volume, trades, inserted_at
		)
	`)
	if err != nil {
		return err
	}

	now := time.Now()
	for _, b := range bars {
		err := batch.Append(
			b.Symbol,
			b.Market,
			b.Resolution,
			b.Ts,
			b.Open,
			b.High,
			b.Low,
			b.Close,
			b.Volume,
			b.QuoteVolume,
			b.Trades,
			now,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

// Ping checks the ClickHouse connection.
func (s *clickhouseStorage) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// Close closes the ClickHouse connection.
func (s *clickhouseStorage) Close() error {
	return s.conn.Close()
}

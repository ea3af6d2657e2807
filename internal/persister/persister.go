// Package persister moves published trades from the cache streams into the
// analytical store. It handles batching, bar aggregation, retry logic, and
// graceful shutdown.
package persister

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"bitget-radar/internal/cache"
	"bitget-radar/internal/model"
	"bitget-radar/internal/storage"
	"bitget-radar/internal/storage/models"
)

// Config holds persister configuration parameters.
type Config struct {
	// BatchSize is the maximum number of trades to accumulate before
	// flushing to the store.
	BatchSize int

	// BatchTimeout is the maximum time to wait before flushing, even if
	// the batch isn't full.
	BatchTimeout time.Duration

	// BarResolution is the aggregation bar width.
	BarResolution time.Duration
}

// SymbolSource exposes the current working set. The persister follows it
// to decide which streams to read.
type SymbolSource interface {
	All() []model.SymbolMeta
}

// Persister reads the per-symbol trade streams and writes raw trades plus
// aggregated bars to ClickHouse in batches.
//
// The loop:
//  1. Reads new entries from every working-set stream
//  2. Decodes the compressed payloads into trades
//  3. Accumulates rows until the batch is full or the timeout fires
//  4. Inserts the batch (with retry on failure) and completed bars
type Persister struct {
	rdb     *redis.Client
	storage storage.Storage
	symbols SymbolSource
	logger  *slog.Logger
	cfg     Config

	cursors map[string]string
	bars    map[barKey]*models.Bar

	done chan struct{}
}

type barKey struct {
	symbol string
	market string
	open   int64
}

// New creates a Persister with the provided dependencies.
func New(rdb *redis.Client, store storage.Storage, symbols SymbolSource, logger *slog.Logger, cfg Config) *Persister {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 5 * time.Second
	}
	if cfg.BarResolution <= 0 {
		cfg.BarResolution = time.Minute
	}
	return &Persister{
		rdb:     rdb,
		storage: store,
		symbols: symbols,
		logger:  logger,
		cfg:     cfg,
		cursors: make(map[string]string),
		bars:    make(map[barKey]*models.Bar),
		done:    make(chan struct{}),
	}
}

// Start runs the main persistence loop. It blocks until ctx is cancelled.
// On shutdown it attempts to flush any remaining buffered rows and bars.
func (p *Persister) Start(ctx context.Context) error {
	defer close(p.done)
	p.logger.Info("starting persister loop", "batch_size", p.cfg.BatchSize)

	batch := make([]*models.TradeRow, 0, p.cfg.BatchSize)

	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	// flush writes accumulated rows and completed bars to the store.
	// It never drops data: inserts are retried until accepted or shutdown.
	flush := func() error {
		rows := batch
		batch = batch[:0]
		if err := p.insertWithRetry(ctx, rows); err != nil {
			return err
		}
		return p.flushBars(ctx, false)
	}

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return p.finalFlush(flushCtx, batch)

		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}

		default:
			rows := p.readStreams(ctx)
			if len(rows) == 0 {
				continue
			}
			batch = append(batch, rows...)

			if len(batch) >= p.cfg.BatchSize {
				if err := flush(); err != nil {
					return err
				}
				ticker.Reset(p.cfg.BatchTimeout)
			}
		}
	}
}

// Done is closed once the loop has exited.
func (p *Persister) Done() <-chan struct{} { return p.done }

// readStreams performs one blocking read across the working-set streams
// and converts new entries to rows, advancing the per-stream cursors.
func (p *Persister) readStreams(ctx context.Context) []*models.TradeRow {
	streams := p.streamArgs()
	if len(streams) == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	}

	res, err := p.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: streams,
		Count:   500,
		Block:   p.cfg.BatchTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		p.logger.Error("stream read failed", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
		}
		return nil
	}

	var rows []*models.TradeRow
	for _, stream := range res {
		for _, msg := range stream.Messages {
			p.cursors[stream.Stream] = msg.ID

			payload, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			trade, err := cache.DecodeTrade([]byte(payload))
			if err != nil {
				p.logger.Warn("undecodable stream entry", "stream", stream.Stream, "id", msg.ID)
				continue
			}

			rows = append(rows, p.toRow(trade))
			p.aggregate(trade)
		}
	}
	return rows
}

// streamArgs builds the XRead stream/id argument list from the working set,
// registering new streams at their tail.
func (p *Persister) streamArgs() []string {
	metas := p.symbols.All()
	keys := make([]string, 0, len(metas))
	for _, meta := range metas {
		key := cache.TradeStreamKey(meta.Symbol, meta.Market)
		if _, ok := p.cursors[key]; !ok {
			p.cursors[key] = "$"
		}
		keys = append(keys, key)
	}

	args := make([]string, 0, 2*len(keys))
	args = append(args, keys...)
	for _, key := range keys {
		args = append(args, p.cursors[key])
	}
	return args
}

func (p *Persister) toRow(t model.Trade) *models.TradeRow {
	return &models.TradeRow{
		TradeID:     cache.TradeHash(t),
		Symbol:      t.Symbol,
		Market:      t.Market,
		Side:        t.Side,
		Price:       t.Price,
		Size:        t.Size,
		QuoteAmount: t.Price * t.Size,
		EventTime:   time.UnixMilli(t.Timestamp).UTC(),
		InsertedAt:  time.Now(),
	}
}

// aggregate folds a trade into its open bar.
func (p *Persister) aggregate(t model.Trade) {
	open := time.UnixMilli(t.Timestamp).UTC().Truncate(p.cfg.BarResolution)
	key := barKey{symbol: t.Symbol, market: t.Market, open: open.Unix()}

	bar, ok := p.bars[key]
	if !ok {
		p.bars[key] = &models.Bar{
			Symbol:      t.Symbol,
			Market:      t.Market,
			Resolution:  int32(p.cfg.BarResolution / time.Second),
			Ts:          open,
			Open:        t.Price,
			High:        t.Price,
			Low:         t.Price,
			Close:       t.Price,
			Volume:      t.Size,
			QuoteVolume: t.Price * t.Size,
			Trades:      1,
		}
		return
	}

	if t.Price > bar.High {
		bar.High = t.Price
	}
	if t.Price < bar.Low {
		bar.Low = t.Price
	}
	bar.Close = t.Price
	bar.Volume += t.Size
	bar.QuoteVolume += t.Price * t.Size
	bar.Trades++
}

// flushBars writes bars whose window has closed. With final set, every
// open bar is flushed regardless.
func (p *Persister) flushBars(ctx context.Context, final bool) error {
	cutoff := time.Now().UTC().Truncate(p.cfg.BarResolution)

	var completed []*models.Bar
	for key, bar := range p.bars {
		if final || bar.Ts.Before(cutoff) {
			completed = append(completed, bar)
			delete(p.bars, key)
		}
	}
	if len(completed) == 0 {
		return nil
	}

	if err := p.storage.CreateBars(ctx, completed); err != nil {
		p.logger.Error("bar insert failed", "error", err, "bars", len(completed))
		return nil // bars are derivable; raw rows are the source of truth
	}
	return nil
}

// insertWithRetry keeps retrying the batch insert until the store accepts
// it or the context ends. Data is never dropped.
func (p *Persister) insertWithRetry(ctx context.Context, rows []*models.TradeRow) error {
	if len(rows) == 0 {
		return nil
	}

	for {
		err := p.storage.CreateTrades(ctx, rows)
		if err == nil {
			return nil
		}
		p.logger.Error("store insert failed (retrying in 2s)", "error", err, "rows", len(rows))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// finalFlush drains buffered rows and bars during shutdown with a bounded
// context.
func (p *Persister) finalFlush(ctx context.Context, batch []*models.TradeRow) error {
	if err := p.insertWithRetry(ctx, batch); err != nil {
		p.logger.Warn("final trade flush incomplete", "error", err)
	}
	if err := p.flushBars(ctx, true); err != nil {
		p.logger.Warn("final bar flush incomplete", "error", err)
	}
	p.logger.Info("persister stopped")
	return nil
}

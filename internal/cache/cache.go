// Package cache implements the Redis-backed stream sink for trades and
// order books.
//
// Key schema:
//
//	trades:{symbol}:{market}    - append-only stream, entry id {ts_ms}-0,
//	                              capped at StreamMaxLen (approximate)
//	orderbook:{symbol}:{market} - latest book snapshot, short TTL
//	trade_dedup:{hash}          - presence marker with the dedup window TTL
//
// Payloads are gzip-compressed canonical JSON; readers mirror the codec.
package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"bitget-radar/configs"
	"bitget-radar/internal/model"
)

// localDedupeMax bounds the in-process dedup map before stale entries are
// pruned eagerly.
const localDedupeMax = 100000

// TradeCache is the stream sink. Safe for concurrent callers sharing one
// connection pool.
type TradeCache struct {
	rdb    *redis.Client
	logger *logrus.Logger

	streamMaxLen int64
	orderbookTTL time.Duration
	dedupWindow  time.Duration

	mu     sync.Mutex
	dedupe map[string]time.Time
}

// New connects to Redis, verifies connectivity and returns the sink.
// TLS is enabled automatically when the peer is not loopback.
func New(cfg configs.RedisConfig, tlsCfg configs.TLSConfig, dedupWindow time.Duration, logger *logrus.Logger) (*TradeCache, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	if !isLoopback(cfg.Host) {
		tc, err := buildTLSConfig(tlsCfg)
		if err != nil {
			return nil, fmt.Errorf("redis tls config: %w", err)
		}
		opts.TLSConfig = tc
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Infof("redis connection pool initialized (%s, pool=%d)", cfg.Addr(), cfg.PoolSize)

	return &TradeCache{
		rdb:          rdb,
		logger:       logger,
		streamMaxLen: cfg.StreamMaxLen,
		orderbookTTL: time.Duration(cfg.OrderbookTTLSeconds) * time.Second,
		dedupWindow:  dedupWindow,
		dedupe:       make(map[string]time.Time),
	}, nil
}

// TradeStreamKey returns the stream key for a (symbol, market) pair.
func TradeStreamKey(symbol, market string) string {
	return fmt.Sprintf("trades:%s:%s", symbol, market)
}

// OrderbookKey returns the snapshot key for a (symbol, market) pair.
func OrderbookKey(symbol, market string) string {
	return fmt.Sprintf("orderbook:%s:%s", symbol, market)
}

// TradeHash computes the dedup key over the identifying trade attributes.
func TradeHash(t model.Trade) string {
	data := fmt.Sprintf("%s:%s:%d:%v:%v", t.Symbol, t.Market, t.Timestamp, t.Price, t.Size)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// PublishTrade appends the trade to its per-symbol stream unless an
// identical trade was already published inside the dedup window. It returns
// true on first publication, false on a dedup hit. Safe to retry: a replay
// of the same trade can never create a second stream entry.
func (c *TradeCache) PublishTrade(ctx context.Context, t model.Trade) (bool, error) {
	hash := TradeHash(t)

	if c.seenLocally(hash) {
		return false, nil
	}

	// SETNX doubles as check and claim; losing the race means another
	// writer already published this trade.
	claimed, err := c.rdb.SetNX(ctx, "trade_dedup:"+hash, "1", c.dedupWindow).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	if !claimed {
		c.markSeen(hash)
		return false, nil
	}

	payload, err := EncodeTrade(t)
	if err != nil {
		return false, err
	}

	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: TradeStreamKey(t.Symbol, t.Market),
		ID:     fmt.Sprintf("%d-0", t.Timestamp),
		MaxLen: c.streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": payload},
	}).Err()
	if err != nil {
		// An entry with this id already exists: an earlier publish made it
		// through, so this is a replay, not a failure.
		if strings.Contains(err.Error(), "equal or smaller than") {
			c.markSeen(hash)
			return false, nil
		}
		return false, fmt.Errorf("xadd %s: %w", TradeStreamKey(t.Symbol, t.Market), err)
	}

	c.markSeen(hash)
	return true, nil
}

// PutBook stores the latest order book snapshot with the configured TTL.
// Latest wins.
func (c *TradeCache) PutBook(ctx context.Context, b model.BookUpdate) error {
	payload, err := EncodeBook(b)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, OrderbookKey(b.Symbol, b.Market), payload, c.orderbookTTL).Err(); err != nil {
		return fmt.Errorf("put book %s:%s: %w", b.Symbol, b.Market, err)
	}
	return nil
}

// Ping is the liveness probe used by the health supervisor.
func (c *TradeCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection pool.
func (c *TradeCache) Close() error {
	return c.rdb.Close()
}

// Client exposes the underlying client for stream readers.
func (c *TradeCache) Client() *redis.Client {
	return c.rdb
}

// seenLocally consults the in-process dedup map, dropping expired stamps.
func (c *TradeCache) seenLocally(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	stamp, ok := c.dedupe[hash]
	if !ok {
		return false
	}
	if time.Since(stamp) > c.dedupWindow {
		delete(c.dedupe, hash)
		return false
	}
	return true
}

// markSeen records a hash with the current monotonic stamp, pruning expired
// entries once the map grows past localDedupeMax.
func (c *TradeCache) markSeen(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dedupe) >= localDedupeMax {
		cutoff := time.Now().Add(-c.dedupWindow)
		for h, stamp := range c.dedupe {
			if stamp.Before(cutoff) {
				delete(c.dedupe, h)
			}
		}
	}
	c.dedupe[hash] = time.Now()
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1", "":
		return true
	}
	return false
}

// buildTLSConfig assembles the client TLS configuration from SSL_* material.
func buildTLSConfig(cfg configs.TLSConfig) (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !cfg.Verify,
	}

	if cfg.CACerts != "" {
		pem, err := os.ReadFile(cfg.CACerts)
		if err != nil {
			return nil, fmt.Errorf("read ca certs: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no usable certificates in %s", cfg.CACerts)
		}
		tc.RootCAs = pool
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client keypair: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

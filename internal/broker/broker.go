// Package broker fans inbound market messages out to dashboard sessions
// with per-symbol debouncing and batched delivery.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultDebounce is the window within which a broadcast does not
	// advance the symbol's last-accepted stamp. Bursts coalesce through the
	// single pending slot, last write wins.
	DefaultDebounce = 25 * time.Millisecond

	// DefaultBatchInterval is the flusher wake-up period.
	DefaultBatchInterval = 50 * time.Millisecond

	// errorPause is the minimum flusher sleep after an internal error.
	errorPause = 100 * time.Millisecond
)

// symbolChannel tracks the subscribers and pending message of one symbol.
// An entry exists iff its session set is non-empty.
type symbolChannel struct {
	sessions     map[*ClientSession]bool
	pending      interface{}
	hasPending   bool
	lastAccepted time.Time
}

// Metrics is a snapshot of broker counters.
type Metrics struct {
	MessagesSent     int64 `json:"messages_sent"`
	MessagesQueued   int64 `json:"messages_queued"`
	ConnectionsTotal int64 `json:"connections_total"`
	ErrorsCount      int64 `json:"errors_count"`
	ActiveSymbols    int   `json:"active_symbols"`
	TotalConnections int   `json:"total_connections"`
}

// Broker multiplexes one inbound message stream to many subscribers per
// symbol. Safe for many producers and consumers.
type Broker struct {
	logger        *logrus.Logger
	debounce      time.Duration
	batchInterval time.Duration

	mu       sync.Mutex
	channels map[string]*symbolChannel

	messagesSent     int64
	messagesQueued   int64
	connectionsTotal int64
	errorsCount      int64

	stop chan struct{}
	done chan struct{}
}

// New creates a broker with the default debounce and batch interval.
func New(logger *logrus.Logger) *Broker {
	return NewWithIntervals(DefaultDebounce, DefaultBatchInterval, logger)
}

// NewWithIntervals creates a broker with explicit timing, used by tests.
func NewWithIntervals(debounce, batchInterval time.Duration, logger *logrus.Logger) *Broker {
	return &Broker{
		logger:        logger,
		debounce:      debounce,
		batchInterval: batchInterval,
		channels:      make(map[string]*symbolChannel),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the background flusher.
func (b *Broker) Start(ctx context.Context) {
	go b.flushLoop(ctx)
	b.logger.Info("fan-out broker started")
}

// Stop cancels the flusher and waits for it to exit.
func (b *Broker) Stop() {
	close(b.stop)
	<-b.done
	b.logger.Info("fan-out broker stopped")
}

// Connect attaches a session to its symbol channel and sends the hello
// frame.
func (b *Broker) Connect(cs *ClientSession, symbol string) {
	b.mu.Lock()
	ch, ok := b.channels[symbol]
	if !ok {
		ch = &symbolChannel{sessions: make(map[*ClientSession]bool)}
		b.channels[symbol] = ch
	}
	ch.sessions[cs] = true
	b.connectionsTotal++
	b.mu.Unlock()

	hello, _ := json.Marshal(map[string]interface{}{
		"type":           "connection",
		"status":         "connected",
		"symbol":         symbol,
		"server_time_ms": time.Now().UnixMilli(),
	})
	if err := cs.Send(hello); err != nil {
		b.Disconnect(cs, symbol)
		return
	}

	b.logger.Infof("client connected to %s", symbol)
}

// Disconnect removes a session, deleting the symbol channel when it empties.
func (b *Broker) Disconnect(cs *ClientSession, symbol string) {
	b.mu.Lock()
	if ch, ok := b.channels[symbol]; ok {
		delete(ch.sessions, cs)
		if len(ch.sessions) == 0 {
			delete(b.channels, symbol)
		}
	}
	b.mu.Unlock()

	cs.Close()
	b.logger.Infof("client disconnected from %s", symbol)
}

// Broadcast enqueues a message with the default debounce.
func (b *Broker) Broadcast(symbol string, message interface{}) {
	b.BroadcastDebounced(symbol, message, b.debounce)
}

// BroadcastDebounced enqueues a message for a symbol. Every message
// overwrites the symbol's single pending slot, last write wins, so the
// flusher delivers at most one message per symbol per batch tick. The
// debounce only decides whether the last-accepted stamp advances; a zero
// debounce advances it on every call and does not stop coalescing.
// Messages for symbols without subscribers are discarded.
func (b *Broker) BroadcastDebounced(symbol string, message interface{}, debounce time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.channels[symbol]
	if !ok {
		return
	}

	now := time.Now()
	if debounce <= 0 || now.Sub(ch.lastAccepted) >= debounce {
		ch.lastAccepted = now
	}
	ch.pending = message
	ch.hasPending = true
	b.messagesQueued++
}

// Metrics returns a snapshot of broker counters.
func (b *Broker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := 0
	for _, ch := range b.channels {
		total += len(ch.sessions)
	}
	return Metrics{
		MessagesSent:     b.messagesSent,
		MessagesQueued:   b.messagesQueued,
		ConnectionsTotal: b.connectionsTotal,
		ErrorsCount:      b.errorsCount,
		ActiveSymbols:    len(b.channels),
		TotalConnections: total,
	}
}

// flushLoop wakes every batch interval and delivers, per symbol, only the
// latest pending message to all attached sessions. The loop never aborts:
// internal failures are counted and followed by a short pause.
func (b *Broker) flushLoop(ctx context.Context) {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.flushOnce(); err != nil {
				b.mu.Lock()
				b.errorsCount++
				b.mu.Unlock()
				b.logger.Errorf("flush error: %v", err)
				time.Sleep(errorPause)
			}
		}
	}
}

// flushOnce drains every pending slot. Send failures reap the session.
func (b *Broker) flushOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &flushPanic{value: r}
		}
	}()

	type delivery struct {
		symbol   string
		payload  []byte
		sessions []*ClientSession
	}

	b.mu.Lock()
	deliveries := make([]delivery, 0, len(b.channels))
	for symbol, ch := range b.channels {
		if !ch.hasPending {
			continue
		}
		payload, marshalErr := json.Marshal(ch.pending)
		ch.pending = nil
		ch.hasPending = false
		if marshalErr != nil {
			b.errorsCount++
			continue
		}

		sessions := make([]*ClientSession, 0, len(ch.sessions))
		for cs := range ch.sessions {
			sessions = append(sessions, cs)
		}
		deliveries = append(deliveries, delivery{symbol: symbol, payload: payload, sessions: sessions})
	}
	b.mu.Unlock()

	for _, d := range deliveries {
		for _, cs := range d.sessions {
			if sendErr := cs.Send(d.payload); sendErr != nil {
				b.mu.Lock()
				b.errorsCount++
				b.mu.Unlock()
				b.Disconnect(cs, d.symbol)
				continue
			}
			b.mu.Lock()
			b.messagesSent++
			b.mu.Unlock()
		}
	}
	return nil
}

type flushPanic struct {
	value interface{}
}

func (p *flushPanic) Error() string {
	return fmt.Sprintf("panic during flush: %v", p.value)
}

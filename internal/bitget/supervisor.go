package bitget

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"bitget-radar/configs"
	"bitget-radar/internal/model"
	"bitget-radar/internal/ratelimit"
)

// drainBudget bounds how long StopAll waits for sessions to drain before
// giving up on them.
const drainBudget = 10 * time.Second

// SessionSupervisor owns the set of live upstream sessions, one per
// subscription group. Reconfiguration destroys and recreates the whole set
// atomically: groups are never mutated in place.
type SessionSupervisor struct {
	trades   TradeSink
	books    BookSink
	broker   Broadcaster
	registry *ratelimit.Registry
	latch    FailoverLatch
	mappings map[string]configs.MarketMapping
	logger   *logrus.Logger

	// urlOverrides replaces the per-market stream URL; used by tests.
	urlOverrides map[string]string

	mu       sync.Mutex
	parent   context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	sessions []*Session
}

// NewSessionSupervisor creates a stopped supervisor.
func NewSessionSupervisor(trades TradeSink, books BookSink, broker Broadcaster, registry *ratelimit.Registry, latch FailoverLatch, mappings map[string]configs.MarketMapping, logger *logrus.Logger) *SessionSupervisor {
	return &SessionSupervisor{
		trades:   trades,
		books:    books,
		broker:   broker,
		registry: registry,
		latch:    latch,
		mappings: mappings,
		logger:   logger,
	}
}

// Start binds the supervisor to its parent context. Sessions created by
// later Reconfigure calls stop when this context is cancelled.
func (sv *SessionSupervisor) Start(ctx context.Context) {
	sv.mu.Lock()
	sv.parent = ctx
	sv.mu.Unlock()
}

// SetURLOverride redirects one market's stream URL. Test hook.
func (sv *SessionSupervisor) SetURLOverride(market, url string) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	if sv.urlOverrides == nil {
		sv.urlOverrides = make(map[string]string)
	}
	sv.urlOverrides[market] = url
}

// Reconfigure replaces the running session set with one session per group.
// The old set is stopped and drained first.
func (sv *SessionSupervisor) Reconfigure(groups []model.SubscriptionGroup, subscribeBooks bool) {
	sv.StopAll()

	sv.mu.Lock()
	defer sv.mu.Unlock()

	parent := sv.parent
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	sv.cancel = cancel

	wg := &sync.WaitGroup{}
	sv.wg = wg
	sv.sessions = sv.sessions[:0]

	for _, group := range groups {
		mapping, ok := sv.mappings[group.Market]
		if !ok {
			sv.logger.Errorf("no market mapping for group %s, skipping", group.ID)
			continue
		}

		cfg := SessionConfig{
			Group:          group,
			Mapping:        mapping,
			SubscribeBooks: subscribeBooks,
			URL:            sv.urlOverrides[group.Market],
		}
		gate := sv.registry.Get("ws-" + group.ID)
		session := NewSession(cfg, sv.trades, sv.books, sv.broker, gate, sv.latch, sv.logger)
		sv.sessions = append(sv.sessions, session)

		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Run(ctx)
		}(session)
	}

	sv.logger.Infof("session supervisor running %d sessions (books=%v)", len(sv.sessions), subscribeBooks)
}

// StopAll cancels every session and waits up to the drain budget.
func (sv *SessionSupervisor) StopAll() {
	sv.mu.Lock()
	cancel := sv.cancel
	wg := sv.wg
	sv.cancel = nil
	sv.wg = nil
	sv.sessions = sv.sessions[:0]
	sv.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	if wg == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainBudget):
		sv.logger.Warn("session drain budget exceeded, abandoning remaining sessions")
	}
}

// Stats returns per-session counters.
func (sv *SessionSupervisor) Stats() []map[string]interface{} {
	sv.mu.Lock()
	defer sv.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(sv.sessions))
	for _, s := range sv.sessions {
		out = append(out, s.Stats())
	}
	return out
}

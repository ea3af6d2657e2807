package bitget

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bitget-radar/configs"
	"bitget-radar/internal/model"
)

// Session state machine values.
type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateSubscribing
	StateStreaming
	StateDraining
	StateReconnecting
	StateTerminated
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateDraining:
		return "draining"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session timing discipline.
const (
	handshakeTimeout  = 10 * time.Second
	readIdleTimeout   = 60 * time.Second
	writeTimeout      = 10 * time.Second
	pingInterval      = 20 * time.Second
	pongTimeout       = 10 * time.Second
	maxReconnectDelay = 60 * time.Second
	latchPollInterval = 5 * time.Second
)

// TradeSink receives parsed trades. Implemented by the cache.
type TradeSink interface {
	PublishTrade(ctx context.Context, t model.Trade) (bool, error)
}

// BookSink receives parsed order book updates. Implemented by the cache.
type BookSink interface {
	PutBook(ctx context.Context, b model.BookUpdate) error
}

// Broadcaster fans published trades out to dashboard clients.
type Broadcaster interface {
	Broadcast(symbol string, message interface{})
}

// FailoverLatch suspends new upstream work while active.
type FailoverLatch interface {
	Active() bool
}

// RequestGate admits outbound control messages. Implemented by the
// session's named rate limiter.
type RequestGate interface {
	Acquire(ctx context.Context) error
	ReportSuccess()
	ReportError(kind, message string)
}

// SessionConfig describes one upstream streaming session.
type SessionConfig struct {
	Group   model.SubscriptionGroup
	Mapping configs.MarketMapping

	// SubscribeBooks adds a 50-level book channel per symbol (privileged tier).
	SubscribeBooks bool

	// URL overrides Mapping.WSURL; used by tests.
	URL string
}

// Session is one long-lived streaming connection serving one
// SubscriptionGroup. It owns the reconnect discipline: exponential backoff
// capped at 60 s, reset once the session reaches Streaming.
type Session struct {
	cfg     SessionConfig
	trades  TradeSink
	books   BookSink
	broker  Broadcaster
	gate    RequestGate
	latch   FailoverLatch
	logger  *logrus.Logger
	symbols map[string]bool

	// latchPoll is how often an idle session re-checks the latch.
	latchPoll time.Duration

	state        atomic.Int32
	reconnects   atomic.Int64
	decodeErrors atomic.Int64
	frameErrors  atomic.Int64
}

// NewSession creates a session for one subscription group.
func NewSession(cfg SessionConfig, trades TradeSink, books BookSink, broker Broadcaster, gate RequestGate, latch FailoverLatch, logger *logrus.Logger) *Session {
	if cfg.URL == "" {
		cfg.URL = cfg.Mapping.WSURL
	}
	symbols := make(map[string]bool, len(cfg.Group.Symbols))
	for _, s := range cfg.Group.Symbols {
		symbols[s] = true
	}
	return &Session{
		cfg:       cfg,
		trades:    trades,
		books:     books,
		broker:    broker,
		gate:      gate,
		latch:     latch,
		logger:    logger,
		symbols:   symbols,
		latchPoll: latchPollInterval,
	}
}

// State returns the current state machine position.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	old := SessionState(s.state.Swap(int32(state)))
	if old != state {
		s.logger.Debugf("[%s] session %s -> %s", s.cfg.Group.ID, old, state)
	}
}

// Run drives the session until ctx is cancelled. It blocks.
func (s *Session) Run(ctx context.Context) {
	defer s.setState(StateTerminated)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// The failover latch gates entry into Connecting: while critical
		// dependencies are unhealthy no new upstream work is started.
		if s.latch != nil && s.latch.Active() {
			s.setState(StateIdle)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.latchPoll):
			}
			continue
		}

		s.setState(StateConnecting)
		err := s.connectAndStream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Clean drain (latch raised mid-stream); retry immediately.
			attempt = 0
			continue
		}

		if s.State() == StateStreaming {
			// The lost connection had reached Streaming: restart the backoff.
			attempt = 0
		}
		attempt++
		s.reconnects.Add(1)
		delay := backoffDelay(attempt)
		s.setState(StateReconnecting)
		s.logger.Warnf("[%s] connection lost (%v), reconnecting in %v", s.cfg.Group.ID, err, delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connectAndStream runs one connection lifecycle: dial, subscribe, stream.
// A nil return means a deliberate drain; any error triggers reconnect.
func (s *Session) connectAndStream(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}
	defer conn.Close()

	s.setState(StateSubscribing)
	if err := s.subscribe(ctx, conn); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	s.setState(StateStreaming)
	s.logger.Infof("[%s] streaming %d symbols from %s", s.cfg.Group.ID, len(s.cfg.Group.Symbols), s.cfg.URL)

	return s.readLoop(ctx, conn)
}

// subscribe sends the single batched subscribe envelope for the group.
func (s *Session) subscribe(ctx context.Context, conn *websocket.Conn) error {
	args := make([]subscribeArg, 0, 2*len(s.cfg.Group.Symbols))
	for _, symbol := range s.cfg.Group.Symbols {
		args = append(args, subscribeArg{
			InstType: s.cfg.Mapping.InstType,
			Channel:  channelTrade,
			InstID:   InstID(symbol, s.cfg.Mapping),
		})
		if s.cfg.SubscribeBooks {
			args = append(args, subscribeArg{
				InstType: s.cfg.Mapping.InstType,
				Channel:  channelBooks,
				InstID:   InstID(symbol, s.cfg.Mapping),
			})
		}
	}

	if err := s.gate.Acquire(ctx); err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(subscribeEnvelope{Op: "subscribe", Args: args}); err != nil {
		s.gate.ReportError("ws", err.Error())
		return err
	}
	s.gate.ReportSuccess()
	return nil
}

// readLoop consumes frames and keeps the application-level heartbeat.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	messages := make(chan []byte, 128)
	readErr := make(chan error, 1)

	go func() {
		defer close(messages)
		for {
			conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				select {
				case readErr <- err:
				default:
				}
				return
			}
			select {
			case messages <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	latchTicker := time.NewTicker(s.latchPoll)
	defer latchTicker.Stop()

	var pingSentAt time.Time
	awaitingPong := false
	subscribed := false

	for {
		select {
		case <-ctx.Done():
			s.setState(StateDraining)
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil

		case err := <-readErr:
			return fmt.Errorf("read: %w", err)

		case <-latchTicker.C:
			if s.latch != nil && s.latch.Active() {
				// Drain: the supervisor raised the latch mid-stream.
				s.setState(StateDraining)
				return nil
			}

		case <-pingTicker.C:
			if awaitingPong && time.Since(pingSentAt) > pongTimeout {
				return fmt.Errorf("pong timeout after %v", time.Since(pingSentAt))
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			pingSentAt = time.Now()
			awaitingPong = true

		case msg, ok := <-messages:
			if !ok {
				return fmt.Errorf("read channel closed")
			}
			if string(msg) == "pong" {
				awaitingPong = false
				continue
			}
			if string(msg) == "ping" {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.WriteMessage(websocket.TextMessage, []byte("pong"))
				continue
			}
			s.handleFrame(ctx, msg, &subscribed)
		}
	}
}

// handleFrame classifies one data frame. Decoding problems drop the frame
// and increment a counter; they never tear the session down.
func (s *Session) handleFrame(ctx context.Context, raw []byte, subscribed *bool) {
	frame, err := decodeFrame(raw)
	if err != nil {
		s.decodeErrors.Add(1)
		s.logger.Debugf("[%s] undecodable frame: %v", s.cfg.Group.ID, err)
		return
	}

	switch {
	case frame.Event == "subscribe":
		if !*subscribed {
			*subscribed = true
			s.logger.Infof("[%s] subscription confirmed", s.cfg.Group.ID)
		}

	case frame.Event == "error":
		s.frameErrors.Add(1)
		s.gate.ReportError("ws", frame.Msg)
		s.logger.Errorf("[%s] upstream error frame: %s", s.cfg.Group.ID, frame.Msg)

	case frame.Action == "update" || frame.Action == "snapshot":
		s.handleUpdate(ctx, frame)
	}
}

// handleUpdate routes a data frame to the trade or book path.
func (s *Session) handleUpdate(ctx context.Context, frame wsFrame) {
	symbol := SymbolFromInstID(frame.Arg.InstID, s.cfg.Mapping)
	if !s.symbols[symbol] {
		s.logger.Warnf("[%s] frame for unknown symbol %q dropped", s.cfg.Group.ID, frame.Arg.InstID)
		return
	}

	switch frame.Arg.Channel {
	case channelTrade:
		receivedAt := time.Now().UTC()
		trades, dropped := parseTrades(frame.Data, symbol, s.cfg.Group.Market, receivedAt)
		if dropped > 0 {
			s.decodeErrors.Add(int64(dropped))
		}
		for _, trade := range trades {
			s.forwardTrade(ctx, trade)
		}

	case channelBooks:
		if !s.cfg.SubscribeBooks {
			return
		}
		books, err := parseBooks(frame.Data, symbol, s.cfg.Group.Market, frame.Action == "snapshot")
		if err != nil {
			s.decodeErrors.Add(1)
			return
		}
		for _, book := range books {
			if err := s.books.PutBook(ctx, book); err != nil {
				s.frameErrors.Add(1)
				s.logger.Errorf("[%s] book store failed: %v", s.cfg.Group.ID, err)
			}
		}
	}
}

// forwardTrade publishes to the stream sink and, only on first publication,
// broadcasts to dashboard clients. Replays therefore never reach the
// dashboards.
func (s *Session) forwardTrade(ctx context.Context, trade model.Trade) {
	published, err := s.trades.PublishTrade(ctx, trade)
	if err != nil {
		s.frameErrors.Add(1)
		s.gate.ReportError("cache", err.Error())
		s.logger.Errorf("[%s] publish failed for %s: %v", s.cfg.Group.ID, trade.Symbol, err)
		return
	}
	if !published {
		return
	}

	s.broker.Broadcast(trade.Symbol, map[string]interface{}{
		"type":        "trade",
		"symbol":      trade.Symbol,
		"market":      trade.Market,
		"price":       trade.Price,
		"size":        trade.Size,
		"side":        trade.Side,
		"ts":          trade.Timestamp,
		"server_time": time.Now().UnixMilli(),
	})
}

// Stats returns session counters for monitoring.
func (s *Session) Stats() map[string]interface{} {
	return map[string]interface{}{
		"group":         s.cfg.Group.ID,
		"state":         s.State().String(),
		"symbols":       len(s.cfg.Group.Symbols),
		"reconnects":    s.reconnects.Load(),
		"decode_errors": s.decodeErrors.Load(),
		"frame_errors":  s.frameErrors.Load(),
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt > 6 {
		return maxReconnectDelay
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}

package broker

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// activityWindow closes a session after this much silence.
	activityWindow = 30 * time.Second

	// pingPeriod sends server pings at this interval. Must be less than
	// activityWindow.
	pingPeriod = 15 * time.Second

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64

	maxMessageSize = 1024
)

// ErrSessionClosed is returned by Send once the session is gone.
var ErrSessionClosed = errors.New("client session closed")

// ClientSession is one long-lived dashboard connection subscribed to a
// single symbol. Created on accept, removed on first send failure or
// explicit close.
type ClientSession struct {
	conn   *websocket.Conn
	symbol string
	logger *logrus.Logger

	send      chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

// NewClientSession wraps an upgraded connection.
func NewClientSession(conn *websocket.Conn, symbol string, logger *logrus.Logger) *ClientSession {
	return &ClientSession{
		conn:   conn,
		symbol: symbol,
		logger: logger,
		send:   make(chan []byte, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// Symbol returns the symbol this session subscribed to.
func (cs *ClientSession) Symbol() string { return cs.symbol }

// Send enqueues a frame for delivery. It fails once the session is closed;
// a full buffer drops the frame for this slow client without failing the
// session.
func (cs *ClientSession) Send(msg []byte) error {
	select {
	case <-cs.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case cs.send <- msg:
		return nil
	case <-cs.closed:
		return ErrSessionClosed
	default:
		cs.logger.Warnf("dropping frame for slow client on %s", cs.symbol)
		return nil
	}
}

// Close tears the session down. Idempotent.
func (cs *ClientSession) Close() {
	cs.closeOnce.Do(func() {
		close(cs.closed)
		cs.conn.Close()
	})
}

// Done is closed when the session has ended.
func (cs *ClientSession) Done() <-chan struct{} { return cs.closed }

// Run drives the read and write pumps until the session ends. The caller
// is responsible for detaching the session from the broker afterwards.
func (cs *ClientSession) Run() {
	go cs.writePump()
	cs.readPump()
}

// readPump consumes client frames, answering application-level pings and
// enforcing the activity window.
func (cs *ClientSession) readPump() {
	defer cs.Close()

	cs.conn.SetReadLimit(maxMessageSize)
	cs.conn.SetReadDeadline(time.Now().Add(activityWindow))

	for {
		_, msg, err := cs.conn.ReadMessage()
		if err != nil {
			return
		}
		cs.conn.SetReadDeadline(time.Now().Add(activityWindow))

		var frame struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(msg, &frame) != nil {
			continue
		}
		switch frame.Type {
		case "ping":
			cs.sendControl("pong")
		case "pong":
			// Activity window already extended by the read.
		}
	}
}

// writePump delivers queued frames and sends a ping every pingPeriod.
func (cs *ClientSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cs.Close()
	}()

	for {
		select {
		case <-cs.closed:
			return

		case msg := <-cs.send:
			cs.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cs.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := cs.sendControl("ping"); err != nil {
				return
			}
		}
	}
}

func (cs *ClientSession) sendControl(kind string) error {
	frame, _ := json.Marshal(map[string]interface{}{
		"type":        kind,
		"server_time": time.Now().UnixMilli(),
	})
	cs.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return cs.conn.WriteMessage(websocket.TextMessage, frame)
}

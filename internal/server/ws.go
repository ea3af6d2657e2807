package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"bitget-radar/internal/broker"
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Dashboard clients are unauthenticated; origin is not restricted.
		return true
	},
}

// Subscribe upgrades the connection and hands the session to the broker.
// It blocks for the lifetime of the session.
func (h *Handler) Subscribe(c *gin.Context) {
	symbol := c.Param("symbol")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("ws upgrade failed for %s: %v", symbol, err)
		return
	}

	session := broker.NewClientSession(conn, symbol, h.logger)
	h.broker.Connect(session, symbol)
	defer h.broker.Disconnect(session, symbol)

	session.Run()
}

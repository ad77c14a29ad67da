package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 << 10
	sendBuffer     = 32
)

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte

	once sync.Once
	done chan struct{}
}

func (c *client) enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		// slow consumer
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// inbound is what a client sends; the sender is taken from the token, never the frame.
type inbound struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Handler upgrades authenticated requests to websocket connections on a hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHandler builds the websocket handler. allowOrigin decides cross-origin handshakes;
// nil falls back to the upgrader's same-host check.
func NewHandler(hub *Hub, allowOrigin func(r *http.Request) bool, logger *zap.Logger) *Handler {
	return &Handler{
		hub:      hub,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: allowOrigin},
		logger:   logger,
	}
}

// ServeWS expects the caller's user id under the "userID" context key.
func (h *Handler) ServeWS(ctx *gin.Context) {
	userID := ctx.GetString("userID")
	if userID == "" {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.logger.Warn("Websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	c := &client{userID: userID, conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	// The request context ends with the handler; the connection outlives it.
	connCtx := context.Background()
	if err := h.hub.register(connCtx, c); err != nil {
		h.logger.Error("Failed to register chat connection", zap.String("user_id", userID), zap.Error(err))
		c.close()
		return
	}
	h.logger.Info("Chat connection opened", zap.String("user_id", userID))

	go h.writePump(connCtx, c)
	go h.readPump(connCtx, c)
}

func (h *Handler) readPump(ctx context.Context, c *client) {
	defer func() {
		h.hub.unregister(ctx, c)
		c.close()
		h.logger.Info("Chat connection closed", zap.String("user_id", c.userID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		h.hub.refresh(ctx, c.userID)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("Chat read error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.enqueue(errorFrame("invalid message"))
			continue
		}
		err = h.hub.Send(ctx, Message{From: c.userID, To: in.To, Body: in.Body})
		switch {
		case err == nil, errors.Is(err, ErrOffline):
		case errors.Is(err, errInvalidMessage):
			c.enqueue(errorFrame(err.Error()))
		default:
			h.logger.Error("Chat relay failed", zap.String("from", c.userID), zap.String("to", in.To), zap.Error(err))
		}
	}
}

func (h *Handler) writePump(ctx context.Context, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
			h.hub.refresh(ctx, c.userID)
		}
	}
}

func errorFrame(msg string) []byte {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return b
}

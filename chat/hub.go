// Package chat relays direct messages between websocket clients. Connections are held
// in memory per node; presence and cross-node delivery go through Redis.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const maxBodyLength = 4000

// Message is a direct message. From is always set by the server.
type Message struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

var errInvalidMessage = errors.New("chat: message needs a recipient and a body")

// Hub owns the connections attached to this node.
type Hub struct {
	nodeID   string
	rdb      *redis.Client
	presence *Presence
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[string]*client
}

func NewHub(rdb *redis.Client, nodeID string, presenceTTL time.Duration, logger *zap.Logger) *Hub {
	return &Hub{
		nodeID:   nodeID,
		rdb:      rdb,
		presence: NewPresence(rdb, presenceTTL),
		logger:   logger,
		clients:  make(map[string]*client),
	}
}

func nodeChannel(nodeID string) string { return "chat:node:" + nodeID }

// Start subscribes to this node's channel and relays what arrives to local clients until
// ctx is cancelled. The subscription is active when Start returns.
func (h *Hub) Start(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, nodeChannel(h.nodeID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	h.logger.Info("Chat hub subscribed", zap.String("node_id", h.nodeID))

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					h.logger.Warn("Dropping malformed relayed message", zap.Error(err))
					continue
				}
				if !h.deliverLocal(msg) {
					h.logger.Debug("Recipient left before relay", zap.String("to", msg.To))
				}
			}
		}
	}()
	return nil
}

// Send delivers msg to a local connection or publishes it to the recipient's node.
// Offline recipients are dropped and ErrOffline is returned.
func (h *Hub) Send(ctx context.Context, msg Message) error {
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" || msg.Body == "" || len(msg.Body) > maxBodyLength {
		return errInvalidMessage
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}

	if h.deliverLocal(msg) {
		return nil
	}
	node, err := h.presence.Lookup(ctx, msg.To)
	if err != nil {
		return err
	}
	if node == h.nodeID {
		// Stale presence from a connection this node already dropped.
		return ErrOffline
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, nodeChannel(node), payload).Err()
}

func (h *Hub) deliverLocal(msg Message) bool {
	h.mu.RLock()
	c, ok := h.clients[msg.To]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.enqueue(payload)
}

// register attaches c, replacing any earlier connection of the same user on this node.
func (h *Hub) register(ctx context.Context, c *client) error {
	h.mu.Lock()
	old := h.clients[c.userID]
	h.clients[c.userID] = c
	h.mu.Unlock()
	if old != nil {
		old.close()
	}
	return h.presence.Set(ctx, c.userID, h.nodeID)
}

func (h *Hub) unregister(ctx context.Context, c *client) {
	h.mu.Lock()
	current := h.clients[c.userID] == c
	if current {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()
	if !current {
		return
	}
	if err := h.presence.Remove(ctx, c.userID, h.nodeID); err != nil {
		h.logger.Warn("Failed to clear presence", zap.String("user_id", c.userID), zap.Error(err))
	}
}

func (h *Hub) refresh(ctx context.Context, userID string) {
	if err := h.presence.Set(ctx, userID, h.nodeID); err != nil {
		h.logger.Warn("Failed to refresh presence", zap.String("user_id", userID), zap.Error(err))
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
		_ = h.presence.Remove(context.Background(), c.userID, h.nodeID)
	}
}

// Online reports whether userID has a connection on this node.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

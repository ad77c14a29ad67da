package chat

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrOffline is returned when no node holds a connection for the user.
var ErrOffline = errors.New("chat: user offline")

// releaseScript deletes the presence entry only while it still points at this node, so a
// reconnect on another node is not wiped by the old connection closing.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Presence records which node each connected user is attached to.
type Presence struct {
	client *redis.Client
	ttl    time.Duration
}

func NewPresence(client *redis.Client, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func presenceKey(userID string) string { return "presence:" + userID }

// Set claims userID for nodeID and refreshes the TTL.
func (p *Presence) Set(ctx context.Context, userID, nodeID string) error {
	return p.client.Set(ctx, presenceKey(userID), nodeID, p.ttl).Err()
}

func (p *Presence) Lookup(ctx context.Context, userID string) (string, error) {
	node, err := p.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrOffline
	}
	return node, err
}

func (p *Presence) Remove(ctx context.Context, userID, nodeID string) error {
	return releaseScript.Run(ctx, p.client, []string{presenceKey(userID)}, nodeID).Err()
}

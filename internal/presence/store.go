// Package presence tracks which gateway node a user is connected to and when
// they were last seen. Records live in Redis with a TTL, so a node that dies
// without cleanup leaks nothing: entries expire once heartbeats stop. This is
// the upstream consumer of the gateway's heartbeat liveness signal.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for all presence hashes.
	KeyPrefix = "presence:"

	// TTL is the time-to-live for presence keys. It must comfortably exceed
	// the heartbeat interval so one missed beat does not flap presence.
	TTL = 2 * time.Minute
)

// Record is a user's presence state as stored in Redis.
type Record struct {
	UserID      string `redis:"user_id"`
	Gateway     string `redis:"gateway"`      // which gateway node holds the connection
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastSeen    int64  `redis:"last_seen"`    // unix timestamp
}

// Store manages presence state in Redis.
type Store struct {
	client      *redis.Client
	gatewayName string // identifier for this gateway node
}

// NewStore creates a presence store using the provided Redis client.
func NewStore(client *redis.Client, gatewayName string) *Store {
	return &Store{client: client, gatewayName: gatewayName}
}

// Connect records that a user is now connected to this gateway node.
func (s *Store) Connect(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	now := time.Now().Unix()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":      userID,
		"gateway":      s.gatewayName,
		"connected_at": now,
		"last_seen":    now,
	})
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: connect %s: %w", userID, err)
	}
	return nil
}

// Touch refreshes last_seen and the TTL. Called on every heartbeat.
func (s *Store) Touch(ctx context.Context, userID string) error {
	key := KeyPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_seen", time.Now().Unix())
	pipe.Expire(ctx, key, TTL)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: touch %s: %w", userID, err)
	}
	return nil
}

// Get retrieves a user's presence record. Returns nil if not present.
func (s *Store) Get(ctx context.Context, userID string) (*Record, error) {
	key := KeyPrefix + userID
	var rec Record
	if err := s.client.HGetAll(ctx, key).Scan(&rec); err != nil {
		return nil, fmt.Errorf("presence: get %s: %w", userID, err)
	}
	if rec.UserID == "" {
		return nil, nil // not present
	}
	return &rec, nil
}

// Disconnect removes a user's presence record. Only this node's record is
// deleted; if the user reconnected to another node in the meantime the newer
// record is left alone.
func (s *Store) Disconnect(ctx context.Context, userID string) error {
	key := KeyPrefix + userID

	gateway, err := s.client.HGet(ctx, key, "gateway").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("presence: disconnect %s: %w", userID, err)
	}
	if gateway != s.gatewayName {
		return nil
	}
	return s.client.Del(ctx, key).Err()
}

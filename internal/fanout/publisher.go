// publisher.go
//
// Presence events go out over Redis pub/sub. The realtime gateway subscribes to
// room:{roomId}:events and pushes to connected clients; this service never
// holds client connections itself.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MGallo-Code/roomgate/internal/presence"
	"github.com/MGallo-Code/roomgate/internal/store"
	"github.com/redis/go-redis/v9"
)

// RoomChannel -> room:{roomID}:events
func RoomChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

// RedisPublisher implements presence.Publisher over PUBLISH.
type RedisPublisher struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewRedisPublisher wraps the shared Redis client. Each PUBLISH is bounded by
// timeout; timeout <= 0 uses store.DefaultOpTimeout.
func NewRedisPublisher(rdb *redis.Client, timeout time.Duration) *RedisPublisher {
	if timeout <= 0 {
		timeout = store.DefaultOpTimeout
	}
	return &RedisPublisher{rdb: rdb, timeout: timeout}
}

// PublishPresence sends ev to the room channel. Zero subscribers is not an error.
func (p *RedisPublisher) PublishPresence(ctx context.Context, ev presence.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling presence event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, RoomChannel(ev.RoomID), data).Err(); err != nil {
		return fmt.Errorf("%w: publish: %w", store.ErrUnavailable, err)
	}
	return nil
}

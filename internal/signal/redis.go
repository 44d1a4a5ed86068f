package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// RedisChannel is the pub/sub channel shared by all client instances.
	RedisChannel = "marksync:changed"
	// RedisSlotKey holds the last written marker for late joiners.
	RedisSlotKey = "marksync:changed:latest"
)

// RedisBroadcaster joins the shared slot over Redis pub/sub, so client
// instances in separate processes observe each other's announcements.
// Announcements carry the origin instance id; an instance filters its
// own messages out, keeping the sibling-only delivery contract.
type RedisBroadcaster struct {
	client     *redis.Client
	instanceID string
	logger     *zap.Logger
}

// NewRedisBroadcaster wraps an existing Redis client.
func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{
		client:     client,
		instanceID: uuid.NewString(),
		logger:     logger,
	}
}

// Announce publishes the marker and stores it as the slot's latest value.
func (b *RedisBroadcaster) Announce(ctx context.Context) error {
	marker := Marker{Origin: b.instanceID, ChangedAt: time.Now().UTC()}
	payload, err := json.Marshal(marker)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, RedisSlotKey, payload, 0).Err(); err != nil {
		return err
	}
	return b.client.Publish(ctx, RedisChannel, payload).Err()
}

// Subscribe delivers markers announced by sibling instances until ctx is
// canceled or the returned cleanup runs.
func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan Marker, func()) {
	pubsub := b.client.Subscribe(ctx, RedisChannel)
	out := make(chan Marker, 1)

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer pubsub.Close() //nolint:errcheck
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case message, open := <-messages:
				if !open {
					return
				}
				var marker Marker
				if err := json.Unmarshal([]byte(message.Payload), &marker); err != nil {
					b.logger.Warn("discarding malformed change marker", zap.Error(err))
					continue
				}
				if marker.Origin == b.instanceID {
					continue
				}
				select {
				case out <- marker:
				default:
					// a marker is already pending; the pending one suffices
				}
			}
		}
	}()
	return out, cancel
}

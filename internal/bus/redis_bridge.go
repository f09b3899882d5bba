package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// PubSub is the minimal Redis Pub/Sub surface the bridge needs. The cache
// package's Redis adapter satisfies it; the bus does not import the driver.
type PubSub interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (unsubscribe func(), err error)
}

// defaultChannel is the Redis Pub/Sub channel carrying change events.
const defaultChannel = "flagcore:changes"

// RedisBridge extends a Local bus across pods: published events go to Redis
// Pub/Sub and events received from other pods are replayed into the local
// per-tenant queues. Redis Pub/Sub delivers a single channel in order, so
// per-tenant FIFO is preserved end to end.
type RedisBridge struct {
	local   *Local
	pubsub  PubSub
	channel string
	unsub   func()
}

// NewRedisBridge wraps local with cross-pod distribution. channel == ""
// selects the default.
func NewRedisBridge(local *Local, pubsub PubSub, channel string) (*RedisBridge, error) {
	if channel == "" {
		channel = defaultChannel
	}
	b := &RedisBridge{local: local, pubsub: pubsub, channel: channel}

	unsub, err := pubsub.Subscribe(context.Background(), channel, b.onRemote)
	if err != nil {
		return nil, fmt.Errorf("subscribe change channel: %w", err)
	}
	b.unsub = unsub
	return b, nil
}

// Publish sends the event to Redis; every pod (including this one) receives
// it via the subscription. If Redis is down, delivery degrades to local-only.
func (b *RedisBridge) Publish(ctx context.Context, event FlagChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	if err := b.pubsub.Publish(ctx, b.channel, data); err != nil {
		slog.Warn("change event publish failed, delivering locally only", "error", err)
		return b.local.Publish(ctx, event)
	}
	return nil
}

// Subscribe registers a handler on the underlying local bus.
func (b *RedisBridge) Subscribe(handler Handler) func() {
	return b.local.Subscribe(handler)
}

// Close tears down the Redis subscription and the local bus.
func (b *RedisBridge) Close() error {
	if b.unsub != nil {
		b.unsub()
	}
	return b.local.Close()
}

func (b *RedisBridge) onRemote(data []byte) {
	var event FlagChanged
	if err := json.Unmarshal(data, &event); err != nil {
		slog.Warn("malformed change event from pub/sub", "error", err)
		return
	}
	_ = b.local.Publish(context.Background(), event)
}

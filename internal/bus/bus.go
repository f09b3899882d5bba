// Package bus is the change bus: the ordered, per-tenant channel over which
// flag mutations propagate to the definition cache, the result cache, and
// WebSocket subscribers.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlagChanged announces that a flag definition mutated. An empty Key means
// every flag of the tenant changed (tenant purge); an empty TenantID is an
// administrative broadcast.
type FlagChanged struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
}

// Handler consumes change events. Handlers for one tenant are invoked
// sequentially in publish order; they must not block for long.
type Handler func(ctx context.Context, event FlagChanged)

// Bus distributes FlagChanged events with per-tenant FIFO ordering and no
// back-pressure to publishers.
type Bus interface {
	Publish(ctx context.Context, event FlagChanged) error
	Subscribe(handler Handler) (unsubscribe func())
	Close() error
}

// tenantQueueSize bounds each per-tenant delivery queue. A full queue drops
// the event with a warning rather than blocking the publisher.
const tenantQueueSize = 256

// Local is the in-process Bus. Each tenant gets a dedicated queue and
// dispatcher goroutine, so a single tenant's events are delivered in
// mutation order while tenants never delay one another.
type Local struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	queues   map[string]chan FlagChanged
	wg       sync.WaitGroup
	closed   bool
}

// NewLocal creates an in-process change bus.
func NewLocal() *Local {
	return &Local{
		handlers: make(map[int]Handler),
		queues:   make(map[string]chan FlagChanged),
	}
}

// Publish enqueues the event on the tenant's FIFO queue. Never blocks: a
// full queue drops the event and logs.
func (b *Local) Publish(_ context.Context, event FlagChanged) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	q, ok := b.queues[event.TenantID]
	if !ok {
		q = make(chan FlagChanged, tenantQueueSize)
		b.queues[event.TenantID] = q
		b.wg.Add(1)
		go b.dispatch(q)
	}
	b.mu.Unlock()

	select {
	case q <- event:
	default:
		slog.Warn("change bus queue full, dropping event",
			"tenant_id", event.TenantID, "flag_key", event.Key)
	}
	return nil
}

// Subscribe registers a handler for all change events.
func (b *Local) Subscribe(handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, id)
	}
}

// Close stops every tenant dispatcher after draining queued events.
func (b *Local) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}

func (b *Local) dispatch(q chan FlagChanged) {
	defer b.wg.Done()
	for event := range q {
		b.mu.RLock()
		handlers := make([]Handler, 0, len(b.handlers))
		for _, h := range b.handlers {
			handlers = append(handlers, h)
		}
		b.mu.RUnlock()

		// Sequential delivery preserves per-tenant ordering.
		for _, h := range handlers {
			h(context.Background(), event)
		}
	}
}

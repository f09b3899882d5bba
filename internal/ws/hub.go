// Package ws fans flag change events out to subscribed SDK clients over
// WebSocket. Connections are grouped into per-tenant rooms declared at
// handshake; delivery is best-effort and slow consumers are disconnected.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flagcore/backend/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Token auth happens upstream; the flag stream carries no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frame is the JSON payload exchanged on the flag stream.
type Frame struct {
	Type      string   `json:"type"`
	Status    string   `json:"status,omitempty"`
	Tenant    string   `json:"tenant,omitempty"`
	Key       string   `json:"key,omitempty"`
	Flags     []string `json:"flags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Hub tracks connected clients by tenant and bridges the change bus to them.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Client]struct{}

	onConnect    func()
	onDisconnect func()
}

// NewHub creates an empty hub. The optional hooks instrument connection
// counts.
func NewHub(onConnect, onDisconnect func()) *Hub {
	return &Hub{
		tenants:      make(map[string]map[*Client]struct{}),
		onConnect:    onConnect,
		onDisconnect: onDisconnect,
	}
}

// AttachBus subscribes the hub to the change bus so every FlagChanged event
// is broadcast to the matching tenant room.
func (h *Hub) AttachBus(b bus.Bus) func() {
	return b.Subscribe(func(_ context.Context, event bus.FlagChanged) {
		h.Broadcast(event)
	})
}

// HandleWebSocket upgrades the request and registers the connection in its
// tenant room. The tenant comes from the tenantId query parameter or the
// X-Tenant-ID header.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		tenantID = r.Header.Get("X-Tenant-ID")
	}
	if tenantID == "" {
		http.Error(w, "missing tenant id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := newClient(h, tenantID, conn)
	h.register(client)
	slog.Info("websocket client connected", "tenant_id", tenantID)

	client.enqueueFrame(Frame{
		Type:      "connection",
		Status:    "connected",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	go client.writePump()
	go client.readPump()
}

// Broadcast delivers a flag-update frame to every connection in the event's
// tenant room, or to all connections for an administrative broadcast with no
// tenant scope. The connection set is snapshotted under a read lock;
// per-connection sends never block the broadcast.
func (h *Hub) Broadcast(event bus.FlagChanged) {
	frame := Frame{
		Type:      "flag-update",
		Tenant:    event.TenantID,
		Key:       event.Key,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	h.mu.RLock()
	var targets []*Client
	if event.TenantID == "" {
		for _, room := range h.tenants {
			for c := range room {
				targets = append(targets, c)
			}
		}
	} else {
		for c := range h.tenants[event.TenantID] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(data)
	}
}

// ConnectionCount reports the number of connected clients (all tenants).
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, room := range h.tenants {
		n += len(room)
	}
	return n
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	room, ok := h.tenants[c.tenantID]
	if !ok {
		room = make(map[*Client]struct{})
		h.tenants[c.tenantID] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()

	if h.onConnect != nil {
		h.onConnect()
	}
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if room, ok := h.tenants[c.tenantID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.tenants, c.tenantID)
		}
	}
	h.mu.Unlock()

	if h.onDisconnect != nil {
		h.onDisconnect()
	}
}

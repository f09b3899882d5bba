package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// streamFrame mirrors the wire frames of the flag stream.
type streamFrame struct {
	Type      string   `json:"type"`
	Status    string   `json:"status,omitempty"`
	Tenant    string   `json:"tenant,omitempty"`
	Key       string   `json:"key,omitempty"`
	Flags     []string `json:"flags,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// Stream is a live subscription to the tenant's flag updates. Close it to
// stop the reader goroutine.
type Stream struct {
	conn      *websocket.Conn
	updates   chan FlagUpdate
	done      chan struct{}
	closeOnce sync.Once
}

// Subscribe opens the WebSocket flag stream for the client's tenant. flags is
// informational: the server always delivers every update for the tenant.
// Updates arrive on the returned Stream until ctx is cancelled or Close is
// called.
func (c *Client) Subscribe(ctx context.Context, flags []string) (*Stream, error) {
	wsURL := strings.Replace(c.config.BaseURL, "http", "ws", 1)
	url := fmt.Sprintf("%s/api/ws?tenantId=%s", wsURL, c.config.TenantID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("sdk: dial flag stream: %w", err)
	}

	// First frame is the connection ack.
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var ack streamFrame
	if err := conn.ReadJSON(&ack); err != nil || ack.Type != "connection" {
		conn.Close()
		return nil, fmt.Errorf("sdk: flag stream handshake failed: %v", err)
	}

	if len(flags) > 0 {
		if err := conn.WriteJSON(streamFrame{Type: "subscribe", Flags: flags}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sdk: subscribe: %w", err)
		}
	}

	s := &Stream{
		conn:    conn,
		updates: make(chan FlagUpdate, 64),
		done:    make(chan struct{}),
	}
	go s.readLoop(ctx)
	return s, nil
}

// Updates is the channel of flag changes. It closes when the stream ends.
func (s *Stream) Updates() <-chan FlagUpdate {
	return s.updates
}

// Close terminates the subscription. Safe to call concurrently and more
// than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *Stream) readLoop(ctx context.Context) {
	defer close(s.updates)
	defer s.conn.Close()

	s.conn.SetPingHandler(func(appData string) error {
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		s.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame streamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Type != "flag-update" {
			continue
		}

		update := FlagUpdate{Tenant: frame.Tenant, Key: frame.Key, Timestamp: frame.Timestamp}
		select {
		case s.updates <- update:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

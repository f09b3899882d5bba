package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagcore/backend/internal/cache"
)

func newBridge(t *testing.T) *RedisBridge {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	r := cache.NewRedisFromClient(client)
	t.Cleanup(func() { r.Close() })

	bridge, err := NewRedisBridge(NewLocal(), r, "")
	require.NoError(t, err)
	t.Cleanup(func() { bridge.Close() })
	return bridge
}

func TestBridgeRoundTrip(t *testing.T) {
	bridge := newBridge(t)

	got := make(chan FlagChanged, 1)
	bridge.Subscribe(func(_ context.Context, e FlagChanged) { got <- e })

	event := FlagChanged{ID: "e1", TenantID: "t1", Key: "dark-mode", Timestamp: time.Now().UTC()}
	require.NoError(t, bridge.Publish(context.Background(), event))

	select {
	case e := <-got:
		assert.Equal(t, "e1", e.ID)
		assert.Equal(t, "t1", e.TenantID)
		assert.Equal(t, "dark-mode", e.Key)
	case <-time.After(2 * time.Second):
		t.Fatal("event never made the round trip through pub/sub")
	}
}

type failingPubSub struct{}

func (failingPubSub) Publish(context.Context, string, []byte) error {
	return errors.New("redis down")
}

func (failingPubSub) Subscribe(context.Context, string, func([]byte)) (func(), error) {
	return func() {}, nil
}

func TestBridgeFallsBackToLocal(t *testing.T) {
	bridge, err := NewRedisBridge(NewLocal(), failingPubSub{}, "")
	require.NoError(t, err)
	defer bridge.Close()

	got := make(chan FlagChanged, 1)
	bridge.Subscribe(func(_ context.Context, e FlagChanged) { got <- e })

	require.NoError(t, bridge.Publish(context.Background(), FlagChanged{TenantID: "t1", Key: "k"}))

	select {
	case e := <-got:
		assert.Equal(t, "k", e.Key)
	case <-time.After(time.Second):
		t.Fatal("local fallback delivery did not happen")
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisFromClient(client)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestRedisGetSet(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	_, ok := r.Get(ctx, "absent")
	assert.False(t, ok)

	r.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := r.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestRedisTTL(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "k", []byte("v"), 5*time.Second)
	mr.FastForward(6 * time.Second)

	_, ok := r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisDeletePrefix(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	r.Set(ctx, "eval:t1:flag:d1", []byte("1"), time.Minute)
	r.Set(ctx, "eval:t1:flag:d2", []byte("2"), time.Minute)
	r.Set(ctx, "eval:t1:other:d1", []byte("3"), time.Minute)
	r.Set(ctx, "eval:t2:flag:d1", []byte("4"), time.Minute)

	r.DeletePrefix(ctx, "eval:t1:flag:")

	_, ok := r.Get(ctx, "eval:t1:flag:d1")
	assert.False(t, ok)
	_, ok = r.Get(ctx, "eval:t1:flag:d2")
	assert.False(t, ok)
	_, ok = r.Get(ctx, "eval:t1:other:d1")
	assert.True(t, ok)
	_, ok = r.Get(ctx, "eval:t2:flag:d1")
	assert.True(t, ok)
}

func TestRedisPubSub(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	received := make(chan []byte, 1)
	unsub, err := r.Subscribe(ctx, "test-channel", func(data []byte) {
		received <- data
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, r.Publish(ctx, "test-channel", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pub/sub delivery")
	}
}

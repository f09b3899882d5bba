package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSet(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	_, ok := m.Get(ctx, "absent")
	assert.False(t, ok)

	m.Set(ctx, "k", []byte("v"), time.Minute)
	got, ok := m.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "k", []byte("v"), 20*time.Millisecond)
	_, ok := m.Get(ctx, "k")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	_, ok = m.Get(ctx, "k")
	assert.False(t, ok, "expired entry must not be served")
}

func TestMemoryDelete(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Minute)
	m.Set(ctx, "b", []byte("2"), time.Minute)
	m.Delete(ctx, "a", "b")

	_, ok := m.Get(ctx, "a")
	assert.False(t, ok)
	_, ok = m.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryDeletePrefix(t *testing.T) {
	m := NewMemory(time.Minute)
	defer m.Close()
	ctx := context.Background()

	tenantA := "11111111-1111-1111-1111-111111111111"
	tenantB := "22222222-2222-2222-2222-222222222222"

	m.Set(ctx, ResultKey(tenantA, "dark-mode", "d1"), []byte("1"), time.Minute)
	m.Set(ctx, ResultKey(tenantA, "dark-mode", "d2"), []byte("2"), time.Minute)
	m.Set(ctx, ResultKey(tenantA, "other", "d1"), []byte("3"), time.Minute)
	m.Set(ctx, ResultKey(tenantB, "dark-mode", "d1"), []byte("4"), time.Minute)

	m.DeletePrefix(ctx, ResultKeyPrefix(tenantA, "dark-mode"))

	_, ok := m.Get(ctx, ResultKey(tenantA, "dark-mode", "d1"))
	assert.False(t, ok)
	_, ok = m.Get(ctx, ResultKey(tenantA, "dark-mode", "d2"))
	assert.False(t, ok)

	// Other flags and other tenants are untouched.
	_, ok = m.Get(ctx, ResultKey(tenantA, "other", "d1"))
	assert.True(t, ok)
	_, ok = m.Get(ctx, ResultKey(tenantB, "dark-mode", "d1"))
	assert.True(t, ok)
}

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "def:t1:k1", DefinitionKey("t1", "k1"))
	assert.Equal(t, "eval:t1:k1:abc", ResultKey("t1", "k1", "abc"))
	assert.Equal(t, "eval:t1:k1:", ResultKeyPrefix("t1", "k1"))
}

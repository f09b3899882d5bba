// Package cache provides the two-layer evaluation cache: a minimal backend
// interface with in-memory and Redis implementations, plus the typed result
// cache built on top of it.
//
// The domain packages depend only on the Cache interface; cmd/api creates
// the concrete backend and injects it, falling back to in-memory when Redis
// is unreachable.
package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Cache is the minimal key-value surface the evaluation path needs. Keys are
// namespaced strings ("def:{tenant}:{key}", "eval:{tenant}:{key}:{digest}"),
// so targeted invalidation is a prefix purge.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	DeletePrefix(ctx context.Context, prefix string)
}

// DefinitionKey builds the cache key for a flag definition snapshot.
func DefinitionKey(tenantID, flagKey string) string {
	return "def:" + tenantID + ":" + flagKey
}

// ResultKey builds the cache key for one evaluation result.
func ResultKey(tenantID, flagKey, digest string) string {
	return "eval:" + tenantID + ":" + flagKey + ":" + digest
}

// ResultKeyPrefix is the purge prefix covering every cached result for a
// (tenant, flag) pair.
func ResultKeyPrefix(tenantID, flagKey string) string {
	return "eval:" + tenantID + ":" + flagKey + ":"
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Cache with per-entry TTL and a janitor that
// sweeps expired entries.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	stop    chan struct{}
	once    sync.Once
}

// NewMemory creates an in-memory cache. sweepInterval <= 0 defaults to one
// minute.
func NewMemory(sweepInterval time.Duration) *Memory {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	m := &Memory{
		entries: make(map[string]entry),
		stop:    make(chan struct{}),
	}
	go m.janitor(sweepInterval)
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	m.mu.Lock()
	m.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
}

func (m *Memory) Delete(_ context.Context, keys ...string) {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	m.mu.Unlock()
}

func (m *Memory) DeletePrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
		}
	}
	m.mu.Unlock()
}

// Close stops the janitor.
func (m *Memory) Close() {
	m.once.Do(func() { close(m.stop) })
}

func (m *Memory) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			m.mu.Lock()
			for k, e := range m.entries {
				if now.After(e.expiresAt) {
					delete(m.entries, k)
				}
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

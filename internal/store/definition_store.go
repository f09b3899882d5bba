package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flagcore/backend/internal/bus"
	"github.com/flagcore/backend/internal/cache"
	"github.com/flagcore/backend/internal/evaluation"
)

// negativeMarker is the cached sentinel for a confirmed-missing flag, so
// negative lookups do not stampede persistence.
var negativeMarker = []byte(`{"missing":true}`)

// DefinitionStore is the cache-through definition layer. Concurrent misses
// for one key coalesce into a single repository fetch; confirmed absence is
// cached with a shorter TTL; the last known good snapshot is retained so a
// persistence outage degrades to stale serving instead of failure.
type DefinitionStore struct {
	repo    Repository
	cache   cache.Cache
	changes bus.Bus
	ttl     time.Duration
	negTTL  time.Duration
	flight  singleflight.Group

	mu       sync.RWMutex
	lastGood map[string]*evaluation.Flag
}

// NewDefinitionStore wires the cached store. ttl <= 0 defaults to 5 minutes,
// negTTL <= 0 to 60 seconds. changes may be nil (no event emission).
func NewDefinitionStore(repo Repository, c cache.Cache, changes bus.Bus, ttl, negTTL time.Duration) *DefinitionStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if negTTL <= 0 {
		negTTL = 60 * time.Second
	}
	return &DefinitionStore{
		repo:     repo,
		cache:    c,
		changes:  changes,
		ttl:      ttl,
		negTTL:   negTTL,
		lastGood: make(map[string]*evaluation.Flag),
	}
}

// Get returns the flag definition for (tenant, key), or (nil, nil) when the
// flag does not exist. The only error is ErrUnavailable-wrapped persistence
// failure with no stale fallback.
func (s *DefinitionStore) Get(ctx context.Context, tenantID, key string) (*evaluation.Flag, error) {
	cacheKey := cache.DefinitionKey(tenantID, key)

	if data, ok := s.cache.Get(ctx, cacheKey); ok {
		flag, err := decodeCached(data)
		if err == nil {
			return flag, nil
		}
		// Corrupt cache entry: drop it and fall through to a fresh fetch.
		s.cache.Delete(ctx, cacheKey)
	}

	v, err, _ := s.flight.Do(cacheKey, func() (interface{}, error) {
		return s.fetch(ctx, tenantID, key, cacheKey)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*evaluation.Flag), nil
}

func (s *DefinitionStore) fetch(ctx context.Context, tenantID, key, cacheKey string) (interface{}, error) {
	// Another caller may have populated the cache while we waited on the
	// flight group.
	if data, ok := s.cache.Get(ctx, cacheKey); ok {
		flag, err := decodeCached(data)
		if err == nil {
			return flagOrNil(flag), nil
		}
	}

	flag, err := s.repo.FlagByKey(ctx, tenantID, key)
	if err == ErrNotFound {
		s.cache.Set(ctx, cacheKey, negativeMarker, s.negTTL)
		return nil, nil
	}
	if err != nil {
		// Serve the last known good snapshot, if any, rather than failing
		// the evaluation path.
		s.mu.RLock()
		stale, ok := s.lastGood[cacheKey]
		s.mu.RUnlock()
		if ok {
			slog.Warn("definition store unavailable, serving stale snapshot",
				"tenant_id", tenantID, "flag_key", key, "error", err)
			return stale, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if data, merr := json.Marshal(flag); merr == nil {
		s.cache.Set(ctx, cacheKey, data, s.ttl)
	}

	s.mu.Lock()
	s.lastGood[cacheKey] = flag
	s.mu.Unlock()

	return flag, nil
}

// Invalidate drops the cached definition and announces the mutation on the
// change bus. Callers invoke it after every flag mutation; the read-your-
// writes guarantee for the tenant starts when this returns.
func (s *DefinitionStore) Invalidate(ctx context.Context, tenantID, key string) {
	s.cache.Delete(ctx, cache.DefinitionKey(tenantID, key))

	s.mu.Lock()
	delete(s.lastGood, cache.DefinitionKey(tenantID, key))
	s.mu.Unlock()

	s.publish(ctx, tenantID, key)
}

// InvalidateTenant bulk-purges every definition of a tenant (tenant
// deletion) and announces a tenant-wide change.
func (s *DefinitionStore) InvalidateTenant(ctx context.Context, tenantID string) {
	prefix := cache.DefinitionKey(tenantID, "")
	s.cache.DeletePrefix(ctx, prefix)

	s.mu.Lock()
	for k := range s.lastGood {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.lastGood, k)
		}
	}
	s.mu.Unlock()

	s.publish(ctx, tenantID, "")
}

func (s *DefinitionStore) publish(ctx context.Context, tenantID, key string) {
	if s.changes == nil {
		return
	}
	event := bus.FlagChanged{TenantID: tenantID, Key: key, Timestamp: time.Now().UTC()}
	if err := s.changes.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish flag change", "tenant_id", tenantID, "flag_key", key, "error", err)
	}
}

func decodeCached(data []byte) (*evaluation.Flag, error) {
	if string(data) == string(negativeMarker) {
		return nil, nil
	}
	var flag evaluation.Flag
	if err := json.Unmarshal(data, &flag); err != nil {
		return nil, fmt.Errorf("decode cached definition: %w", err)
	}
	flag.Normalize()
	return &flag, nil
}

func flagOrNil(f *evaluation.Flag) interface{} {
	if f == nil {
		return nil
	}
	return f
}

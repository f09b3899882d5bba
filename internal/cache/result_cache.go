package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/flagcore/backend/internal/evaluation"
)

// ResultCache stores evaluation results keyed by (tenant, flag, context
// digest). It implements evaluation.ResultCache over any Cache backend.
type ResultCache struct {
	backend Cache
	ttl     time.Duration
	hits    func()
	misses  func()
}

// NewResultCache creates a result cache. ttl <= 0 defaults to 60s.
// onHit/onMiss are optional instrumentation hooks.
func NewResultCache(backend Cache, ttl time.Duration, onHit, onMiss func()) *ResultCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &ResultCache{backend: backend, ttl: ttl, hits: onHit, misses: onMiss}
}

func (rc *ResultCache) Get(ctx context.Context, tenantID, flagKey, digest string) (*evaluation.Result, bool) {
	data, ok := rc.backend.Get(ctx, ResultKey(tenantID, flagKey, digest))
	if !ok {
		if rc.misses != nil {
			rc.misses()
		}
		return nil, false
	}

	var r evaluation.Result
	if err := json.Unmarshal(data, &r); err != nil {
		slog.Warn("corrupt cached evaluation result", "tenant_id", tenantID, "flag_key", flagKey, "error", err)
		rc.backend.Delete(ctx, ResultKey(tenantID, flagKey, digest))
		return nil, false
	}
	if rc.hits != nil {
		rc.hits()
	}
	return &r, true
}

func (rc *ResultCache) Set(ctx context.Context, tenantID, flagKey, digest string, r *evaluation.Result) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	rc.backend.Set(ctx, ResultKey(tenantID, flagKey, digest), data, rc.ttl)
}

// Purge removes every cached result for a (tenant, flag) pair. Called on
// FlagChanged events so stale results never outlive event propagation.
func (rc *ResultCache) Purge(ctx context.Context, tenantID, flagKey string) {
	rc.backend.DeletePrefix(ctx, ResultKeyPrefix(tenantID, flagKey))
}

// PurgeTenant removes every cached result for a tenant.
func (rc *ResultCache) PurgeTenant(ctx context.Context, tenantID string) {
	rc.backend.DeletePrefix(ctx, "eval:"+tenantID+":")
}

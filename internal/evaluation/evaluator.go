package evaluation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefinitionSource supplies flag definition snapshots. A nil flag with a nil
// error means the flag does not exist for the tenant; an error means the
// store (and any stale fallback) is unavailable.
type DefinitionSource interface {
	Get(ctx context.Context, tenantID, key string) (*Flag, error)
}

// ResultCache stores evaluation results keyed by (tenant, key, context
// digest). Implementations decide TTL and eviction.
type ResultCache interface {
	Get(ctx context.Context, tenantID, key, digest string) (*Result, bool)
	Set(ctx context.Context, tenantID, key, digest string, r *Result)
}

// Recorder receives evaluation outcomes for the metrics pipeline. It must
// never block: implementations queue with a bound and drop on overflow.
type Recorder interface {
	Record(tenantID, flagKey string, latency time.Duration, success bool)
}

// Orchestrator is the top-level evaluator coordinating the definition store,
// the result cache, rule matching, and metric recording.
type Orchestrator struct {
	store    DefinitionSource
	results  ResultCache
	matcher  *Matcher
	recorder Recorder
	slowEval time.Duration
	onResult func(Source)
}

// OnResult registers an instrumentation hook invoked with the source of
// every returned result. Call before serving traffic.
func (o *Orchestrator) OnResult(fn func(Source)) {
	o.onResult = fn
}

// NewOrchestrator wires an evaluator. recorder may be nil (metrics disabled);
// slowEval <= 0 defaults to 10ms.
func NewOrchestrator(store DefinitionSource, results ResultCache, matcher *Matcher, recorder Recorder, slowEval time.Duration) *Orchestrator {
	if matcher == nil {
		matcher = NewMatcher(nil)
	}
	if slowEval <= 0 {
		slowEval = 10 * time.Millisecond
	}
	return &Orchestrator{
		store:    store,
		results:  results,
		matcher:  matcher,
		recorder: recorder,
		slowEval: slowEval,
	}
}

// Evaluate resolves one flag for one context. The returned result is always
// usable; the error is non-nil only when the definition store is unreachable
// and no stale definition could be served (transport maps that to 503).
func (o *Orchestrator) Evaluate(ctx context.Context, tenantID, key string, ec Context) (*Result, error) {
	start := time.Now()
	digest := Digest(ec)

	if cached, ok := o.results.Get(ctx, tenantID, key, digest); ok {
		hit := *cached
		hit.Source = SourceCache
		o.record(tenantID, key, time.Since(start), true)
		o.count(SourceCache)
		return &hit, nil
	}

	flag, err := o.store.Get(ctx, tenantID, key)
	if err != nil {
		o.record(tenantID, key, time.Since(start), false)
		o.count(SourceError)
		return NewErrorResult(), err
	}

	result := o.evaluateDefinition(flag, ec)

	// Error results are transient; everything else is cacheable, including
	// the not-found shape (the definition store separately caches the
	// negative lookup).
	if result.Source != SourceError {
		o.results.Set(ctx, tenantID, key, digest, result)
	}

	elapsed := time.Since(start)
	if elapsed > o.slowEval {
		slog.Warn("slow flag evaluation",
			"tenant_id", tenantID, "flag_key", key,
			"elapsed_ms", elapsed.Milliseconds(), "source", string(result.Source))
	}
	o.record(tenantID, key, elapsed, result.Source != SourceError)
	o.count(result.Source)

	return result, nil
}

func (o *Orchestrator) count(source Source) {
	if o.onResult != nil {
		o.onResult(source)
	}
}

// evaluateDefinition runs the in-memory part of an evaluation. Panics during
// rule matching degrade to an ERROR result; the evaluator never propagates
// an exception to the transport layer.
func (o *Orchestrator) evaluateDefinition(flag *Flag, ec Context) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during rule matching", "panic", r)
			result = NewErrorResult()
		}
	}()

	if flag == nil {
		return NewNotFoundResult()
	}
	if !flag.Enabled {
		return NewDisabledResult()
	}
	if len(flag.Rules) == 0 {
		return NewDefaultResult(ReasonNoRules)
	}

	for i := range flag.Rules {
		rule := &flag.Rules[i]
		if o.matcher.Matches(rule, ec) {
			return NewRuleResult(rule.ID)
		}
	}
	return NewDefaultResult(ReasonNoRuleMatch)
}

// BatchResponse is the aggregate outcome of a batch evaluation.
type BatchResponse struct {
	Results  map[string]*Result `json:"results"`
	Errors   map[string]string  `json:"errors,omitempty"`
	Metadata BatchMetadata      `json:"metadata"`
}

// BatchMetadata carries whole-batch timing.
type BatchMetadata struct {
	LatencyMs   int64     `json:"latency_ms"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// BatchEvaluate evaluates each key concurrently against the same context.
// Per-key failures are isolated into the errors map; healthy keys still
// return results.
func (o *Orchestrator) BatchEvaluate(ctx context.Context, tenantID string, keys []string, ec Context) *BatchResponse {
	start := time.Now()
	resp := &BatchResponse{Results: make(map[string]*Result, len(keys))}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			result, err := o.Evaluate(ctx, tenantID, key, ec)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if resp.Errors == nil {
					resp.Errors = make(map[string]string)
				}
				resp.Errors[key] = ReasonEvalError
				return
			}
			resp.Results[key] = result
		}(key)
	}
	wg.Wait()

	resp.Metadata = BatchMetadata{
		LatencyMs:   time.Since(start).Milliseconds(),
		EvaluatedAt: time.Now().UTC(),
	}
	return resp
}

func (o *Orchestrator) record(tenantID, key string, latency time.Duration, success bool) {
	if o.recorder != nil {
		o.recorder.Record(tenantID, key, latency, success)
	}
}

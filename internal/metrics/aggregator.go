package metrics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Row is one persisted metrics bucket. (TenantID, FlagKey, PeriodStart) is
// the natural key; upserts merge additively on it.
type Row struct {
	TenantID        string    `json:"tenant_id"`
	FlagKey         string    `json:"flag_key"`
	PeriodStart     time.Time `json:"period_start"`
	PeriodEnd       time.Time `json:"period_end"`
	EvaluationCount int64     `json:"evaluation_count"`
	SuccessCount    int64     `json:"success_count"`
	ErrorCount      int64     `json:"error_count"`
	LatencySumMs    float64   `json:"latency_sum_ms"`
}

// Store persists metric rows. UpsertBucket must be an additive merge on the
// natural key so at-least-once delivery stays correct.
type Store interface {
	UpsertBucket(ctx context.Context, row Row) error
	FlagBuckets(ctx context.Context, tenantID, flagKey string, from, to time.Time) ([]Row, error)
	TenantBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]Row, error)
}

type bucketKey struct {
	tenantID string
	flagKey  string
	period   string
}

// counters are updated atomically so evaluation-path increments never take
// the aggregator lock for longer than the map lookup.
type counters struct {
	periodStart  time.Time
	evaluations  atomic.Int64
	successes    atomic.Int64
	errors       atomic.Int64
	latencySumUs atomic.Int64
}

type sample struct {
	tenantID string
	flagKey  string
	at       time.Time
	latency  time.Duration
	success  bool
}

// Aggregator accumulates per-(tenant, flag, period) counters in memory and
// flushes them to the Store on a fixed cadence. Recording is fire-and-forget
// through a bounded queue; overflow drops the sample and bumps a counter.
type Aggregator struct {
	store         Store
	period        time.Duration
	flushInterval time.Duration

	mu      sync.RWMutex
	buckets map[bucketKey]*counters

	samples     chan sample
	dropped     atomic.Int64
	onDrop      func()
	onFlushFail func()

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// queueSize is the high-watermark for queued samples. Evaluations never
// block on metrics; beyond this bound samples are dropped.
const queueSize = 4096

// NewAggregator creates an aggregator. period <= 0 defaults to 5 minutes,
// flushInterval <= 0 to 60 seconds. onDrop is an optional instrumentation
// hook invoked when a sample is dropped.
func NewAggregator(store Store, period, flushInterval time.Duration, onDrop func()) *Aggregator {
	if period <= 0 {
		period = 5 * time.Minute
	}
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	return &Aggregator{
		store:         store,
		period:        period,
		flushInterval: flushInterval,
		buckets:       make(map[bucketKey]*counters),
		samples:       make(chan sample, queueSize),
		onDrop:        onDrop,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Record queues one evaluation outcome. Never blocks.
func (a *Aggregator) Record(tenantID, flagKey string, latency time.Duration, success bool) {
	s := sample{tenantID: tenantID, flagKey: flagKey, at: time.Now(), latency: latency, success: success}
	select {
	case a.samples <- s:
	default:
		a.dropped.Add(1)
		if a.onDrop != nil {
			a.onDrop()
		}
	}
}

// OnFlushFailure registers an instrumentation hook invoked whenever a
// bucket upsert fails. Call before Run.
func (a *Aggregator) OnFlushFailure(fn func()) {
	a.onFlushFail = fn
}

// Dropped reports how many samples were discarded due to backpressure.
func (a *Aggregator) Dropped() int64 {
	return a.dropped.Load()
}

// Run consumes samples and flushes on a ticker until Stop is called. A final
// flush runs on shutdown so in-flight counters are not lost.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case s := <-a.samples:
			a.apply(s)
		case <-ticker.C:
			a.Flush(ctx)
		case <-a.stop:
			a.drain()
			a.Flush(context.Background())
			return
		case <-ctx.Done():
			a.drain()
			a.Flush(context.Background())
			return
		}
	}
}

// Stop shuts down the flush loop after a final flush.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
}

func (a *Aggregator) drain() {
	for {
		select {
		case s := <-a.samples:
			a.apply(s)
		default:
			return
		}
	}
}

func (a *Aggregator) apply(s sample) {
	key := bucketKey{tenantID: s.tenantID, flagKey: s.flagKey, period: PeriodKey(s.at, a.period)}

	a.mu.RLock()
	c, ok := a.buckets[key]
	a.mu.RUnlock()
	if !ok {
		a.mu.Lock()
		c, ok = a.buckets[key]
		if !ok {
			c = &counters{periodStart: PeriodStart(s.at, a.period)}
			a.buckets[key] = c
		}
		a.mu.Unlock()
	}

	c.evaluations.Add(1)
	if s.success {
		c.successes.Add(1)
	} else {
		c.errors.Add(1)
	}
	c.latencySumUs.Add(s.latency.Microseconds())
}

// Flush extracts each bucket's delta by atomically swapping the counters to
// zero, then upserts it. On failure the delta is added back, so it is
// retried next tick; because extraction zeroes the counters first, a
// successfully written delta is applied exactly once. Buckets for periods
// that ended more than two windows ago are evicted once empty.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.RLock()
	keys := make([]bucketKey, 0, len(a.buckets))
	for k := range a.buckets {
		keys = append(keys, k)
	}
	a.mu.RUnlock()

	now := time.Now().UTC()
	for _, key := range keys {
		a.mu.RLock()
		c := a.buckets[key]
		a.mu.RUnlock()
		if c == nil {
			continue
		}

		evals := c.evaluations.Swap(0)
		succ := c.successes.Swap(0)
		errs := c.errors.Swap(0)
		latUs := c.latencySumUs.Swap(0)

		if evals > 0 {
			row := Row{
				TenantID:        key.tenantID,
				FlagKey:         key.flagKey,
				PeriodStart:     c.periodStart,
				PeriodEnd:       c.periodStart.Add(a.period),
				EvaluationCount: evals,
				SuccessCount:    succ,
				ErrorCount:      errs,
				LatencySumMs:    float64(latUs) / 1000.0,
			}
			if err := a.store.UpsertBucket(ctx, row); err != nil {
				slog.Warn("metrics flush failed, retaining bucket",
					"tenant_id", key.tenantID, "flag_key", key.flagKey,
					"period_start", c.periodStart, "error", err)
				if a.onFlushFail != nil {
					a.onFlushFail()
				}
				c.evaluations.Add(evals)
				c.successes.Add(succ)
				c.errors.Add(errs)
				c.latencySumUs.Add(latUs)
				continue
			}
		}

		// Evict buckets whose window closed long enough ago that late
		// samples can no longer land in them.
		if now.Sub(c.periodStart.Add(a.period)) > 2*a.period && c.evaluations.Load() == 0 {
			a.mu.Lock()
			if cur := a.buckets[key]; cur == c && cur.evaluations.Load() == 0 {
				delete(a.buckets, key)
			}
			a.mu.Unlock()
		}
	}
}

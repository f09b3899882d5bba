package metrics

import (
	"context"
	"time"
)

// FlagStats is the per-flag slice of a tenant summary.
type FlagStats struct {
	Evaluations  int64   `json:"evaluations"`
	Successes    int64   `json:"successes"`
	Errors       int64   `json:"errors"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
}

// Summary aggregates a tenant's metric rows over a time range.
type Summary struct {
	TotalEvaluations int64                `json:"total_evaluations"`
	TotalSuccess     int64                `json:"total_success"`
	TotalErrors      int64                `json:"total_errors"`
	AvgLatencyMs     float64              `json:"avg_latency_ms"`
	SuccessRate      float64              `json:"success_rate"`
	PerFlag          map[string]FlagStats `json:"per_flag"`
}

// Reader answers the read-side metric queries.
type Reader struct {
	store Store
}

// NewReader creates a reader over the given store.
func NewReader(store Store) *Reader {
	return &Reader{store: store}
}

// MetricsForFlag returns the persisted buckets for one flag, ordered by
// period start.
func (r *Reader) MetricsForFlag(ctx context.Context, tenantID, flagKey string, from, to time.Time) ([]Row, error) {
	return r.store.FlagBuckets(ctx, tenantID, flagKey, from, to)
}

// TenantSummary aggregates all of a tenant's buckets in the range into
// totals and per-flag statistics.
func (r *Reader) TenantSummary(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	rows, err := r.store.TenantBuckets(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	summary := &Summary{PerFlag: make(map[string]FlagStats)}
	latencyPerFlag := make(map[string]float64)
	var totalLatency float64

	for _, row := range rows {
		summary.TotalEvaluations += row.EvaluationCount
		summary.TotalSuccess += row.SuccessCount
		summary.TotalErrors += row.ErrorCount
		totalLatency += row.LatencySumMs

		fs := summary.PerFlag[row.FlagKey]
		fs.Evaluations += row.EvaluationCount
		fs.Successes += row.SuccessCount
		fs.Errors += row.ErrorCount
		latencyPerFlag[row.FlagKey] += row.LatencySumMs
		summary.PerFlag[row.FlagKey] = fs
	}

	if summary.TotalEvaluations > 0 {
		summary.AvgLatencyMs = totalLatency / float64(summary.TotalEvaluations)
		summary.SuccessRate = float64(summary.TotalSuccess) / float64(summary.TotalEvaluations)
	}
	for key, fs := range summary.PerFlag {
		if fs.Evaluations > 0 {
			fs.AvgLatencyMs = latencyPerFlag[key] / float64(fs.Evaluations)
			fs.SuccessRate = float64(fs.Successes) / float64(fs.Evaluations)
			summary.PerFlag[key] = fs
		}
	}
	return summary, nil
}

package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists metric rows with an additive upsert on the natural
// key, keeping duplicate delivery idempotent.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const upsertQuery = `
INSERT INTO metrics_buckets
  (tenant_id, flag_key, period_start, period_end, evaluation_count, success_count, error_count, latency_sum_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_id, flag_key, period_start) DO UPDATE SET
  evaluation_count = metrics_buckets.evaluation_count + EXCLUDED.evaluation_count,
  success_count    = metrics_buckets.success_count + EXCLUDED.success_count,
  error_count      = metrics_buckets.error_count + EXCLUDED.error_count,
  latency_sum_ms   = metrics_buckets.latency_sum_ms + EXCLUDED.latency_sum_ms`

func (s *PostgresStore) UpsertBucket(ctx context.Context, row Row) error {
	_, err := s.db.ExecContext(ctx, upsertQuery,
		row.TenantID, row.FlagKey, row.PeriodStart, row.PeriodEnd,
		row.EvaluationCount, row.SuccessCount, row.ErrorCount, row.LatencySumMs,
	)
	if err != nil {
		return fmt.Errorf("upsert metrics bucket %s/%s: %w", row.TenantID, row.FlagKey, err)
	}
	return nil
}

const flagBucketsQuery = `
SELECT tenant_id, flag_key, period_start, period_end, evaluation_count, success_count, error_count, latency_sum_ms
FROM metrics_buckets
WHERE tenant_id = $1 AND flag_key = $2 AND period_start >= $3 AND period_start < $4
ORDER BY period_start`

func (s *PostgresStore) FlagBuckets(ctx context.Context, tenantID, flagKey string, from, to time.Time) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, flagBucketsQuery, tenantID, flagKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("query flag metrics %s/%s: %w", tenantID, flagKey, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

const tenantBucketsQuery = `
SELECT tenant_id, flag_key, period_start, period_end, evaluation_count, success_count, error_count, latency_sum_ms
FROM metrics_buckets
WHERE tenant_id = $1 AND period_start >= $2 AND period_start < $3
ORDER BY period_start`

func (s *PostgresStore) TenantBuckets(ctx context.Context, tenantID string, from, to time.Time) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx, tenantBucketsQuery, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query tenant metrics %s: %w", tenantID, err)
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.TenantID, &r.FlagKey, &r.PeriodStart, &r.PeriodEnd,
			&r.EvaluationCount, &r.SuccessCount, &r.ErrorCount, &r.LatencySumMs); err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

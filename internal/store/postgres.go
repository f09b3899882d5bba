package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/flagcore/backend/internal/evaluation"
)

// PostgresRepository loads flag definitions from Postgres via database/sql.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository wraps an open connection pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const flagQuery = `
SELECT id, tenant_id, key, name, description, enabled, created_at, updated_at
FROM feature_flags
WHERE tenant_id = $1 AND key = $2`

const rulesQuery = `
SELECT id, flag_id, name, enabled, percentage, position
FROM targeting_rules
WHERE flag_id = $1
ORDER BY position, id`

const conditionsQuery = `
SELECT id, rule_id, attribute, operator, value
FROM rule_conditions
WHERE rule_id = ANY($1)
ORDER BY rule_id, id`

// FlagByKey fetches one flag with its rules and conditions. Returns
// ErrNotFound when the (tenant, key) pair does not exist.
func (r *PostgresRepository) FlagByKey(ctx context.Context, tenantID, key string) (*evaluation.Flag, error) {
	var f evaluation.Flag
	err := r.db.QueryRowContext(ctx, flagQuery, tenantID, key).Scan(
		&f.ID, &f.TenantID, &f.Key, &f.Name, &f.Description, &f.Enabled,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query flag %s/%s: %w", tenantID, key, err)
	}

	rules, ruleIDs, err := r.rulesForFlag(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if len(ruleIDs) > 0 {
		if err := r.attachConditions(ctx, rules, ruleIDs); err != nil {
			return nil, err
		}
	}

	f.Rules = make([]evaluation.Rule, 0, len(rules))
	for _, id := range ruleIDs {
		f.Rules = append(f.Rules, *rules[id])
	}
	f.Normalize()
	return &f, nil
}

func (r *PostgresRepository) rulesForFlag(ctx context.Context, flagID string) (map[string]*evaluation.Rule, []string, error) {
	rows, err := r.db.QueryContext(ctx, rulesQuery, flagID)
	if err != nil {
		return nil, nil, fmt.Errorf("query rules for flag %s: %w", flagID, err)
	}
	defer rows.Close()

	rules := make(map[string]*evaluation.Rule)
	var order []string
	for rows.Next() {
		var rule evaluation.Rule
		if err := rows.Scan(&rule.ID, &rule.FlagID, &rule.Name, &rule.Enabled, &rule.Percentage, &rule.Position); err != nil {
			return nil, nil, fmt.Errorf("scan rule: %w", err)
		}
		rules[rule.ID] = &rule
		order = append(order, rule.ID)
	}
	return rules, order, rows.Err()
}

func (r *PostgresRepository) attachConditions(ctx context.Context, rules map[string]*evaluation.Rule, ruleIDs []string) error {
	rows, err := r.db.QueryContext(ctx, conditionsQuery, pq.Array(ruleIDs))
	if err != nil {
		return fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cond evaluation.Condition
		var rawValue []byte
		if err := rows.Scan(&cond.ID, &cond.RuleID, &cond.Attribute, &cond.Operator, &rawValue); err != nil {
			return fmt.Errorf("scan condition: %w", err)
		}
		if len(rawValue) > 0 {
			if err := json.Unmarshal(rawValue, &cond.Value); err != nil {
				return fmt.Errorf("decode condition %s value: %w", cond.ID, err)
			}
		}
		if rule, ok := rules[cond.RuleID]; ok {
			rule.Conditions = append(rule.Conditions, cond)
		}
	}
	return rows.Err()
}

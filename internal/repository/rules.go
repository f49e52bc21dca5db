package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const ruleColumns = `id, tenant_id, name, description, category, weight, params, enabled, version, created_at, updated_at`

// SaveRule upserts a rule definition with tenant isolation.
func (r *SQLRepository) SaveRule(ctx context.Context, tenantID string, rule *domain.RuleDefinition) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	params := string(rule.Params)
	if params == "" {
		params = "{}"
	}

	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	rule.TenantID = tenantID

	query := `
		INSERT INTO fraud_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			weight = excluded.weight,
			params = excluded.params,
			enabled = excluded.enabled,
			version = excluded.version,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description, string(rule.Category),
		rule.Weight, params, boolToInt(rule.Enabled), rule.Version,
		rule.CreatedAt.UTC(), rule.UpdatedAt,
	)
	return err
}

// GetRule retrieves a rule owned by the tenant, falling back to a global rule.
func (r *SQLRepository) GetRule(ctx context.Context, tenantID string, ruleID string) (*domain.RuleDefinition, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM fraud_rules
		WHERE id = ? AND tenant_id IN (?, ?)
		ORDER BY CASE WHEN tenant_id = ? THEN 0 ELSE 1 END
		LIMIT 1
	`

	rule, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), ruleID, tenantID, domain.GlobalTenantID, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rule, nil
}

// ListRules retrieves the tenant's rules and the global rules, ordered by name.
func (r *SQLRepository) ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*domain.RuleDefinition, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + ruleColumns + `
		FROM fraud_rules
		WHERE tenant_id IN (?, ?)
	`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, domain.GlobalTenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.RuleDefinition
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, rows.Err()
}

// DeleteRule soft-deletes a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRule(ctx context.Context, tenantID string, ruleID string) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		UPDATE fraud_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*domain.RuleDefinition, error) {
	var rule domain.RuleDefinition
	var description sql.NullString
	var category, params string
	var enabled int

	if err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &description, &category,
		&rule.Weight, &params, &enabled, &rule.Version,
		&rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rule.Description = description.String
	rule.Category = domain.Category(category)
	rule.Params = []byte(params)
	rule.Enabled = enabled == 1
	return &rule, nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

// SaveAudit stores the audit record of a check.
func (r *SQLRepository) SaveAudit(ctx context.Context, tenantID string, rec *domain.AuditRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("%w: audit record id is required", ErrInvalidInput)
	}

	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	query := `
		INSERT INTO fraud_checks (
			id, tenant_id, reference, subject_id, rule_name, result, score, details, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.Reference, rec.SubjectID, rec.RuleName,
		string(rec.Result), rec.Score, string(details), rec.CreatedAt.UTC(),
	)
	return err
}

const auditColumns = `id, tenant_id, reference, subject_id, rule_name, result, score, details, created_at`

// GetAudit retrieves the audit record of a check by ID.
func (r *SQLRepository) GetAudit(ctx context.Context, tenantID string, checkID string) (*domain.AuditRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `SELECT ` + auditColumns + ` FROM fraud_checks WHERE tenant_id = ? AND id = ?`

	rec, err := scanAudit(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, checkID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListAudit returns audit records newest first.
func (r *SQLRepository) ListAudit(ctx context.Context, tenantID string, filter domain.AuditFilter) ([]*domain.AuditRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	conds := []string{"tenant_id = ?"}
	args := []any{tenantID}

	if filter.SubjectID != "" {
		conds = append(conds, "subject_id = ?")
		args = append(args, filter.SubjectID)
	}
	if filter.Result != "" {
		conds = append(conds, "result = ?")
		args = append(args, string(filter.Result))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	args = append(args, clampLimit(filter.Limit))

	query := `SELECT ` + auditColumns + ` FROM fraud_checks WHERE ` +
		strings.Join(conds, " AND ") +
		` ORDER BY created_at DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func scanAudit(row rowScanner) (*domain.AuditRecord, error) {
	var rec domain.AuditRecord
	var result, details string

	if err := row.Scan(
		&rec.ID, &rec.TenantID, &rec.Reference, &rec.SubjectID, &rec.RuleName,
		&result, &rec.Score, &details, &rec.CreatedAt,
	); err != nil {
		return nil, err
	}

	rec.Result = domain.AuditResult(result)
	if err := json.Unmarshal([]byte(details), &rec.Details); err != nil {
		return nil, fmt.Errorf("failed to parse audit details for %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// SaveAlert stores an alert record.
func (r *SQLRepository) SaveAlert(ctx context.Context, tenantID string, alert *domain.AlertRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if alert == nil || alert.ID == "" {
		return fmt.Errorf("%w: alert id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fraud_alerts (
			id, tenant_id, check_id, subject_id, reference, reason, score, decision, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.ID, tenantID, alert.CheckID, alert.SubjectID, alert.Reference,
		alert.Reason, alert.Score, string(alert.Decision), alert.CreatedAt.UTC(),
	)
	return err
}

// ListAlerts returns the tenant's alerts newest first.
func (r *SQLRepository) ListAlerts(ctx context.Context, tenantID string, limit int) ([]*domain.AlertRecord, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, check_id, subject_id, reference, reason, score, decision, created_at
		FROM fraud_alerts
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.AlertRecord
	for rows.Next() {
		var a domain.AlertRecord
		var decision string
		if err := rows.Scan(
			&a.ID, &a.TenantID, &a.CheckID, &a.SubjectID, &a.Reference,
			&a.Reason, &a.Score, &decision, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		a.Decision = domain.Decision(decision)
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

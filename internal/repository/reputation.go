package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SaveReputation upserts a blocklist or allowlist entry.
func (r *SQLRepository) SaveReputation(ctx context.Context, tenantID string, entry *domain.ReputationEntry) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if entry == nil || entry.Value == "" {
		return fmt.Errorf("%w: reputation value is required", ErrInvalidInput)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.TenantID = tenantID

	query := `
		INSERT INTO reputation_entries (tenant_id, kind, value, list, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, kind, value, list) DO UPDATE SET
			reason = excluded.reason
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, string(entry.Kind), entry.Value, string(entry.List),
		entry.Reason, entry.CreatedAt.UTC(),
	)
	return err
}

// DeleteReputation removes an entry from the tenant's list.
func (r *SQLRepository) DeleteReputation(ctx context.Context, tenantID string, kind domain.ReputationKind, value string, list domain.ReputationList) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}

	query := `
		DELETE FROM reputation_entries
		WHERE tenant_id = ? AND kind = ? AND value = ? AND list = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), tenantID, string(kind), value, string(list))
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

// FindReputation returns tenant and global entries matching value.
func (r *SQLRepository) FindReputation(ctx context.Context, tenantID string, kind domain.ReputationKind, value string) ([]*domain.ReputationEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, kind, value, list, reason, created_at
		FROM reputation_entries
		WHERE kind = ? AND value = ? AND tenant_id IN (?, ?)
	`
	return r.queryReputation(ctx, query, string(kind), value, tenantID, domain.GlobalTenantID)
}

// ListReputation returns the tenant's entries of one kind.
func (r *SQLRepository) ListReputation(ctx context.Context, tenantID string, kind domain.ReputationKind) ([]*domain.ReputationEntry, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT tenant_id, kind, value, list, reason, created_at
		FROM reputation_entries
		WHERE tenant_id = ? AND kind = ?
		ORDER BY value, list
	`
	return r.queryReputation(ctx, query, tenantID, string(kind))
}

func (r *SQLRepository) queryReputation(ctx context.Context, query string, args ...any) ([]*domain.ReputationEntry, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*domain.ReputationEntry
	for rows.Next() {
		var e domain.ReputationEntry
		var kind, list string
		var reason *string
		if err := rows.Scan(&e.TenantID, &kind, &e.Value, &list, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = domain.ReputationKind(kind)
		e.List = domain.ReputationList(list)
		if reason != nil {
			e.Reason = *reason
		}
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

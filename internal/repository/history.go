package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func occurredAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

// SaveOrder records a subject's order.
func (r *SQLRepository) SaveOrder(ctx context.Context, tenantID string, order *domain.OrderRecord) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if order == nil || order.OrderID == "" || order.SubjectID == "" {
		return fmt.Errorf("%w: order id and subject id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO order_history (tenant_id, order_id, subject_id, amount, currency, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, order_id) DO UPDATE SET
			amount = excluded.amount,
			currency = excluded.currency,
			occurred_at = excluded.occurred_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, order.OrderID, order.SubjectID, order.Amount.String(),
		order.Currency, occurredAt(order.OccurredAt),
	)
	return err
}

// SavePaymentAttempt records a payment attempt.
func (r *SQLRepository) SavePaymentAttempt(ctx context.Context, tenantID string, attempt *domain.PaymentAttempt) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if attempt == nil || attempt.PaymentID == "" || attempt.SubjectID == "" {
		return fmt.Errorf("%w: payment id and subject id are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO payment_attempts (tenant_id, payment_id, subject_id, amount, status, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, payment_id) DO UPDATE SET
			status = excluded.status,
			occurred_at = excluded.occurred_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tenantID, attempt.PaymentID, attempt.SubjectID, attempt.Amount.String(),
		string(attempt.Status), occurredAt(attempt.OccurredAt),
	)
	return err
}

// SaveAccountEvent records an account change.
func (r *SQLRepository) SaveAccountEvent(ctx context.Context, tenantID string, event *domain.AccountEvent) error {
	if err := requireTenant(tenantID); err != nil {
		return err
	}
	if event == nil || event.SubjectID == "" || event.Type == "" {
		return fmt.Errorf("%w: subject id and event type are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO account_events (id, tenant_id, subject_id, type, occurred_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), tenantID, event.SubjectID, event.Type, occurredAt(event.OccurredAt),
	)
	return err
}

// CountFailedPayments counts failed payment attempts since the given time.
func (r *SQLRepository) CountFailedPayments(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM payment_attempts
		WHERE tenant_id = ? AND subject_id = ? AND status = ? AND occurred_at >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, subjectID, string(domain.PaymentFailed), since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count payment failures: %w", err)
	}
	return count, nil
}

// CountIdentityEvents counts email, phone and password changes since the given time.
func (r *SQLRepository) CountIdentityEvents(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error) {
	if err := requireTenant(tenantID); err != nil {
		return 0, err
	}

	query := `
		SELECT COUNT(*) FROM account_events
		WHERE tenant_id = ? AND subject_id = ? AND type IN (?, ?, ?) AND occurred_at >= ?
	`

	var count int
	err := r.db.QueryRowContext(ctx, r.rebind(query),
		tenantID, subjectID,
		domain.EventEmailChanged, domain.EventPhoneChanged, domain.EventPasswordChanged,
		since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count identity events: %w", err)
	}
	return count, nil
}

// RecentOrderAmounts returns order amounts since the given time, oldest first.
func (r *SQLRepository) RecentOrderAmounts(ctx context.Context, tenantID, subjectID string, since time.Time) ([]decimal.Decimal, error) {
	if err := requireTenant(tenantID); err != nil {
		return nil, err
	}

	query := `
		SELECT amount FROM order_history
		WHERE tenant_id = ? AND subject_id = ? AND occurred_at >= ?
		ORDER BY occurred_at
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, subjectID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []decimal.Decimal
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid stored amount %q: %w", raw, err)
		}
		amounts = append(amounts, amt)
	}

	return amounts, rows.Err()
}

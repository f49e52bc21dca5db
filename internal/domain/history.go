package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRecord is a past order placed by a subject.
type OrderRecord struct {
	TenantID   string          `json:"tenantId"`
	SubjectID  string          `json:"subjectId" validate:"required"`
	OrderID    string          `json:"orderId" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// PaymentStatus is the final state of a payment attempt.
type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentAttempt is one payment authorization attempt by a subject.
type PaymentAttempt struct {
	TenantID   string          `json:"tenantId"`
	SubjectID  string          `json:"subjectId" validate:"required"`
	PaymentID  string          `json:"paymentId" validate:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Status     PaymentStatus   `json:"status" validate:"required,oneof=succeeded failed"`
	OccurredAt time.Time       `json:"occurredAt"`
}

// Account event types that count as identity changes.
const (
	EventEmailChanged    = "email_changed"
	EventPhoneChanged    = "phone_changed"
	EventPasswordChanged = "password_changed"
)

// IdentityEventTypes lists the account events counted by PATTERN rules.
var IdentityEventTypes = []string{EventEmailChanged, EventPhoneChanged, EventPasswordChanged}

// AccountEvent is a change to a subject's account.
type AccountEvent struct {
	TenantID   string    `json:"tenantId"`
	SubjectID  string    `json:"subjectId" validate:"required"`
	Type       string    `json:"type" validate:"required"`
	OccurredAt time.Time `json:"occurredAt"`
}

// HistoryStore answers the behavioral questions PATTERN rules ask about a
// subject. All methods are tenant scoped.
type HistoryStore interface {
	CountFailedPayments(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error)
	CountIdentityEvents(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error)
	RecentOrderAmounts(ctx context.Context, tenantID, subjectID string, since time.Time) ([]decimal.Decimal, error)
}

// HistoryEvent is the bus envelope for history ingestion.
// Exactly one of the record fields is set.
type HistoryEvent struct {
	Order   *OrderRecord    `json:"order,omitempty"`
	Payment *PaymentAttempt `json:"payment,omitempty"`
	Account *AccountEvent   `json:"account,omitempty"`
}

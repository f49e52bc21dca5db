package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// DefaultActionType is the velocity action recorded for a check when the
// caller does not name one.
const DefaultActionType = "order"

// FraudContext is the immutable input bundle for one risk check.
// It is assembled by the order service from its own user, order and
// payment records.
type FraudContext struct {
	TenantID string `json:"tenantId" validate:"required"`

	// Subject identity
	SubjectID  string `json:"subjectId" validate:"required"`
	OrderCount int    `json:"orderCount" validate:"gte=0"` // account age proxy
	Email      string `json:"email,omitempty" validate:"omitempty,email"`

	// Order / payment reference
	OrderID   string          `json:"orderId,omitempty"`
	PaymentID string          `json:"paymentId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`

	// Network origin and client fingerprint
	IPAddress string `json:"ipAddress,omitempty" validate:"omitempty,ip"`
	UserAgent string `json:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// ActionType keys the velocity counters (e.g. "order", "payment").
	ActionType string `json:"actionType,omitempty"`

	OccurredAt time.Time `json:"occurredAt,omitempty"`
}

// Reference returns the order or payment reference recorded in the audit
// trail, falling back to the subject.
func (c *FraudContext) Reference() string {
	switch {
	case c.OrderID != "":
		return c.OrderID
	case c.PaymentID != "":
		return c.PaymentID
	default:
		return c.SubjectID
	}
}

// Action returns the velocity action type for this context.
func (c *FraudContext) Action() string {
	if c.ActionType == "" {
		return DefaultActionType
	}
	return c.ActionType
}

// Fingerprint returns a stable SHA-256 digest of the normalized context.
func (c *FraudContext) Fingerprint() string {
	parts := []string{
		c.TenantID,
		c.SubjectID,
		c.Amount.String(),
		strings.ToUpper(c.Currency),
		c.IPAddress,
		c.UserAgent,
		c.SessionID,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

var contextValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the minimal fields a risk check needs.
// It returns a *ValidationError wrapping ErrInvalidContext.
func (c *FraudContext) Validate() error {
	if c == nil {
		return &ValidationError{Fields: map[string]string{"context": "is required"}}
	}

	fields := make(map[string]string)

	if err := contextValidator.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return &ValidationError{Fields: map[string]string{"context": err.Error()}}
		}
		for _, fe := range verrs {
			fields[fe.Field()] = describeTag(fe)
		}
	}

	if c.Amount.IsNegative() {
		fields["amount"] = "must not be negative"
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidateRecord checks the struct tags of a history or reputation record.
// It returns an error wrapping ErrInvalidRecord.
func ValidateRecord(v any) error {
	err := contextValidator.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+" "+describeTag(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidRecord, strings.Join(parts, "; "))
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gte":
		return "must be >= " + fe.Param()
	case "len":
		return "must be " + fe.Param() + " characters"
	case "ip":
		return "must be a valid IP address"
	case "email":
		return "must be a valid email address"
	case "alpha":
		return "must contain letters only"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

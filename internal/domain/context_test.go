package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func validContext() *FraudContext {
	return &FraudContext{
		TenantID:  "tenant-001",
		SubjectID: "user-001",
		OrderID:   "order-001",
		Amount:    decimal.NewFromInt(50),
		Currency:  "USD",
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0",
	}
}

func TestFraudContextValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		if err := validContext().Validate(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("NilContext", func(t *testing.T) {
		var fc *FraudContext
		if err := fc.Validate(); !errors.Is(err, ErrInvalidContext) {
			t.Errorf("expected ErrInvalidContext, got %v", err)
		}
	})

	tests := []struct {
		name   string
		mutate func(*FraudContext)
		field  string
	}{
		{"MissingTenant", func(c *FraudContext) { c.TenantID = "" }, "tenantId"},
		{"MissingSubject", func(c *FraudContext) { c.SubjectID = "" }, "subjectId"},
		{"NegativeOrderCount", func(c *FraudContext) { c.OrderCount = -1 }, "orderCount"},
		{"NegativeAmount", func(c *FraudContext) { c.Amount = decimal.NewFromInt(-5) }, "amount"},
		{"BadIP", func(c *FraudContext) { c.IPAddress = "not-an-ip" }, "ipAddress"},
		{"BadEmail", func(c *FraudContext) { c.Email = "nope" }, "email"},
		{"BadCurrency", func(c *FraudContext) { c.Currency = "DOLLARS" }, "currency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := validContext()
			tt.mutate(fc)

			err := fc.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if !errors.Is(err, ErrInvalidContext) {
				t.Error("validation error should wrap ErrInvalidContext")
			}
			if _, ok := verr.Fields[tt.field]; !ok {
				t.Errorf("expected field %q in %v", tt.field, verr.Fields)
			}
		})
	}
}

func TestFraudContextReference(t *testing.T) {
	fc := validContext()
	if got := fc.Reference(); got != "order-001" {
		t.Errorf("expected order reference, got %s", got)
	}

	fc.OrderID = ""
	fc.PaymentID = "pay-001"
	if got := fc.Reference(); got != "pay-001" {
		t.Errorf("expected payment reference, got %s", got)
	}

	fc.PaymentID = ""
	if got := fc.Reference(); got != "user-001" {
		t.Errorf("expected subject fallback, got %s", got)
	}
}

func TestFraudContextAction(t *testing.T) {
	fc := validContext()
	if fc.Action() != DefaultActionType {
		t.Errorf("expected default action %s, got %s", DefaultActionType, fc.Action())
	}
	fc.ActionType = "payment"
	if fc.Action() != "payment" {
		t.Errorf("expected payment, got %s", fc.Action())
	}
}

func TestFraudContextFingerprint(t *testing.T) {
	a := validContext()
	b := validContext()
	b.Currency = "usd"
	b.Amount = decimal.RequireFromString("50.00")

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint should ignore currency case and amount scale")
	}
	if len(a.Fingerprint()) != 64 {
		t.Errorf("expected hex sha256, got %q", a.Fingerprint())
	}

	b.IPAddress = "198.51.100.1"
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprint should change with IP address")
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"tenantId": "is required", "amount": "must not be negative"}}
	msg := err.Error()
	if !strings.HasPrefix(msg, ErrInvalidContext.Error()) {
		t.Errorf("unexpected message %q", msg)
	}
	if strings.Index(msg, "amount") > strings.Index(msg, "tenantId") {
		t.Errorf("fields should be sorted: %q", msg)
	}
}

func TestValidateRecord(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		rec := &PaymentAttempt{SubjectID: "user-1", PaymentID: "p-1", Status: PaymentFailed}
		if err := ValidateRecord(rec); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("UnknownStatus", func(t *testing.T) {
		rec := &PaymentAttempt{SubjectID: "user-1", PaymentID: "p-1", Status: "pending"}
		err := ValidateRecord(rec)
		if !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
		if !strings.Contains(err.Error(), "status must be one of") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		err := ValidateRecord(&ReputationEntry{Kind: ReputationIP})
		if !errors.Is(err, ErrInvalidRecord) {
			t.Fatalf("expected ErrInvalidRecord, got %v", err)
		}
		if !strings.Contains(err.Error(), "value is required") || !strings.Contains(err.Error(), "list is required") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})
}

package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"VELOCITY", CategoryVelocity, false},
		{"amount", CategoryAmount, false},
		{" location ", CategoryLocation, false},
		{"custom", CategoryCustom, false},
		{"high_value_amount_rule", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCategory(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidRule) {
					t.Errorf("expected ErrInvalidRule, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestDecodeParamsDefaults(t *testing.T) {
	t.Run("VelocityDefaults", func(t *testing.T) {
		rule := &RuleDefinition{Category: CategoryVelocity}
		var p VelocityParams
		if err := rule.DecodeParams(&p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Window() != 3600 || p.Limit() != 5 {
			t.Errorf("unexpected defaults: window %d, limit %d", p.Window(), p.Limit())
		}
	})

	t.Run("VelocityExplicitZero", func(t *testing.T) {
		rule := &RuleDefinition{Category: CategoryVelocity, Params: json.RawMessage(`{"maxCount":0}`)}
		var p VelocityParams
		if err := rule.DecodeParams(&p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Limit() != 0 {
			t.Errorf("explicit zero replaced by %d", p.Limit())
		}
	})

	t.Run("AmountFromString", func(t *testing.T) {
		rule := &RuleDefinition{Category: CategoryAmount, Params: json.RawMessage(`{"maxAmount":"250.50"}`)}
		var p AmountParams
		if err := rule.DecodeParams(&p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !p.Limit().Equal(decimal.RequireFromString("250.5")) {
			t.Errorf("expected 250.5, got %s", p.Limit())
		}
	})

	t.Run("AmountDefault", func(t *testing.T) {
		var p AmountParams
		if !p.Limit().Equal(DefaultMaxAmount) {
			t.Errorf("expected default limit, got %s", p.Limit())
		}
	})

	t.Run("PatternDefaults", func(t *testing.T) {
		var p PatternParams
		if p.FailedPayments() != 3 || p.IdentityChanges() != 2 || !p.Multiplier().Equal(decimal.NewFromInt(3)) {
			t.Errorf("unexpected defaults: %+v", p)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		rule := &RuleDefinition{Category: CategoryVelocity, Params: json.RawMessage(`{"maxCount":"lots"}`)}
		var p VelocityParams
		if err := rule.DecodeParams(&p); err == nil {
			t.Error("expected decode error")
		}
	})
}

func TestRuleOutcomeContribution(t *testing.T) {
	passed := RuleOutcome{Passed: true, Score: 0, Weight: 3}
	if passed.Contribution() != 0 {
		t.Errorf("passed outcome should contribute 0")
	}
	failed := RuleOutcome{Passed: false, Score: 0.5, Weight: 2}
	if failed.Contribution() != 1.0 {
		t.Errorf("expected 1.0, got %f", failed.Contribution())
	}
}

func TestAuditRecordRoundTrip(t *testing.T) {
	fc := &FraudContext{TenantID: "t1", SubjectID: "u1", OrderID: "o1", IPAddress: "10.0.0.1"}
	res := &CheckResult{
		ID:                   "chk-1",
		TenantID:             "t1",
		SubjectID:            "u1",
		Reference:            "o1",
		Score:                0.6,
		Passed:               true,
		RequiresManualReview: true,
		Decision:             DecisionManualReview,
	}

	rec := NewAuditRecord(res, fc)
	if rec.RuleName != AuditRuleName {
		t.Errorf("expected rule name %s, got %s", AuditRuleName, rec.RuleName)
	}
	if rec.Result != AuditPass {
		t.Errorf("expected PASS, got %s", rec.Result)
	}
	if rec.Details.Fingerprint == "" || rec.Details.IPAddress != "10.0.0.1" {
		t.Errorf("details not populated: %+v", rec.Details)
	}

	back := rec.ToCheckResult()
	if back.Decision != DecisionManualReview || !back.RequiresManualReview || back.Score != 0.6 {
		t.Errorf("unexpected reconstruction: %+v", back)
	}

	res.Passed = false
	res.RequiresManualReview = false
	rec = NewAuditRecord(res, fc)
	if rec.Result != AuditFail || rec.ToCheckResult().Decision != DecisionBlock {
		t.Errorf("failed check should be recorded as FAIL/BLOCK")
	}
}

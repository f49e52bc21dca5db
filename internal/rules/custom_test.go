package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestCustomCompiler(t *testing.T) {
	c, err := NewCustomCompiler()
	if err != nil {
		t.Fatalf("failed to create compiler: %v", err)
	}

	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"amount > 1000.0", false},
		{"order_count < 1 ? 0.5 : 0.0", false},
		{"size(email) > 0 && ip_blocked", false},
		{"order_count", false},
		{"currency", true},
		{"this is not valid CEL !!!", true},
		{"unknown_var > 1", true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := c.Compile(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("Compile(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestEvaluateCustom(t *testing.T) {
	ctx := context.Background()
	rep := &fakeReputation{
		ips:    map[string]domain.Verdict{"192.0.2.66": domain.VerdictBlocked},
		emails: map[string]domain.Verdict{"fraud@example.com": domain.VerdictBlocked},
	}
	e := newTestEvaluator(t, WithReputation(rep))

	tests := []struct {
		name     string
		expr     string
		amount   string
		ip       string
		email    string
		passed   bool
		severity float64
	}{
		{"Empty", "", "10", "", "", true, 0},
		{"BoolTrue", "amount > 100.0", "500", "", "", false, 1.0},
		{"BoolFalse", "amount > 100.0", "50", "", "", true, 0},
		{"Numeric", "amount / 1000.0", "500", "", "", false, 0.5},
		{"NumericClamped", "amount / 100.0", "5000", "", "", false, 2},
		{"NegativeIsPass", "-1.0", "1", "", "", true, 0},
		{"NewAccount", "order_count == 0 && amount > 200.0", "300", "", "", false, 1.0},
		{"IPBlocked", "ip_blocked", "1", "192.0.2.66", "", false, 1.0},
		{"IPNotBlocked", "ip_blocked", "1", "192.0.2.1", "", true, 0},
		{"EmailBlocked", "email_blocked ? 1.5 : 0.0", "1", "", "fraud@example.com", false, 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := newRule("custom-"+tt.name, domain.CategoryCustom, 1, "")
			if tt.expr != "" {
				rule.Params = []byte(`{"expression":` + quote(tt.expr) + `}`)
			}
			fc := newContext(tt.amount)
			fc.IPAddress = tt.ip
			fc.Email = tt.email

			out := e.Evaluate(ctx, rule, fc)
			if out.Neutralized {
				t.Fatalf("unexpected neutralized outcome: %s", out.Reason)
			}
			if out.Passed != tt.passed {
				t.Errorf("expected passed=%v, got %v (%s)", tt.passed, out.Passed, out.Reason)
			}
			if out.Score != tt.severity {
				t.Errorf("expected severity %v, got %v", tt.severity, out.Score)
			}
		})
	}

	t.Run("CompileErrorNeutralized", func(t *testing.T) {
		rule := newRule("broken", domain.CategoryCustom, 1, `{"expression":"amount >"}`)
		out := e.Evaluate(ctx, rule, newContext("1"))
		if !out.Neutralized || !strings.HasPrefix(out.Reason, "rule evaluation error") {
			t.Errorf("expected neutralized outcome, got %+v", out)
		}
	})

	t.Run("ProgramRecompiledOnChange", func(t *testing.T) {
		rule := newRule("changing", domain.CategoryCustom, 1, `{"expression":"amount > 10.0"}`)
		if out := e.Evaluate(ctx, rule, newContext("20")); out.Passed {
			t.Fatal("expected first expression to match")
		}
		rule.Params = []byte(`{"expression":"amount > 100.0"}`)
		if out := e.Evaluate(ctx, rule, newContext("20")); !out.Passed {
			t.Error("expected updated expression to be used")
		}
	})
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

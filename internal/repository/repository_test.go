package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/shopspring/decimal"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
		os.Remove(tmpPath)
	})
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := repo.SaveRule(ctx, "", &domain.RuleDefinition{ID: "r"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.GetAudit(ctx, "", "chk"); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.CountFailedPayments(ctx, "", "u", time.Now()); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRuleStorage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	amountRule := &domain.RuleDefinition{
		ID:       "rule-amount",
		Name:     "high_amount",
		Category: domain.CategoryAmount,
		Weight:   2,
		Params:   json.RawMessage(`{"maxAmount":1000}`),
		Enabled:  true,
		Version:  "1.0.0",
	}
	globalRule := &domain.RuleDefinition{
		ID:       "rule-velocity",
		Name:     "burst_orders",
		Category: domain.CategoryVelocity,
		Weight:   1,
		Enabled:  true,
		Version:  "1.0.0",
	}
	disabledRule := &domain.RuleDefinition{
		ID:       "rule-device",
		Name:     "device_check",
		Category: domain.CategoryDevice,
		Weight:   1,
		Enabled:  false,
		Version:  "1.0.0",
	}

	for tenant, rule := range map[string]*domain.RuleDefinition{
		tenantID:              amountRule,
		domain.GlobalTenantID: globalRule,
	} {
		if err := repo.SaveRule(ctx, tenant, rule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
	}
	if err := repo.SaveRule(ctx, tenantID, disabledRule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}

	t.Run("GetRule", func(t *testing.T) {
		got, err := repo.GetRule(ctx, tenantID, "rule-amount")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Category != domain.CategoryAmount || got.Weight != 2 {
			t.Errorf("unexpected rule: %+v", got)
		}
		var p domain.AmountParams
		if err := got.DecodeParams(&p); err != nil {
			t.Fatalf("DecodeParams failed: %v", err)
		}
		if !p.Limit().Equal(decimal.NewFromInt(1000)) {
			t.Errorf("expected maxAmount 1000, got %s", p.Limit())
		}
	})

	t.Run("GetGlobalRuleFromTenant", func(t *testing.T) {
		got, err := repo.GetRule(ctx, tenantID, "rule-velocity")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.TenantID != domain.GlobalTenantID {
			t.Errorf("expected global rule, got tenant %s", got.TenantID)
		}
	})

	t.Run("ListEnabled", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, tenantID, true)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 2 {
			t.Fatalf("expected 2 enabled rules, got %d", len(rules))
		}
		// Ordered by name
		if rules[0].Name != "burst_orders" || rules[1].Name != "high_amount" {
			t.Errorf("unexpected order: %s, %s", rules[0].Name, rules[1].Name)
		}
	})

	t.Run("ListAll", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, tenantID, false)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 3 {
			t.Errorf("expected 3 rules, got %d", len(rules))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		rules, err := repo.ListRules(ctx, "tenant-002", true)
		if err != nil {
			t.Fatalf("ListRules failed: %v", err)
		}
		if len(rules) != 1 || rules[0].ID != "rule-velocity" {
			t.Errorf("other tenant should only see global rules, got %d", len(rules))
		}
		if _, err := repo.GetRule(ctx, "tenant-002", "rule-amount"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		amountRule.Weight = 3
		if err := repo.SaveRule(ctx, tenantID, amountRule); err != nil {
			t.Fatalf("SaveRule failed: %v", err)
		}
		got, _ := repo.GetRule(ctx, tenantID, "rule-amount")
		if got.Weight != 3 {
			t.Errorf("expected updated weight 3, got %f", got.Weight)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteRule(ctx, tenantID, "rule-amount"); err != nil {
			t.Fatalf("DeleteRule failed: %v", err)
		}
		got, err := repo.GetRule(ctx, tenantID, "rule-amount")
		if err != nil {
			t.Fatalf("GetRule failed: %v", err)
		}
		if got.Enabled {
			t.Error("deleted rule should be disabled")
		}
		if err := repo.DeleteRule(ctx, tenantID, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAuditAndAlerts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	records := []*domain.AuditRecord{
		{
			ID: "chk-1", Reference: "order-1", SubjectID: "user-1", RuleName: domain.AuditRuleName,
			Result: domain.AuditPass, Score: 0.1, CreatedAt: now.Add(-2 * time.Hour),
			Details: domain.AuditDetails{IPAddress: "10.0.0.1", ProcessingTimeMs: 4},
		},
		{
			ID: "chk-2", Reference: "order-2", SubjectID: "user-1", RuleName: domain.AuditRuleName,
			Result: domain.AuditFail, Score: 2.0, CreatedAt: now.Add(-time.Minute),
			Details: domain.AuditDetails{
				BlockedReason: "amount 5000 exceeds limit 1000",
				Rules:         []domain.RuleOutcome{{RuleID: "r1", RuleName: "high_amount", Score: 2, Weight: 1}},
			},
		},
		{
			ID: "chk-3", Reference: "order-3", SubjectID: "user-2", RuleName: domain.AuditRuleName,
			Result: domain.AuditPass, Score: 0, CreatedAt: now,
		},
	}
	for _, rec := range records {
		if err := repo.SaveAudit(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveAudit failed: %v", err)
		}
	}

	t.Run("GetAudit", func(t *testing.T) {
		got, err := repo.GetAudit(ctx, tenantID, "chk-2")
		if err != nil {
			t.Fatalf("GetAudit failed: %v", err)
		}
		if got.Result != domain.AuditFail || got.Details.BlockedReason == "" {
			t.Errorf("unexpected record: %+v", got)
		}
		if len(got.Details.Rules) != 1 || got.Details.Rules[0].RuleName != "high_amount" {
			t.Errorf("rules not round-tripped: %+v", got.Details.Rules)
		}
		if _, err := repo.GetAudit(ctx, "tenant-002", "chk-2"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got %v", err)
		}
	})

	t.Run("ListAuditFilters", func(t *testing.T) {
		tests := []struct {
			name   string
			filter domain.AuditFilter
			want   []string
		}{
			{"All", domain.AuditFilter{}, []string{"chk-3", "chk-2", "chk-1"}},
			{"BySubject", domain.AuditFilter{SubjectID: "user-1"}, []string{"chk-2", "chk-1"}},
			{"ByResult", domain.AuditFilter{Result: domain.AuditFail}, []string{"chk-2"}},
			{"Since", domain.AuditFilter{Since: now.Add(-time.Hour)}, []string{"chk-3", "chk-2"}},
			{"Limit", domain.AuditFilter{Limit: 1}, []string{"chk-3"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := repo.ListAudit(ctx, tenantID, tt.filter)
				if err != nil {
					t.Fatalf("ListAudit failed: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("expected %d records, got %d", len(tt.want), len(got))
				}
				for i, id := range tt.want {
					if got[i].ID != id {
						t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
					}
				}
			})
		}
	})

	t.Run("Alerts", func(t *testing.T) {
		alert := &domain.AlertRecord{
			ID: "alert-1", CheckID: "chk-2", SubjectID: "user-1", Reference: "order-2",
			Reason: "amount 5000 exceeds limit 1000", Score: 2, Decision: domain.DecisionBlock,
			CreatedAt: now,
		}
		if err := repo.SaveAlert(ctx, tenantID, alert); err != nil {
			t.Fatalf("SaveAlert failed: %v", err)
		}

		alerts, err := repo.ListAlerts(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListAlerts failed: %v", err)
		}
		if len(alerts) != 1 || alerts[0].Decision != domain.DecisionBlock || alerts[0].CheckID != "chk-2" {
			t.Errorf("unexpected alerts: %+v", alerts)
		}

		other, _ := repo.ListAlerts(ctx, "tenant-002", 10)
		if len(other) != 0 {
			t.Error("alerts leaked across tenants")
		}
	})
}

func TestReputationStorage(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"

	entries := map[string]*domain.ReputationEntry{
		tenantID:              {Kind: domain.ReputationIP, Value: "203.0.113.7", List: domain.ListBlock, Reason: "chargebacks"},
		domain.GlobalTenantID: {Kind: domain.ReputationIP, Value: "203.0.113.7", List: domain.ListAllow},
	}
	for tenant, e := range entries {
		if err := repo.SaveReputation(ctx, tenant, e); err != nil {
			t.Fatalf("SaveReputation failed: %v", err)
		}
	}

	t.Run("FindIncludesGlobal", func(t *testing.T) {
		found, err := repo.FindReputation(ctx, tenantID, domain.ReputationIP, "203.0.113.7")
		if err != nil {
			t.Fatalf("FindReputation failed: %v", err)
		}
		if len(found) != 2 {
			t.Fatalf("expected tenant and global entries, got %d", len(found))
		}

		other, _ := repo.FindReputation(ctx, "tenant-002", domain.ReputationIP, "203.0.113.7")
		if len(other) != 1 || other[0].List != domain.ListAllow {
			t.Errorf("other tenant should only see the global entry: %+v", other)
		}
	})

	t.Run("List", func(t *testing.T) {
		list, err := repo.ListReputation(ctx, tenantID, domain.ReputationIP)
		if err != nil {
			t.Fatalf("ListReputation failed: %v", err)
		}
		if len(list) != 1 || list[0].Reason != "chargebacks" {
			t.Errorf("unexpected list: %+v", list)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := repo.DeleteReputation(ctx, tenantID, domain.ReputationIP, "203.0.113.7", domain.ListBlock); err != nil {
			t.Fatalf("DeleteReputation failed: %v", err)
		}
		err := repo.DeleteReputation(ctx, tenantID, domain.ReputationIP, "203.0.113.7", domain.ListBlock)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestHistoryStore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC()

	for i, amt := range []string{"100", "120.50", "80"} {
		order := &domain.OrderRecord{
			SubjectID:  "user-1",
			OrderID:    "order-" + string(rune('a'+i)),
			Amount:     decimal.RequireFromString(amt),
			Currency:   "USD",
			OccurredAt: now.Add(-time.Duration(3-i) * time.Hour),
		}
		if err := repo.SaveOrder(ctx, tenantID, order); err != nil {
			t.Fatalf("SaveOrder failed: %v", err)
		}
	}
	// Outside the 7 day window
	_ = repo.SaveOrder(ctx, tenantID, &domain.OrderRecord{
		SubjectID: "user-1", OrderID: "order-old", Amount: decimal.NewFromInt(9999),
		OccurredAt: now.Add(-10 * 24 * time.Hour),
	})

	for i, status := range []domain.PaymentStatus{domain.PaymentFailed, domain.PaymentFailed, domain.PaymentSucceeded} {
		attempt := &domain.PaymentAttempt{
			SubjectID:  "user-1",
			PaymentID:  "pay-" + string(rune('a'+i)),
			Amount:     decimal.NewFromInt(50),
			Status:     status,
			OccurredAt: now.Add(-time.Hour),
		}
		if err := repo.SavePaymentAttempt(ctx, tenantID, attempt); err != nil {
			t.Fatalf("SavePaymentAttempt failed: %v", err)
		}
	}

	for _, typ := range []string{domain.EventEmailChanged, domain.EventPasswordChanged, "profile_viewed"} {
		ev := &domain.AccountEvent{SubjectID: "user-1", Type: typ, OccurredAt: now.Add(-10 * time.Minute)}
		if err := repo.SaveAccountEvent(ctx, tenantID, ev); err != nil {
			t.Fatalf("SaveAccountEvent failed: %v", err)
		}
	}

	t.Run("RecentOrderAmounts", func(t *testing.T) {
		amounts, err := repo.RecentOrderAmounts(ctx, tenantID, "user-1", now.Add(-domain.OrderSpikeWindow))
		if err != nil {
			t.Fatalf("RecentOrderAmounts failed: %v", err)
		}
		if len(amounts) != 3 {
			t.Fatalf("expected 3 recent orders, got %d", len(amounts))
		}
		if !amounts[1].Equal(decimal.RequireFromString("120.5")) {
			t.Errorf("expected 120.5, got %s", amounts[1])
		}
	})

	t.Run("CountFailedPayments", func(t *testing.T) {
		n, err := repo.CountFailedPayments(ctx, tenantID, "user-1", now.Add(-domain.FailedPaymentWindow))
		if err != nil {
			t.Fatalf("CountFailedPayments failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 failed payments, got %d", n)
		}
	})

	t.Run("CountIdentityEvents", func(t *testing.T) {
		n, err := repo.CountIdentityEvents(ctx, tenantID, "user-1", now.Add(-domain.IdentityChangeWindow))
		if err != nil {
			t.Fatalf("CountIdentityEvents failed: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 identity events, got %d", n)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		n, _ := repo.CountFailedPayments(ctx, "tenant-002", "user-1", now.Add(-domain.FailedPaymentWindow))
		if n != 0 {
			t.Errorf("expected 0 for other tenant, got %d", n)
		}
	})

	t.Run("RequiresIDs", func(t *testing.T) {
		err := repo.SaveOrder(ctx, tenantID, &domain.OrderRecord{SubjectID: "user-1"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

package decision

import (
	"slices"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func rule(id string, category domain.Category, weight float64) *domain.RuleDefinition {
	return &domain.RuleDefinition{ID: id, Name: id, Category: category, Weight: weight, Enabled: true}
}

func TestAggregate(t *testing.T) {
	t.Run("NoRules", func(t *testing.T) {
		if got := Aggregate(nil, nil); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("ZeroTotalWeight", func(t *testing.T) {
		r := rule("r", domain.CategoryAmount, 0)
		outcomes := []domain.RuleOutcome{{RuleID: "r", Passed: false, Score: 2, Weight: 0}}
		if got := Aggregate(outcomes, []*domain.RuleDefinition{r}); got != 0 {
			t.Errorf("expected 0, got %v", got)
		}
	})

	t.Run("DisabledRulesExcludedFromWeight", func(t *testing.T) {
		off := rule("off", domain.CategoryAmount, 5)
		off.Enabled = false
		on := rule("on", domain.CategoryVelocity, 1)
		outcomes := []domain.RuleOutcome{{RuleID: "on", Passed: false, Score: 1, Weight: 1}}
		if got := Aggregate(outcomes, []*domain.RuleDefinition{off, on}); got != 1 {
			t.Errorf("expected 1, got %v", got)
		}
	})

	t.Run("WeightedMean", func(t *testing.T) {
		rules := []*domain.RuleDefinition{
			rule("amount", domain.CategoryAmount, 2),
			rule("location", domain.CategoryLocation, 1),
		}
		outcomes := []domain.RuleOutcome{
			{RuleID: "amount", Passed: false, Score: 0.5, Weight: 2},
			{RuleID: "location", Passed: true, Weight: 1},
		}
		got := Aggregate(outcomes, rules)
		if got < 0.333 || got > 0.334 {
			t.Errorf("expected ~0.333, got %v", got)
		}
	})

	t.Run("NotClamped", func(t *testing.T) {
		rules := []*domain.RuleDefinition{rule("amount", domain.CategoryAmount, 1)}
		outcomes := []domain.RuleOutcome{{RuleID: "amount", Passed: false, Score: 2, Weight: 1}}
		if got := Aggregate(outcomes, rules); got != 2 {
			t.Errorf("expected 2, got %v", got)
		}
	})
}

func TestDecide(t *testing.T) {
	tests := []struct {
		score    float64
		passed   bool
		review   bool
		decision domain.Decision
	}{
		{0, true, false, domain.DecisionPass},
		{0.49, true, false, domain.DecisionPass},
		{0.5, true, true, domain.DecisionManualReview},
		{0.69, true, true, domain.DecisionManualReview},
		{0.7, false, false, domain.DecisionBlock},
		{2, false, false, domain.DecisionBlock},
	}

	for _, tt := range tests {
		got := Decide(tt.score, nil)
		if got.Passed != tt.passed {
			t.Errorf("score %v: expected passed=%v, got %v", tt.score, tt.passed, got.Passed)
		}
		if got.RequiresManualReview != tt.review {
			t.Errorf("score %v: expected review=%v, got %v", tt.score, tt.review, got.RequiresManualReview)
		}
		if got.Decision != tt.decision {
			t.Errorf("score %v: expected %s, got %s", tt.score, tt.decision, got.Decision)
		}
		if got.Passed && got.RequiresManualReview && tt.score < domain.ReviewThreshold {
			t.Errorf("score %v: review flag outside the review band", tt.score)
		}
	}
}

func TestBlockedReason(t *testing.T) {
	outcomes := []domain.RuleOutcome{
		{RuleName: "a", Passed: false, Score: 0.9, Reason: "almost"},
		{RuleName: "b", Passed: true, Reason: "fine"},
		{RuleName: "c", Passed: false, Score: 1.0, Reason: "velocity exceeded"},
		{RuleName: "d", Passed: false, Score: 2.0, Reason: "amount exceeded"},
	}
	if got := BlockedReason(outcomes); got != "velocity exceeded" {
		t.Errorf("expected first immediate-block reason, got %q", got)
	}

	if got := BlockedReason(outcomes[:2]); got != "" {
		t.Errorf("expected no blocked reason, got %q", got)
	}

	// A blocked reason does not change the decision on its own.
	d := Decide(0.1, outcomes)
	if !d.Passed || d.BlockedReason == "" {
		t.Errorf("expected passing decision with blocked reason, got %+v", d)
	}
	res := &domain.CheckResult{}
	d.Apply(res)
	if !ShouldAlert(res) {
		t.Error("immediate-block rule should alert")
	}
}

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		name string
		res  domain.CheckResult
		want bool
	}{
		{"Pass", domain.CheckResult{Decision: domain.DecisionPass}, false},
		{"Review", domain.CheckResult{Decision: domain.DecisionManualReview}, false},
		{"Block", domain.CheckResult{Decision: domain.DecisionBlock}, true},
		{"BlockedReasonOnly", domain.CheckResult{Decision: domain.DecisionPass, BlockedReason: "velocity exceeded"}, true},
		{"Degraded", domain.CheckResult{Decision: domain.DecisionManualReview, Degraded: true, BlockedReason: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldAlert(&tt.res); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestRecommendations(t *testing.T) {
	t.Run("BlockBand", func(t *testing.T) {
		got := Recommendations(0.95, nil)
		want := []string{"Block transaction immediately", "Add subject to watchlist"}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("FraudBand", func(t *testing.T) {
		got := Recommendations(0.7, nil)
		if !slices.Contains(got, "Hold payment for manual review") {
			t.Errorf("unexpected recommendations %v", got)
		}
	})

	t.Run("ReviewBand", func(t *testing.T) {
		got := Recommendations(0.5, nil)
		if !slices.Contains(got, "Monitor transaction closely") {
			t.Errorf("unexpected recommendations %v", got)
		}
	})

	t.Run("LowScore", func(t *testing.T) {
		got := Recommendations(0.1, nil)
		if got == nil || len(got) != 0 {
			t.Errorf("expected empty non-nil list, got %#v", got)
		}
	})

	t.Run("CategoryDeduplicated", func(t *testing.T) {
		outcomes := []domain.RuleOutcome{
			{Category: domain.CategoryAmount, Passed: false, Score: 2},
			{Category: domain.CategoryAmount, Passed: false, Score: 1.5},
			{Category: domain.CategoryVelocity, Passed: true},
		}
		got := Recommendations(1.2, outcomes)
		want := []string{
			"Block transaction immediately",
			"Add subject to watchlist",
			"Verify source of funds",
		}
		if !slices.Equal(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestDegraded(t *testing.T) {
	d := Degraded()
	if d.Score != 0.5 || !d.Passed || !d.RequiresManualReview {
		t.Errorf("unexpected degraded outcome %+v", d)
	}
	if d.Decision != domain.DecisionManualReview {
		t.Errorf("expected MANUAL_REVIEW, got %s", d.Decision)
	}
	if len(d.Recommendations) != 1 || d.Recommendations[0] != domain.DegradedRecommendation {
		t.Errorf("unexpected recommendations %v", d.Recommendations)
	}

	res := &domain.CheckResult{}
	d.Apply(res)
	if res.Decision != domain.DecisionManualReview || res.Score != 0.5 {
		t.Errorf("Apply did not copy the outcome: %+v", res)
	}
}

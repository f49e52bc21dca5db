// Package decision aggregates rule outcomes into a score and maps the score
// to a PASS, MANUAL_REVIEW or BLOCK decision.
package decision

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// ImmediateBlockSeverity is the pre-weight severity at which a single
// failing rule sets the blocked reason.
const ImmediateBlockSeverity = 1.0

// Score band recommendations.
var (
	blockRecommendations = []string{
		"Block transaction immediately",
		"Add subject to watchlist",
	}
	fraudRecommendations = []string{
		"Require additional verification",
		"Hold payment for manual review",
	}
	reviewRecommendations = []string{
		"Monitor transaction closely",
		"Request additional documentation if needed",
	}
)

// categoryRecommendations are added for each failed rule category.
var categoryRecommendations = map[domain.Category]string{
	domain.CategoryVelocity: "Verify recent account activity with the customer",
	domain.CategoryAmount:   "Verify source of funds",
	domain.CategoryLocation: "Verify customer location",
	domain.CategoryPattern:  "Review recent account changes and payment failures",
	domain.CategoryDevice:   "Verify the customer device",
	domain.CategoryCustom:   "Review custom rule findings",
}

// Outcome is the decision derived from a score and the rule outcomes.
type Outcome struct {
	Score                float64
	Passed               bool
	RequiresManualReview bool
	Decision             domain.Decision
	BlockedReason        string
	Recommendations      []string
}

// Aggregate returns the sum of failed contributions divided by the total
// weight of the active rules, or 0 when that weight is 0. The result is not
// clamped: severities above 1 can push it past 1.
func Aggregate(outcomes []domain.RuleOutcome, rules []*domain.RuleDefinition) float64 {
	var totalWeight float64
	for _, r := range rules {
		if r == nil || !r.Enabled || r.Weight <= 0 {
			continue
		}
		totalWeight += r.Weight
	}
	if totalWeight == 0 {
		return 0
	}

	var total float64
	for _, o := range outcomes {
		total += o.Contribution()
	}
	return total / totalWeight
}

// DecisionFor maps a score to a decision.
func DecisionFor(score float64) domain.Decision {
	switch {
	case score >= domain.FraudThreshold:
		return domain.DecisionBlock
	case score >= domain.ReviewThreshold:
		return domain.DecisionManualReview
	default:
		return domain.DecisionPass
	}
}

// Decide applies the thresholds to score. Outcomes must be in evaluation
// order; the first immediate-block outcome supplies the blocked reason.
func Decide(score float64, outcomes []domain.RuleOutcome) Outcome {
	return Outcome{
		Score:                score,
		Passed:               score < domain.FraudThreshold,
		RequiresManualReview: score >= domain.ReviewThreshold && score < domain.FraudThreshold,
		Decision:             DecisionFor(score),
		BlockedReason:        BlockedReason(outcomes),
		Recommendations:      Recommendations(score, outcomes),
	}
}

// BlockedReason returns the reason of the first failed outcome whose
// pre-weight severity is at least ImmediateBlockSeverity.
func BlockedReason(outcomes []domain.RuleOutcome) string {
	for _, o := range outcomes {
		if o.Passed || o.Score < ImmediateBlockSeverity {
			continue
		}
		if o.Reason != "" {
			return o.Reason
		}
		return "rule " + o.RuleName + " failed"
	}
	return ""
}

// Recommendations returns the score band recommendations followed by one
// recommendation per failed rule category, de-duplicated.
func Recommendations(score float64, outcomes []domain.RuleOutcome) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(recs ...string) {
		for _, r := range recs {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			out = append(out, r)
		}
	}

	switch {
	case score >= 0.9:
		add(blockRecommendations...)
	case score >= domain.FraudThreshold:
		add(fraudRecommendations...)
	case score >= domain.ReviewThreshold:
		add(reviewRecommendations...)
	}

	for _, o := range outcomes {
		if o.Passed {
			continue
		}
		if rec, ok := categoryRecommendations[o.Category]; ok {
			add(rec)
		}
	}

	if out == nil {
		out = []string{}
	}
	return out
}

// Degraded is the outcome returned when the pipeline fails.
func Degraded() Outcome {
	return Outcome{
		Score:                domain.DegradedScore,
		Passed:               true,
		RequiresManualReview: true,
		Decision:             domain.DecisionManualReview,
		Recommendations:      []string{domain.DegradedRecommendation},
	}
}

// ShouldAlert reports whether a check warrants an alert record. Degraded
// results never alert.
func ShouldAlert(res *domain.CheckResult) bool {
	if res.Degraded {
		return false
	}
	return res.Decision == domain.DecisionBlock || res.BlockedReason != ""
}

// Apply copies the outcome onto a check result.
func (o Outcome) Apply(res *domain.CheckResult) {
	res.Score = o.Score
	res.Passed = o.Passed
	res.RequiresManualReview = o.RequiresManualReview
	res.Decision = o.Decision
	res.BlockedReason = o.BlockedReason
	res.Recommendations = o.Recommendations
}

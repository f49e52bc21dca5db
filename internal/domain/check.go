package domain

import "time"

// Score thresholds.
const (
	FraudThreshold  = 0.7
	ReviewThreshold = 0.5
)

// Degraded result values returned when the pipeline fails.
const (
	DegradedScore          = 0.5
	DegradedRecommendation = "Manual review recommended due to system error"
)

// AuditRuleName is the rule name recorded on every audit entry.
const AuditRuleName = "automated_check"

// Decision is the action the caller should take.
type Decision string

const (
	DecisionPass         Decision = "PASS"
	DecisionManualReview Decision = "MANUAL_REVIEW"
	DecisionBlock        Decision = "BLOCK"
)

// CheckResult is the immutable outcome of one CheckFraud invocation.
type CheckResult struct {
	ID        string `json:"checkId"`
	TenantID  string `json:"tenantId"`
	SubjectID string `json:"subjectId"`
	Reference string `json:"reference"`

	Score                float64       `json:"score"`
	Passed               bool          `json:"passed"`
	RequiresManualReview bool          `json:"requiresManualReview"`
	Decision             Decision      `json:"decision"`
	BlockedReason        string        `json:"blockedReason,omitempty"`
	Rules                []RuleOutcome `json:"rules"`
	Recommendations      []string      `json:"recommendations"`

	// Degraded is set when the result was produced by the failure path.
	Degraded bool `json:"degraded,omitempty"`

	ProcessingMs int64     `json:"processingMs"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuditResult is the PASS/FAIL flag recorded in the audit log.
type AuditResult string

const (
	AuditPass AuditResult = "PASS"
	AuditFail AuditResult = "FAIL"
)

// AuditRecord is the persisted trail of one check.
type AuditRecord struct {
	ID        string       `json:"id"`
	TenantID  string       `json:"tenantId"`
	Reference string       `json:"reference"`
	SubjectID string       `json:"subjectId"`
	RuleName  string       `json:"ruleName"`
	Result    AuditResult  `json:"result"`
	Score     float64      `json:"score"`
	Details   AuditDetails `json:"details"`
	CreatedAt time.Time    `json:"createdAt"`
}

// AuditDetails is stored as JSON alongside the audit record.
type AuditDetails struct {
	Rules            []RuleOutcome `json:"rules"`
	IPAddress        string        `json:"ipAddress,omitempty"`
	UserAgent        string        `json:"userAgent,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
	RequiresReview   bool          `json:"requiresReview"`
	BlockedReason    string        `json:"blockedReason,omitempty"`
	Recommendations  []string      `json:"recommendations,omitempty"`
	Degraded         bool          `json:"degraded,omitempty"`
	Fingerprint      string        `json:"fingerprint,omitempty"`
}

// NewAuditRecord builds the audit entry for a finished check.
func NewAuditRecord(res *CheckResult, fc *FraudContext) *AuditRecord {
	result := AuditPass
	if !res.Passed {
		result = AuditFail
	}
	return &AuditRecord{
		ID:        res.ID,
		TenantID:  res.TenantID,
		Reference: res.Reference,
		SubjectID: res.SubjectID,
		RuleName:  AuditRuleName,
		Result:    result,
		Score:     res.Score,
		Details: AuditDetails{
			Rules:            res.Rules,
			IPAddress:        fc.IPAddress,
			UserAgent:        fc.UserAgent,
			ProcessingTimeMs: res.ProcessingMs,
			RequiresReview:   res.RequiresManualReview,
			BlockedReason:    res.BlockedReason,
			Recommendations:  res.Recommendations,
			Degraded:         res.Degraded,
			Fingerprint:      fc.Fingerprint(),
		},
		CreatedAt: res.CreatedAt,
	}
}

// ToCheckResult reconstructs the check result stored in an audit record.
func (a *AuditRecord) ToCheckResult() *CheckResult {
	passed := a.Result == AuditPass
	decision := DecisionPass
	switch {
	case !passed:
		decision = DecisionBlock
	case a.Details.RequiresReview:
		decision = DecisionManualReview
	}
	return &CheckResult{
		ID:                   a.ID,
		TenantID:             a.TenantID,
		SubjectID:            a.SubjectID,
		Reference:            a.Reference,
		Score:                a.Score,
		Passed:               passed,
		RequiresManualReview: a.Details.RequiresReview,
		Decision:             decision,
		BlockedReason:        a.Details.BlockedReason,
		Rules:                a.Details.Rules,
		Recommendations:      a.Details.Recommendations,
		Degraded:             a.Details.Degraded,
		ProcessingMs:         a.Details.ProcessingTimeMs,
		CreatedAt:            a.CreatedAt,
	}
}

// AuditFilter narrows an audit log query.
type AuditFilter struct {
	SubjectID string
	Result    AuditResult
	Since     time.Time
	Limit     int
}

// AlertRecord is emitted on BLOCK or an immediate-block rule failure.
type AlertRecord struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId"`
	CheckID   string    `json:"checkId"`
	SubjectID string    `json:"subjectId"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason"`
	Score     float64   `json:"score"`
	Decision  Decision  `json:"decision"`
	CreatedAt time.Time `json:"createdAt"`
}

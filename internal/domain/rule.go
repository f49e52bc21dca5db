package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// GlobalTenantID is used for rules and reputation entries that apply to all tenants.
const GlobalTenantID = "*"

// Category selects the evaluator for a rule. It is stored explicitly on the
// rule record and never inferred from the rule's display name.
type Category string

const (
	CategoryVelocity Category = "VELOCITY"
	CategoryAmount   Category = "AMOUNT"
	CategoryLocation Category = "LOCATION"
	CategoryPattern  Category = "PATTERN"
	CategoryDevice   Category = "DEVICE"
	CategoryCustom   Category = "CUSTOM"
)

// Categories lists every supported rule category.
var Categories = []Category{
	CategoryVelocity,
	CategoryAmount,
	CategoryLocation,
	CategoryPattern,
	CategoryDevice,
	CategoryCustom,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory normalizes s and returns the matching category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidRule, s)
	}
	return c, nil
}

// RuleDefinition is an operator-managed, weighted risk condition.
type RuleDefinition struct {
	ID          string   `json:"id"`
	TenantID    string   `json:"tenantId"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    Category `json:"category"`

	// Weight is the relative importance of the rule in the aggregate score.
	Weight float64 `json:"weight"`

	// Params holds the category-specific condition parameters.
	Params json.RawMessage `json:"params,omitempty"`

	Enabled bool   `json:"enabled"`
	Version string `json:"version,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// DecodeParams unmarshals the rule's condition parameters into v.
// An empty parameter set leaves v untouched.
func (r *RuleDefinition) DecodeParams(v any) error {
	if len(r.Params) == 0 || string(r.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(r.Params, v); err != nil {
		return fmt.Errorf("decode %s params: %w", r.Category, err)
	}
	return nil
}

// Condition parameter defaults.
const (
	DefaultVelocityWindowSeconds = 3600
	DefaultVelocityMaxCount      = 5
	DefaultFailedPaymentLimit    = 3
	DefaultIdentityChangeLimit   = 2
)

var (
	DefaultMaxAmount       = decimal.NewFromInt(1000)
	DefaultSpikeMultiplier = decimal.NewFromInt(3)
)

// History windows used by PATTERN rules.
const (
	FailedPaymentWindow  = 24 * time.Hour
	IdentityChangeWindow = time.Hour
	OrderSpikeWindow     = 7 * 24 * time.Hour
)

// VelocityParams configures a VELOCITY rule. Absent fields take the
// defaults; an explicit maxCount of 0 fails on the first action.
type VelocityParams struct {
	TimeWindowSeconds *int   `json:"timeWindowSeconds,omitempty"`
	MaxCount          *int   `json:"maxCount,omitempty"`
	ActionType        string `json:"actionType,omitempty"`
}

// Window returns the configured window or DefaultVelocityWindowSeconds.
func (p VelocityParams) Window() int {
	if p.TimeWindowSeconds == nil {
		return DefaultVelocityWindowSeconds
	}
	return *p.TimeWindowSeconds
}

// Limit returns the configured maximum count or DefaultVelocityMaxCount.
func (p VelocityParams) Limit() int {
	if p.MaxCount == nil {
		return DefaultVelocityMaxCount
	}
	return *p.MaxCount
}

// AmountParams configures an AMOUNT rule.
type AmountParams struct {
	MaxAmount *decimal.Decimal `json:"maxAmount,omitempty"`
}

// Limit returns the configured maximum or DefaultMaxAmount.
func (p AmountParams) Limit() decimal.Decimal {
	if p.MaxAmount == nil {
		return DefaultMaxAmount
	}
	return *p.MaxAmount
}

// LocationParams configures a LOCATION rule. Regions are ISO country codes.
type LocationParams struct {
	AllowedRegions []string `json:"allowedRegions,omitempty"`
	BlockedRegions []string `json:"blockedRegions,omitempty"`
}

// PatternParams configures a PATTERN rule. Absent fields take the defaults.
type PatternParams struct {
	FailedPaymentLimit  *int             `json:"failedPaymentLimit,omitempty"`
	IdentityChangeLimit *int             `json:"identityChangeLimit,omitempty"`
	SpikeMultiplier     *decimal.Decimal `json:"spikeMultiplier,omitempty"`
}

// FailedPayments returns the failed-payment threshold.
func (p PatternParams) FailedPayments() int {
	if p.FailedPaymentLimit == nil {
		return DefaultFailedPaymentLimit
	}
	return *p.FailedPaymentLimit
}

// IdentityChanges returns the identity-change threshold.
func (p PatternParams) IdentityChanges() int {
	if p.IdentityChangeLimit == nil {
		return DefaultIdentityChangeLimit
	}
	return *p.IdentityChangeLimit
}

// Multiplier returns the order spike multiplier.
func (p PatternParams) Multiplier() decimal.Decimal {
	if p.SpikeMultiplier == nil {
		return DefaultSpikeMultiplier
	}
	return *p.SpikeMultiplier
}

// CustomParams configures a CUSTOM rule. An empty expression always passes.
type CustomParams struct {
	Expression string `json:"expression,omitempty"`
}

// RuleOutcome is the result of evaluating one rule against one context.
type RuleOutcome struct {
	RuleID   string   `json:"ruleId"`
	RuleName string   `json:"ruleName"`
	Category Category `json:"category"`
	Passed   bool     `json:"passed"`

	// Score is the pre-weight severity: 0 when passed, (0, 2] when failed.
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Reason string  `json:"reason,omitempty"`

	// Neutralized marks an outcome produced from a swallowed evaluation error.
	Neutralized bool `json:"neutralized,omitempty"`
}

// Contribution returns severity x weight for failed outcomes.
func (o RuleOutcome) Contribution() float64 {
	if o.Passed {
		return 0
	}
	return o.Score * o.Weight
}

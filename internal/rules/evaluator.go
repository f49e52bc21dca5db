// Package rules evaluates fraud rule definitions against a fraud context.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

// verdict is the category-level result before it becomes a RuleOutcome.
type verdict struct {
	passed   bool
	severity float64
	reason   string
}

func pass(reason string) verdict {
	return verdict{passed: true, reason: reason}
}

func fail(severity float64, reason string) verdict {
	return verdict{passed: false, severity: severity, reason: reason}
}

// Evaluator dispatches rule definitions to their category evaluators.
// Evaluate never returns an error: failures become passing outcomes whose
// reason starts with "rule evaluation error".
type Evaluator struct {
	velocity   *velocity.Counter
	reputation domain.ReputationChecker
	history    domain.HistoryStore
	regions    RegionResolver
	custom     *CustomCompiler
	metrics    *metrics.Metrics
	maxWorkers int
	now        func() time.Time
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithVelocity sets the counter used by VELOCITY rules.
func WithVelocity(c *velocity.Counter) Option {
	return func(e *Evaluator) { e.velocity = c }
}

// WithReputation sets the lookup used by LOCATION and CUSTOM rules.
func WithReputation(r domain.ReputationChecker) Option {
	return func(e *Evaluator) { e.reputation = r }
}

// WithHistory sets the store used by PATTERN rules.
func WithHistory(h domain.HistoryStore) Option {
	return func(e *Evaluator) { e.history = h }
}

// WithRegionResolver sets the IP to region resolver used by LOCATION rules.
func WithRegionResolver(r RegionResolver) Option {
	return func(e *Evaluator) { e.regions = r }
}

// WithMetrics records neutralized errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) { e.metrics = m }
}

// WithMaxWorkers bounds concurrent evaluations in EvaluateAll.
func WithMaxWorkers(n int) Option {
	return func(e *Evaluator) { e.maxWorkers = n }
}

// WithClock overrides time.Now for history windows.
func WithClock(now func() time.Time) Option {
	return func(e *Evaluator) { e.now = now }
}

// NewEvaluator creates a rule evaluator.
func NewEvaluator(opts ...Option) (*Evaluator, error) {
	custom, err := NewCustomCompiler()
	if err != nil {
		return nil, err
	}

	e := &Evaluator{
		custom:     custom,
		regions:    NewStaticResolver("", nil),
		maxWorkers: 10,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxWorkers <= 0 {
		e.maxWorkers = 10
	}
	return e, nil
}

// Evaluate runs one rule against the context.
func (e *Evaluator) Evaluate(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (out domain.RuleOutcome) {
	out = domain.RuleOutcome{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		Category: rule.Category,
		Weight:   rule.Weight,
	}

	defer func() {
		if r := recover(); r != nil {
			out = e.neutralize(out, fc, fmt.Errorf("panic: %v", r))
		}
	}()

	v, err := e.dispatch(ctx, rule, fc)
	if err != nil {
		return e.neutralize(out, fc, err)
	}

	out.Passed = v.passed
	out.Reason = v.reason
	if !v.passed {
		out.Score = v.severity
	}
	return out
}

func (e *Evaluator) dispatch(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	if err := ctx.Err(); err != nil {
		return verdict{}, err
	}

	switch rule.Category {
	case domain.CategoryVelocity:
		return e.evalVelocity(ctx, rule, fc)
	case domain.CategoryAmount:
		return evalAmount(rule, fc)
	case domain.CategoryLocation:
		return e.evalLocation(ctx, rule, fc)
	case domain.CategoryPattern:
		return e.evalPattern(ctx, rule, fc)
	case domain.CategoryDevice:
		return pass("device checks not configured"), nil
	case domain.CategoryCustom:
		return e.evalCustom(ctx, rule, fc)
	default:
		return verdict{}, fmt.Errorf("unknown category %q", rule.Category)
	}
}

func (e *Evaluator) neutralize(out domain.RuleOutcome, fc *domain.FraudContext, err error) domain.RuleOutcome {
	slog.Warn("rule evaluation error neutralized",
		"rule_id", out.RuleID,
		"rule_name", out.RuleName,
		"category", out.Category,
		"tenant_id", fc.TenantID,
		"error", err,
	)
	e.metrics.RuleError(out.Category)

	out.Passed = true
	out.Score = 0
	out.Reason = "rule evaluation error: " + err.Error()
	out.Neutralized = true
	return out
}

// Active returns the enabled rules with positive weight, sorted by (Name, ID).
func Active(rules []*domain.RuleDefinition) []*domain.RuleDefinition {
	active := make([]*domain.RuleDefinition, 0, len(rules))
	for _, r := range rules {
		if r == nil || !r.Enabled || r.Weight <= 0 {
			continue
		}
		active = append(active, r)
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})
	return active
}

// EvaluateAll evaluates the given rules concurrently and returns outcomes
// in the same order as rules.
func (e *Evaluator) EvaluateAll(ctx context.Context, rules []*domain.RuleDefinition, fc *domain.FraudContext) []domain.RuleOutcome {
	outcomes := make([]domain.RuleOutcome, len(rules))
	if len(rules) == 0 {
		return outcomes
	}

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)

	for i, rule := range rules {
		g.Go(func() error {
			outcomes[i] = e.Evaluate(ctx, rule, fc)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxAmountSeverity caps AMOUNT severity at twice the rule weight.
var maxAmountSeverity = decimal.NewFromInt(2)

// patternSeverityStep is the severity added by each failing PATTERN sub-check.
var patternSeverityStep = decimal.RequireFromString("0.3")

func (e *Evaluator) evalVelocity(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	var p domain.VelocityParams
	if err := rule.DecodeParams(&p); err != nil {
		return verdict{}, err
	}
	window, limit := p.Window(), p.Limit()
	if window <= 0 || limit < 0 {
		return verdict{}, fmt.Errorf("invalid velocity params: window %ds, maxCount %d", window, limit)
	}
	if e.velocity == nil {
		return verdict{}, errors.New("velocity counter not configured")
	}

	action := p.ActionType
	if action == "" {
		action = fc.Action()
	}

	count, err := e.velocity.Increment(ctx, fc.TenantID, fc.SubjectID, action, window)
	if err != nil {
		return verdict{}, err
	}

	if count > int64(limit) {
		return fail(1.0, fmt.Sprintf("%d %s actions in %ds exceeds limit %d",
			count, action, window, limit)), nil
	}
	return pass(fmt.Sprintf("%d %s actions in %ds", count, action, window)), nil
}

func evalAmount(rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	var p domain.AmountParams
	if err := rule.DecodeParams(&p); err != nil {
		return verdict{}, err
	}
	limit := p.Limit()
	if !limit.IsPositive() {
		return verdict{}, fmt.Errorf("maxAmount must be positive, got %s", limit)
	}

	return amountVerdict(fc.Amount, limit, fc.Currency), nil
}

// amountVerdict fails with severity min(amount/limit, 2) when amount > limit.
func amountVerdict(amount, limit decimal.Decimal, currency string) verdict {
	if amount.LessThanOrEqual(limit) {
		return pass(fmt.Sprintf("amount %s within limit %s", amount, limit))
	}

	severity := decimal.Min(amount.Div(limit), maxAmountSeverity)
	reason := fmt.Sprintf("amount %s exceeds limit %s", amount, limit)
	if currency != "" {
		reason = fmt.Sprintf("amount %s %s exceeds limit %s", amount, strings.ToUpper(currency), limit)
	}
	return fail(severity.InexactFloat64(), reason)
}

func (e *Evaluator) evalPattern(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	var p domain.PatternParams
	if err := rule.DecodeParams(&p); err != nil {
		return verdict{}, err
	}
	if e.history == nil {
		return verdict{}, errors.New("history store not configured")
	}

	now := e.now()
	var hits []string

	failed, err := e.history.CountFailedPayments(ctx, fc.TenantID, fc.SubjectID, now.Add(-domain.FailedPaymentWindow))
	if err != nil {
		return verdict{}, err
	}
	if failed >= p.FailedPayments() {
		hits = append(hits, fmt.Sprintf("%d failed payments in 24h", failed))
	}

	changes, err := e.history.CountIdentityEvents(ctx, fc.TenantID, fc.SubjectID, now.Add(-domain.IdentityChangeWindow))
	if err != nil {
		return verdict{}, err
	}
	if changes >= p.IdentityChanges() {
		hits = append(hits, fmt.Sprintf("%d identity changes in 1h", changes))
	}

	amounts, err := e.history.RecentOrderAmounts(ctx, fc.TenantID, fc.SubjectID, now.Add(-domain.OrderSpikeWindow))
	if err != nil {
		return verdict{}, err
	}
	if spike, mean := isSpike(fc.Amount, amounts, p.Multiplier()); spike {
		hits = append(hits, fmt.Sprintf("amount %s is over %sx the 7d mean %s",
			fc.Amount, p.Multiplier(), mean.StringFixed(2)))
	}

	if len(hits) == 0 {
		return pass("no suspicious pattern"), nil
	}

	severity := patternSeverityStep.Mul(decimal.NewFromInt(int64(len(hits))))
	return fail(severity.InexactFloat64(), strings.Join(hits, "; ")), nil
}

// isSpike reports whether amount exceeds multiplier x the mean of history.
// It needs at least two historical orders.
func isSpike(amount decimal.Decimal, history []decimal.Decimal, multiplier decimal.Decimal) (bool, decimal.Decimal) {
	if len(history) < 2 {
		return false, decimal.Zero
	}
	mean := decimal.Avg(history[0], history[1:]...)
	if !mean.IsPositive() {
		return false, mean
	}
	return amount.GreaterThan(mean.Mul(multiplier)), mean
}

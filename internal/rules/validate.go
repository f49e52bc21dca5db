package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Validate checks a rule definition at authoring time. Errors wrap
// domain.ErrInvalidRule.
func (e *Evaluator) Validate(rule *domain.RuleDefinition) error {
	if rule == nil {
		return fmt.Errorf("%w: rule is required", domain.ErrInvalidRule)
	}

	var errs []error
	if strings.TrimSpace(rule.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !rule.Category.Valid() {
		errs = append(errs, fmt.Errorf("unknown category %q", rule.Category))
	}
	if rule.Weight <= 0 {
		errs = append(errs, fmt.Errorf("weight must be positive, got %g", rule.Weight))
	}
	if rule.Category.Valid() {
		if err := e.validateParams(rule); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrInvalidRule, errors.Join(errs...))
	}
	return nil
}

func (e *Evaluator) validateParams(rule *domain.RuleDefinition) error {
	switch rule.Category {
	case domain.CategoryVelocity:
		var p domain.VelocityParams
		if err := rule.DecodeParams(&p); err != nil {
			return err
		}
		if p.TimeWindowSeconds != nil && *p.TimeWindowSeconds <= 0 {
			return errors.New("timeWindowSeconds must be positive")
		}
		if p.MaxCount != nil && *p.MaxCount < 0 {
			return errors.New("maxCount must not be negative")
		}

	case domain.CategoryAmount:
		var p domain.AmountParams
		if err := rule.DecodeParams(&p); err != nil {
			return err
		}
		if !p.Limit().IsPositive() {
			return errors.New("maxAmount must be positive")
		}

	case domain.CategoryLocation:
		var p domain.LocationParams
		if err := rule.DecodeParams(&p); err != nil {
			return err
		}
		for _, r := range append(p.AllowedRegions, p.BlockedRegions...) {
			if strings.TrimSpace(r) == "" {
				return errors.New("regions must not be empty strings")
			}
		}

	case domain.CategoryPattern:
		var p domain.PatternParams
		if err := rule.DecodeParams(&p); err != nil {
			return err
		}
		if p.FailedPayments() <= 0 || p.IdentityChanges() <= 0 {
			return errors.New("pattern limits must be positive")
		}
		if p.SpikeMultiplier != nil && !p.SpikeMultiplier.IsPositive() {
			return errors.New("spikeMultiplier must be positive")
		}

	case domain.CategoryDevice:
		return nil

	case domain.CategoryCustom:
		var p domain.CustomParams
		if err := rule.DecodeParams(&p); err != nil {
			return err
		}
		if expr := strings.TrimSpace(p.Expression); expr != "" {
			if _, err := e.custom.Compile(expr); err != nil {
				return err
			}
		}
	}
	return nil
}

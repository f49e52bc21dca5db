package rules

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxCustomSeverity caps numeric CUSTOM expression results.
const maxCustomSeverity = 2.0

// CustomCompiler compiles CUSTOM rule expressions and caches the programs
// per rule id and version.
type CustomCompiler struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]compiledExpr
}

type compiledExpr struct {
	expression string
	program    cel.Program
}

// NewCustomCompiler creates the CEL environment for CUSTOM rules.
func NewCustomCompiler() (*CustomCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("subject_id", cel.StringType),
		cel.Variable("order_count", cel.IntType),
		cel.Variable("ip_address", cel.StringType),
		cel.Variable("user_agent", cel.StringType),
		cel.Variable("email", cel.StringType),
		cel.Variable("session_id", cel.StringType),
		cel.Variable("action_type", cel.StringType),
		// Reputation verdicts, looked up only when referenced
		cel.Variable("ip_blocked", cel.BoolType),
		cel.Variable("email_blocked", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomCompiler{
		env:      env,
		programs: make(map[string]compiledExpr),
	}, nil
}

// Compile checks an expression and returns its program.
func (c *CustomCompiler) Compile(expression string) (cel.Program, error) {
	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	outputType := ast.OutputType()
	if outputType != cel.BoolType && outputType != cel.DoubleType && outputType != cel.IntType {
		return nil, fmt.Errorf("expression must return bool, int, or double, got %s", outputType)
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// program returns the cached program for rule, compiling on a miss or when
// the expression changed under the same version.
func (c *CustomCompiler) program(rule *domain.RuleDefinition, expression string) (cel.Program, error) {
	key := rule.TenantID + "/" + rule.ID + "@" + rule.Version

	c.mu.RLock()
	cached, ok := c.programs[key]
	c.mu.RUnlock()
	if ok && cached.expression == expression {
		return cached.program, nil
	}

	program, err := c.Compile(expression)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.programs[key] = compiledExpr{expression: expression, program: program}
	c.mu.Unlock()
	return program, nil
}

func (e *Evaluator) evalCustom(ctx context.Context, rule *domain.RuleDefinition, fc *domain.FraudContext) (verdict, error) {
	var p domain.CustomParams
	if err := rule.DecodeParams(&p); err != nil {
		return verdict{}, err
	}
	expression := strings.TrimSpace(p.Expression)
	if expression == "" {
		return pass("no custom expression"), nil
	}

	program, err := e.custom.program(rule, expression)
	if err != nil {
		return verdict{}, err
	}

	activation, err := e.customActivation(ctx, expression, fc)
	if err != nil {
		return verdict{}, err
	}

	out, _, err := program.ContextEval(ctx, activation)
	if err != nil {
		return verdict{}, fmt.Errorf("evaluation error: %w", err)
	}

	severity := toSeverity(out)
	if severity <= 0 {
		return pass(fmt.Sprintf("expression %q not matched", expression)), nil
	}
	return fail(severity, fmt.Sprintf("expression %q matched", expression)), nil
}

func (e *Evaluator) customActivation(ctx context.Context, expression string, fc *domain.FraudContext) (map[string]any, error) {
	activation := map[string]any{
		"amount":        fc.Amount.InexactFloat64(),
		"currency":      strings.ToUpper(fc.Currency),
		"subject_id":    fc.SubjectID,
		"order_count":   int64(fc.OrderCount),
		"ip_address":    fc.IPAddress,
		"user_agent":    fc.UserAgent,
		"email":         fc.Email,
		"session_id":    fc.SessionID,
		"action_type":   fc.Action(),
		"ip_blocked":    false,
		"email_blocked": false,
	}

	if e.reputation == nil {
		return activation, nil
	}
	if fc.IPAddress != "" && strings.Contains(expression, "ip_blocked") {
		v, err := e.reputation.CheckIP(ctx, fc.TenantID, fc.IPAddress)
		if err != nil {
			return nil, err
		}
		activation["ip_blocked"] = v == domain.VerdictBlocked
	}
	if fc.Email != "" && strings.Contains(expression, "email_blocked") {
		v, err := e.reputation.CheckEmail(ctx, fc.TenantID, fc.Email)
		if err != nil {
			return nil, err
		}
		activation["email_blocked"] = v == domain.VerdictBlocked
	}
	return activation, nil
}

// toSeverity converts a CEL value to a severity in [0, 2].
func toSeverity(val ref.Val) float64 {
	var s float64
	switch v := val.(type) {
	case types.Bool:
		if v {
			s = 1.0
		}
	case types.Double:
		s = float64(v)
	case types.Int:
		s = float64(v)
	}
	if math.IsNaN(s) {
		return 0
	}
	return min(max(s, 0), maxCustomSeverity)
}

// Package engine orchestrates a fraud check: load rules, evaluate, aggregate,
// decide, record the audit trail, cache the result and dispatch alerts.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

var tracer = otel.Tracer("kestrel-engine")

// RuleSource returns the active rules for a tenant.
type RuleSource interface {
	Active(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error)
}

// Recorder persists audit and alert records.
type Recorder interface {
	SaveAudit(ctx context.Context, tenantID string, rec *domain.AuditRecord) error
	GetAudit(ctx context.Context, tenantID string, checkID string) (*domain.AuditRecord, error)
	SaveAlert(ctx context.Context, tenantID string, alert *domain.AlertRecord) error
}

// ResultCache stores check results by ID.
type ResultCache interface {
	GetCheckResult(ctx context.Context, tenantID string, checkID string) (*domain.CheckResult, error)
	SetCheckResult(ctx context.Context, tenantID string, result *domain.CheckResult, ttl time.Duration) error
}

// Deps are the collaborators of an Engine. Bus and Metrics are optional.
type Deps struct {
	Rules     RuleSource
	Evaluator *rules.Evaluator
	Recorder  Recorder
	Cache     ResultCache
	Bus       domain.EventBus
	Metrics   *metrics.Metrics
}

// Engine runs fraud checks.
type Engine struct {
	rules     RuleSource
	evaluator *rules.Evaluator
	recorder  Recorder
	cache     ResultCache
	bus       domain.EventBus
	metrics   *metrics.Metrics

	timeout   time.Duration
	resultTTL time.Duration

	now   func() time.Time
	newID func() string
}

// New creates an engine. Rules, Evaluator, Recorder and Cache are required.
func New(deps Deps, cfg domain.EngineConfig) (*Engine, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("engine: rule source is required")
	case deps.Evaluator == nil:
		return nil, errors.New("engine: evaluator is required")
	case deps.Recorder == nil:
		return nil, errors.New("engine: recorder is required")
	case deps.Cache == nil:
		return nil, errors.New("engine: result cache is required")
	}

	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	resultTTL := cfg.ResultCacheTTL
	if resultTTL <= 0 {
		resultTTL = time.Hour
	}

	return &Engine{
		rules:     deps.Rules,
		evaluator: deps.Evaluator,
		recorder:  deps.Recorder,
		cache:     deps.Cache,
		bus:       deps.Bus,
		metrics:   deps.Metrics,
		timeout:   timeout,
		resultTTL: resultTTL,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}, nil
}

// pipelineResult is what the bounded part of a check hands back.
type pipelineResult struct {
	res    *domain.CheckResult
	err    error
	reason string
}

// CheckFraud scores fc and returns a decision. The only error it returns is
// a *domain.ValidationError for a malformed context; every other failure,
// timeout included, yields the degraded result.
func (e *Engine) CheckFraud(ctx context.Context, fc *domain.FraudContext) (*domain.CheckResult, error) {
	if err := fc.Validate(); err != nil {
		return nil, err
	}

	start := e.now()
	checkID := e.newID()

	ctx, span := tracer.Start(ctx, "CheckFraud",
		trace.WithAttributes(
			attribute.String("tenant_id", fc.TenantID),
			attribute.String("subject_id", fc.SubjectID),
			attribute.String("check_id", checkID),
		),
	)
	defer span.End()

	res := e.runBounded(ctx, fc, checkID, start)
	res.ProcessingMs = e.now().Sub(start).Milliseconds()

	if res.Degraded {
		span.SetStatus(codes.Error, "degraded")
	}
	span.SetAttributes(
		attribute.Float64("score", res.Score),
		attribute.String("decision", string(res.Decision)),
	)

	// Record and notify outside the evaluation deadline so a slow check
	// still leaves an audit trail.
	e.finish(context.WithoutCancel(ctx), fc, res)

	e.metrics.ObserveCheck(res.Decision, e.now().Sub(start))
	return res, nil
}

// runBounded executes LOAD_RULES through DECIDE under the check timeout.
func (e *Engine) runBounded(ctx context.Context, fc *domain.FraudContext, checkID string, start time.Time) *domain.CheckResult {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan pipelineResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- pipelineResult{err: fmt.Errorf("panic: %v", r), reason: metrics.ReasonPanic}
			}
		}()
		res, err := e.evaluate(runCtx, fc, checkID, start)
		reason := metrics.ReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = metrics.ReasonTimeout
		}
		done <- pipelineResult{res: res, err: err, reason: reason}
	}()

	var out pipelineResult
	select {
	case out = <-done:
	case <-runCtx.Done():
		out = pipelineResult{err: runCtx.Err(), reason: metrics.ReasonTimeout}
		if errors.Is(out.err, context.Canceled) {
			out.reason = metrics.ReasonError
		}
	}

	if out.err != nil {
		slog.Error("fraud check degraded",
			"check_id", checkID,
			"tenant_id", fc.TenantID,
			"subject_id", fc.SubjectID,
			"reason", out.reason,
			"error", out.err,
		)
		e.metrics.CheckDegraded(out.reason)
		return e.degraded(fc, checkID, start)
	}
	return out.res
}

func (e *Engine) evaluate(ctx context.Context, fc *domain.FraudContext, checkID string, start time.Time) (*domain.CheckResult, error) {
	active, err := e.rules.Active(ctx, fc.TenantID)
	if err != nil {
		return nil, err
	}

	outcomes := e.evaluator.EvaluateAll(ctx, active, fc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	score := decision.Aggregate(outcomes, active)
	verdict := decision.Decide(score, outcomes)

	res := &domain.CheckResult{
		ID:        checkID,
		TenantID:  fc.TenantID,
		SubjectID: fc.SubjectID,
		Reference: fc.Reference(),
		Rules:     outcomes,
		CreatedAt: start.UTC(),
	}
	verdict.Apply(res)
	return res, nil
}

func (e *Engine) degraded(fc *domain.FraudContext, checkID string, start time.Time) *domain.CheckResult {
	res := &domain.CheckResult{
		ID:        checkID,
		TenantID:  fc.TenantID,
		SubjectID: fc.SubjectID,
		Reference: fc.Reference(),
		Rules:     []domain.RuleOutcome{},
		Degraded:  true,
		CreatedAt: start.UTC(),
	}
	decision.Degraded().Apply(res)
	return res
}

// finish runs PERSIST_AUDIT and CACHE_RESULT concurrently, then the alert
// and completion events. Failures are logged only.
func (e *Engine) finish(ctx context.Context, fc *domain.FraudContext, res *domain.CheckResult) {
	defer recoverStep(res.ID, "finish")

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		defer recoverStep(res.ID, "audit")
		if err := e.recorder.SaveAudit(ctx, res.TenantID, domain.NewAuditRecord(res, fc)); err != nil {
			slog.Error("failed to save audit record", "check_id", res.ID, "tenant_id", res.TenantID, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		defer recoverStep(res.ID, "cache")
		if err := e.cache.SetCheckResult(ctx, res.TenantID, res, e.resultTTL); err != nil {
			slog.Error("failed to cache check result", "check_id", res.ID, "tenant_id", res.TenantID, "error", err)
		}
		return nil
	})
	_ = g.Wait()

	if decision.ShouldAlert(res) {
		e.dispatchAlert(ctx, res)
	}

	e.publish(ctx, res.TenantID, domain.TopicCheckCompleted, res)

	slog.Info("fraud check completed",
		"check_id", res.ID,
		"tenant_id", res.TenantID,
		"subject_id", res.SubjectID,
		"score", res.Score,
		"decision", res.Decision,
		"degraded", res.Degraded,
		"duration_ms", res.ProcessingMs,
	)
}

func recoverStep(checkID, step string) {
	if r := recover(); r != nil {
		slog.Error("panic while recording check", "check_id", checkID, "step", step, "panic", r)
	}
}

func (e *Engine) dispatchAlert(ctx context.Context, res *domain.CheckResult) {
	reason := res.BlockedReason
	if reason == "" {
		reason = fmt.Sprintf("score %.2f reached fraud threshold %.2f", res.Score, domain.FraudThreshold)
	}

	alert := &domain.AlertRecord{
		ID:        e.newID(),
		TenantID:  res.TenantID,
		CheckID:   res.ID,
		SubjectID: res.SubjectID,
		Reference: res.Reference,
		Reason:    reason,
		Score:     res.Score,
		Decision:  res.Decision,
		CreatedAt: e.now().UTC(),
	}

	slog.Warn("fraud alert",
		"alert_id", alert.ID,
		"check_id", res.ID,
		"tenant_id", res.TenantID,
		"subject_id", res.SubjectID,
		"reference", res.Reference,
		"score", res.Score,
		"reason", reason,
	)
	e.metrics.AlertDispatched()

	if err := e.recorder.SaveAlert(ctx, res.TenantID, alert); err != nil {
		slog.Error("failed to save alert", "alert_id", alert.ID, "check_id", res.ID, "error", err)
	}
	e.publish(ctx, res.TenantID, domain.TopicAlert, alert)
}

func (e *Engine) publish(ctx context.Context, tenantID, topic string, v any) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode event", "topic", topic, "error", err)
		return
	}
	if err := e.bus.Publish(ctx, tenantID, topic, payload); err != nil {
		slog.Warn("failed to publish event", "topic", topic, "tenant_id", tenantID, "error", err)
	}
}

// ErrCheckNotFound is returned by GetCheck for unknown check IDs.
var ErrCheckNotFound = errors.New("check not found")

// GetCheck returns a check result from the cache, falling back to the audit log.
func (e *Engine) GetCheck(ctx context.Context, tenantID, checkID string) (*domain.CheckResult, error) {
	res, err := e.cache.GetCheckResult(ctx, tenantID, checkID)
	if err != nil {
		slog.Warn("result cache read failed", "check_id", checkID, "tenant_id", tenantID, "error", err)
	}
	if res != nil {
		return res, nil
	}

	rec, err := e.recorder.GetAudit(ctx, tenantID, checkID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, checkID)
	}
	if err != nil {
		return nil, fmt.Errorf("read audit %s: %w", checkID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckNotFound, checkID)
	}
	return rec.ToCheckResult(), nil
}

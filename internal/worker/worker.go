// Package worker consumes check requests and history events from the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Checker runs a fraud check.
type Checker interface {
	CheckFraud(ctx context.Context, fc *domain.FraudContext) (*domain.CheckResult, error)
}

// HistoryWriter records subject history used by PATTERN rules.
type HistoryWriter interface {
	SaveOrder(ctx context.Context, tenantID string, order *domain.OrderRecord) error
	SavePaymentAttempt(ctx context.Context, tenantID string, attempt *domain.PaymentAttempt) error
	SaveAccountEvent(ctx context.Context, tenantID string, event *domain.AccountEvent) error
}

// Worker processes order submissions and history events asynchronously.
// Check results and alerts are published by the checker itself.
type Worker struct {
	bus     domain.EventBus
	checker Checker
	history HistoryWriter
	metrics *metrics.Metrics

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string
}

// NewWorker creates a new async worker. history and m may be nil.
func NewWorker(bus domain.EventBus, checker Checker, history HistoryWriter, m *metrics.Metrics) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		checker: checker,
		history: history,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the worker topics for the given tenants.
func (w *Worker) Start(cfg Config) error {
	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.GlobalSubscriber}
	}

	var errs []error
	for _, tenantID := range tenants {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	if len(errs) == len(tenants) {
		return fmt.Errorf("no worker subscriptions started: %w", errors.Join(errs...))
	}

	slog.Info("workers started", "tenant_count", len(tenants))
	return nil
}

func (w *Worker) startTenantWorker(tenantID string) error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicOrderSubmitted: w.handleOrderSubmitted,
	}
	if w.history != nil {
		handlers[domain.TopicHistoryEvent] = w.handleHistoryEvent
	}

	for topic, handler := range handlers {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, topic, w.instrument(topic, handler))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("tenant worker started",
			"tenant_id", tenantID,
			"topic", topic,
		)
	}
	return nil
}

func (w *Worker) instrument(topic string, next domain.MessageHandler) domain.MessageHandler {
	return func(ctx context.Context, msg *domain.Message) error {
		err := next(ctx, msg)
		w.metrics.EventProcessed(topic, err)
		return err
	}
}

// tenantFor resolves the tenant of a payload against the bus envelope.
// A payload may omit its tenant but may not claim another one.
func tenantFor(msg *domain.Message, payloadTenant string) (string, error) {
	if payloadTenant == "" {
		return msg.TenantID, nil
	}
	if payloadTenant != msg.TenantID {
		return "", fmt.Errorf("payload tenant %q does not match message tenant %q", payloadTenant, msg.TenantID)
	}
	return payloadTenant, nil
}

// handleOrderSubmitted runs a fraud check for a submitted order.
func (w *Worker) handleOrderSubmitted(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var fc domain.FraudContext
	if err := json.Unmarshal(msg.Payload, &fc); err != nil {
		slog.Error("failed to parse order message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tenantID, err := tenantFor(msg, fc.TenantID)
	if err != nil {
		slog.Error("rejected order message", "message_id", msg.ID, "error", err)
		return err
	}
	fc.TenantID = tenantID

	res, err := w.checker.CheckFraud(ctx, &fc)
	if err != nil {
		slog.Warn("order check rejected",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("order processed",
		"check_id", res.ID,
		"tenant_id", tenantID,
		"reference", res.Reference,
		"decision", res.Decision,
		"score", res.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// handleHistoryEvent stores one order, payment or account record.
func (w *Worker) handleHistoryEvent(ctx context.Context, msg *domain.Message) error {
	var ev domain.HistoryEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		slog.Error("failed to parse history event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	var err error
	switch {
	case ev.Order != nil:
		err = saveRecord(msg, ev.Order.TenantID, ev.Order, func(tenantID string) error {
			return w.history.SaveOrder(ctx, tenantID, ev.Order)
		})
	case ev.Payment != nil:
		err = saveRecord(msg, ev.Payment.TenantID, ev.Payment, func(tenantID string) error {
			return w.history.SavePaymentAttempt(ctx, tenantID, ev.Payment)
		})
	case ev.Account != nil:
		err = saveRecord(msg, ev.Account.TenantID, ev.Account, func(tenantID string) error {
			return w.history.SaveAccountEvent(ctx, tenantID, ev.Account)
		})
	default:
		err = errors.New("history event carries no record")
	}

	if err != nil {
		slog.Error("failed to record history event",
			"message_id", msg.ID,
			"tenant_id", msg.TenantID,
			"error", err,
		)
		return err
	}

	slog.Debug("history event recorded", "message_id", msg.ID, "tenant_id", msg.TenantID)
	return nil
}

// saveRecord resolves the tenant and validates rec the same way the HTTP
// ingestion endpoints do before handing it to save.
func saveRecord(msg *domain.Message, payloadTenant string, rec any, save func(tenantID string) error) error {
	tenantID, err := tenantFor(msg, payloadTenant)
	if err != nil {
		return err
	}
	if err := domain.ValidateRecord(rec); err != nil {
		return err
	}
	return save(tenantID)
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}

package rules

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// BreakerHistory guards a HistoryStore with a circuit breaker so PATTERN
// rules fail fast while the history database is unavailable.
type BreakerHistory struct {
	next domain.HistoryStore
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerHistory wraps next. The breaker opens after failures
// consecutive errors and probes again after cooldown.
func NewBreakerHistory(next domain.HistoryStore, failures uint32, cooldown time.Duration) *BreakerHistory {
	if failures == 0 {
		failures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Caller cancellation says nothing about store health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerHistory{next: next, cb: cb}
}

// State reports the breaker state.
func (b *BreakerHistory) State() gobreaker.State {
	return b.cb.State()
}

func (b *BreakerHistory) CountFailedPayments(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CountFailedPayments(ctx, tenantID, subjectID, since)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (b *BreakerHistory) CountIdentityEvents(ctx context.Context, tenantID, subjectID string, since time.Time) (int, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CountIdentityEvents(ctx, tenantID, subjectID, since)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (b *BreakerHistory) RecentOrderAmounts(ctx context.Context, tenantID, subjectID string, since time.Time) ([]decimal.Decimal, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.RecentOrderAmounts(ctx, tenantID, subjectID, since)
	})
	if err != nil {
		return nil, err
	}
	amounts, _ := v.([]decimal.Decimal)
	return amounts, nil
}

var _ domain.HistoryStore = (*BreakerHistory)(nil)

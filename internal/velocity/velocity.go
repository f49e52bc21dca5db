// Package velocity provides sliding-window action counters.
package velocity

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Counter counts a subject's actions within a window on top of an atomic
// VelocityStore. Concurrent increments for the same key never lose a count.
type Counter struct {
	store domain.VelocityStore
}

// NewCounter creates a velocity counter.
func NewCounter(store domain.VelocityStore) *Counter {
	return &Counter{store: store}
}

// Key returns the counter key for a subject, action and window.
// The window is part of the key so rules with different windows keep
// independent expiries. Subject and action are length-prefixed, so a
// separator inside either one cannot make two pairs share a counter.
func Key(subjectID, actionType string, windowSeconds int) string {
	return "velocity:" +
		strconv.Itoa(len(subjectID)) + ":" + subjectID + ":" +
		strconv.Itoa(len(actionType)) + ":" + actionType + ":" +
		strconv.Itoa(windowSeconds)
}

// Increment records one action and returns the post-increment count.
// The expiry is set only when the counter is created.
func (c *Counter) Increment(ctx context.Context, tenantID, subjectID, actionType string, windowSeconds int) (int64, error) {
	if tenantID == "" || subjectID == "" {
		return 0, fmt.Errorf("tenantID and subjectID are required")
	}
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("window must be positive, got %d", windowSeconds)
	}
	if c.store == nil {
		return 0, fmt.Errorf("no velocity store configured")
	}

	window := time.Duration(windowSeconds) * time.Second
	count, err := c.store.IncrementWithExpiry(ctx, tenantID, Key(subjectID, actionType, windowSeconds), window)
	if err != nil {
		return 0, fmt.Errorf("velocity increment: %w", err)
	}
	return count, nil
}

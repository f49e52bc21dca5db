package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleLoader reads rule definitions for a tenant, including global rules.
type RuleLoader interface {
	ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*domain.RuleDefinition, error)
}

// Store caches each tenant's active rules for a short TTL.
// Staleness up to the TTL is accepted; Invalidate forces a reload.
type Store struct {
	loader RuleLoader
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]storeEntry

	loads singleflight.Group
}

type storeEntry struct {
	rules    []*domain.RuleDefinition
	loadedAt time.Time
}

// NewStore creates a rule store. A ttl <= 0 disables caching.
func NewStore(loader RuleLoader, ttl time.Duration) *Store {
	return &Store{
		loader:  loader,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]storeEntry),
	}
}

// Active returns the tenant's enabled, positively weighted rules sorted by
// (Name, ID). The returned slice must not be modified.
func (s *Store) Active(ctx context.Context, tenantID string) ([]*domain.RuleDefinition, error) {
	if rules, ok := s.cached(tenantID); ok {
		return rules, nil
	}

	v, err, _ := s.loads.Do(tenantID, func() (any, error) {
		// Another caller may have filled the entry while we waited.
		if rules, ok := s.cached(tenantID); ok {
			return rules, nil
		}

		all, err := s.loader.ListRules(ctx, tenantID, true)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		rules := Active(all)

		if s.ttl > 0 {
			s.mu.Lock()
			s.entries[tenantID] = storeEntry{rules: rules, loadedAt: s.now()}
			s.mu.Unlock()
		}
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*domain.RuleDefinition), nil
}

func (s *Store) cached(tenantID string) ([]*domain.RuleDefinition, bool) {
	if s.ttl <= 0 {
		return nil, false
	}
	s.mu.RLock()
	entry, ok := s.entries[tenantID]
	s.mu.RUnlock()
	if !ok || s.now().Sub(entry.loadedAt) >= s.ttl {
		return nil, false
	}
	return entry.rules, true
}

// Invalidate drops the cached rules of a tenant. Invalidating the global
// tenant drops every entry, since global rules are part of each tenant's set.
func (s *Store) Invalidate(tenantID string) {
	if tenantID == domain.GlobalTenantID {
		s.InvalidateAll()
		return
	}
	s.mu.Lock()
	delete(s.entries, tenantID)
	s.mu.Unlock()
}

// InvalidateAll drops every cached entry.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.entries = make(map[string]storeEntry)
	s.mu.Unlock()
}

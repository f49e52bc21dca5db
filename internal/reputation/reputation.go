// Package reputation answers IP and email blocklist/allowlist lookups.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Store is the persistence the lookup needs.
type Store interface {
	SaveReputation(ctx context.Context, tenantID string, entry *domain.ReputationEntry) error
	DeleteReputation(ctx context.Context, tenantID string, kind domain.ReputationKind, value string, list domain.ReputationList) error
	FindReputation(ctx context.Context, tenantID string, kind domain.ReputationKind, value string) ([]*domain.ReputationEntry, error)
	ListReputation(ctx context.Context, tenantID string, kind domain.ReputationKind) ([]*domain.ReputationEntry, error)
}

// Service looks up reputation verdicts through a read-through cache.
// Changes to global entries reach other tenants once their cached verdict expires.
type Service struct {
	store Store
	cache domain.Cache
	ttl   time.Duration
}

var _ domain.ReputationChecker = (*Service)(nil)

// NewService creates a reputation service. cache may be nil.
func NewService(store Store, cache domain.Cache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{store: store, cache: cache, ttl: ttl}
}

// Normalize canonicalizes a value for storage and lookup.
func Normalize(kind domain.ReputationKind, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case domain.ReputationIP:
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return "", fmt.Errorf("%w: invalid ip %q: %w", domain.ErrInvalidRecord, value, err)
		}
		return addr.Unmap().String(), nil
	case domain.ReputationEmail:
		if !strings.Contains(value, "@") {
			return "", fmt.Errorf("%w: invalid email %q", domain.ErrInvalidRecord, value)
		}
		return strings.ToLower(value), nil
	default:
		return "", fmt.Errorf("%w: unknown reputation kind %q", domain.ErrInvalidRecord, kind)
	}
}

// CheckIP returns the verdict for an IP address.
func (s *Service) CheckIP(ctx context.Context, tenantID, ip string) (domain.Verdict, error) {
	return s.check(ctx, tenantID, domain.ReputationIP, ip)
}

// CheckEmail returns the verdict for an email address.
func (s *Service) CheckEmail(ctx context.Context, tenantID, email string) (domain.Verdict, error) {
	return s.check(ctx, tenantID, domain.ReputationEmail, email)
}

func (s *Service) check(ctx context.Context, tenantID string, kind domain.ReputationKind, raw string) (domain.Verdict, error) {
	if raw == "" {
		return domain.VerdictUnknown, nil
	}
	value, err := Normalize(kind, raw)
	if err != nil {
		return domain.VerdictUnknown, err
	}

	key := cacheKey(kind, value)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, tenantID, key); err == nil && cached != nil {
			return domain.Verdict(cached), nil
		}
	}

	entries, err := s.store.FindReputation(ctx, tenantID, kind, value)
	if err != nil {
		return domain.VerdictUnknown, fmt.Errorf("reputation lookup: %w", err)
	}

	verdict := Resolve(entries)

	if s.cache != nil {
		if err := s.cache.Set(ctx, tenantID, key, []byte(verdict), s.ttl); err != nil {
			slog.Debug("failed to cache reputation verdict",
				"tenant_id", tenantID,
				"kind", kind,
				"error", err,
			)
		}
	}
	return verdict, nil
}

// Resolve folds matching entries into a verdict. The blocklist wins.
func Resolve(entries []*domain.ReputationEntry) domain.Verdict {
	verdict := domain.VerdictUnknown
	for _, e := range entries {
		switch e.List {
		case domain.ListBlock:
			return domain.VerdictBlocked
		case domain.ListAllow:
			verdict = domain.VerdictAllowed
		}
	}
	return verdict
}

// Add stores an entry after normalizing its value.
func (s *Service) Add(ctx context.Context, tenantID string, entry *domain.ReputationEntry) error {
	value, err := Normalize(entry.Kind, entry.Value)
	if err != nil {
		return err
	}
	entry.Value = value

	if err := s.store.SaveReputation(ctx, tenantID, entry); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, entry.Kind, value)
	return nil
}

// Remove deletes an entry.
func (s *Service) Remove(ctx context.Context, tenantID string, kind domain.ReputationKind, raw string, list domain.ReputationList) error {
	value, err := Normalize(kind, raw)
	if err != nil {
		return err
	}
	if err := s.store.DeleteReputation(ctx, tenantID, kind, value, list); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID, kind, value)
	return nil
}

// List returns the tenant's entries of one kind.
func (s *Service) List(ctx context.Context, tenantID string, kind domain.ReputationKind) ([]*domain.ReputationEntry, error) {
	return s.store.ListReputation(ctx, tenantID, kind)
}

func (s *Service) invalidate(ctx context.Context, tenantID string, kind domain.ReputationKind, value string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, tenantID, cacheKey(kind, value)); err != nil {
		slog.Warn("failed to invalidate reputation cache",
			"tenant_id", tenantID,
			"kind", kind,
			"error", err,
		)
	}
}

func cacheKey(kind domain.ReputationKind, value string) string {
	return "reputation:" + string(kind) + ":" + value
}

package domain

import (
	"context"
	"time"
)

// ReputationKind is the type of value a list entry matches.
type ReputationKind string

const (
	ReputationIP    ReputationKind = "ip"
	ReputationEmail ReputationKind = "email"
)

// ReputationList selects the block or allow list.
type ReputationList string

const (
	ListBlock ReputationList = "block"
	ListAllow ReputationList = "allow"
)

// ReputationEntry is one blocklist or allowlist item.
type ReputationEntry struct {
	TenantID  string         `json:"tenantId"`
	Kind      ReputationKind `json:"kind" validate:"required,oneof=ip email"`
	Value     string         `json:"value" validate:"required"`
	List      ReputationList `json:"list" validate:"required,oneof=block allow"`
	Reason    string         `json:"reason,omitempty"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
}

// Verdict is the outcome of a reputation lookup.
type Verdict string

const (
	VerdictUnknown Verdict = "unknown"
	VerdictBlocked Verdict = "blocked"
	VerdictAllowed Verdict = "allowed"
)

// ReputationChecker answers blocklist/allowlist questions for a tenant.
type ReputationChecker interface {
	CheckIP(ctx context.Context, tenantID, ip string) (Verdict, error)
	CheckEmail(ctx context.Context, tenantID, email string) (Verdict, error)
}

// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	HistoryStore

	// Rule definition operations
	SaveRule(ctx context.Context, tenantID string, rule *RuleDefinition) error
	GetRule(ctx context.Context, tenantID string, ruleID string) (*RuleDefinition, error)
	// ListRules returns the tenant's rules plus global rules.
	ListRules(ctx context.Context, tenantID string, enabledOnly bool) ([]*RuleDefinition, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID string) error

	// Audit log
	SaveAudit(ctx context.Context, tenantID string, rec *AuditRecord) error
	GetAudit(ctx context.Context, tenantID string, checkID string) (*AuditRecord, error)
	ListAudit(ctx context.Context, tenantID string, filter AuditFilter) ([]*AuditRecord, error)

	// Alerts
	SaveAlert(ctx context.Context, tenantID string, alert *AlertRecord) error
	ListAlerts(ctx context.Context, tenantID string, limit int) ([]*AlertRecord, error)

	// Reputation lists
	SaveReputation(ctx context.Context, tenantID string, entry *ReputationEntry) error
	DeleteReputation(ctx context.Context, tenantID string, kind ReputationKind, value string, list ReputationList) error
	// FindReputation returns the tenant and global entries matching value.
	FindReputation(ctx context.Context, tenantID string, kind ReputationKind, value string) ([]*ReputationEntry, error)
	ListReputation(ctx context.Context, tenantID string, kind ReputationKind) ([]*ReputationEntry, error)

	// Subject history ingestion
	SaveOrder(ctx context.Context, tenantID string, order *OrderRecord) error
	SavePaymentAttempt(ctx context.Context, tenantID string, attempt *PaymentAttempt) error
	SaveAccountEvent(ctx context.Context, tenantID string, event *AccountEvent) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgresHost"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgresPort"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgresUser"`
	PostgresPassword string `json:"-" mapstructure:"postgresPassword"`
	PostgresDB       string `json:"postgresDB" mapstructure:"postgresDB"`
	PostgresSSLMode  string `json:"postgresSSLMode" mapstructure:"postgresSSLMode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"connMaxLifetime"`
}

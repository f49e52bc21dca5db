package repository

// Schema definitions for Kestrel database.
// Compatible with both SQLite and PostgreSQL.
// Money amounts are stored as decimal strings.

const schemaRules = `
CREATE TABLE IF NOT EXISTS fraud_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    category TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    params TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    version TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_fraud_rules_enabled ON fraud_rules(tenant_id, enabled);
`

const schemaChecks = `
CREATE TABLE IF NOT EXISTS fraud_checks (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    reference TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    rule_name TEXT NOT NULL,
    result TEXT NOT NULL,
    score REAL NOT NULL,
    details TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_checks_subject ON fraud_checks(tenant_id, subject_id);
CREATE INDEX IF NOT EXISTS idx_fraud_checks_created ON fraud_checks(tenant_id, created_at);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS fraud_alerts (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    check_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    reference TEXT NOT NULL,
    reason TEXT NOT NULL,
    score REAL NOT NULL,
    decision TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_alerts_created ON fraud_alerts(tenant_id, created_at);
`

const schemaReputation = `
CREATE TABLE IF NOT EXISTS reputation_entries (
    tenant_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    value TEXT NOT NULL,
    list TEXT NOT NULL,
    reason TEXT,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, kind, value, list)
);

CREATE INDEX IF NOT EXISTS idx_reputation_lookup ON reputation_entries(kind, value);
`

const schemaHistory = `
CREATE TABLE IF NOT EXISTS order_history (
    tenant_id TEXT NOT NULL,
    order_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT,
    occurred_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, order_id)
);

CREATE INDEX IF NOT EXISTS idx_order_history_subject ON order_history(tenant_id, subject_id, occurred_at);

CREATE TABLE IF NOT EXISTS payment_attempts (
    tenant_id TEXT NOT NULL,
    payment_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    status TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL,
    PRIMARY KEY (tenant_id, payment_id)
);

CREATE INDEX IF NOT EXISTS idx_payment_attempts_subject ON payment_attempts(tenant_id, subject_id, status, occurred_at);

CREATE TABLE IF NOT EXISTS account_events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    subject_id TEXT NOT NULL,
    type TEXT NOT NULL,
    occurred_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_account_events_subject ON account_events(tenant_id, subject_id, occurred_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRules,
		schemaChecks,
		schemaAlerts,
		schemaReputation,
		schemaHistory,
	}
}

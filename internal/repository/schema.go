package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaEvents = `
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    type TEXT NOT NULL,
    features TEXT NOT NULL,
    client_ip TEXT,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_tenant ON events(tenant_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(tenant_id, type);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(tenant_id, timestamp);
`

const schemaEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id TEXT PRIMARY KEY,
    tenant_id TEXT NOT NULL,
    event_id TEXT NOT NULL,
    type TEXT NOT NULL,
    score REAL NOT NULL,
    verdict TEXT NOT NULL,
    confidence REAL NOT NULL,
    threshold REAL NOT NULL,
    fallback INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL,
    metadata TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_tenant ON evaluations(tenant_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_event ON evaluations(tenant_id, event_id);
CREATE INDEX IF NOT EXISTS idx_evaluations_verdict ON evaluations(tenant_id, verdict);
CREATE INDEX IF NOT EXISTS idx_evaluations_timestamp ON evaluations(tenant_id, timestamp);
`

const schemaOverrideRules = `
CREATE TABLE IF NOT EXISTS override_rules (
    id TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    event_type TEXT NOT NULL,
    expression TEXT NOT NULL,
    threshold REAL NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, tenant_id, version)
);

CREATE INDEX IF NOT EXISTS idx_override_rules_tenant ON override_rules(tenant_id);
CREATE INDEX IF NOT EXISTS idx_override_rules_enabled ON override_rules(tenant_id, enabled);
`

const schemaReputations = `
CREATE TABLE IF NOT EXISTS reputations (
    ip TEXT NOT NULL,
    tenant_id TEXT NOT NULL,
    score REAL NOT NULL,
    source TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (ip, tenant_id)
);

CREATE INDEX IF NOT EXISTS idx_reputations_tenant ON reputations(tenant_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaEvents,
		schemaEvaluations,
		schemaOverrideRules,
		schemaReputations,
	}
}

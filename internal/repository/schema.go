package repository

// Schema definitions for the Shrike database.
// Compatible with both SQLite and PostgreSQL.

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    intent TEXT NOT NULL,
    name TEXT,
    version INTEGER NOT NULL,
    priority INTEGER NOT NULL,
    language TEXT NOT NULL,
    channels TEXT,
    prefilter_literal TEXT NOT NULL,
    pattern TEXT NOT NULL,
    slots TEXT,
    guard TEXT,
    risk_cost REAL NOT NULL DEFAULT 0,
    case_insensitive INTEGER NOT NULL DEFAULT 0,
    multiline INTEGER NOT NULL DEFAULT 0,
    flag_reason TEXT,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_intent ON rule_configs(intent);
CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

const schemaTelemetryRecords = `
CREATE TABLE IF NOT EXISTS telemetry_records (
    trace_id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    engine TEXT NOT NULL,
    snapshot_version INTEGER NOT NULL,
    outcome TEXT NOT NULL,
    rule_id TEXT,
    intent TEXT,
    candidate_count INTEGER NOT NULL,
    timeout_count INTEGER NOT NULL DEFAULT 0,
    margin REAL NOT NULL,
    language TEXT,
    mixed INTEGER NOT NULL DEFAULT 0,
    text_hash TEXT NOT NULL,
    channel TEXT,
    attempt_budget_ms INTEGER NOT NULL,
    duration_us INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_telemetry_rule ON telemetry_records(rule_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_telemetry_outcome ON telemetry_records(outcome, timestamp);
CREATE INDEX IF NOT EXISTS idx_telemetry_timestamp ON telemetry_records(timestamp);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaRuleConfigs,
		schemaTelemetryRecords,
	}
}

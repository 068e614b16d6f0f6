// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-dialog/shrike/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleConfig stores a rule configuration, upserting on (id, version).
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	channels, _ := json.Marshal(rule.Channels)
	slots, _ := json.Marshal(rule.Slots)

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, intent, name, version, priority, language, channels,
			prefilter_literal, pattern, slots, guard, risk_cost,
			case_insensitive, multiline, flag_reason, enabled,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, version) DO UPDATE SET
			intent = excluded.intent,
			name = excluded.name,
			priority = excluded.priority,
			language = excluded.language,
			channels = excluded.channels,
			prefilter_literal = excluded.prefilter_literal,
			pattern = excluded.pattern,
			slots = excluded.slots,
			guard = excluded.guard,
			risk_cost = excluded.risk_cost,
			case_insensitive = excluded.case_insensitive,
			multiline = excluded.multiline,
			flag_reason = excluded.flag_reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Intent, rule.Name, rule.Version, rule.Priority,
		rule.Language, string(channels),
		rule.PrefilterLiteral, rule.Pattern, string(slots), rule.Guard,
		rule.RiskCost,
		boolToInt(rule.CaseInsensitive), boolToInt(rule.Multiline),
		rule.FlagReason, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the latest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, ruleID string) (*domain.RuleConfig, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `
		SELECT id, intent, name, version, priority, language, channels,
			   prefilter_literal, pattern, slots, guard, risk_cost,
			   case_insensitive, multiline, flag_reason, enabled
		FROM rule_configs
		WHERE id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), ruleID)
	rule, err := scanRuleConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rule, err
}

// ListRuleConfigs retrieves the latest enabled version of every rule.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT rc.id, rc.intent, rc.name, rc.version, rc.priority,
			   rc.language, rc.channels, rc.prefilter_literal, rc.pattern,
			   rc.slots, rc.guard, rc.risk_cost, rc.case_insensitive,
			   rc.multiline, rc.flag_reason, rc.enabled
		FROM rule_configs rc
		JOIN (
			SELECT id, MAX(version) AS max_version
			FROM rule_configs
			WHERE enabled = 1
			GROUP BY id
		) latest ON rc.id = latest.id AND rc.version = latest.max_version
		WHERE rc.enabled = 1
		ORDER BY rc.priority DESC, rc.id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		rule, err := scanRuleConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, rule)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig soft-deletes all versions of a rule by setting enabled = 0.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	query := `
		UPDATE rule_configs
		SET enabled = 0, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), ruleID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveTelemetryRecord stores a classification audit record.
func (r *SQLRepository) SaveTelemetryRecord(ctx context.Context, rec *domain.TelemetryRecord) error {
	if rec == nil || rec.TraceID == "" {
		return fmt.Errorf("%w: trace id is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO telemetry_records (
			trace_id, timestamp, engine, snapshot_version, outcome,
			rule_id, intent, candidate_count, timeout_count, margin,
			language, mixed, text_hash, channel, attempt_budget_ms, duration_us
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.TraceID, rec.Timestamp, rec.Engine, rec.SnapshotVersion,
		rec.Outcome, rec.RuleID, rec.Intent,
		rec.CandidateCount, rec.TimeoutCount, rec.Margin,
		rec.Language, boolToInt(rec.Mixed), rec.TextHash,
		rec.Channel, rec.AttemptBudgetMs, rec.DurationUs,
	)
	return err
}

// GetTelemetryRecord retrieves an audit record by trace ID.
func (r *SQLRepository) GetTelemetryRecord(ctx context.Context, traceID string) (*domain.TelemetryRecord, error) {
	if traceID == "" {
		return nil, fmt.Errorf("%w: trace id is required", ErrInvalidInput)
	}

	query := `
		SELECT trace_id, timestamp, engine, snapshot_version, outcome,
			   rule_id, intent, candidate_count, timeout_count, margin,
			   language, mixed, text_hash, channel, attempt_budget_ms, duration_us
		FROM telemetry_records
		WHERE trace_id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), traceID)
	rec, err := scanTelemetryRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// ListTelemetryRecords retrieves audit records, optionally filtered by rule.
func (r *SQLRepository) ListTelemetryRecords(ctx context.Context, ruleID string, since time.Time, limit int) ([]*domain.TelemetryRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT trace_id, timestamp, engine, snapshot_version, outcome,
			   rule_id, intent, candidate_count, timeout_count, margin,
			   language, mixed, text_hash, channel, attempt_budget_ms, duration_us
		FROM telemetry_records
		WHERE timestamp >= ?
	`
	args := []any{since}

	if ruleID != "" {
		query += ` AND rule_id = ?`
		args = append(args, ruleID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.TelemetryRecord
	for rows.Next() {
		rec, err := scanTelemetryRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleConfig(row rowScanner) (*domain.RuleConfig, error) {
	var rule domain.RuleConfig
	var name, channels, slots, guard, flagReason sql.NullString
	var caseInsensitive, multiline, enabled int

	err := row.Scan(
		&rule.ID, &rule.Intent, &name, &rule.Version, &rule.Priority,
		&rule.Language, &channels,
		&rule.PrefilterLiteral, &rule.Pattern, &slots, &guard,
		&rule.RiskCost,
		&caseInsensitive, &multiline, &flagReason, &enabled,
	)
	if err != nil {
		return nil, err
	}

	rule.Name = name.String
	rule.Guard = guard.String
	rule.FlagReason = flagReason.String
	rule.CaseInsensitive = caseInsensitive == 1
	rule.Multiline = multiline == 1
	rule.Enabled = enabled == 1

	if channels.String != "" {
		json.Unmarshal([]byte(channels.String), &rule.Channels)
	}
	if slots.String != "" {
		json.Unmarshal([]byte(slots.String), &rule.Slots)
	}

	return &rule, nil
}

func scanTelemetryRecord(row rowScanner) (*domain.TelemetryRecord, error) {
	var rec domain.TelemetryRecord
	var ruleID, intent, language, channel sql.NullString
	var mixed int

	err := row.Scan(
		&rec.TraceID, &rec.Timestamp, &rec.Engine, &rec.SnapshotVersion,
		&rec.Outcome, &ruleID, &intent,
		&rec.CandidateCount, &rec.TimeoutCount, &rec.Margin,
		&language, &mixed, &rec.TextHash,
		&channel, &rec.AttemptBudgetMs, &rec.DurationUs,
	)
	if err != nil {
		return nil, err
	}

	rec.RuleID = ruleID.String
	rec.Intent = intent.String
	rec.Language = language.String
	rec.Channel = channel.String
	rec.Mixed = mixed == 1

	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

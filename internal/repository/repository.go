// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-security/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
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

// SaveEvent stores an event with tenant isolation. The raw feature
// mapping is persisted verbatim so an evaluation can be replayed.
func (r *SQLRepository) SaveEvent(ctx context.Context, tenantID string, event *domain.Event) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	features, err := json.Marshal(event.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	query := `
		INSERT INTO events (
			id, tenant_id, type, features, client_ip, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		event.ID, tenantID, event.Type,
		string(features), event.ClientIP,
		event.Timestamp, event.CreatedAt,
	)
	return err
}

// GetEvent retrieves an event by ID with tenant isolation.
func (r *SQLRepository) GetEvent(ctx context.Context, tenantID string, eventID string) (*domain.Event, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, type, features, client_ip, timestamp, created_at
		FROM events
		WHERE tenant_id = ? AND id = ?
	`

	var event domain.Event
	var features string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, eventID).Scan(
		&event.ID, &event.TenantID, &event.Type,
		&features, &event.ClientIP,
		&event.Timestamp, &event.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if features != "" {
		json.Unmarshal([]byte(features), &event.Features)
	}

	return &event, nil
}

// SaveEvaluation stores an evaluation result with tenant isolation.
func (r *SQLRepository) SaveEvaluation(ctx context.Context, tenantID string, eval *domain.Evaluation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(eval.Metadata)

	fallback := 0
	if eval.Fallback {
		fallback = 1
	}

	query := `
		INSERT INTO evaluations (
			id, tenant_id, event_id, type, score, verdict, confidence,
			threshold, fallback, timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		eval.ID, tenantID, eval.EventID, eval.Type,
		eval.Score, eval.Verdict, eval.Confidence,
		eval.Threshold, fallback, eval.Timestamp,
		string(metadata),
	)
	return err
}

// GetEvaluation retrieves an evaluation by ID with tenant isolation.
func (r *SQLRepository) GetEvaluation(ctx context.Context, tenantID string, evalID string) (*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, event_id, type, score, verdict, confidence,
			   threshold, fallback, timestamp, metadata
		FROM evaluations
		WHERE tenant_id = ? AND id = ?
	`

	eval, err := r.scanEvaluation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, evalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return eval, nil
}

// ListEvaluationsByEvent retrieves all evaluations recorded for an event.
func (r *SQLRepository) ListEvaluationsByEvent(ctx context.Context, tenantID string, eventID string) ([]*domain.Evaluation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, event_id, type, score, verdict, confidence,
			   threshold, fallback, timestamp, metadata
		FROM evaluations
		WHERE tenant_id = ? AND event_id = ?
		ORDER BY timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*domain.Evaluation
	for rows.Next() {
		eval, err := r.scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}

	return evals, rows.Err()
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanEvaluation(row scanner) (*domain.Evaluation, error) {
	var eval domain.Evaluation
	var metadata string
	var fallback int

	err := row.Scan(
		&eval.ID, &eval.TenantID, &eval.EventID, &eval.Type,
		&eval.Score, &eval.Verdict, &eval.Confidence,
		&eval.Threshold, &fallback, &eval.Timestamp,
		&metadata,
	)
	if err != nil {
		return nil, err
	}

	eval.Fallback = fallback == 1
	json.Unmarshal([]byte(metadata), &eval.Metadata)

	return &eval, nil
}

// SaveOverrideRule stores a threshold override rule with tenant isolation.
func (r *SQLRepository) SaveOverrideRule(ctx context.Context, tenantID string, rule *domain.OverrideRule) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO override_rules (
			id, tenant_id, name, description, version, event_type,
			expression, threshold, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			event_type = excluded.event_type,
			expression = excluded.expression,
			threshold = excluded.threshold,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.EventType, rule.Expression,
		rule.Threshold, enabled,
		now, now,
	)
	return err
}

// GetOverrideRule retrieves the latest enabled version of an override rule.
func (r *SQLRepository) GetOverrideRule(ctx context.Context, tenantID string, ruleID string) (*domain.OverrideRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, event_type,
			   expression, threshold, enabled
		FROM override_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var rule domain.OverrideRule
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&rule.Version, &rule.EventType, &rule.Expression,
		&rule.Threshold, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled == 1

	return &rule, nil
}

// ListOverrideRules retrieves all enabled override rules for a tenant.
func (r *SQLRepository) ListOverrideRules(ctx context.Context, tenantID string) ([]*domain.OverrideRule, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, event_type,
			   expression, threshold, enabled
		FROM override_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*domain.OverrideRule
	for rows.Next() {
		var rule domain.OverrideRule
		var enabled int

		if err := rows.Scan(
			&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
			&rule.Version, &rule.EventType, &rule.Expression,
			&rule.Threshold, &enabled,
		); err != nil {
			return nil, err
		}

		rule.Enabled = enabled == 1
		rules = append(rules, &rule)
	}

	return rules, rows.Err()
}

// DeleteOverrideRule soft-deletes an override rule by setting enabled = 0.
func (r *SQLRepository) DeleteOverrideRule(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE override_rules
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, ruleID)
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

// SaveReputation upserts a reputation entry with tenant isolation.
func (r *SQLRepository) SaveReputation(ctx context.Context, tenantID string, rep *domain.Reputation) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rep.IP == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO reputations (ip, tenant_id, score, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip, tenant_id) DO UPDATE SET
			score = excluded.score,
			source = excluded.source,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rep.IP, tenantID, rep.Score, rep.Source, rep.UpdatedAt,
	)
	return err
}

// GetReputation retrieves a reputation entry with tenant isolation.
func (r *SQLRepository) GetReputation(ctx context.Context, tenantID string, ip string) (*domain.Reputation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT ip, score, source, updated_at
		FROM reputations
		WHERE tenant_id = ? AND ip = ?
	`

	var rep domain.Reputation
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ip).Scan(
		&rep.IP, &rep.Score, &rep.Source, &rep.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rep, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
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

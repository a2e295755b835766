package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Event operations
	SaveEvent(ctx context.Context, tenantID string, event *Event) error
	GetEvent(ctx context.Context, tenantID string, eventID string) (*Event, error)

	// Evaluation results
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)
	ListEvaluationsByEvent(ctx context.Context, tenantID string, eventID string) ([]*Evaluation, error)

	// Threshold override rule operations
	SaveOverrideRule(ctx context.Context, tenantID string, rule *OverrideRule) error
	GetOverrideRule(ctx context.Context, tenantID string, ruleID string) (*OverrideRule, error)
	ListOverrideRules(ctx context.Context, tenantID string) ([]*OverrideRule, error)
	DeleteOverrideRule(ctx context.Context, tenantID string, ruleID string) error

	// IP reputation entries consulted by the reputation provider
	SaveReputation(ctx context.Context, tenantID string, rep *Reputation) error
	GetReputation(ctx context.Context, tenantID string, ip string) (*Reputation, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Reputation is a stored reputation entry for a client address.
// Score follows the handshake feature convention: 0 is hostile,
// 1 is trusted, 0.5 is unknown.
type Reputation struct {
	IP        string    `json:"ip"`
	Score     float64   `json:"score"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

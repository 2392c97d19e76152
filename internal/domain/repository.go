// Package domain defines the core interfaces and types for Fiscal.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID string, txID string) (*Transaction, error)
	ListUnclassified(ctx context.Context, tenantID string, limit int) ([]*Transaction, error)

	// Rule definition operations
	CreateRule(ctx context.Context, tenantID string, rule *RuleDefinition) error
	UpdateRule(ctx context.Context, tenantID string, rule *RuleDefinition) error
	GetRule(ctx context.Context, tenantID string, ruleID int64) (*RuleDefinition, error)
	ListRules(ctx context.Context, tenantID string, filter RuleFilter) ([]*RuleDefinition, error)
	ListActiveRules(ctx context.Context, tenantID string, ruleType string) ([]*RuleDefinition, error)
	DeleteRule(ctx context.Context, tenantID string, ruleID int64) error

	// Evaluation results. SaveEvaluation writes the classification back onto
	// the transaction, stores logs and replaces unresolved suggestions atomically.
	SaveEvaluation(ctx context.Context, tenantID string, eval *Evaluation) error
	GetEvaluation(ctx context.Context, tenantID string, evalID string) (*Evaluation, error)

	// Audit trail
	ListExecutionLogs(ctx context.Context, tenantID string, filter LogFilter) ([]*RuleExecutionLog, error)

	// Compliance suggestions
	ListSuggestions(ctx context.Context, tenantID string, filter SuggestionFilter) ([]*ComplianceSuggestion, error)
	ResolveSuggestion(ctx context.Context, tenantID string, suggestionID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgreshost"`
	PostgresPort     int    `mapstructure:"postgresport"`
	PostgresUser     string `mapstructure:"postgresuser"`
	PostgresPassword string `mapstructure:"postgrespassword"`
	PostgresDB       string `mapstructure:"postgresdb"`
	PostgresSSLMode  string `mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
}

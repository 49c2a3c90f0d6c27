// Package domain defines the core interfaces and types for Keeper.
package domain

import (
	"context"
	"time"
)

// Repository is the data access contract consumed by the reporting layer.
// List methods return zero rows (not an error) when nothing matches.
type Repository interface {
	// Read side used by analytics and monitoring
	ListClients(ctx context.Context, q *Query) ([]*Client, error)
	ListAuditLogs(ctx context.Context, q *Query) ([]*AuditLogEntry, error)
	ListInvoices(ctx context.Context, q *Query) ([]*Invoice, error)
	ListReceipts(ctx context.Context, q *Query) ([]*Receipt, error)
	ListCreditNotes(ctx context.Context, q *Query) ([]*CreditNote, error)
	ListSKRs(ctx context.Context, q *Query) ([]*SKR, error)
	ListComplianceAssessments(ctx context.Context, q *Query) ([]*ComplianceAssessment, error)

	// Write side used by the seed tool and tests
	SaveUserProfile(ctx context.Context, u *UserProfile) error
	SaveClient(ctx context.Context, c *Client) error
	SaveAuditLog(ctx context.Context, e *AuditLogEntry) error
	SaveInvoice(ctx context.Context, inv *Invoice) error
	SaveReceipt(ctx context.Context, r *Receipt) error
	SaveCreditNote(ctx context.Context, cn *CreditNote) error
	SaveSKR(ctx context.Context, s *SKR) error
	SaveComplianceAssessment(ctx context.Context, a *ComplianceAssessment) error

	// Detection rule configuration
	SaveDetectionRule(ctx context.Context, rule *DetectionRule) error
	GetDetectionRule(ctx context.Context, ruleID string) (*DetectionRule, error)
	ListDetectionRules(ctx context.Context) ([]*DetectionRule, error)
	DeleteDetectionRule(ctx context.Context, ruleID string) error

	// Alert notifications written by the alert worker
	SaveAlertNotification(ctx context.Context, n *AlertNotification) error
	ListAlertNotifications(ctx context.Context, q *Query) ([]*AlertNotification, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `koanf:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `koanf:"sqlite_path" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `koanf:"postgres_host" json:"postgresHost"`
	PostgresPort     int    `koanf:"postgres_port" json:"postgresPort"`
	PostgresUser     string `koanf:"postgres_user" json:"postgresUser"`
	PostgresPassword string `koanf:"postgres_password" json:"-"`
	PostgresDB       string `koanf:"postgres_db" json:"postgresDb"`
	PostgresSSLMode  string `koanf:"postgres_sslmode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `koanf:"max_open_conns" json:"maxOpenConns"`
	MaxIdleConns    int           `koanf:"max_idle_conns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime" json:"connMaxLifetime"`
}

package domain

import "time"

// Config holds the complete Keeper configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" json:"server"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository" json:"repository"`
	Cache      CacheConfig      `koanf:"cache" json:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus" json:"eventBus"`

	// Security
	Auth AuthConfig `koanf:"auth" json:"auth"`

	// Analytics and monitoring behaviour
	Monitoring MonitoringConfig `koanf:"monitoring" json:"monitoring"`

	// Observability
	Logging LoggingConfig `koanf:"logging" json:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host" json:"host"`
	Port         int    `koanf:"port" json:"port"`
	ReadTimeout  int    `koanf:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `koanf:"write_timeout" json:"writeTimeout"` // seconds
}

// AuthConfig holds bearer token settings.
type AuthConfig struct {
	JWTSecret   string        `koanf:"jwt_secret" json:"-"`
	Issuer      string        `koanf:"issuer" json:"issuer"`
	TokenExpiry time.Duration `koanf:"token_expiry" json:"tokenExpiry"`
}

// MonitoringConfig tunes the analytics and monitoring endpoints.
type MonitoringConfig struct {
	// Timezone used for business-hours and hour-of-day computations.
	Timezone string `koanf:"timezone" json:"timezone"`

	// Max rows fetched per dataset for one report.
	FetchLimit int `koanf:"fetch_limit" json:"fetchLimit"`

	// Audit report generation limit per caller.
	ReportRateLimit  int           `koanf:"report_rate_limit" json:"reportRateLimit"`
	ReportRateWindow time.Duration `koanf:"report_rate_window" json:"reportRateWindow"`

	// Number of KYC documents a client needs to count as complete.
	RequiredKYCDocuments int `koanf:"required_kyc_documents" json:"requiredKycDocuments"`

	// Publish findings at or above this severity to the event bus.
	AlertSeverity Severity `koanf:"alert_severity" json:"alertSeverity"`

	// Run the async alert worker.
	AlertWorker bool `koanf:"alert_worker" json:"alertWorker"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`   // debug, info, warn, error
	Format string `koanf:"format" json:"format"` // json, text
}

// DefaultConfig returns a single-node configuration backed by SQLite,
// an in-memory cache and the channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 60,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./keeper.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Auth: AuthConfig{
			Issuer:      "keeper",
			TokenExpiry: 12 * time.Hour,
		},
		Monitoring: MonitoringConfig{
			Timezone:             "UTC",
			FetchLimit:           10000,
			ReportRateLimit:      10,
			ReportRateWindow:     time.Minute,
			RequiredKYCDocuments: 3,
			AlertSeverity:        SeverityHigh,
			AlertWorker:          true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Package config loads Keeper's configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/keeper/internal/domain"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KEEPER_"

	// EnvConfigFile names the optional YAML file.
	EnvConfigFile = "KEEPER_CONFIG"
)

// Load builds the configuration from, in increasing precedence:
// domain.DefaultConfig, the YAML file named by KEEPER_CONFIG (optional),
// and KEEPER_ environment variables where "__" separates nesting levels,
// e.g. KEEPER_MONITORING__FETCH_LIMIT=500.
func Load() (*domain.Config, error) {
	return load(os.Getenv(EnvConfigFile))
}

func load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found", path)
			}
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps KEEPER_SERVER__PORT to server.port.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate rejects configurations the service cannot start with.
func Validate(cfg *domain.Config) error {
	verr := &domain.ValidationError{}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		verr.Add("server.port", "must be between 1 and 65535")
	}
	switch cfg.Repository.Driver {
	case "sqlite", "postgres":
	default:
		verr.Add("repository.driver", "must be sqlite or postgres")
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < 32 {
		verr.Add("auth.jwt_secret", "must be at least 32 bytes")
	}
	if cfg.Monitoring.FetchLimit < 0 {
		verr.Add("monitoring.fetch_limit", "must not be negative")
	}
	if cfg.Monitoring.ReportRateLimit < 0 {
		verr.Add("monitoring.report_rate_limit", "must not be negative")
	}
	if cfg.Monitoring.ReportRateLimit > 0 && cfg.Monitoring.ReportRateWindow <= 0 {
		verr.Add("monitoring.report_rate_window", "must be positive when rate limiting is enabled")
	}
	if cfg.Monitoring.AlertSeverity != "" && !cfg.Monitoring.AlertSeverity.Valid() {
		verr.Add("monitoring.alert_severity", "must be low, medium, high or critical")
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		verr.Add("logging.format", "must be json or text")
	}

	if verr.HasErrors() {
		return fmt.Errorf("invalid configuration: %w", verr)
	}
	return nil
}

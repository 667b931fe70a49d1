// Package config provides configuration management for Entitled.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// ServerConfig holds server configuration. Values come from an optional
// YAML file overridden by environment variables. The license master key
// is intentionally excluded from the YAML file and from String().
type ServerConfig struct {
	Environment Environment `yaml:"environment,omitempty"`
	Port        int         `yaml:"port,omitempty"`

	DatabaseURL string `yaml:"database_url,omitempty"`
	RedisURL    string `yaml:"redis_url,omitempty"`

	LicensePath string `yaml:"license_path,omitempty"`
	// UsageDBPath is the local SQLite usage ledger used in on-prem mode.
	UsageDBPath string `yaml:"usage_db_path,omitempty"`

	AdminToken string `yaml:"admin_token,omitempty"`

	CORSOrigins       []string `yaml:"cors_origins,omitempty"`
	RateLimitRequests int64    `yaml:"rate_limit_requests,omitempty"`
	RateLimitPeriod   string   `yaml:"rate_limit_period,omitempty"`

	// RevalidateCron is the schedule for the periodic license
	// revalidation job. Empty disables the job.
	RevalidateCron string `yaml:"revalidate_cron,omitempty"`

	// UsageRetentionMonths is how many closed billing periods of usage
	// counters to keep before the retention job purges them.
	UsageRetentionMonths int `yaml:"usage_retention_months,omitempty"`

	// MasterKey derives the license decryption key. Never logged, never
	// persisted; env-only.
	MasterKey string `yaml:"-"`
}

// LoadServerConfig reads configuration from an optional YAML file at
// path (empty path or missing file is fine) and then applies environment
// variable overrides.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := ServerConfig{
		Environment:          EnvDevelopment,
		Port:                 8080,
		LicensePath:          "license.lic",
		UsageDBPath:          "entitled-usage.db",
		RateLimitRequests:    100,
		RateLimitPeriod:      "1m",
		RevalidateCron:       "@hourly",
		UsageRetentionMonths: 12,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	if env := Environment(os.Getenv("ENV")); env != "" {
		cfg.Environment = env
	}
	switch cfg.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		cfg.Environment = EnvDevelopment
	}

	if port := getEnvInt("PORT", 0); port > 0 {
		cfg.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("LICENSE_PATH"); v != "" {
		cfg.LicensePath = v
	}
	if v := os.Getenv("USAGE_DB_PATH"); v != "" {
		cfg.UsageDBPath = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	if n := getEnvInt("RATE_LIMIT_REQUESTS", 0); n > 0 {
		cfg.RateLimitRequests = int64(n)
	}
	if v := os.Getenv("RATE_LIMIT_PERIOD"); v != "" {
		cfg.RateLimitPeriod = v
	}
	if v := os.Getenv("REVALIDATE_CRON"); v != "" {
		cfg.RevalidateCron = v
	}
	if n := getEnvInt("USAGE_RETENTION_MONTHS", 0); n > 0 {
		cfg.UsageRetentionMonths = n
	}

	cfg.MasterKey = os.Getenv("LICENSE_MASTER_KEY")

	return cfg, nil
}

// Validate checks that the configuration has required fields.
func (c *ServerConfig) Validate() error {
	if c.MasterKey == "" {
		return errors.New("LICENSE_MASTER_KEY is required")
	}
	if c.LicensePath == "" {
		return errors.New("license path is required")
	}
	if c.AdminToken == "" {
		return errors.New("ADMIN_TOKEN is required")
	}
	return nil
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

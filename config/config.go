// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/metergate/metergate/domain/plan"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Auth     AuthConfig     `yaml:"auth"`
	Billing  BillingConfig  `yaml:"billing"`
	Plans    []PlanConfig   `yaml:"plans"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DatabaseConfig configures the authoritative store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// IngestConfig configures the usage ingestion endpoint.
type IngestConfig struct {
	// Secret is the shared HMAC secret usage producers sign with.
	Secret string `yaml:"secret"`
}

// AuthConfig configures API key authentication.
type AuthConfig struct {
	KeyPrefix string `yaml:"key_prefix"`
	Header    string `yaml:"header"` // Header name for API key (default: X-API-Key)
}

// BillingConfig holds the non-payment billing surface: where blocked
// callers are sent. Payment settlement is out of scope.
type BillingConfig struct {
	ContactSalesURL string `yaml:"contact_sales_url"`
}

// PlanConfig configures one pricing tier.
type PlanConfig struct {
	Slug                  string `yaml:"slug"`
	Label                 string `yaml:"label"`
	MonthlyQuota          int64  `yaml:"monthly_quota"`
	AllowOverage          bool   `yaml:"allow_overage"`
	OverageUnitPriceCents int64  `yaml:"overage_unit_price_cents"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Custom path (default: /metrics)
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand ${VAR} references, for secrets kept out of the file.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	applyPlanEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadFromEnv creates configuration entirely from METERGATE_* environment
// variables, for deployments without a config file.
func LoadFromEnv() (*Config, error) {
	var cfg Config

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	applyPlanEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// LoadWithFallback tries to load from file, falling back to environment
// variables when the file is absent.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	if HasEnvConfig() {
		return LoadFromEnv()
	}

	return nil, fmt.Errorf("no configuration found: provide config file or set METERGATE_INGEST_SECRET")
}

// HasEnvConfig returns true if essential environment variables are set.
func HasEnvConfig() bool {
	return os.Getenv("METERGATE_INGEST_SECRET") != ""
}

// PlanTable converts the configured plans into the domain plan table.
func (c *Config) PlanTable() []plan.Plan {
	plans := make([]plan.Plan, 0, len(c.Plans))
	for _, p := range c.Plans {
		plans = append(plans, plan.Plan{
			Slug:                  p.Slug,
			Label:                 p.Label,
			MonthlyQuota:          p.MonthlyQuota,
			AllowOverage:          p.AllowOverage,
			OverageUnitPriceCents: p.OverageUnitPriceCents,
		})
	}
	return plans
}

// applyEnvOverrides applies METERGATE_* environment variables.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("METERGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("METERGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("METERGATE_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("METERGATE_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	if v := os.Getenv("METERGATE_DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("METERGATE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	if v := os.Getenv("METERGATE_INGEST_SECRET"); v != "" {
		cfg.Ingest.Secret = v
	}

	if v := os.Getenv("METERGATE_AUTH_KEY_PREFIX"); v != "" {
		cfg.Auth.KeyPrefix = v
	}
	if v := os.Getenv("METERGATE_AUTH_HEADER"); v != "" {
		cfg.Auth.Header = v
	}

	if v := os.Getenv("METERGATE_CONTACT_SALES_URL"); v != "" {
		cfg.Billing.ContactSalesURL = v
	}

	if v := os.Getenv("METERGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("METERGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("METERGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("METERGATE_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}
}

// applyPlanEnvOverrides adjusts the plan table from the environment. It
// runs after setDefaults so the override also reaches the built-in plan
// table when the file carries no plans section.
func applyPlanEnvOverrides(cfg *Config) {
	// Overage pricing is tunable per deployment without editing the plan
	// table.
	if v := os.Getenv("METERGATE_OVERAGE_PRO_CENTS"); v != "" {
		if cents, err := strconv.ParseInt(v, 10, 64); err == nil {
			for i := range cfg.Plans {
				if cfg.Plans[i].Slug == plan.SlugPro {
					cfg.Plans[i].OverageUnitPriceCents = cents
				}
			}
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "metergate.db"
	}

	if cfg.Auth.KeyPrefix == "" {
		cfg.Auth.KeyPrefix = "mk_"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}

	if cfg.Billing.ContactSalesURL == "" {
		cfg.Billing.ContactSalesURL = "/pricing"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if len(cfg.Plans) == 0 {
		for _, p := range plan.Defaults() {
			cfg.Plans = append(cfg.Plans, PlanConfig{
				Slug:                  p.Slug,
				Label:                 p.Label,
				MonthlyQuota:          p.MonthlyQuota,
				AllowOverage:          p.AllowOverage,
				OverageUnitPriceCents: p.OverageUnitPriceCents,
			})
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Ingest.Secret == "" {
		return fmt.Errorf("ingest.secret is required")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[cfg.Database.Driver] {
		return fmt.Errorf("database.driver must be 'sqlite' or 'postgres', got %q", cfg.Database.Driver)
	}

	seen := make(map[string]bool)
	hasCommunity := false
	for i, p := range cfg.Plans {
		if p.Slug == "" {
			return fmt.Errorf("plans[%d].slug is required", i)
		}
		if seen[p.Slug] {
			return fmt.Errorf("plans[%d]: duplicate slug %q", i, p.Slug)
		}
		seen[p.Slug] = true
		if p.MonthlyQuota < 0 {
			return fmt.Errorf("plans[%d].monthly_quota must not be negative", i)
		}
		if p.Slug == plan.SlugCommunity {
			hasCommunity = true
		}
	}
	if !hasCommunity {
		// Users with unknown slugs fall back to community; the table must
		// carry it.
		return fmt.Errorf("plans must include the %q tier", plan.SlugCommunity)
	}

	return nil
}

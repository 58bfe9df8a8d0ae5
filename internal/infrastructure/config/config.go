// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	policy := cfg.PolicyFor("tenant-42")
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration.
type Config struct {
	Server         ServerConfig              `yaml:"server"`
	Storage        StorageConfig             `yaml:"storage"`
	Reconciliation ReconciliationConfig      `yaml:"reconciliation"`
	TenantPolicies map[string]TenantOverride `yaml:"tenant_policies"`
	Observability  ObservabilityConfig       `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds database configuration.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// ReconciliationConfig is the default matching policy. Per-tenant
// overrides in TenantPolicies take precedence; the defaults here replace
// the tolerances that used to be hardcoded at each call site.
type ReconciliationConfig struct {
	AmountTolerance      float64 `yaml:"amount_tolerance"`       // absolute, currency units
	AmountToleranceRel   float64 `yaml:"amount_tolerance_rel"`   // fraction of transaction magnitude
	DateWindowDays       int     `yaml:"date_window_days"`       // either direction
	AutoMatchThreshold   float64 `yaml:"auto_match_threshold"`   // score for unattended commit
	SuggestFloor         float64 `yaml:"suggest_floor"`          // minimum score to surface
	TransferTolerance    float64 `yaml:"transfer_tolerance"`     // offset-pair sum tolerance
	SplitTolerance       float64 `yaml:"split_tolerance"`        // allocation rounding tolerance
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"` // classification auto-approval
}

// TenantOverride carries per-tenant deviations from the default policy.
// Zero values mean "use the default".
type TenantOverride struct {
	AmountTolerance      float64 `yaml:"amount_tolerance"`
	AmountToleranceRel   float64 `yaml:"amount_tolerance_rel"`
	DateWindowDays       int     `yaml:"date_window_days"`
	AutoMatchThreshold   float64 `yaml:"auto_match_threshold"`
	SuggestFloor         float64 `yaml:"suggest_floor"`
	AutoApproveThreshold float64 `yaml:"auto_approve_threshold"`
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// PolicyFor resolves the effective reconciliation policy for a tenant by
// layering that tenant's overrides on top of the defaults.
func (c *Config) PolicyFor(tenantID string) ReconciliationConfig {
	policy := c.Reconciliation

	override, ok := c.TenantPolicies[tenantID]
	if !ok {
		return policy
	}

	if override.AmountTolerance > 0 {
		policy.AmountTolerance = override.AmountTolerance
	}
	if override.AmountToleranceRel > 0 {
		policy.AmountToleranceRel = override.AmountToleranceRel
	}
	if override.DateWindowDays > 0 {
		policy.DateWindowDays = override.DateWindowDays
	}
	if override.AutoMatchThreshold > 0 {
		policy.AutoMatchThreshold = override.AutoMatchThreshold
	}
	if override.SuggestFloor > 0 {
		policy.SuggestFloor = override.SuggestFloor
	}
	if override.AutoApproveThreshold > 0 {
		policy.AutoApproveThreshold = override.AutoApproveThreshold
	}

	return policy
}

// Load reads and parses the config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECON_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.Server.Port = getEnvInt("RECON_PORT", cfg.Server.Port)
	cfg.Storage.DatabasePath = getEnv("RECON_DB_PATH", cfg.Storage.DatabasePath)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables.
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from the specified path, falls back to
// environment variables.
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// defaults returns the baseline configuration shared by both loaders.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Storage: StorageConfig{
			DatabasePath: "recon.db",
		},
		Reconciliation: ReconciliationConfig{
			AmountTolerance:      0.01,
			AmountToleranceRel:   0.01,
			DateWindowDays:       5,
			AutoMatchThreshold:   0.90,
			SuggestFloor:         0.50,
			TransferTolerance:    0.01,
			SplitTolerance:       0.01,
			AutoApproveThreshold: 0.90,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
		},
	}
}

// getEnv retrieves an environment variable with a fallback default.
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default.
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

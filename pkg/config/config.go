package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/reelforge/reelforge/pkg/models"
)

// Config holds all reelforge configuration.
type Config struct {
	Listen   string         `yaml:"listen" env:"LISTEN"`
	DBPath   string         `yaml:"db_path" env:"DB_PATH"`
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	Budget   BudgetConfig   `yaml:"budget" envPrefix:"BUDGET_"`
	Jobs     JobsConfig     `yaml:"jobs" envPrefix:"JOBS_"`
	Provider ProviderConfig `yaml:"provider" envPrefix:"PROVIDER_"`
	Storage  StorageConfig  `yaml:"storage" envPrefix:"STORAGE_"`
	Audit    AuditConfig    `yaml:"audit" envPrefix:"AUDIT_"`
}

// BudgetConfig sets the spend ceiling and alert thresholds.
type BudgetConfig struct {
	Limit      float64           `yaml:"limit" env:"LIMIT"`
	Thresholds models.Thresholds `yaml:"thresholds" envPrefix:"THRESHOLD_"`
}

// JobsConfig controls job lookups.
type JobsConfig struct {
	// Expiry is how long after creation a job may still be looked up.
	Expiry time.Duration `yaml:"expiry" env:"EXPIRY"`
}

// ProviderConfig defines the generative video provider.
type ProviderConfig struct {
	Name    string        `yaml:"name" env:"NAME"`
	URL     string        `yaml:"url" env:"URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Model   string        `yaml:"model" env:"MODEL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Pricing PricingConfig `yaml:"pricing"`
}

// PricingConfig prices generated video per second of output.
type PricingConfig struct {
	DefaultPerSecond float64            `yaml:"default_per_second" env:"DEFAULT_PER_SECOND"`
	PerSecond        map[string]float64 `yaml:"per_second"`
	DefaultDuration  int                `yaml:"default_duration" env:"DEFAULT_DURATION"`
}

// StorageConfig selects where completed assets are migrated to.
// Driver is "s3" or "local" (default).
type StorageConfig struct {
	Driver       string        `yaml:"driver" env:"DRIVER"`
	Prefix       string        `yaml:"prefix" env:"PREFIX"`
	SignedURLTTL time.Duration `yaml:"signed_url_ttl" env:"SIGNED_URL_TTL"`
	S3           S3Config      `yaml:"s3" envPrefix:"S3_"`
	Local        LocalConfig   `yaml:"local" envPrefix:"LOCAL_"`
}

// S3Config configures an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
	PublicBaseURL   string `yaml:"public_base_url" env:"PUBLIC_BASE_URL"`
}

// LocalConfig stores assets on the local filesystem.
type LocalConfig struct {
	Dir     string `yaml:"dir" env:"DIR"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// AuditConfig controls the job transition journal.
type AuditConfig struct {
	Enabled       bool `yaml:"enabled" env:"ENABLED"`
	RetentionDays int  `yaml:"retention_days" env:"RETENTION_DAYS"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:   ":8080",
		DBPath:   "reelforge.db",
		LogLevel: "info",
		Budget: BudgetConfig{
			Limit:      300,
			Thresholds: models.DefaultThresholds(),
		},
		Jobs: JobsConfig{
			Expiry: 24 * time.Hour,
		},
		Provider: ProviderConfig{
			Name:    "veo",
			Timeout: 30 * time.Second,
			Pricing: PricingConfig{
				DefaultPerSecond: 0.75,
				DefaultDuration:  8,
			},
		},
		Storage: StorageConfig{
			Driver:       "local",
			Prefix:       "videos",
			SignedURLTTL: time.Hour,
			Local: LocalConfig{
				Dir:     "assets",
				BaseURL: "http://localhost:8080/assets",
			},
		},
		Audit: AuditConfig{
			Enabled:       true,
			RetentionDays: 30,
		},
	}
}

// Load reads a YAML config file, expands environment variables, and applies
// REELFORGE_* environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads path if it exists, otherwise starts from Default.
// Environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays REELFORGE_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "REELFORGE_"}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks budget and storage settings.
func (c *Config) Validate() error {
	if c.Budget.Limit <= 0 {
		return fmt.Errorf("budget.limit must be > 0, got %f", c.Budget.Limit)
	}
	th := c.Budget.Thresholds
	if th.Warning <= 0 || th.Warning >= th.Critical || th.Critical >= th.Emergency || th.Emergency > 100 {
		return fmt.Errorf("budget.thresholds must satisfy 0 < warning < critical < emergency <= 100, got %v/%v/%v",
			th.Warning, th.Critical, th.Emergency)
	}
	if c.Jobs.Expiry <= 0 {
		return errors.New("jobs.expiry must be > 0")
	}
	if c.Provider.Pricing.DefaultPerSecond < 0 {
		return errors.New("provider.pricing.default_per_second must be >= 0")
	}
	switch c.Storage.Driver {
	case "local", "":
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver must be s3 or local, got %q", c.Storage.Driver)
	}
	return nil
}

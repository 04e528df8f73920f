package config

import (
	"fmt"
	"os"
	"time"

	"listing-aggregator/internal/matching"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Database    DatabaseConfig    `yaml:"database"`
	Search      SearchConfig      `yaml:"search"`
	Matching    MatchingConfig    `yaml:"matching"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Logging     LoggingConfig     `yaml:"logging"`
	Timezone    string            `yaml:"timezone"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Type     string         `yaml:"type"`
	MySQL    MySQLConfig    `yaml:"mysql"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// MySQLConfig contains MySQL connection settings
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresConfig contains PostgreSQL connection settings
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// SearchConfig contains search engine settings
type SearchConfig struct {
	Meilisearch MeilisearchConfig `yaml:"meilisearch"`
}

// MeilisearchConfig contains Meilisearch connection settings
type MeilisearchConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
}

// MatchingConfig tunes candidate scoring.
type MatchingConfig struct {
	Weights             matching.Weights `yaml:"weights"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold"`
	MinScore            float64          `yaml:"min_score"`
}

// IngestConfig contains intake and liveness settings
type IngestConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	StaleAfterDays      int `yaml:"stale_after_days"`
}

// MaintenanceConfig contains the daily maintenance job settings
type MaintenanceConfig struct {
	DailyRunEnabled  bool   `yaml:"daily_run_enabled"`
	DailyRunTime     string `yaml:"daily_run_time"`
	RetentionDays    int    `yaml:"retention_days"`
	MaxDeletionCount int    `yaml:"max_deletion_count"`
}

// RateLimitConfig contains rate limiting settings
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	RequestsPerHour   int  `yaml:"requests_per_hour"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level       string `yaml:"level"`
	LogRequests bool   `yaml:"log_requests"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Matching: MatchingConfig{
			Weights:             matching.DefaultWeights(),
			ConfidenceThreshold: 70,
			MinScore:            10,
		},
		Ingest: IngestConfig{
			PollIntervalSeconds: 10,
			StaleAfterDays:      7,
		},
		Maintenance: MaintenanceConfig{
			DailyRunEnabled:  false,
			DailyRunTime:     "03:00",
			RetentionDays:    90,
			MaxDeletionCount: 10000,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 120,
			RequestsPerHour:   3600,
		},
		Logging: LoggingConfig{
			Level:       "info",
			LogRequests: true,
		},
		Timezone: "Asia/Tokyo",
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(filepath string) (*Config, error) {
	// Start with default config
	config := DefaultConfig()

	// If file doesn't exist, return default config
	if _, err := os.Stat(filepath); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// GetPollInterval returns the queue poll interval as a duration
func (c *IngestConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GetStaleAfter returns the listing liveness cutoff as a duration
func (c *IngestConfig) GetStaleAfter() time.Duration {
	return time.Duration(c.StaleAfterDays) * 24 * time.Hour
}

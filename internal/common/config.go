// Package common provides shared utilities for the case-management job subsystem.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the job subsystem.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Blob        BlobConfig    `toml:"blob"`
	Logging     LoggingConfig `toml:"logging"`
	JobQueue    JobQueueConfig `toml:"job_queue"`
	Retry       RetryConfig   `toml:"retry"`
	Cleanup     CleanupConfig `toml:"cleanup"`
	Health      HealthConfig  `toml:"health"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Monitor     MonitorConfig `toml:"monitor"`
	Mail        MailClientConfig `toml:"mail"`
	Credential  CredentialConfig `toml:"credential"`
	Gemini      GeminiConfig  `toml:"gemini"`
	Workers     []WorkerConfig `toml:"workers"`
	Tenants     []string      `toml:"tenants"`
}

// WorkerConfig configures one worker descriptor in the pool. SupportedTypes
// names job types by their wire value (e.g. "email-archival").
type WorkerConfig struct {
	WorkerID          string   `toml:"worker_id"`
	SupportedTypes    []string `toml:"supported_types"`
	MaxConcurrency    int      `toml:"max_concurrency"`
	HeartbeatIntervalMs int    `toml:"heartbeat_interval_ms"`
	IdleTimeoutMs     int      `toml:"idle_timeout_ms"`
	Enabled           bool     `toml:"enabled"`
}

// ServerConfig holds the service host/port shown as the service URL in the
// startup banner. This subsystem starts no HTTP listener; the
// case-management REST API itself lives outside it.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds SurrealDB connection configuration for the job Store.
type StorageConfig struct {
	Address   string `toml:"address"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
}

// BlobConfig holds configuration for the Blob-Archiver's object storage backend.
type BlobConfig struct {
	// Backend type: "file" or "s3".
	Backend string         `toml:"backend"`
	File    FileBlobConfig `toml:"file"`
	S3      S3BlobConfig   `toml:"s3"`
}

// FileBlobConfig holds file-based blob store configuration.
type FileBlobConfig struct {
	BasePath string `toml:"base_path"`
}

// S3BlobConfig holds AWS S3 (or S3-compatible) blob store configuration.
type S3BlobConfig struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"` // custom endpoint for S3-compatible stores (MinIO, R2)
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// JobQueueConfig holds the global dispatch ceiling and per-job defaults.
type JobQueueConfig struct {
	MaxConcurrency   int `toml:"max_concurrency"`
	DefaultTimeoutMs int `toml:"default_timeout_ms"`
	DefaultMaxRetries int `toml:"default_max_retries"`
	MaxQueueDepth    int `toml:"max_queue_depth"` // per-tenant quota ceiling
}

// RetryConfig holds the exponential backoff law parameters.
type RetryConfig struct {
	InitialMs  int     `toml:"initial_ms"`
	Multiplier float64 `toml:"multiplier"`
	MaxMs      int     `toml:"max_ms"`
}

// CleanupConfig holds the Maintenance component's sweep parameters.
type CleanupConfig struct {
	CompletedJobAgeMs int `toml:"completed_job_age_ms"`
	FailedJobAgeMs    int `toml:"failed_job_age_ms"`
	IntervalMs        int `toml:"interval_ms"`
}

// HealthConfig holds the stalled-reaper parameters.
type HealthConfig struct {
	StalledIntervalMs int `toml:"stalled_interval_ms"`
	StalledTimeoutMs  int `toml:"stalled_timeout_ms"`
	HeartbeatMs       int `toml:"heartbeat_ms"`
	HealthCheckMs     int `toml:"health_check_ms"`
	MaxRestartAttempts int `toml:"max_restart_attempts"`
}

// RateLimitConfig holds the Mail-Fetcher's admission gate parameters.
type RateLimitConfig struct {
	MaxRequests  int `toml:"max_requests"`
	WindowMs     int `toml:"window_ms"`
	MinSpacingMs int `toml:"min_spacing_ms"`
	MaxAttempts  int `toml:"max_attempts"`
}

// MonitorConfig holds the Monitor component's scoring thresholds.
type MonitorConfig struct {
	ErrorRatePct          float64  `toml:"error_rate_pct"`
	QueueSizeThreshold    int      `toml:"queue_size_threshold"`
	SlowJobMs             int      `toml:"slow_job_ms"`
	AutoRetryEnabled      bool     `toml:"auto_retry_enabled"`
	AutoRetryTypes        []string `toml:"auto_retry_types"`
	AutoRetryPerJobPerHour int     `toml:"auto_retry_per_job_per_hour"`
	MaxAlertsHistory      int      `toml:"max_alerts_history"`
	HealthCheckIntervalMs int      `toml:"health_check_interval_ms"`
}

// MailClientConfig holds the upstream mail provider base URL and timeout.
type MailClientConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration.
func (c *MailClientConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// CredentialConfig holds the endpoint of the external credential
// collaborator that owns mail-account token refresh and revocation. The
// CredentialProvider only fetches the current token from it.
type CredentialConfig struct {
	BaseURL string `toml:"base_url"`
	Timeout string `toml:"timeout"`
}

// GetTimeout parses and returns the timeout duration.
func (c *CredentialConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GeminiConfig holds optional Gemini API configuration used by the content-analysis worker.
// When APIKey is empty the worker skips AI summarization entirely.
type GeminiConfig struct {
	APIKey string `toml:"api_key"`
	Model  string `toml:"model"`
}

// NewDefaultConfig returns a Config populated with the documented defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Address:   "ws://127.0.0.1:8000/rpc",
			Username:  "root",
			Password:  "root",
			Namespace: "casevault",
			Database:  "jobs",
		},
		Blob: BlobConfig{
			Backend: "file",
			File:    FileBlobConfig{BasePath: "data/archive"},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/casevault.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
		JobQueue: JobQueueConfig{
			MaxConcurrency:    10,
			DefaultTimeoutMs:  300_000,
			DefaultMaxRetries: 3,
			MaxQueueDepth:     10_000,
		},
		Retry: RetryConfig{
			InitialMs:  1_000,
			Multiplier: 2,
			MaxMs:      60_000,
		},
		Cleanup: CleanupConfig{
			CompletedJobAgeMs: 7 * 24 * 60 * 60 * 1000,
			FailedJobAgeMs:    30 * 24 * 60 * 60 * 1000,
			IntervalMs:        60 * 60 * 1000,
		},
		Health: HealthConfig{
			StalledIntervalMs:  60_000,
			StalledTimeoutMs:   600_000,
			HeartbeatMs:        15_000,
			HealthCheckMs:      30_000,
			MaxRestartAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			MaxRequests:  60,
			WindowMs:     60_000,
			MinSpacingMs: 1_000,
			MaxAttempts:  3,
		},
		Monitor: MonitorConfig{
			ErrorRatePct:           10,
			QueueSizeThreshold:     100,
			SlowJobMs:              300_000,
			AutoRetryEnabled:       true,
			AutoRetryTypes:         []string{"email-archival"},
			AutoRetryPerJobPerHour: 3,
			MaxAlertsHistory:       1_000,
			HealthCheckIntervalMs:  60_000,
		},
		Mail: MailClientConfig{
			Timeout: "30s",
		},
		Credential: CredentialConfig{
			Timeout: "10s",
		},
		Workers: []WorkerConfig{
			{WorkerID: "archival-1", SupportedTypes: []string{"email-archival"}, MaxConcurrency: 4, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
			{WorkerID: "bulk-1", SupportedTypes: []string{"bulk-assignment"}, MaxConcurrency: 2, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
			{WorkerID: "cleanup-1", SupportedTypes: []string{"storage-cleanup"}, MaxConcurrency: 1, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
			{WorkerID: "export-1", SupportedTypes: []string{"export"}, MaxConcurrency: 2, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
			{WorkerID: "analysis-1", SupportedTypes: []string{"content-analysis"}, MaxConcurrency: 2, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
			{WorkerID: "maintenance-1", SupportedTypes: []string{"maintenance"}, MaxConcurrency: 1, HeartbeatIntervalMs: 15_000, IdleTimeoutMs: 60_000, Enabled: true},
		},
	}
}

// LoadConfig loads configuration from files with environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CASEVAULT_ENV"); env != "" {
		config.Environment = env
	}
	if host := os.Getenv("CASEVAULT_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("CASEVAULT_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if level := os.Getenv("CASEVAULT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if addr := os.Getenv("CASEVAULT_STORAGE_ADDRESS"); addr != "" {
		config.Storage.Address = addr
	}
	if v := os.Getenv("CASEVAULT_S3_BUCKET"); v != "" {
		config.Blob.S3.Bucket = v
	}
	if v := os.Getenv("CASEVAULT_GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	} else if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("CASEVAULT_CREDENTIAL_BASE_URL"); v != "" {
		config.Credential.BaseURL = v
	}
	if v := os.Getenv("CASEVAULT_TENANTS"); v != "" {
		config.Tenants = strings.Split(v, ",")
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// GetHeavyJobLimit returns the concurrency cap for resource-intensive job types
// (export, storage-cleanup scans over "all" scope), defaulting to a quarter of
// the global max concurrency with a floor of 1.
func (c *JobQueueConfig) GetHeavyJobLimit() int {
	limit := c.MaxConcurrency / 4
	if limit < 1 {
		limit = 1
	}
	return limit
}

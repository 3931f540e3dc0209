package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for the region scraper
type Config struct {
	// Identifier range to validate
	Scan ScanConfig `yaml:"scan" json:"scan"`

	// Upstream query endpoint
	Remote RemoteConfig `yaml:"remote" json:"remote"`

	// Pacing between requests
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Transport retry policy
	Retry RetryConfig `yaml:"retry" json:"retry"`

	// Download phase settings
	Download DownloadConfig `yaml:"download" json:"download"`

	// Checkpoint and run marker locations
	State StateConfig `yaml:"state" json:"state"`

	// Health check thresholds
	Watchdog WatchdogConfig `yaml:"watchdog" json:"watchdog"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ScanConfig bounds the identifier space swept during validation
type ScanConfig struct {
	MinID int `yaml:"min_id" json:"min_id"`
	MaxID int `yaml:"max_id" json:"max_id"`
}

// RemoteConfig describes how to reach the geospatial endpoint.
// URL templates carry an {id} placeholder.
type RemoteConfig struct {
	ProbeURL           string        `yaml:"probe_url" json:"probe_url"`
	DownloadURL        string        `yaml:"download_url" json:"download_url"`
	RefererURL         string        `yaml:"referer_url" json:"referer_url"`
	UserAgent          string        `yaml:"user_agent" json:"user_agent"`
	ProbeTimeout       time.Duration `yaml:"probe_timeout" json:"probe_timeout"`
	DownloadTimeout    time.Duration `yaml:"download_timeout" json:"download_timeout"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// RateLimitConfig holds pacing configuration
type RateLimitConfig struct {
	ProbeDelayMin      time.Duration `yaml:"probe_delay_min" json:"probe_delay_min"`
	ProbeDelayMax      time.Duration `yaml:"probe_delay_max" json:"probe_delay_max"`
	CompletionDelayMin time.Duration `yaml:"completion_delay_min" json:"completion_delay_min"`
	CompletionDelayMax time.Duration `yaml:"completion_delay_max" json:"completion_delay_max"`
	// RequestsPerMinute is a hard ceiling across all requests; 0 disables it
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// RetryConfig holds transport retry configuration
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" json:"max_attempts"`
	BackoffFactor   time.Duration `yaml:"backoff_factor" json:"backoff_factor"`
	MaxDelay        time.Duration `yaml:"max_delay" json:"max_delay"`
	JitterFactor    float64       `yaml:"jitter_factor" json:"jitter_factor"`
	RetryOnStatuses []int         `yaml:"retry_on_statuses" json:"retry_on_statuses"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int           `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	OutputDir           string        `yaml:"output_dir" json:"output_dir"`
	FileNamePattern     string        `yaml:"file_name_pattern" json:"file_name_pattern"`
	ShutdownGrace       time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
	// RetryFailedInRun re-dispatches failed regions once before the run ends
	RetryFailedInRun bool `yaml:"retry_failed_in_run" json:"retry_failed_in_run"`
}

// StateConfig holds checkpoint and lock file locations
type StateConfig struct {
	CheckpointFile string        `yaml:"checkpoint_file" json:"checkpoint_file"`
	LockFile       string        `yaml:"lock_file" json:"lock_file"`
	MaxRuntime     time.Duration `yaml:"max_runtime" json:"max_runtime"`
}

// WatchdogConfig holds health inference thresholds
type WatchdogConfig struct {
	// ProcessPattern is split into words; a process matches when each word
	// is one of its arguments (or an argument's base name), in order.
	ProcessPattern  string        `yaml:"process_pattern" json:"process_pattern"`
	LogStaleAfter   time.Duration `yaml:"log_stale_after" json:"log_stale_after"`
	StateStaleAfter time.Duration `yaml:"state_stale_after" json:"state_stale_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	// Dir receives one log file per run
	Dir string `yaml:"dir" json:"dir"`
	// File overrides the generated file name when set
	File    string `yaml:"file" json:"file"`
	Console bool   `yaml:"console" json:"console"`
}

// MetricsConfig holds the optional Prometheus listener
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

const (
	defaultDownloadURL = "https://mpbhulekh.gov.in/gisS_proxyURL.do?" +
		"http%3A%2F%2F10.115.250.94%3A8091%2Fgeoserver%2Fows%3Fservice%3DWFS" +
		"%26version%3D1.1.0%26request%3DGetFeature%26srsName%3DEPSG%3A1100000" +
		"%26geometryName%3DGEOM%26typeName%3Dmpwork%3AMS_KHASRA_GEOM" +
		"%26filter%3D%3CFilter%3E%3CPropertyIsEqualTo%3E%3CPropertyName%3EDISTRICT_ID%3C%2FPropertyName%3E" +
		"%3CLiteral%3E{id}%3C%2FLiteral%3E%3C%2FPropertyIsEqualTo%3E%3C%2FFilter%3E" +
		"%26outputFormat%3Djson"

	defaultRefererURL = "https://mpbhulekh.gov.in/MPWebGISEditor/GISKhasraViewerStart?" +
		"distId={id}&maptype=villagemap&maptable=MS_KHASRA_GEOM&usertype=login"
)

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Scan: ScanConfig{
			MinID: 1,
			MaxID: 100,
		},
		Remote: RemoteConfig{
			ProbeURL:        defaultDownloadURL + "%26maxFeatures%3D1",
			DownloadURL:     defaultDownloadURL,
			RefererURL:      defaultRefererURL,
			UserAgent:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
			ProbeTimeout:    20 * time.Second,
			DownloadTimeout: 300 * time.Second,
		},
		RateLimit: RateLimitConfig{
			ProbeDelayMin:      1500 * time.Millisecond,
			ProbeDelayMax:      4 * time.Second,
			CompletionDelayMin: 800 * time.Millisecond,
			CompletionDelayMax: 2 * time.Second,
			RequestsPerMinute:  0,
			BurstSize:          1,
		},
		Retry: RetryConfig{
			MaxAttempts:     5,
			BackoffFactor:   1500 * time.Millisecond,
			MaxDelay:        120 * time.Second,
			JitterFactor:    0.1,
			RetryOnStatuses: []int{429, 500, 502, 503, 504},
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 32,
			OutputDir:           "data",
			FileNamePattern:     "region_{id}_full_data.json",
			ShutdownGrace:       30 * time.Second,
			RetryFailedInRun:    false,
		},
		State: StateConfig{
			CheckpointFile: "extraction_state.json",
			LockFile:       "landscraper.lock",
			MaxRuntime:     12 * time.Hour,
		},
		Watchdog: WatchdogConfig{
			ProcessPattern:  "landscraper run",
			LogStaleAfter:   time.Hour,
			StateStaleAfter: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Dir:     "logs",
			File:    "",
			Console: true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	intVar := func(name string, dst *int) {
		if raw := os.Getenv(name); raw != "" {
			val, err := strconv.Atoi(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = val
		}
	}
	strVar := func(name string, dst *string) {
		if raw := os.Getenv(name); raw != "" {
			*dst = raw
		}
	}

	intVar("LANDSCRAPER_MIN_ID", &c.Scan.MinID)
	intVar("LANDSCRAPER_MAX_ID", &c.Scan.MaxID)
	intVar("LANDSCRAPER_CONCURRENT_DOWNLOADS", &c.Download.ConcurrentDownloads)
	intVar("LANDSCRAPER_REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)

	strVar("LANDSCRAPER_PROBE_URL", &c.Remote.ProbeURL)
	strVar("LANDSCRAPER_DOWNLOAD_URL", &c.Remote.DownloadURL)
	strVar("LANDSCRAPER_USER_AGENT", &c.Remote.UserAgent)
	strVar("LANDSCRAPER_OUTPUT_DIR", &c.Download.OutputDir)
	strVar("LANDSCRAPER_STATE_FILE", &c.State.CheckpointFile)
	strVar("LANDSCRAPER_LOCK_FILE", &c.State.LockFile)
	strVar("LANDSCRAPER_LOG_LEVEL", &c.Logging.Level)
	strVar("LANDSCRAPER_LOG_DIR", &c.Logging.Dir)
	strVar("LANDSCRAPER_METRICS_ADDR", &c.Metrics.Addr)

	if raw := os.Getenv("LANDSCRAPER_RETRY_FAILED_IN_RUN"); raw != "" {
		c.Download.RetryFailedInRun = strings.ToLower(raw) == "true"
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".landscraper.yaml",
		".landscraper.yml",
		filepath.Join(home, ".config", "landscraper", "config.yaml"),
		filepath.Join(home, ".config", "landscraper", "config.yml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.MinID < 1 {
		errs = append(errs, errors.New("scan min_id must be at least 1"))
	}
	if c.Scan.MaxID < c.Scan.MinID {
		errs = append(errs, errors.New("scan max_id must not be below min_id"))
	}

	if !strings.Contains(c.Remote.ProbeURL, "{id}") {
		errs = append(errs, errors.New("probe_url must contain an {id} placeholder"))
	}
	if !strings.Contains(c.Remote.DownloadURL, "{id}") {
		errs = append(errs, errors.New("download_url must contain an {id} placeholder"))
	}
	if c.Remote.ProbeTimeout <= 0 || c.Remote.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("remote timeouts must be positive"))
	}

	if c.RateLimit.ProbeDelayMin < 0 || c.RateLimit.ProbeDelayMax < c.RateLimit.ProbeDelayMin {
		errs = append(errs, errors.New("probe delay range is invalid"))
	}
	if c.RateLimit.CompletionDelayMin < 0 || c.RateLimit.CompletionDelayMax < c.RateLimit.CompletionDelayMin {
		errs = append(errs, errors.New("completion delay range is invalid"))
	}
	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry max_attempts must be at least 1"))
	}
	if c.Retry.BackoffFactor < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.JitterFactor < 0 || c.Retry.JitterFactor > 1 {
		errs = append(errs, errors.New("retry jitter_factor must be within [0, 1]"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 256 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 256"))
	}
	if c.Download.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if !strings.Contains(c.Download.FileNamePattern, "{id}") {
		errs = append(errs, errors.New("file name pattern must contain an {id} placeholder"))
	}

	if c.State.CheckpointFile == "" {
		errs = append(errs, errors.New("checkpoint file is required"))
	}
	if c.State.LockFile == "" {
		errs = append(errs, errors.New("lock file is required"))
	}
	if c.State.MaxRuntime <= 0 {
		errs = append(errs, errors.New("max runtime must be positive"))
	}

	if c.Watchdog.LogStaleAfter <= 0 || c.Watchdog.StateStaleAfter <= 0 {
		errs = append(errs, errors.New("watchdog staleness thresholds must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["min-id"].(int); ok && v > 0 {
		c.Scan.MinID = v
	}
	if v, ok := flags["max-id"].(int); ok && v > 0 {
		c.Scan.MaxID = v
	}
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Download.OutputDir = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["state-file"].(string); ok && v != "" {
		c.State.CheckpointFile = v
	}
	if v, ok := flags["lock-file"].(string); ok && v != "" {
		c.State.LockFile = v
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-dir"].(string); ok && v != "" {
		c.Logging.Dir = v
	}
	if v, ok := flags["metrics-addr"].(string); ok && v != "" {
		c.Metrics.Addr = v
	}
	if v, ok := flags["retry-failed"].(bool); ok && v {
		c.Download.RetryFailedInRun = true
	}
	if v, ok := flags["quiet"].(bool); ok && v {
		c.Logging.Console = false
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".landscraper.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Blocking   BlockingConfig   `mapstructure:"blocking"`
	Proxy      ProxyConfig      `mapstructure:"proxy"`
	Transition TransitionConfig `mapstructure:"transition"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	InternalAPIKey string        `mapstructure:"internal_api_key"`
}

// DatabaseConfig holds the embedded store configuration
type DatabaseConfig struct {
	Path           string        `mapstructure:"path"`
	MaxConnections int           `mapstructure:"max_connections"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	BusyTimeoutMs  int           `mapstructure:"busy_timeout_ms"`
}

// RunnerConfig holds task-runner scheduling configuration
type RunnerConfig struct {
	MaxWorkers      int           `mapstructure:"max_workers"`
	LoopSleep       time.Duration `mapstructure:"loop_sleep"`
	MaxTaskDeadline time.Duration `mapstructure:"max_task_deadline"`
	StopJoinTimeout time.Duration `mapstructure:"stop_join_timeout"`
	DefaultZipCode  string        `mapstructure:"default_zip_code"`
}

// ScanConfig holds dispatcher and fetch-retry configuration
type ScanConfig struct {
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	HTTPTimeout        time.Duration `mapstructure:"http_timeout"`
	VerifyDelay        time.Duration `mapstructure:"verify_delay"`
	RetryMaxAttempts   int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay     time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	RetryBackoffFactor float64       `mapstructure:"retry_backoff_factor"`
	RetryJitterRatio   float64       `mapstructure:"retry_jitter_ratio"`
}

// BlockingConfig holds response-classification and host-quarantine configuration
type BlockingConfig struct {
	SuspiciousMinBytes  int           `mapstructure:"suspicious_min_bytes"`
	HostQuarantine      time.Duration `mapstructure:"host_quarantine"`
	RateLimitQuarantine time.Duration `mapstructure:"rate_limit_quarantine"`
	TransientQuarantine time.Duration `mapstructure:"transient_quarantine"`
	TransientWindow     time.Duration `mapstructure:"transient_window"`
	TransientThreshold  int           `mapstructure:"transient_threshold"`
}

// ProxyConfig holds proxy pool configuration
type ProxyConfig struct {
	URLs                []string      `mapstructure:"urls"`
	Quarantine          time.Duration `mapstructure:"quarantine"`
	TransientQuarantine time.Duration `mapstructure:"transient_quarantine"`
	TransientThreshold  int           `mapstructure:"transient_threshold"`
}

// TransitionConfig holds delta-detection configuration
type TransitionConfig struct {
	PriceChangeThreshold float64 `mapstructure:"price_change_threshold"`
}

// NotifyConfig holds notification fan-out configuration
type NotifyConfig struct {
	DedupWindow          time.Duration `mapstructure:"dedup_window"`
	DedupCapacity        int           `mapstructure:"dedup_capacity"`
	WebhookURLs          []string      `mapstructure:"webhook_urls"`
	WebhookSecret        string        `mapstructure:"webhook_secret"`
	BroadcastLogInterval time.Duration `mapstructure:"broadcast_log_interval"`
}

// SweeperConfig holds background maintenance configuration
type SweeperConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	NotificationRetention time.Duration `mapstructure:"notification_retention"`
	SnapshotRetention     time.Duration `mapstructure:"snapshot_retention"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Format  string `mapstructure:"format"`
	NoColor bool   `mapstructure:"no_color"`
}

// TelemetryConfig holds OpenTelemetry export configuration
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// ErrInvalidConfig is returned when the configuration is invalid.
type ErrInvalidConfig struct {
	Field  string
	Reason string
}

func (e ErrInvalidConfig) Error() string {
	return e.Field + ": " + e.Reason
}

var globalConfig *Config

// Load loads the configuration from file, .env, and environment variables,
// then validates it. Invalid configuration fails fast.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// .env is optional
	if err := loadEnvFile(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("STOCK_MONITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.Proxy.URLs = splitCommaLists(cfg.Proxy.URLs)
	cfg.Notify.WebhookURLs = splitCommaLists(cfg.Notify.WebhookURLs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Validate checks invariants the engine depends on.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return ErrInvalidConfig{Field: "database.path", Reason: "must not be empty"}
	}
	if c.Database.MaxConnections < 1 {
		return ErrInvalidConfig{Field: "database.max_connections", Reason: "must be at least 1"}
	}
	if c.Runner.MaxWorkers < 1 {
		return ErrInvalidConfig{Field: "runner.max_workers", Reason: "must be at least 1"}
	}
	if c.Runner.LoopSleep <= 0 {
		return ErrInvalidConfig{Field: "runner.loop_sleep", Reason: "must be positive"}
	}
	if c.Runner.MaxTaskDeadline <= 0 {
		return ErrInvalidConfig{Field: "runner.max_task_deadline", Reason: "must be positive"}
	}
	if c.Scan.MinDelay < 0 || c.Scan.MaxDelay < c.Scan.MinDelay {
		return ErrInvalidConfig{Field: "scan.min_delay", Reason: "must satisfy 0 <= min_delay <= max_delay"}
	}
	if c.Scan.RetryMaxAttempts < 1 {
		return ErrInvalidConfig{Field: "scan.retry_max_attempts", Reason: "must be at least 1"}
	}
	if c.Scan.RetryBackoffFactor < 1 {
		return ErrInvalidConfig{Field: "scan.retry_backoff_factor", Reason: "must be at least 1.0"}
	}
	if c.Scan.RetryJitterRatio < 0 || c.Scan.RetryJitterRatio >= 1 {
		return ErrInvalidConfig{Field: "scan.retry_jitter_ratio", Reason: "must be in [0, 1)"}
	}
	if c.Transition.PriceChangeThreshold < 0 || c.Transition.PriceChangeThreshold > 1 {
		return ErrInvalidConfig{Field: "transition.price_change_threshold", Reason: "must be in [0, 1]"}
	}
	if c.Notify.DedupCapacity < 1 {
		return ErrInvalidConfig{Field: "notify.dedup_capacity", Reason: "must be at least 1"}
	}
	if c.Blocking.SuspiciousMinBytes < 0 {
		return ErrInvalidConfig{Field: "blocking.suspicious_min_bytes", Reason: "must be non-negative"}
	}
	if c.Blocking.TransientThreshold < 1 {
		return ErrInvalidConfig{Field: "blocking.transient_threshold", Reason: "must be at least 1"}
	}
	if c.Proxy.TransientThreshold < 1 {
		return ErrInvalidConfig{Field: "proxy.transient_threshold", Reason: "must be at least 1"}
	}
	return nil
}

// loadEnvFile loads the first .env file found near the working directory
func loadEnvFile() error {
	envPaths := []string{".", "./config"}
	for _, path := range envPaths {
		envFile := fmt.Sprintf("%s/.env", path)
		if _, err := os.Stat(envFile); err == nil {
			if err := loadDotEnvFile(envFile); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("no .env file found")
}

// loadDotEnvFile reads a .env file and sets environment variables
func loadDotEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}

// bindEnvVars binds well-known environment variables to config keys
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "DATABASE_PATH")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.internal_api_key", "INTERNAL_API_KEY")

	v.BindEnv("logging.level", "LOG_LEVEL")

	// Comma-separated lists
	v.BindEnv("proxy.urls", "PROXY_URLS")
	v.BindEnv("notify.webhook_urls", "WEBHOOK_URLS")
	v.BindEnv("notify.webhook_secret", "WEBHOOK_SECRET")

	v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 3900)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "./data/stock-monitor.db")
	v.SetDefault("database.max_connections", 8)
	v.SetDefault("database.acquire_timeout", 10*time.Second)
	v.SetDefault("database.busy_timeout_ms", 5000)

	// Runner defaults
	v.SetDefault("runner.max_workers", 4)
	v.SetDefault("runner.loop_sleep", 1*time.Second)
	v.SetDefault("runner.max_task_deadline", 60*time.Second)
	v.SetDefault("runner.stop_join_timeout", 5*time.Second)
	v.SetDefault("runner.default_zip_code", "10001")

	// Scan defaults
	v.SetDefault("scan.min_delay", 1*time.Second)
	v.SetDefault("scan.max_delay", 3*time.Second)
	v.SetDefault("scan.http_timeout", 30*time.Second)
	v.SetDefault("scan.verify_delay", 2*time.Second)
	v.SetDefault("scan.retry_max_attempts", 3)
	v.SetDefault("scan.retry_base_delay", 1*time.Second)
	v.SetDefault("scan.retry_max_delay", 30*time.Second)
	v.SetDefault("scan.retry_backoff_factor", 2.0)
	v.SetDefault("scan.retry_jitter_ratio", 0.25)

	// Blocking defaults
	v.SetDefault("blocking.suspicious_min_bytes", 500)
	v.SetDefault("blocking.host_quarantine", 1*time.Hour)
	v.SetDefault("blocking.rate_limit_quarantine", 10*time.Minute)
	v.SetDefault("blocking.transient_quarantine", 15*time.Minute)
	v.SetDefault("blocking.transient_window", 10*time.Minute)
	v.SetDefault("blocking.transient_threshold", 3)

	// Proxy defaults
	v.SetDefault("proxy.urls", []string{})
	v.SetDefault("proxy.quarantine", 30*time.Minute)
	v.SetDefault("proxy.transient_quarantine", 5*time.Minute)
	v.SetDefault("proxy.transient_threshold", 3)

	// Transition defaults
	v.SetDefault("transition.price_change_threshold", 0.05)

	// Notify defaults
	v.SetDefault("notify.dedup_window", 30*time.Minute)
	v.SetDefault("notify.dedup_capacity", 10000)
	v.SetDefault("notify.webhook_urls", []string{})
	v.SetDefault("notify.broadcast_log_interval", 5*time.Minute)

	// Sweeper defaults
	v.SetDefault("sweeper.interval", 10*time.Minute)
	v.SetDefault("sweeper.notification_retention", 48*time.Hour)
	v.SetDefault("sweeper.snapshot_retention", 90*24*time.Hour)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.no_color", false)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// splitCommaLists expands single comma-separated entries, the form the
// values take when supplied through an environment variable.
func splitCommaLists(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}

// Get returns the global configuration
func Get() *Config {
	return globalConfig
}

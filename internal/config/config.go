package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendHTTP     = "http"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the cronstore application.
// Values come from environment variables, optionally layered over a YAML
// config file whose keys are the lowercased variable names.
type Config struct {
	StoreBackend    string        `json:"store_backend"`
	StoreHost       string        `json:"store_host"`
	StorePort       int           `json:"store_port"`
	StoreIndex      string        `json:"store_index"`
	StorePrefix     string        `json:"store_prefix"`
	StoreTimeout    time.Duration `json:"-"`
	StoreTimeoutStr string        `json:"store_timeout"`
	StoreRateLimit  float64       `json:"store_rate_limit"`

	DatabaseURL          string        `json:"database_url"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`

	RedisAddr string `json:"redis_addr,omitempty"`
	HTTPAddr  string `json:"http_addr"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`
	TimeWindow      time.Duration `json:"-"`
	TimeWindowStr   string        `json:"time_window"`
	BatchSize       int           `json:"batch_size"`
	Workers         int           `json:"workers"`

	// InstanceID: empty means a random id per process.
	InstanceID     string `json:"instance_id"`
	SortCandidates bool   `json:"sort_candidates"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the longest job run (webhook worst case is 2m21s).
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	AnalyticsEnabled      bool          `json:"analytics_enabled"`
	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	// problems found while loading, reported by Validate.
	problems ValidationErrors
}

func defaults(v *viper.Viper) {
	v.SetDefault("store_backend", BackendMemory)
	v.SetDefault("store_host", "localhost")
	v.SetDefault("store_port", "9200")
	v.SetDefault("store_index", "cronstore")
	v.SetDefault("store_prefix", "quartz_")
	v.SetDefault("store_timeout", "2s")
	v.SetDefault("store_rate_limit", "0")
	v.SetDefault("db_max_open_conns", "25")
	v.SetDefault("db_max_idle_conns", "5")
	v.SetDefault("db_conn_max_lifetime", "30m")
	v.SetDefault("tick_interval", "1s")
	v.SetDefault("time_window", "0s")
	v.SetDefault("batch_size", "10")
	v.SetDefault("workers", "10")
	v.SetDefault("http_shutdown_timeout", "10s")
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("reconcile_enabled", true)
	v.SetDefault("reconcile_interval", "1m")
	v.SetDefault("reconcile_threshold", "10m")
	v.SetDefault("reconcile_batch_size", "100")
	v.SetDefault("circuit_breaker_threshold", "5")
	v.SetDefault("circuit_breaker_cooldown", "30s")
	v.SetDefault("analytics_window", "1m")
	v.SetDefault("analytics_retention", "24h")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads configuration from environment variables with defaults. If
// path is not empty the file is read first and the environment overrides
// it. Only a missing or unreadable file is an error; bad values are
// reported by Validate.
func Load(path string) (Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var problems ValidationErrors
	cfg := Config{
		StoreBackend:              strings.ToLower(v.GetString("store_backend")),
		StoreHost:                 v.GetString("store_host"),
		StorePort:                 intValue(v, "store_port", &problems),
		StoreIndex:                v.GetString("store_index"),
		StorePrefix:               v.GetString("store_prefix"),
		StoreTimeoutStr:           v.GetString("store_timeout"),
		StoreRateLimit:            floatValue(v, "store_rate_limit", &problems),
		DatabaseURL:               v.GetString("database_url"),
		DBMaxOpenConns:            intValue(v, "db_max_open_conns", &problems),
		DBMaxIdleConns:            intValue(v, "db_max_idle_conns", &problems),
		DBConnMaxLifetimeStr:      v.GetString("db_conn_max_lifetime"),
		RedisAddr:                 v.GetString("redis_addr"),
		HTTPAddr:                  v.GetString("http_addr"),
		TickIntervalStr:           v.GetString("tick_interval"),
		TimeWindowStr:             v.GetString("time_window"),
		BatchSize:                 intValue(v, "batch_size", &problems),
		Workers:                   intValue(v, "workers", &problems),
		InstanceID:                v.GetString("instance_id"),
		SortCandidates:            v.GetBool("sort_candidates"),
		HTTPShutdownTimeoutStr:    v.GetString("http_shutdown_timeout"),
		MetricsEnabled:            v.GetBool("metrics_enabled"),
		MetricsPath:               v.GetString("metrics_path"),
		ReconcileEnabled:          v.GetBool("reconcile_enabled"),
		ReconcileIntervalStr:      v.GetString("reconcile_interval"),
		ReconcileThresholdStr:     v.GetString("reconcile_threshold"),
		ReconcileBatchSize:        intValue(v, "reconcile_batch_size", &problems),
		CircuitBreakerThreshold:   intValue(v, "circuit_breaker_threshold", &problems),
		CircuitBreakerCooldownStr: v.GetString("circuit_breaker_cooldown"),
		AnalyticsEnabled:          v.GetBool("analytics_enabled"),
		AnalyticsWindowStr:        v.GetString("analytics_window"),
		AnalyticsRetentionStr:     v.GetString("analytics_retention"),
		LogLevel:                  v.GetString("log_level"),
		LogFormat:                 strings.ToLower(v.GetString("log_format")),
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := v.GetString("port"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	cfg.StoreTimeout = duration(cfg.StoreTimeoutStr)
	cfg.DBConnMaxLifetime = duration(cfg.DBConnMaxLifetimeStr)
	cfg.TickInterval = duration(cfg.TickIntervalStr)
	cfg.TimeWindow = duration(cfg.TimeWindowStr)
	cfg.HTTPShutdownTimeout = duration(cfg.HTTPShutdownTimeoutStr)
	cfg.ReconcileInterval = duration(cfg.ReconcileIntervalStr)
	cfg.ReconcileThreshold = duration(cfg.ReconcileThresholdStr)
	cfg.CircuitBreakerCooldown = duration(cfg.CircuitBreakerCooldownStr)
	cfg.AnalyticsWindow = duration(cfg.AnalyticsWindowStr)
	cfg.AnalyticsRetention = duration(cfg.AnalyticsRetentionStr)

	cfg.problems = problems
	return cfg, nil
}

func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// intValue parses key as an integer. viper's own conversion turns garbage
// into zero silently, so the raw string is parsed here.
func intValue(v *viper.Viper, key string, problems *ValidationErrors) int {
	raw := strings.TrimSpace(v.GetString(key))
	n, err := strconv.Atoi(raw)
	if err != nil {
		*problems = append(*problems, ValidationError{
			Field:   strings.ToUpper(key),
			Message: fmt.Sprintf("invalid integer %q", raw),
		})
		return 0
	}
	return n
}

func floatValue(v *viper.Viper, key string, problems *ValidationErrors) float64 {
	raw := strings.TrimSpace(v.GetString(key))
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*problems = append(*problems, ValidationError{
			Field:   strings.ToUpper(key),
			Message: fmt.Sprintf("invalid number %q", raw),
		})
		return 0
	}
	return f
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.problems = nil
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

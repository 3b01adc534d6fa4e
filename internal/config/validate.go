package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/cronstore/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	errs := append(ValidationErrors(nil), cfg.problems...)
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendHTTP:
		if cfg.StoreHost == "" {
			add("STORE_HOST", "required for the http backend")
		}
		if cfg.StorePort <= 0 || cfg.StorePort > 65535 {
			add("STORE_PORT", fmt.Sprintf("must be between 1 and 65535, got %d", cfg.StorePort))
		}
		if cfg.StoreIndex == "" {
			add("STORE_INDEX", "required for the http backend")
		}
		if cfg.StoreRateLimit < 0 {
			add("STORE_RATE_LIMIT", "must not be negative")
		}
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required for the postgres backend")
		}
	default:
		add("STORE_BACKEND", fmt.Sprintf("must be 'memory', 'http' or 'postgres', got %q", cfg.StoreBackend))
	}

	positive := func(field, s string) {
		d, err := time.ParseDuration(s)
		if err != nil {
			add(field, fmt.Sprintf("invalid duration: %v", err))
		} else if d <= 0 {
			add(field, "must be positive")
		}
	}
	positive("STORE_TIMEOUT", cfg.StoreTimeoutStr)
	positive("TICK_INTERVAL", cfg.TickIntervalStr)
	positive("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr)
	positive("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr)

	if d, err := time.ParseDuration(cfg.TimeWindowStr); err != nil {
		add("TIME_WINDOW", fmt.Sprintf("invalid duration: %v", err))
	} else if d < 0 {
		add("TIME_WINDOW", "must not be negative")
	}

	if cfg.BatchSize <= 0 {
		add("BATCH_SIZE", "must be positive")
	}
	if cfg.Workers <= 0 {
		add("WORKERS", "must be positive")
	}
	if cfg.CircuitBreakerThreshold < 0 {
		add("CIRCUIT_BREAKER_THRESHOLD", "must not be negative")
	}

	if cfg.ReconcileEnabled {
		positive("RECONCILE_INTERVAL", cfg.ReconcileIntervalStr)
		positive("RECONCILE_THRESHOLD", cfg.ReconcileThresholdStr)
		if cfg.ReconcileBatchSize <= 0 {
			add("RECONCILE_BATCH_SIZE", "must be positive")
		}
	}

	if cfg.AnalyticsEnabled {
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when analytics is enabled")
		}
		switch cfg.AnalyticsWindow {
		case time.Minute, 5 * time.Minute, time.Hour:
		default:
			add("ANALYTICS_WINDOW", fmt.Sprintf("must be 1m, 5m or 1h, got %q", cfg.AnalyticsWindowStr))
		}
		if cfg.AnalyticsRetention < cfg.AnalyticsWindow {
			add("ANALYTICS_RETENTION", "must be at least ANALYTICS_WINDOW")
		}
	}

	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		add("LOG_LEVEL", err.Error())
	}
	if cfg.LogFormat != logging.FormatConsole && cfg.LogFormat != logging.FormatJSON {
		add("LOG_FORMAT", fmt.Sprintf("must be 'console' or 'json', got %q", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

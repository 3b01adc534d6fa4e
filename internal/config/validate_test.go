package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns the defaults, which validate.
func validConfig(t *testing.T) Config {
	t.Helper()
	clearEnv(t)
	return mustLoad(t, "")
}

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig(t)); err != nil {
		t.Errorf("valid config should not return error, got: %v", err)
	}
}

func TestValidate_Backend(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown backend", func(c *Config) { c.StoreBackend = "cassandra" }, "STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"http without host", func(c *Config) { c.StoreBackend = BackendHTTP; c.StoreHost = "" }, "STORE_HOST"},
		{"http bad port", func(c *Config) { c.StoreBackend = BackendHTTP; c.StorePort = 70000 }, "STORE_PORT"},
		{"http negative rate", func(c *Config) { c.StoreBackend = BackendHTTP; c.StoreRateLimit = -1 }, "STORE_RATE_LIMIT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_InvalidTickInterval(t *testing.T) {
	tests := []struct {
		name     string
		interval string
		wantErr  string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.TickIntervalStr = tt.interval

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for tick_interval=%q", tt.interval)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_Analytics(t *testing.T) {
	cfg := validConfig(t)
	cfg.AnalyticsEnabled = true

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("expected REDIS_ADDR error, got %v", err)
	}

	cfg.RedisAddr = "localhost:6379"
	cfg.AnalyticsWindowStr = "2m"
	cfg.AnalyticsWindow = 0
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "ANALYTICS_WINDOW") {
		t.Fatalf("expected ANALYTICS_WINDOW error, got %v", err)
	}
}

func TestValidate_ReconcileOnlyWhenEnabled(t *testing.T) {
	cfg := validConfig(t)
	cfg.ReconcileThresholdStr = "soon"

	if err := Validate(cfg); err == nil {
		t.Fatal("expected RECONCILE_THRESHOLD error while reconciling")
	}

	cfg.ReconcileEnabled = false
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled reconciler settings should be ignored, got: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.StoreBackend = BackendPostgres // missing DATABASE_URL
	cfg.TickIntervalStr = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	if len(errs) != 2 {
		t.Errorf("expected 2 validation errors, got %d: %v", len(errs), errs)
	}
}

func TestValidate_LogSettings(t *testing.T) {
	cfg := validConfig(t)
	cfg.LogLevel = "verbose"
	cfg.LogFormat = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}
	if !strings.Contains(err.Error(), "LOG_LEVEL") || !strings.Contains(err.Error(), "LOG_FORMAT") {
		t.Errorf("expected LOG_LEVEL and LOG_FORMAT errors, got %q", err.Error())
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "DATABASE_URL", Message: "required"}
	got := err.Error()
	want := "DATABASE_URL: required"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestValidationErrors_Format(t *testing.T) {
	// Single error
	single := ValidationErrors{{Field: "F1", Message: "M1"}}
	if single.Error() != "F1: M1" {
		t.Errorf("single error = %q, want 'F1: M1'", single.Error())
	}

	// Multiple errors
	multi := ValidationErrors{
		{Field: "F1", Message: "M1"},
		{Field: "F2", Message: "M2"},
	}
	got := multi.Error()
	if !strings.Contains(got, "2 validation errors") {
		t.Errorf("multi error should contain '2 validation errors': %q", got)
	}
	if !strings.Contains(got, "F1: M1") || !strings.Contains(got, "F2: M2") {
		t.Errorf("multi error should contain both errors: %q", got)
	}

	// Empty
	empty := ValidationErrors{}
	if empty.Error() != "" {
		t.Errorf("empty errors should return empty string, got %q", empty.Error())
	}
}

package httpstore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPrefix  = "quartz_"
	DefaultTimeout = 2 * time.Second
)

// Config locates the document store. It is copied into the Client and
// never changed afterwards.
type Config struct {
	Host   string
	Port   int
	Index  string
	Prefix string

	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// RateLimit caps requests per second from this client. Zero disables
	// the limiter.
	RateLimit float64
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = DefaultPrefix
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if strings.TrimSpace(c.Index) == "" {
		errs = append(errs, errors.New("index is required"))
	}
	if strings.ContainsAny(c.Index+c.Prefix, "/?# ") {
		errs = append(errs, errors.New("index and prefix must not contain '/', '?', '#' or spaces"))
	}
	if c.Timeout < 0 {
		errs = append(errs, errors.New("timeout must not be negative"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("rate limit must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) baseURL() string {
	return fmt.Sprintf("http://%s:%d/%s", c.Host, c.Port, c.Index)
}

// Package cmd implements the cronstore command line.
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/djlord-it/cronstore/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cronstore",
	Short: "cronstore is a clustered scheduler node backed by a shared job store",
	Long: `cronstore runs jobs on cron and interval triggers across a cluster of
identical nodes. Nodes share one document store and coordinate through
version-checked writes: whichever node wins the write owns the trigger.

Common workflows:

  Start a node:
    cronstore serve

  Create the postgres schema:
    STORE_BACKEND=postgres DATABASE_URL=... cronstore migrate up

  Schedule a webhook every five minutes:
    cronstore schedule --name ping --cron "*/5 * * * *" --webhook-url https://example.com/hook

Configuration comes from environment variables (STORE_BACKEND, TICK_INTERVAL,
RECONCILE_ENABLED, ...) optionally layered over a YAML file given with --config.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return exitRuntimeError
	}
	return exitSuccess
}

func init() {
	cobra.OnInitialize(initClientEnv)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file; environment variables override it")
}

// initClientEnv exposes CRONSTORE_* variables to client commands. Node
// settings are read separately by config.Load.
func initClientEnv() {
	viper.SetEnvPrefix("CRONSTORE")
	viper.AutomaticEnv()
}

// loadConfig reads and validates configuration for commands that need it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, invalidConfig(err)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, invalidConfig(fmt.Errorf("configuration error: %w", err))
	}
	return cfg, nil
}

// clientURL is the admin API address of a running node, from --url or
// CRONSTORE_URL.
func clientURL() string {
	if u := viper.GetString("url"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

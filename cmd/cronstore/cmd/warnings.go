package cmd

import (
	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/config"
	"github.com/djlord-it/cronstore/internal/dispatcher"
)

// logConfigWarnings reports settings that are valid but risky in a cluster.
func logConfigWarnings(cfg config.Config, log zerolog.Logger) {
	if cfg.StoreBackend == config.BackendMemory {
		log.Warn().Msg("WARNING [P0]: STORE_BACKEND=memory keeps triggers in this process only; nodes do not share work and a restart loses every trigger")
	}

	if !cfg.ReconcileEnabled {
		log.Warn().Msg("WARNING [P0]: RECONCILE_ENABLED=false; triggers claimed by a node that dies stay ACQUIRED or EXECUTING forever")
	} else if cfg.ReconcileThreshold <= dispatcher.MaxRetryDuration() {
		log.Warn().
			Dur("threshold", cfg.ReconcileThreshold).
			Dur("max_run", dispatcher.MaxRetryDuration()).
			Msg("WARNING [P0]: RECONCILE_THRESHOLD does not exceed the longest webhook run; live runs can be recovered and fired twice")
	}

	if !cfg.MetricsEnabled {
		log.Warn().Msg("WARNING [P1]: METRICS_ENABLED=false; version conflicts and stranded triggers are invisible")
	}

	if cfg.Workers < cfg.BatchSize {
		log.Info().
			Int("workers", cfg.Workers).
			Int("batch", cfg.BatchSize).
			Msg("INFO: WORKERS is below BATCH_SIZE; acquisitions are capped by free workers")
	}
}

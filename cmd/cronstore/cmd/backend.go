package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/api"
	"github.com/djlord-it/cronstore/internal/circuitbreaker"
	"github.com/djlord-it/cronstore/internal/config"
	"github.com/djlord-it/cronstore/internal/docstore"
	"github.com/djlord-it/cronstore/internal/docstore/httpstore"
	"github.com/djlord-it/cronstore/internal/docstore/memstore"
	"github.com/djlord-it/cronstore/internal/docstore/postgres"
	"github.com/djlord-it/cronstore/internal/jobstore"
)

// backend is an opened document store plus what the node needs around it.
type backend struct {
	client docstore.Client
	health api.HealthChecker
	close  func() error
}

func openBackend(ctx context.Context, cfg config.Config, log zerolog.Logger) (backend, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return backend{client: memstore.New(), close: func() error { return nil }}, nil

	case config.BackendHTTP:
		opts := []httpstore.Option{httpstore.WithLogger(log)}
		if cfg.CircuitBreakerThreshold > 0 {
			opts = append(opts, httpstore.WithCircuitBreaker(
				circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)))
		}
		client, err := httpstore.New(httpstore.Config{
			Host:      cfg.StoreHost,
			Port:      cfg.StorePort,
			Index:     cfg.StoreIndex,
			Prefix:    cfg.StorePrefix,
			Timeout:   cfg.StoreTimeout,
			RateLimit: cfg.StoreRateLimit,
		}, opts...)
		if err != nil {
			return backend{}, fmt.Errorf("document store: %w", err)
		}
		health := api.HealthCheckFunc(func(ctx context.Context) error {
			_, err := client.Count(ctx, jobstore.CollectionJob)
			return err
		})
		log.Info().
			Str("host", cfg.StoreHost).
			Int("port", cfg.StorePort).
			Str("index", cfg.StoreIndex).
			Msg("cronstore: using http document store")
		return backend{client: client, health: health, close: func() error { return nil }}, nil

	case config.BackendPostgres:
		store, err := openPostgres(ctx, cfg)
		if err != nil {
			return backend{}, err
		}
		if err := postgres.Migrate(store.DB()); err != nil {
			store.Close()
			return backend{}, err
		}
		log.Info().
			Int("max_open", cfg.DBMaxOpenConns).
			Int("max_idle", cfg.DBMaxIdleConns).
			Dur("max_lifetime", cfg.DBConnMaxLifetime).
			Msg("cronstore: using postgres document store")
		return backend{client: store, health: api.HealthCheckFunc(store.DB().PingContext), close: store.Close}, nil

	default:
		return backend{}, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func openPostgres(ctx context.Context, cfg config.Config) (*postgres.Store, error) {
	store, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	db := store.DB()
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	return store, nil
}

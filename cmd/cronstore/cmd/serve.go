package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/djlord-it/cronstore/internal/analytics"
	"github.com/djlord-it/cronstore/internal/api"
	"github.com/djlord-it/cronstore/internal/circuitbreaker"
	"github.com/djlord-it/cronstore/internal/config"
	"github.com/djlord-it/cronstore/internal/cron"
	"github.com/djlord-it/cronstore/internal/dispatcher"
	"github.com/djlord-it/cronstore/internal/domain"
	"github.com/djlord-it/cronstore/internal/jobstore"
	"github.com/djlord-it/cronstore/internal/logging"
	"github.com/djlord-it/cronstore/internal/metrics"
	"github.com/djlord-it/cronstore/internal/reconciler"
	"github.com/djlord-it/cronstore/internal/scheduler"
	"github.com/djlord-it/cronstore/internal/transport/channel"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a scheduler node and its admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
		if err != nil {
			return invalidConfig(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// node is a wired scheduler node, ready to run.
type node struct {
	store      *jobstore.Store
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	server     *http.Server
	closers    []func() error
}

func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	logConfigWarnings(cfg, log)

	n, err := buildNode(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer n.close(log)

	n.store.SchedulerStarted()

	var wg sync.WaitGroup
	schedCtx, cancelScheduler := context.WithCancel(context.WithoutCancel(ctx))
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := n.scheduler.Run(schedCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("cronstore: scheduler stopped with error")
		}
	}()

	var reconWg sync.WaitGroup
	reconCtx, cancelReconciler := context.WithCancel(context.WithoutCancel(ctx))
	if n.reconciler != nil {
		reconWg.Add(1)
		go func() {
			defer reconWg.Done()
			n.reconciler.Run(reconCtx)
		}()
		log.Info().
			Dur("interval", cfg.ReconcileInterval).
			Dur("threshold", cfg.ReconcileThreshold).
			Int("batch", cfg.ReconcileBatchSize).
			Msg("cronstore: reconciler enabled")
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("cronstore: http server listening")
		if err := n.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	log.Info().
		Str("instance", n.store.InstanceID()).
		Str("backend", cfg.StoreBackend).
		Dur("tick", cfg.TickInterval).
		Msg("cronstore: started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("cronstore: shutdown requested")
	case runErr = <-serverErr:
		log.Error().Err(runErr).Msg("cronstore: http server failed")
	}

	// Phase 1: stop acquiring and drain running jobs.
	log.Info().Msg("cronstore: stopping scheduler...")
	cancelScheduler()
	wg.Wait()

	// Phase 2: stop recovering stranded triggers.
	cancelReconciler()
	reconWg.Wait()

	// Phase 3: stop the admin API.
	log.Info().Msg("cronstore: stopping http server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()
	if err := n.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("cronstore: http server shutdown error")
	}

	n.store.Shutdown()
	log.Info().Msg("cronstore: stopped")
	return runErr
}

// buildNode opens the backend and wires every component of a node.
func buildNode(ctx context.Context, cfg config.Config, log zerolog.Logger) (*node, error) {
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	n := &node{closers: []func() error{be.close}}

	var sink metrics.Sink = &metrics.NoopSink{}
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSinkWithLogger(prometheus.DefaultRegisterer, log)
		log.Info().Str("path", cfg.MetricsPath).Msg("cronstore: metrics enabled")
	}

	wakeup := channel.NewSignal().WithMetrics(sink)

	n.store, err = jobstore.New(be.client, jobstore.Options{
		InstanceID:     cfg.InstanceID,
		SortCandidates: cfg.SortCandidates,
	})
	if err != nil {
		n.close(log)
		return nil, err
	}
	n.store.WithLogger(log).WithMetrics(sink)
	n.store.Initialize(wakeup)

	sender := dispatcher.NewHTTPWebhookSender()
	if cfg.CircuitBreakerThreshold > 0 {
		sender.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
	}
	registry := dispatcher.NewRegistry().
		Register(dispatcher.ClassWebhook, dispatcher.NewWebhookRunner(sender).WithMetrics(sink).WithLogger(log)).
		Register(dispatcher.ClassLog, dispatcher.NewLogRunner(log))
	disp := dispatcher.New(registry).WithMetrics(sink).WithLogger(log)

	n.scheduler = scheduler.New(scheduler.Config{
		TickInterval: cfg.TickInterval,
		BatchSize:    cfg.BatchSize,
		TimeWindow:   cfg.TimeWindow,
		Workers:      cfg.Workers,
	}, n.store, disp).
		WithWakeup(wakeup.C()).
		WithMetrics(sink).
		WithLogger(log)

	handler := api.NewHandler(n.store, cron.NewCalculator(cron.NewParser())).
		WithJobClasses(registry).
		WithLogger(log)
	if be.health != nil {
		handler.WithHealthCheck("store", be.health)
	}

	if cfg.AnalyticsEnabled {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		n.closers = append(n.closers, rc.Close)
		redisSink := analytics.NewRedisSink(rc)
		acfg := domain.AnalyticsConfig{
			Enabled:   true,
			Type:      domain.AnalyticsTypeCount,
			Window:    cfg.AnalyticsWindow,
			Retention: cfg.AnalyticsRetention,
		}
		n.scheduler.WithAnalytics(redisSink, acfg)
		handler.WithRunCounter(redisSink, acfg).WithHealthCheck("redis", api.HealthCheckFunc(redisSink.Ping))
		log.Info().Str("redis", cfg.RedisAddr).Dur("window", cfg.AnalyticsWindow).Msg("cronstore: analytics enabled")
	}

	if cfg.ReconcileEnabled {
		n.reconciler = reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, n.store).
			WithMetrics(sink).
			WithLogger(log)
	}

	mux := http.NewServeMux()
	if cfg.MetricsEnabled {
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
	}
	mux.Handle("/", handler)
	n.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return n, nil
}

func (n *node) close(log zerolog.Logger) {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			log.Warn().Err(err).Msg("cronstore: close error")
		}
	}
	n.closers = nil
}

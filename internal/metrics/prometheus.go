package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	log zerolog.Logger

	// Scheduler node metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	firedTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	tickDrift       prometheus.Histogram

	// Job store metrics
	acquireDuration       prometheus.Histogram
	acquireCandidates     prometheus.Counter
	acquiredTotal         prometheus.Counter
	versionConflictsTotal *prometheus.CounterVec
	firesTotal            *prometheus.CounterVec
	completionsTotal      *prometheus.CounterVec

	// Job runner metrics
	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	runsInFlight prometheus.Gauge

	// Webhook delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	webhookDuration       prometheus.Histogram
	retryAttemptsTotal    *prometheus.CounterVec

	// Signal and reconciler metrics
	signalsCoalescedTotal prometheus.Counter
	recoveredTotal        prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	return NewPrometheusSinkWithLogger(reg, zerolog.Nop())
}

func NewPrometheusSinkWithLogger(reg prometheus.Registerer, log zerolog.Logger) *PrometheusSink {
	s := &PrometheusSink{log: log}
	s.initSchedulerMetrics(reg)
	s.initJobStoreMetrics(reg)
	s.initRunnerMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initMiscMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.firedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_scheduler_triggers_fired_total",
		Help: "Total number of triggers fired by this node.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstore_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.tickDrift = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstore_scheduler_tick_drift_seconds",
		Help:    "Difference between actual tick time and expected interval in seconds.",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	s.register(reg, s.ticksTotal, "cronstore_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "cronstore_scheduler_tick_errors_total")
	s.register(reg, s.firedTotal, "cronstore_scheduler_triggers_fired_total")
	s.register(reg, s.tickDuration, "cronstore_scheduler_tick_duration_seconds")
	s.register(reg, s.tickDrift, "cronstore_scheduler_tick_drift_seconds")
}

func (s *PrometheusSink) initJobStoreMetrics(reg prometheus.Registerer) {
	s.acquireDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstore_jobstore_acquire_duration_seconds",
		Help:    "Duration of trigger acquisition calls in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})
	s.acquireCandidates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_jobstore_acquire_candidates_total",
		Help: "Total number of search hits considered for acquisition.",
	})
	s.acquiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_jobstore_acquired_total",
		Help: "Total number of triggers acquired.",
	})
	s.versionConflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_jobstore_version_conflicts_total",
		Help: "Total number of writes that lost the version check.",
	}, []string{"op"})
	s.firesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_jobstore_fires_total",
		Help: "Total number of trigger firing results.",
	}, []string{"result"})
	s.completionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_jobstore_completions_total",
		Help: "Total number of completion instructions applied.",
	}, []string{"instruction", "result"})

	s.register(reg, s.acquireDuration, "cronstore_jobstore_acquire_duration_seconds")
	s.register(reg, s.acquireCandidates, "cronstore_jobstore_acquire_candidates_total")
	s.register(reg, s.acquiredTotal, "cronstore_jobstore_acquired_total")
	s.register(reg, s.versionConflictsTotal, "cronstore_jobstore_version_conflicts_total")
	s.register(reg, s.firesTotal, "cronstore_jobstore_fires_total")
	s.register(reg, s.completionsTotal, "cronstore_jobstore_completions_total")
}

func (s *PrometheusSink) initRunnerMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_runner_runs_total",
		Help: "Total number of job runs by job class and result.",
	}, []string{"job_class", "result"})
	s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cronstore_runner_run_duration_seconds",
		Help:    "Job run duration in seconds.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60, 300},
	}, []string{"job_class"})
	s.runsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cronstore_runner_runs_in_flight",
		Help: "Number of job runs currently executing.",
	})

	s.register(reg, s.runsTotal, "cronstore_runner_runs_total")
	s.register(reg, s.runDuration, "cronstore_runner_run_duration_seconds")
	s.register(reg, s.runsInFlight, "cronstore_runner_runs_in_flight")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_webhook_delivery_attempts_total",
		Help: "Total number of webhook delivery attempts.",
	}, []string{"attempt", "status_class"})
	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_webhook_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per run.",
	}, []string{"outcome"})
	s.webhookDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cronstore_webhook_duration_seconds",
		Help:    "Webhook request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.retryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cronstore_webhook_retry_attempts_total",
		Help: "Total number of retry attempts (excludes first attempt).",
	}, []string{"retryable"})

	s.register(reg, s.deliveryAttemptsTotal, "cronstore_webhook_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "cronstore_webhook_delivery_outcomes_total")
	s.register(reg, s.webhookDuration, "cronstore_webhook_duration_seconds")
	s.register(reg, s.retryAttemptsTotal, "cronstore_webhook_retry_attempts_total")
}

func (s *PrometheusSink) initMiscMetrics(reg prometheus.Registerer) {
	s.signalsCoalescedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_signal_coalesced_total",
		Help: "Total number of scheduling-change signals merged into a pending one.",
	})
	s.recoveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cronstore_reconciler_recovered_total",
		Help: "Total number of stranded triggers returned to WAITING.",
	})

	s.register(reg, s.signalsCoalescedTotal, "cronstore_signal_coalesced_total")
	s.register(reg, s.recoveredTotal, "cronstore_reconciler_recovered_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.log.Warn().Err(err).Str("metric", name).Msg("metrics: failed to register")
	}
}

// Scheduler node metrics implementation

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.firedTotal.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) TickDrift(drift time.Duration) {
	d := drift.Seconds()
	if d < 0 {
		d = -d
	}
	s.tickDrift.Observe(d)
}

// Job store metrics implementation

func (s *PrometheusSink) TriggersAcquired(candidates, acquired int, duration time.Duration) {
	s.acquireDuration.Observe(duration.Seconds())
	s.acquireCandidates.Add(float64(candidates))
	s.acquiredTotal.Add(float64(acquired))
}

func (s *PrometheusSink) VersionConflict(op string) {
	s.versionConflictsTotal.WithLabelValues(op).Inc()
}

func (s *PrometheusSink) TriggerFired(success bool) {
	s.firesTotal.WithLabelValues(resultLabel(success)).Inc()
}

func (s *PrometheusSink) TriggerCompleted(instruction string, success bool) {
	s.completionsTotal.WithLabelValues(instruction, resultLabel(success)).Inc()
}

// Job runner metrics implementation

func (s *PrometheusSink) JobRunCompleted(jobClass string, duration time.Duration, err error) {
	s.runsTotal.WithLabelValues(jobClass, resultLabel(err == nil)).Inc()
	s.runDuration.WithLabelValues(jobClass).Observe(duration.Seconds())
}

func (s *PrometheusSink) RunsInFlightIncr() {
	s.runsInFlight.Inc()
}

func (s *PrometheusSink) RunsInFlightDecr() {
	s.runsInFlight.Dec()
}

// Webhook delivery metrics implementation

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.webhookDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) RetryAttempt(retryable bool) {
	s.retryAttemptsTotal.WithLabelValues(strconv.FormatBool(retryable)).Inc()
}

func (s *PrometheusSink) SignalCoalesced() {
	s.signalsCoalescedTotal.Inc()
}

func (s *PrometheusSink) StrandedTriggersRecovered(count int) {
	s.recoveredTotal.Add(float64(count))
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	return sink, reg
}

func getCounterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func getGaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if m.GetGauge() != nil {
					return m.GetGauge().GetValue()
				}
			}
		}
	}
	return 0
}

func getCounterVecValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				if matchLabels(m.GetLabel(), labels) {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func TestPrometheusSink_Registration(t *testing.T) {
	// Should not panic or error with a fresh registry.
	reg := prometheus.NewRegistry()
	sink := NewPrometheusSink(reg)
	if sink == nil {
		t.Fatal("NewPrometheusSink returned nil")
	}
}

func TestPrometheusSink_TickStarted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickStarted()
	sink.TickStarted()

	val := getCounterValue(t, reg, "cronstore_scheduler_ticks_total")
	if val != 2 {
		t.Errorf("ticks_total = %v, want 2", val)
	}
}

func TestPrometheusSink_TickCompleted_WithError(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TickCompleted(100*time.Millisecond, 5, nil)
	if v := getCounterValue(t, reg, "cronstore_scheduler_tick_errors_total"); v != 0 {
		t.Errorf("tick_errors_total = %v after success, want 0", v)
	}
	if v := getCounterValue(t, reg, "cronstore_scheduler_triggers_fired_total"); v != 5 {
		t.Errorf("triggers_fired_total = %v, want 5", v)
	}

	sink.TickCompleted(100*time.Millisecond, 0, errors.New("store error"))
	if v := getCounterValue(t, reg, "cronstore_scheduler_tick_errors_total"); v != 1 {
		t.Errorf("tick_errors_total = %v after error, want 1", v)
	}
}

func TestPrometheusSink_Acquisition(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggersAcquired(5, 2, 10*time.Millisecond)
	sink.TriggersAcquired(3, 1, 10*time.Millisecond)

	if v := getCounterValue(t, reg, "cronstore_jobstore_acquire_candidates_total"); v != 8 {
		t.Errorf("acquire_candidates_total = %v, want 8", v)
	}
	if v := getCounterValue(t, reg, "cronstore_jobstore_acquired_total"); v != 3 {
		t.Errorf("acquired_total = %v, want 3", v)
	}
}

func TestPrometheusSink_VersionConflictLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.VersionConflict("acquire")
	sink.VersionConflict("acquire")
	sink.VersionConflict("fire")

	if v := getCounterVecValue(t, reg, "cronstore_jobstore_version_conflicts_total", map[string]string{"op": "acquire"}); v != 2 {
		t.Errorf("op=acquire = %v, want 2", v)
	}
	if v := getCounterVecValue(t, reg, "cronstore_jobstore_version_conflicts_total", map[string]string{"op": "fire"}); v != 1 {
		t.Errorf("op=fire = %v, want 1", v)
	}
}

func TestPrometheusSink_FiresAndCompletions(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.TriggerFired(true)
	sink.TriggerFired(false)
	sink.TriggerCompleted("NOOP", true)
	sink.TriggerCompleted("DELETE_TRIGGER", false)

	if v := getCounterVecValue(t, reg, "cronstore_jobstore_fires_total", map[string]string{"result": "failure"}); v != 1 {
		t.Errorf("fires result=failure = %v, want 1", v)
	}
	if v := getCounterVecValue(t, reg, "cronstore_jobstore_completions_total",
		map[string]string{"instruction": "NOOP", "result": "success"}); v != 1 {
		t.Errorf("completions NOOP/success = %v, want 1", v)
	}
	if v := getCounterVecValue(t, reg, "cronstore_jobstore_completions_total",
		map[string]string{"instruction": "DELETE_TRIGGER", "result": "failure"}); v != 1 {
		t.Errorf("completions DELETE_TRIGGER/failure = %v, want 1", v)
	}
}

func TestPrometheusSink_JobRuns(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.JobRunCompleted("webhook", time.Second, nil)
	sink.JobRunCompleted("webhook", time.Second, errors.New("boom"))

	if v := getCounterVecValue(t, reg, "cronstore_runner_runs_total",
		map[string]string{"job_class": "webhook", "result": "success"}); v != 1 {
		t.Errorf("runs webhook/success = %v, want 1", v)
	}
	if v := getCounterVecValue(t, reg, "cronstore_runner_runs_total",
		map[string]string{"job_class": "webhook", "result": "failure"}); v != 1 {
		t.Errorf("runs webhook/failure = %v, want 1", v)
	}
}

func TestPrometheusSink_DeliveryAttemptLabels(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryAttemptCompleted(1, "2xx", 100*time.Millisecond)
	sink.DeliveryAttemptCompleted(2, "5xx", 200*time.Millisecond)

	val1 := getCounterVecValue(t, reg, "cronstore_webhook_delivery_attempts_total",
		map[string]string{"attempt": "1", "status_class": "2xx"})
	if val1 != 1 {
		t.Errorf("attempt=1,status=2xx = %v, want 1", val1)
	}

	val2 := getCounterVecValue(t, reg, "cronstore_webhook_delivery_attempts_total",
		map[string]string{"attempt": "2", "status_class": "5xx"})
	if val2 != 1 {
		t.Errorf("attempt=2,status=5xx = %v, want 1", val2)
	}
}

func TestPrometheusSink_DeliveryOutcome(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.DeliveryOutcome(OutcomeSuccess)
	sink.DeliveryOutcome(OutcomeFailed)
	sink.DeliveryOutcome(OutcomeSuccess)

	successVal := getCounterVecValue(t, reg, "cronstore_webhook_delivery_outcomes_total",
		map[string]string{"outcome": "success"})
	if successVal != 2 {
		t.Errorf("outcome=success = %v, want 2", successVal)
	}

	failedVal := getCounterVecValue(t, reg, "cronstore_webhook_delivery_outcomes_total",
		map[string]string{"outcome": "failed"})
	if failedVal != 1 {
		t.Errorf("outcome=failed = %v, want 1", failedVal)
	}
}

func TestPrometheusSink_RunsInFlight(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.RunsInFlightIncr()
	sink.RunsInFlightIncr()
	sink.RunsInFlightDecr()

	val := getGaugeValue(t, reg, "cronstore_runner_runs_in_flight")
	if val != 1 {
		t.Errorf("runs_in_flight = %v, want 1", val)
	}
}

func TestPrometheusSink_SignalsAndRecovery(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.SignalCoalesced()
	sink.StrandedTriggersRecovered(4)

	if v := getCounterValue(t, reg, "cronstore_signal_coalesced_total"); v != 1 {
		t.Errorf("signal_coalesced_total = %v, want 1", v)
	}
	if v := getCounterValue(t, reg, "cronstore_reconciler_recovered_total"); v != 4 {
		t.Errorf("reconciler_recovered_total = %v, want 4", v)
	}
}

func TestPrometheusSink_DuplicateRegistration_NoPanic(t *testing.T) {
	// Registering metrics twice with the same registry should not panic.
	reg := prometheus.NewRegistry()

	sink1 := NewPrometheusSink(reg)
	if sink1 == nil {
		t.Fatal("first NewPrometheusSink returned nil")
	}

	sink2 := NewPrometheusSink(reg)
	if sink2 == nil {
		t.Fatal("second NewPrometheusSink returned nil")
	}
}

// Verify PrometheusSink implements Sink interface.
var _ Sink = (*PrometheusSink)(nil)

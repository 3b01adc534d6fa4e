package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/domain"
	"github.com/djlord-it/cronstore/internal/metrics"
)

// ClassWebhook is the job class of WebhookRunner.
const ClassWebhook = "webhook"

// Job data keys read by WebhookRunner.
const (
	DataURL     = "url"
	DataSecret  = "secret"
	DataTimeout = "timeout"
)

var defaultBackoff = []time.Duration{
	0,
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
}

const maxAttempts = 4

// WebhookRunner delivers each firing as a signed HTTP POST, retrying
// transient failures with bounded backoff.
type WebhookRunner struct {
	sender  WebhookSender
	metrics MetricsSink // optional, nil = disabled
	backoff []time.Duration
	log     zerolog.Logger
}

func NewWebhookRunner(sender WebhookSender) *WebhookRunner {
	return &WebhookRunner{
		sender:  sender,
		backoff: defaultBackoff,
		log:     zerolog.Nop(),
	}
}

func (r *WebhookRunner) WithMetrics(sink MetricsSink) *WebhookRunner {
	r.metrics = sink
	return r
}

func (r *WebhookRunner) WithLogger(log zerolog.Logger) *WebhookRunner {
	r.log = log.With().Str("component", "webhook").Logger()
	return r
}

func (r *WebhookRunner) Run(ctx context.Context, b domain.FireBundle) error {
	req, err := webhookRequest(b)
	if err != nil {
		return err
	}
	job := b.Job.Key.String()

	var lastResult WebhookResult

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if r.metrics != nil {
				r.metrics.RetryAttempt(lastResult.IsRetryable())
			}

			idx := attempt - 1
			if idx >= len(r.backoff) {
				idx = len(r.backoff) - 1
			}
			backoff := r.backoff[idx]

			r.log.Debug().Str("job", job).Int("attempt", attempt).Dur("backoff", backoff).Msg("webhook: retrying")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				if r.metrics != nil {
					r.metrics.DeliveryOutcome(metrics.OutcomeAbandoned)
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		req.AttemptID = uuid.New().String()
		result := r.sender.Send(ctx, req)
		lastResult = result

		if r.metrics != nil {
			r.metrics.DeliveryAttemptCompleted(attempt, metrics.ClassifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		if result.IsSuccess() {
			r.log.Debug().Str("job", job).Int("attempt", attempt).Msg("webhook: delivered")
			if r.metrics != nil {
				r.metrics.DeliveryOutcome(metrics.OutcomeSuccess)
			}
			return nil
		}

		if !result.IsRetryable() {
			r.log.Warn().Str("job", job).Int("status", result.StatusCode).Msg("webhook: non-retryable status")
			break
		}

		r.log.Debug().Str("job", job).Int("attempt", attempt).
			Int("status", result.StatusCode).Err(result.Error).Msg("webhook: attempt failed")
	}

	if r.metrics != nil {
		r.metrics.DeliveryOutcome(metrics.OutcomeFailed)
	}
	if lastResult.Error != nil {
		return fmt.Errorf("webhook %s: %w", req.URL, lastResult.Error)
	}
	return fmt.Errorf("webhook %s: status %d", req.URL, lastResult.StatusCode)
}

// webhookRequest builds the request from the job data map. A job without a
// url can never be delivered, so that case unschedules the trigger.
func webhookRequest(b domain.FireBundle) (WebhookRequest, error) {
	url, _ := b.Job.Data[DataURL].(string)
	if url == "" {
		return WebhookRequest{}, fmt.Errorf("%w: job %s has no %q in its data", domain.ErrUnschedule, b.Job.Key, DataURL)
	}
	secret, _ := b.Job.Data[DataSecret].(string)
	timeout, err := dataDuration(b.Job.Data[DataTimeout])
	if err != nil {
		return WebhookRequest{}, fmt.Errorf("%w: job %s: %v", domain.ErrUnschedule, b.Job.Key, err)
	}

	payload := WebhookPayload{
		Job:            b.Job.Key.String(),
		Trigger:        b.Trigger.Key.String(),
		FireInstanceID: b.FireInstanceID.String(),
		FiredAt:        b.FireTime.UTC().Format(time.RFC3339),
	}
	if b.ScheduledFireTime != nil {
		payload.ScheduledAt = b.ScheduledFireTime.UTC().Format(time.RFC3339)
	}
	if b.NextFireTime != nil {
		payload.NextFireAt = b.NextFireTime.UTC().Format(time.RFC3339)
	}

	return WebhookRequest{
		URL:     url,
		Secret:  secret,
		Timeout: timeout,
		Payload: payload,
	}, nil
}

// dataDuration accepts a Go duration string or a number of seconds.
func dataDuration(v any) (time.Duration, error) {
	switch t := v.(type) {
	case nil:
		return 0, nil
	case string:
		if d, err := time.ParseDuration(t); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q", DataTimeout, t)
		}
		return time.Duration(secs * float64(time.Second)), nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case int:
		return time.Duration(t) * time.Second, nil
	case int64:
		return time.Duration(t) * time.Second, nil
	case time.Duration:
		return t, nil
	default:
		return 0, fmt.Errorf("invalid %s of type %T", DataTimeout, v)
	}
}

// MaxRetryDuration is the longest a webhook run can take with the default
// backoff and request timeout.
func MaxRetryDuration() time.Duration {
	var total time.Duration
	for _, b := range defaultBackoff[1:maxAttempts] {
		total += b
	}
	return total + maxAttempts*defaultRequestTimeout
}

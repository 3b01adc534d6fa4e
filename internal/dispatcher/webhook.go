package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/djlord-it/cronstore/internal/circuitbreaker"
)

const defaultRequestTimeout = 30 * time.Second

type WebhookSender interface {
	Send(ctx context.Context, req WebhookRequest) WebhookResult
}

type WebhookRequest struct {
	URL       string
	Secret    string
	Timeout   time.Duration
	Payload   WebhookPayload
	AttemptID string
}

type WebhookPayload struct {
	Job            string `json:"job"`
	Trigger        string `json:"trigger"`
	FireInstanceID string `json:"fire_instance_id"`
	ScheduledAt    string `json:"scheduled_at,omitempty"`
	FiredAt        string `json:"fired_at"`
	NextFireAt     string `json:"next_fire_at,omitempty"`
}

type WebhookResult struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r WebhookResult) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r WebhookResult) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

type HTTPWebhookSender struct {
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{
		client: &http.Client{},
	}
}

// WithCircuitBreaker stops sending to a URL after repeated failures until
// the breaker's cooldown passes.
func (s *HTTPWebhookSender) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *HTTPWebhookSender {
	s.breaker = cb
	return s
}

// Send posts the webhook payload with HMAC signature.
// Headers: X-Cronstore-Event-ID (attempt), X-Cronstore-Fire-Instance-ID, X-Cronstore-Signature
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	if s.breaker != nil {
		if err := s.breaker.Allow(req.URL); err != nil {
			return WebhookResult{Error: err, Duration: time.Since(start)}
		}
	}

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	signature := computeSignature(req.Secret, body)

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultRequestTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return WebhookResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Cronstore-Event-ID", req.AttemptID)
	httpReq.Header.Set("X-Cronstore-Fire-Instance-ID", req.Payload.FireInstanceID)
	httpReq.Header.Set("X-Cronstore-Signature", signature)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		s.record(req.URL, false)
		return WebhookResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	s.record(req.URL, resp.StatusCode < 500)
	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func (s *HTTPWebhookSender) record(url string, ok bool) {
	if s.breaker == nil {
		return
	}
	if ok {
		s.breaker.RecordSuccess(url)
	} else {
		s.breaker.RecordFailure(url)
	}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming webhooks.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

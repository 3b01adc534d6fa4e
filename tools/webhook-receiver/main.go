// Command webhook-receiver is a test endpoint for webhook jobs. It checks
// signatures and counts deliveries per fire instance, so a cluster run can
// be checked for jobs that fired more than once.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/djlord-it/cronstore/internal/dispatcher"
	"github.com/djlord-it/cronstore/internal/logging"
)

type request struct {
	Timestamp      string `json:"timestamp"`
	FireInstanceID string `json:"fire_instance_id"`
	AttemptID      string `json:"attempt_id"`
	Body           string `json:"body"`
}

type stats struct {
	Count int64 `json:"count"`

	// Duplicates are fire instances delivered more than once with
	// different attempt ids. Retries of one attempt are not duplicates.
	Duplicates   map[string]int `json:"duplicates,omitempty"`
	BadSignature int64          `json:"bad_signature"`
	LastRequests []request      `json:"last_requests"`
	Since        string         `json:"since"`
}

const maxStored = 50

type receiver struct {
	secret string
	clock  func() time.Time
	log    zerolog.Logger

	mu           sync.Mutex
	count        int64
	badSignature int64
	attempts     map[string]map[string]struct{} // fire instance -> attempt ids
	lastRequests []request
	since        time.Time
}

func newReceiver(secret string, log zerolog.Logger) *receiver {
	r := &receiver{secret: secret, clock: time.Now, log: log}
	r.reset()
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.count = 0
	rc.badSignature = 0
	rc.attempts = make(map[string]map[string]struct{})
	rc.lastRequests = nil
	rc.since = rc.clock().UTC()
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})
	return mux
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.secret != "" && !dispatcher.VerifySignature(rc.secret, body, r.Header.Get("X-Cronstore-Signature")) {
		rc.mu.Lock()
		rc.badSignature++
		rc.mu.Unlock()
		rc.log.Warn().Msg("webhook-receiver: bad signature")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	req := request{
		Timestamp:      rc.clock().UTC().Format(time.RFC3339Nano),
		FireInstanceID: r.Header.Get("X-Cronstore-Fire-Instance-ID"),
		AttemptID:      r.Header.Get("X-Cronstore-Event-ID"),
		Body:           string(body),
	}

	rc.mu.Lock()
	rc.count++
	seen := rc.attempts[req.FireInstanceID]
	if seen == nil {
		seen = make(map[string]struct{})
		rc.attempts[req.FireInstanceID] = seen
	}
	seen[req.AttemptID] = struct{}{}
	rc.lastRequests = append(rc.lastRequests, req)
	if len(rc.lastRequests) > maxStored {
		rc.lastRequests = rc.lastRequests[len(rc.lastRequests)-maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	rc.log.Info().
		Int64("n", current).
		Str("fire_instance", req.FireInstanceID).
		Msg("webhook-receiver: hook received")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) snapshot() stats {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	s := stats{
		Count:        rc.count,
		BadSignature: rc.badSignature,
		LastRequests: append([]request(nil), rc.lastRequests...),
		Since:        rc.since.Format(time.RFC3339),
	}
	for id, seen := range rc.attempts {
		if len(seen) > 1 {
			if s.Duplicates == nil {
				s.Duplicates = make(map[string]int)
			}
			s.Duplicates[id] = len(seen)
		}
	}
	return s
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rc.snapshot())
}

func main() {
	log, err := logging.New(logging.Config{Level: "info", Format: logging.FormatConsole})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rc := newReceiver(os.Getenv("WEBHOOK_SECRET"), log)
	server := &http.Server{Addr: addr, Handler: rc.routes(), ReadHeaderTimeout: 10 * time.Second}

	log.Info().Str("addr", addr).Bool("verify", rc.secret != "").Msg("webhook-receiver: listening")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("webhook-receiver: server failed")
	}
}

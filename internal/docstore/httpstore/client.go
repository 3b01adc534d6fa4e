// Package httpstore talks to an Elasticsearch-style document store over
// its REST API. Documents live at
//
//	http://host:port/{index}/{prefix}{collection}/{id}
//
// and optimistic concurrency uses the store's _version counter.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/djlord-it/cronstore/internal/circuitbreaker"
	"github.com/djlord-it/cronstore/internal/docstore"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 16 << 20

type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithCircuitBreaker short-circuits requests with ErrTransport while the
// store is failing.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func New(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("httpstore: invalid config: %w", err)
	}

	c := &Client{
		cfg:  cfg,
		base: cfg.baseURL(),
		http: &http.Client{Timeout: cfg.Timeout},
		log:  zerolog.Nop(),
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config { return c.cfg }

type getResponse struct {
	Found   bool            `json:"found"`
	Version int64           `json:"_version"`
	Source  json.RawMessage `json:"_source"`
}

func (c *Client) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.docURL(collection, id, nil), nil)
	if err != nil {
		return docstore.Document{}, err
	}
	if status == http.StatusNotFound {
		return docstore.Document{}, nil
	}
	if status != http.StatusOK {
		return docstore.Document{}, unexpected(http.MethodGet, status, body)
	}

	var r getResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return docstore.Document{}, fmt.Errorf("%w: decode get response: %v", docstore.ErrTransport, err)
	}
	if !r.Found {
		return docstore.Document{}, nil
	}
	return docstore.Document{Found: true, Version: docstore.Version(r.Version), Source: r.Source}, nil
}

type putResponse struct {
	Created bool   `json:"created"`
	Result  string `json:"result"`
	Version int64  `json:"_version"`
}

func (c *Client) Put(ctx context.Context, collection, id string, doc []byte, opts docstore.PutOptions) (docstore.PutResult, error) {
	q := url.Values{}
	if opts.IfVersion != 0 {
		q.Set("version", strconv.FormatInt(int64(opts.IfVersion), 10))
	}
	if opts.CreateOnly {
		q.Set("op_type", "create")
	}

	status, body, err := c.do(ctx, http.MethodPut, c.docURL(collection, id, q), doc)
	if err != nil {
		return docstore.PutResult{}, err
	}

	switch {
	case status == http.StatusConflict && opts.CreateOnly:
		return docstore.PutResult{}, docstore.ErrDocumentExists
	case status == http.StatusConflict:
		return docstore.PutResult{}, docstore.ErrVersionConflict
	case status == http.StatusNotFound && opts.IfVersion != 0:
		// Conditional write on a document that has been deleted.
		return docstore.PutResult{}, docstore.ErrVersionConflict
	case status != http.StatusOK && status != http.StatusCreated:
		return docstore.PutResult{}, unexpected(http.MethodPut, status, body)
	}

	var r putResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return docstore.PutResult{}, fmt.Errorf("%w: decode put response: %v", docstore.ErrTransport, err)
	}
	created := r.Created || r.Result == "created"
	return docstore.PutResult{Created: created, Version: docstore.Version(r.Version)}, nil
}

func (c *Client) Delete(ctx context.Context, collection, id string) (bool, error) {
	status, body, err := c.do(ctx, http.MethodDelete, c.docURL(collection, id, nil), nil)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpected(http.MethodDelete, status, body)
	}
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID      string          `json:"_id"`
			Version int64           `json:"_version"`
			Source  json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (c *Client) Search(ctx context.Context, collection string, q docstore.Query) ([]docstore.Hit, error) {
	reqBody, err := json.Marshal(searchBody(q))
	if err != nil {
		return nil, fmt.Errorf("encode search: %w", err)
	}

	status, body, err := c.do(ctx, http.MethodPost, c.collectionURL(collection, "_search"), reqBody)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		// Collection not created yet.
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, unexpected("SEARCH", status, body)
	}

	var r searchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("%w: decode search response: %v", docstore.ErrTransport, err)
	}

	hits := make([]docstore.Hit, 0, len(r.Hits.Hits))
	for _, h := range r.Hits.Hits {
		hits = append(hits, docstore.Hit{ID: h.ID, Version: docstore.Version(h.Version), Source: h.Source})
	}
	return hits, nil
}

type countResponse struct {
	Count int `json:"count"`
}

func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	status, body, err := c.do(ctx, http.MethodGet, c.collectionURL(collection, "_count"), nil)
	if err != nil {
		return 0, err
	}
	if status == http.StatusNotFound {
		return 0, nil
	}
	if status != http.StatusOK {
		return 0, unexpected("COUNT", status, body)
	}

	var r countResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return 0, fmt.Errorf("%w: decode count response: %v", docstore.ErrTransport, err)
	}
	return r.Count, nil
}

func (c *Client) collectionURL(collection, suffix string) string {
	return c.base + "/" + url.PathEscape(c.cfg.Prefix+collection) + "/" + suffix
}

func (c *Client) docURL(collection, id string, q url.Values) string {
	u := c.collectionURL(collection, url.PathEscape(id))
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// do performs one request and returns the status and body. Only failures
// to talk to the store at all are returned as errors.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) (int, []byte, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(c.base); err != nil {
			return 0, nil, fmt.Errorf("%w: %v", docstore.ErrTransport, err)
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("%w: rate limiter: %v", docstore.ErrTransport, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", docstore.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.log.Debug().Str("method", method).Str("url", rawURL).Int("body_bytes", len(body)).Msg("store request")

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure()
		return 0, nil, fmt.Errorf("%w: %s %s: %v", docstore.ErrTransport, method, rawURL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.recordFailure()
		return 0, nil, fmt.Errorf("%w: read response: %v", docstore.ErrTransport, err)
	}

	c.log.Debug().Str("method", method).Str("url", rawURL).Int("status", resp.StatusCode).Msg("store response")

	if resp.StatusCode >= 500 {
		c.recordFailure()
	} else if c.breaker != nil {
		c.breaker.RecordSuccess(c.base)
	}
	return resp.StatusCode, respBody, nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure(c.base)
	}
}

func unexpected(op string, status int, body []byte) error {
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Errorf("%w: %s: unexpected status %d: %s", docstore.ErrTransport, op, status, bytes.TrimSpace(body))
}

// IsTransport reports whether err came from failing to reach the store.
func IsTransport(err error) bool {
	return errors.Is(err, docstore.ErrTransport)
}

var _ docstore.Client = (*Client)(nil)

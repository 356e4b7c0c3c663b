// Package collector is the HTTP boundary to the remote telemetry collector.
//
// Every call is a JSON POST authenticated with a bearer token and bounded by
// its own timeout, so a slow collector cannot stall the caller indefinitely.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vburojevic/beacon/internal/domain"
)

// Endpoint paths, relative to the base URL
const (
	PathSessionStart = "/session/start"
	PathSessionEnd   = "/session/end"
	PathPageStart    = "/page/start"
	PathPageEnd      = "/page/end"
	PathEventsBatch  = "/events/batch"
)

// DefaultTimeout bounds a single collector call
const DefaultTimeout = 10 * time.Second

const instrumentationName = "github.com/vburojevic/beacon/internal/collector"

// maxErrorBody caps how much of a non-2xx body is kept on StatusError
const maxErrorBody = 512

// ErrNoCredential is returned without any I/O when the bearer token is empty
var ErrNoCredential = errors.New("collector: no credential")

// StatusError is returned when the collector answers with a non-2xx status
type StatusError struct {
	Path       string
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("collector: %s returned %s: %s", e.Path, e.Status, e.Body)
	}
	return fmt.Sprintf("collector: %s returned %s", e.Path, e.Status)
}

// Client talks to one collector base URL. Safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-call timeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header sent on every call
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTracerProvider sets the provider used for client spans (global provider by default)
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// New creates a client for baseURL (e.g. https://api.example.com/api/analytics)
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("collector: base URL is empty")
	}
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		return nil, fmt.Errorf("collector: base URL %q must be http or https", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		tracer:     otel.Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized base URL
func (c *Client) BaseURL() string { return c.baseURL }

// StartSession opens a session and returns the server-assigned identity
func (c *Client) StartSession(ctx context.Context, token string, req domain.SessionStartRequest) (domain.SessionStartResponse, error) {
	var resp domain.SessionStartResponse
	if err := c.post(ctx, PathSessionStart, token, req, &resp); err != nil {
		return domain.SessionStartResponse{}, err
	}
	if resp.SessionID == "" {
		return domain.SessionStartResponse{}, fmt.Errorf("collector: %s returned no sessionId", PathSessionStart)
	}
	return resp, nil
}

// EndSession closes a session
func (c *Client) EndSession(ctx context.Context, token string, req domain.SessionEndRequest) error {
	return c.post(ctx, PathSessionEnd, token, req, nil)
}

// StartPage reports a page visit start
func (c *Client) StartPage(ctx context.Context, token string, req domain.PageStartRequest) error {
	return c.post(ctx, PathPageStart, token, req, nil)
}

// EndPage reports a page visit end
func (c *Client) EndPage(ctx context.Context, token string, req domain.PageEndRequest) error {
	return c.post(ctx, PathPageEnd, token, req, nil)
}

// SendEvents delivers one batch and returns the collector's acknowledgement.
// A 2xx without a body counts as every event accepted.
func (c *Client) SendEvents(ctx context.Context, token string, batch domain.EventBatch) (domain.BatchResult, error) {
	res := domain.BatchResult{SuccessCount: -1}
	if err := c.post(ctx, PathEventsBatch, token, batch, &res); err != nil {
		return domain.BatchResult{}, err
	}
	if res.SuccessCount < 0 {
		res.SuccessCount = len(batch.Events)
	}
	if res.TotalCount == 0 {
		res.TotalCount = len(batch.Events)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, path, token string, body, out any) (err error) {
	if strings.TrimSpace(token) == "" {
		return ErrNoCredential
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "collector "+strings.TrimPrefix(path, "/"),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("url.path", path)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("collector: encode %s: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("collector: build %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("collector: %s: %w", path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Path:       path,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("collector: read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("collector: decode %s: %w", path, err)
	}
	return nil
}

// Package engine is the outbound client for the external automation engine.
package engine

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/leadpipe/orchestrator/pkg/metrics"
	"github.com/leadpipe/orchestrator/pkg/models"
	"github.com/sony/gobreaker"
)

const (
	SignatureHeader   = "X-Orchestrator-Signature"
	ExecutionIDHeader = "X-Orchestrator-Execution-ID"

	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

type Request struct {
	URL          string
	ExecutionID  string
	WorkflowType models.WorkflowType
	Body         map[string]any
}

// Client starts an asynchronous engine execution. A nil error means the engine accepted it.
type Client interface {
	Invoke(ctx context.Context, req Request) error
}

// Caller runs an engine workflow synchronously and returns its JSON result.
type Caller interface {
	Call(ctx context.Context, req Request) (map[string]any, error)
}

// StatusError is a non-2xx engine response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	switch e.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Sprintf("engine rate limit exceeded (%d) at %s", e.StatusCode, e.URL)
	case http.StatusServiceUnavailable, http.StatusBadGateway:
		return fmt.Sprintf("engine service unavailable (%d) at %s", e.StatusCode, e.URL)
	case http.StatusGatewayTimeout:
		return fmt.Sprintf("engine timeout (%d) at %s", e.StatusCode, e.URL)
	}

	return fmt.Sprintf("engine returned status %d at %s: %s", e.StatusCode, e.URL, e.Body)
}

// countsAgainstBreaker reports whether the response means the endpoint is unhealthy.
func (e *StatusError) countsAgainstBreaker() bool {
	return e.StatusCode >= http.StatusInternalServerError || e.StatusCode == http.StatusTooManyRequests
}

type HTTPClient struct {
	client   *http.Client
	secret   string
	logger   *slog.Logger
	metrics  metrics.Sink
	settings gobreaker.Settings

	breakers sync.Map // map[string]*gobreaker.CircuitBreaker
}

type Option func(*HTTPClient)

func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) { c.client = client }
}

func WithMetrics(sink metrics.Sink) Option {
	return func(c *HTTPClient) { c.metrics = sink }
}

// WithBreakerSettings overrides the per-URL circuit breaker settings. Name and
// OnStateChange are always set by the client.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(c *HTTPClient) { c.settings = settings }
}

func NewHTTPClient(secret string, logger *slog.Logger, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		client:  &http.Client{Timeout: defaultTimeout},
		secret:  secret,
		logger:  logger.With("module", "engine"),
		metrics: metrics.NewNoopSink(),
		settings: gobreaker.Settings{
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *HTTPClient) Invoke(ctx context.Context, req Request) error {
	_, err := c.do(ctx, req, false)

	return err
}

func (c *HTTPClient) Call(ctx context.Context, req Request) (map[string]any, error) {
	return c.do(ctx, req, true)
}

func (c *HTTPClient) do(ctx context.Context, req Request, decode bool) (map[string]any, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine payload: %w", err)
	}

	start := time.Now()
	breaker := c.breaker(req.URL)

	result, err := breaker.Execute(func() (any, error) {
		return c.post(ctx, req, body, decode)
	})

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailed
	}

	c.metrics.EngineRequest(req.WorkflowType, outcome, time.Since(start))

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("engine service unavailable at %s: %w", req.URL, err)
	}

	if err != nil {
		return nil, err
	}

	output, _ := result.(map[string]any)

	return output, nil
}

func (c *HTTPClient) post(ctx context.Context, req Request, body []byte, decode bool) (map[string]any, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(ExecutionIDHeader, req.ExecutionID)

	if c.secret != "" {
		httpReq.Header.Set(SignatureHeader, ComputeSignature(c.secret, body))
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("engine request timeout: %w", err)
		}

		return nil, fmt.Errorf("engine network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return nil, &StatusError{URL: req.URL, StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	if !decode {
		_, _ = io.Copy(io.Discard, resp.Body)

		return nil, nil
	}

	output := map[string]any{}

	err = json.NewDecoder(resp.Body).Decode(&output)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to decode engine response: %w", err)
	}

	return output, nil
}

func (c *HTTPClient) breaker(url string) *gobreaker.CircuitBreaker {
	if cb, ok := c.breakers.Load(url); ok {
		return cb.(*gobreaker.CircuitBreaker)
	}

	settings := c.settings
	settings.Name = "engine:" + url
	settings.IsSuccessful = func(err error) bool {
		if err == nil {
			return true
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return !statusErr.countsAgainstBreaker()
		}

		return false
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		c.logger.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
	}

	cb, _ := c.breakers.LoadOrStore(url, gobreaker.NewCircuitBreaker(settings))

	return cb.(*gobreaker.CircuitBreaker)
}

// ComputeSignature returns the hex HMAC-SHA256 of body.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)

	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets the engine side check an inbound trigger.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(ComputeSignature(secret, body)), []byte(signature))
}

// Package api is the HTTP client for the remote interviewer service: session
// initiation, answer evaluation and follow-up questions.
package api

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

	"prepai/internal/config"
	apperrors "prepai/internal/errors"
	"prepai/internal/observability"
	"prepai/internal/resilience"
	"prepai/internal/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// Operation names used in logs, metrics and breaker names.
const (
	OpStart  = "start"
	OpSubmit = "submit"
	OpNext   = "next"
)

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	Operation string
	Status    int
	Message   string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: remote returned %d: %s", e.Operation, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: remote returned %d", e.Operation, e.Status)
}

// ClientError reports whether the remote rejected the request itself.
func (e *StatusError) ClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithUnauthorizedHandler registers fn to run whenever the remote answers 401.
func WithUnauthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithAuthorizedHandler registers fn to run whenever the remote accepts a
// request.
func WithAuthorizedHandler(fn func()) Option {
	return func(c *Client) { c.onAuthorized = fn }
}

// WithMetrics records request counts and latencies on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the client logger.
func WithLogger(l *apperrors.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// Client talks to the remote interviewer. Requests are never retried; a
// breaker per operation fails fast while the remote is unhealthy.
type Client struct {
	cfg            config.APIConfig
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()
	onAuthorized   func()
	metrics        *observability.Metrics
	logger         *apperrors.Logger

	breakers map[string]*resilience.CircuitBreaker[[]byte]
}

// NewClient creates a client for cfg. tokens may be nil for unauthenticated
// backends.
func NewClient(cfg config.APIConfig, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breakers = map[string]*resilience.CircuitBreaker[[]byte]{
		OpStart:  resilience.NewCircuitBreaker[[]byte]("api-"+OpStart, cfg.Start.CircuitBreaker, countsAsSuccess, c.logger),
		OpSubmit: resilience.NewCircuitBreaker[[]byte]("api-"+OpSubmit, cfg.Submit.CircuitBreaker, countsAsSuccess, c.logger),
		OpNext:   resilience.NewCircuitBreaker[[]byte]("api-"+OpNext, cfg.Next.CircuitBreaker, countsAsSuccess, c.logger),
	}
	return c
}

// countsAsSuccess keeps caller mistakes (4xx) from tripping a breaker.
func countsAsSuccess(err error) bool {
	if err == nil {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.ClientError()
	}
	return errors.Is(err, apperrors.ErrUnauthorized)
}

// StartSession asks the remote to open a session and issue the first question.
func (c *Client) StartSession(ctx context.Context, req *types.StartSessionRequest) (*types.StartSessionResponse, error) {
	var resp types.StartSessionResponse
	if err := c.doJSON(ctx, OpStart, c.cfg.Start, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitAnswer sends one answer for evaluation and returns the normalized
// feedback.
func (c *Client) SubmitAnswer(ctx context.Context, req *types.SubmitAnswerRequest) (*types.Feedback, error) {
	var resp types.SubmitAnswerResponse
	if err := c.doJSON(ctx, OpSubmit, c.cfg.Submit, req, &resp); err != nil {
		return nil, err
	}
	if resp.Success != nil && !*resp.Success {
		return nil, apperrors.NewRemoteError(apperrors.ErrCodeInvalidFormat, "remote rejected the answer", nil)
	}
	feedback, ok := resp.Resolve()
	if !ok {
		return nil, apperrors.NewRemoteError(apperrors.ErrCodeInvalidFormat, "submit response carried no feedback", nil)
	}
	return feedback, nil
}

// nextQuestionResponse accepts a bare question or one nested under "question".
type nextQuestionResponse struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	InputFormat  string          `json:"input_format,omitempty"`
	OutputFormat string          `json:"output_format,omitempty"`
	Nested       *types.Question `json:"question,omitempty"`
}

// NextQuestion asks for the follow-up question.
func (c *Client) NextQuestion(ctx context.Context, req *types.NextQuestionRequest) (*types.Question, error) {
	var resp nextQuestionResponse
	if err := c.doJSON(ctx, OpNext, c.cfg.Next, req, &resp); err != nil {
		return nil, err
	}
	if resp.Nested != nil {
		return resp.Nested, nil
	}
	return &types.Question{
		Title:        resp.Title,
		Description:  resp.Description,
		InputFormat:  resp.InputFormat,
		OutputFormat: resp.OutputFormat,
	}, nil
}

// BreakerStats reports the state of every operation breaker.
func (c *Client) BreakerStats() map[string]any {
	stats := make(map[string]any, len(c.breakers))
	for op, cb := range c.breakers {
		stats[op] = cb.GetStats()
	}
	return stats
}

func (c *Client) doJSON(ctx context.Context, op string, opCfg config.OperationConfig, in, out any) error {
	tracer := otel.Tracer("prepai.api")
	ctx, span := tracer.Start(ctx, "api."+op)
	defer span.End()
	span.SetAttributes(attribute.String("api.operation", op), attribute.String("api.path", opCfg.Path))

	body, err := json.Marshal(in)
	if err != nil {
		return apperrors.NewInternalError(apperrors.ErrCodeInvalidRequest, "failed to encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout(opCfg))
	defer cancel()

	start := time.Now()
	status := 0
	raw, err := c.breakers[op].Execute(func() ([]byte, error) {
		var data []byte
		var reqErr error
		status, data, reqErr = c.send(ctx, op, opCfg.Path, body)
		return data, reqErr
	})
	if err != nil && resilience.IsOpen(err) {
		err = apperrors.NewNetworkError(apperrors.ErrCodeNetworkTimeout, "remote service is unavailable", err).
			WithContext("operation", op)
	}
	c.metrics.RecordRemoteRequest(ctx, op, time.Since(start), status, err)
	span.SetAttributes(attribute.Int("http.status_code", status))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remote request failed")
		c.logger.LogError(err, "Remote request failed", "operation", op, "status", status)
		return err
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.NewRemoteError(apperrors.ErrCodeInvalidFormat, "remote returned malformed JSON", err).
			WithContext("operation", op)
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, apperrors.NewConfigError(apperrors.ErrCodeInvalidConfig, "invalid remote API URL", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to obtain API token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkTimeout, "remote request failed", err).
			WithContext("operation", op)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, apperrors.NewNetworkError(apperrors.ErrCodeNetworkTimeout, "failed to read remote response", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return resp.StatusCode, nil, fmt.Errorf("%s: %w", op, apperrors.ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, nil, &StatusError{Operation: op, Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if c.onAuthorized != nil {
		c.onAuthorized()
	}
	return resp.StatusCode, data, nil
}

// errorMessage extracts the server's error text from a JSON or plain body.
func errorMessage(data []byte) string {
	var body types.ErrorResponse
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	msg := strings.TrimSpace(string(data))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"prepai/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the custom instruments. All record methods are no-ops on a
// nil *Metrics.
type Metrics struct {
	// Session metrics
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	TurnsSubmitted    metric.Int64Counter

	// Remote API metrics
	RemoteRequests        metric.Int64Counter
	RemoteRequestDuration metric.Float64Histogram
	RemoteErrors          metric.Int64Counter

	// Speech quality metrics
	AnswerWPM         metric.Int64Histogram
	AnswerFillerWords metric.Int64Histogram

	// Gateway metrics
	RateLimitHits metric.Int64Counter
	HTTPRequests  metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.SessionsStarted, err = meter.Int64Counter(
		"prepai_sessions_started_total",
		metric.WithDescription("Total number of interview sessions started"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions started metric: %w", err)
	}

	if m.SessionsCompleted, err = meter.Int64Counter(
		"prepai_sessions_completed_total",
		metric.WithDescription("Total number of interview sessions that reached the turn limit"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sessions completed metric: %w", err)
	}

	if m.TurnsSubmitted, err = meter.Int64Counter(
		"prepai_turns_submitted_total",
		metric.WithDescription("Total number of answers accepted by the remote interviewer"),
	); err != nil {
		return nil, fmt.Errorf("failed to create turns submitted metric: %w", err)
	}

	if m.RemoteRequests, err = meter.Int64Counter(
		"prepai_remote_requests_total",
		metric.WithDescription("Total number of remote interview API requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create remote request count metric: %w", err)
	}

	if m.RemoteRequestDuration, err = meter.Float64Histogram(
		"prepai_remote_request_duration_seconds",
		metric.WithDescription("Latency of remote interview API requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create remote request duration metric: %w", err)
	}

	if m.RemoteErrors, err = meter.Int64Counter(
		"prepai_remote_errors_total",
		metric.WithDescription("Total number of failed remote interview API requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create remote error count metric: %w", err)
	}

	if m.AnswerWPM, err = meter.Int64Histogram(
		"prepai_answer_wpm",
		metric.WithDescription("Speaking rate of submitted answers"),
		metric.WithUnit("{word}/min"),
	); err != nil {
		return nil, fmt.Errorf("failed to create answer wpm metric: %w", err)
	}

	if m.AnswerFillerWords, err = meter.Int64Histogram(
		"prepai_answer_filler_words",
		metric.WithDescription("Filler words per submitted answer"),
	); err != nil {
		return nil, fmt.Errorf("failed to create answer filler metric: %w", err)
	}

	if m.RateLimitHits, err = meter.Int64Counter(
		"prepai_rate_limit_hits_total",
		metric.WithDescription("Total number of rate limit hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create rate limit hits metric: %w", err)
	}

	if m.HTTPRequests, err = meter.Int64Counter(
		"prepai_http_requests_total",
		metric.WithDescription("Total number of gateway HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("failed to create http request metric: %w", err)
	}

	return m, nil
}

// RecordSessionStarted counts a successfully initialized session.
func (m *Metrics) RecordSessionStarted(ctx context.Context, mode types.Mode) {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(mode))))
}

// RecordSessionCompleted counts a session that reached its turn limit.
func (m *Metrics) RecordSessionCompleted(ctx context.Context, mode types.Mode, turns int) {
	if m == nil {
		return
	}
	m.SessionsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("turns", turns),
	))
}

// RecordTurn counts an accepted answer and its speech signals.
func (m *Metrics) RecordTurn(ctx context.Context, mode types.Mode, tm *types.TurnMetrics) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("mode", string(mode)))
	m.TurnsSubmitted.Add(ctx, 1, attrs)
	if tm == nil {
		return
	}
	m.AnswerWPM.Record(ctx, int64(tm.WordsPerMinute), attrs)
	m.AnswerFillerWords.Record(ctx, int64(tm.FillerWordCount), attrs)
}

// RecordRemoteRequest records one remote API call.
func (m *Metrics) RecordRemoteRequest(ctx context.Context, operation string, duration time.Duration, status int, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("status", strconv.Itoa(status)),
		attribute.Bool("success", err == nil),
	)
	m.RemoteRequests.Add(ctx, 1, attrs)
	m.RemoteRequestDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		m.RemoteErrors.Add(ctx, 1, attrs)
	}
}

// RecordRateLimitHit counts a request rejected by the gateway limiter.
func (m *Metrics) RecordRateLimitHit(ctx context.Context, keyType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.Add(ctx, 1, metric.WithAttributes(attribute.String("key_type", keyType)))
}

// RecordHTTPRequest counts a gateway request by route and status.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"

	"prepai/internal/config"
)

// GetObservabilityConfig creates observability config from provided config
func GetObservabilityConfig(cfg *config.Config, version string) ObservabilityConfig {
	if cfg == nil {
		return ObservabilityConfig{
			ServiceName:    "prepai",
			ServiceVersion: version,
			SampleRate:     1.0,
			Prometheus:     GetPrometheusConfig(nil),
		}
	}

	obs := cfg.Observability

	// Use app version if service version not specified
	serviceVersion := obs.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = version
	}

	return ObservabilityConfig{
		ServiceName:     obs.ServiceName,
		ServiceVersion:  serviceVersion,
		ServiceInstance: obs.ServiceInstance,
		Enabled:         obs.Enabled,
		TracingEnabled:  obs.Tracing.Enabled,
		MetricsEnabled:  obs.Metrics.Enabled,
		ConsoleOutput:   obs.Console.Enabled,
		PrettyPrint:     obs.Console.PrettyPrint,
		SampleRate:      obs.Tracing.SampleRate,
		Interval:        obs.Metrics.CollectionInterval,
		Prometheus:      GetPrometheusConfig(cfg),
		OTLP:            obs.OTLP,
	}
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack is required by the live WebSocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// RequestCounter counts requests per route using the pattern matched by
// http.ServeMux.
func RequestCounter(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.RecordHTTPRequest(r.Context(), r.Method, route, rec.status)
		})
	}
}

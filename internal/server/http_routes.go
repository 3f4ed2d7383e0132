package server

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"prepai/internal/observability"

	"github.com/gorilla/websocket"
)

// Handler builds the gateway handler. om may be nil, in which case tracing
// and metrics are disabled.
func (s *Server) Handler(om *observability.ObservabilityManager) http.Handler {
	s.metrics = om.Metrics()
	s.tracer = om.Tracer("prepai.gateway")

	mux := s.setupRoutes()
	// RequestCounter reads the matched pattern, so it must wrap the mux
	// directly.
	var handler http.Handler = observability.RequestCounter(s.metrics)(mux)
	handler = s.corsMiddleware(handler)
	return om.HTTPMiddleware()(handler)
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	rateLimitHandler := s.rateLimitMiddleware()
	requestLimitHandler := s.requestSizeLimitMiddleware()
	protected := func(h http.HandlerFunc) http.HandlerFunc {
		return rateLimitHandler(s.authMiddleware(requestLimitHandler(h)))
	}

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)

	mux.HandleFunc("POST /sessions", protected(s.createSessionHandler))
	mux.HandleFunc("GET /sessions/{id}", protected(s.getSessionHandler))
	mux.HandleFunc("PUT /sessions/{id}/answer", protected(s.setAnswerHandler))
	mux.HandleFunc("POST /sessions/{id}/submit", protected(s.submitHandler))
	mux.HandleFunc("POST /sessions/{id}/advance", protected(s.advanceHandler))
	mux.HandleFunc("GET /sessions/{id}/report", protected(s.reportHandler))
	mux.HandleFunc("DELETE /sessions/{id}", protected(s.deleteSessionHandler))
	mux.HandleFunc("GET /sessions/{id}/live", protected(s.liveHandler))

	return mux
}

// requestAPIKey extracts the client's API key. Browsers cannot set headers
// on a WebSocket handshake, so upgrades may pass it as a query parameter.
func requestAPIKey(r *http.Request) string {
	if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
		return apiKey
	}
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return after
	}
	if websocket.IsWebSocketUpgrade(r) {
		return r.URL.Query().Get("api_key")
	}
	return ""
}

// authMiddleware provides API key authentication
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Skip authentication if no API keys are configured
		if len(s.APIKeys) == 0 {
			next(w, r)
			return
		}

		apiKey := requestAPIKey(r)
		if apiKey == "" {
			s.Logger.Info("Authentication failed: missing API key",
				"endpoint", r.URL.Path,
				"client_ip", getClientIP(r))
			writeErrorResponse(w, "Missing API key", "X-API-Key header or Authorization Bearer token required", http.StatusUnauthorized)
			return
		}

		if !s.APIKeys[apiKey] {
			s.Logger.Info("Authentication failed: invalid API key",
				"endpoint", r.URL.Path,
				"client_ip", getClientIP(r),
				"api_key_prefix", maskAPIKey(apiKey))
			writeErrorResponse(w, "Invalid API key", "Unauthorized access", http.StatusUnauthorized)
			return
		}

		s.Logger.Debug("API authentication successful",
			"endpoint", r.URL.Path,
			"client_ip", getClientIP(r),
			"api_key_prefix", maskAPIKey(apiKey))

		next(w, r)
	}
}

// requestSizeLimitMiddleware limits the size of incoming requests
func (s *Server) requestSizeLimitMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if s.MaxRequestSize > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, s.MaxRequestSize)
			}

			next(w, r)
		}
	}
}

// originAllowed reports whether a browser origin may call the gateway.
// Same-host origins are always allowed.
func (s *Server) originAllowed(r *http.Request, origin string) bool {
	if origin == "" {
		return true
	}
	if slices.Contains(s.AllowedOrigins, "*") || slices.Contains(s.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	return s.originAllowed(r, r.Header.Get("Origin"))
}

// corsMiddleware answers preflight requests and sets CORS headers for
// allowed origins.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(r, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// maskAPIKey masks an API key for logging (shows only first 8 characters)
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "****"
	}
	return apiKey[:8] + "****"
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	apperrors "prepai/internal/errors"
	"prepai/internal/formatters"
	"prepai/internal/media"
	"prepai/internal/session"
	"prepai/internal/speech"
	"prepai/internal/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// SessionResponse is returned when a session is created or fetched.
type SessionResponse struct {
	ID    string        `json:"id"`
	State session.State `json:"state"`
}

// SubmitRequest carries the final answer and, optionally, metrics measured
// by the client.
type SubmitRequest struct {
	Answer  string             `json:"answer"`
	Metrics *types.TurnMetrics `json:"metrics,omitempty"`
}

// SubmitResponse carries the feedback for the submitted answer.
type SubmitResponse struct {
	Feedback *types.Feedback `json:"feedback"`
	State    session.State   `json:"state"`
}

// AdvanceResponse carries the next question, or completion.
type AdvanceResponse struct {
	Step  *session.Step `json:"step"`
	State session.State `json:"state"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

func (s *Server) mediaEnabled() bool {
	return s.AppConfig != nil && s.AppConfig.Media.Device == "gateway"
}

func (s *Server) speakQuestions() bool {
	return s.AppConfig != nil && s.AppConfig.Interview.SpeakQuestions
}

// newLiveSession wires an orchestrator to a fresh browser bridge.
func (s *Server) newLiveSession() *liveSession {
	id := uuid.NewString()
	logger := s.Logger.With("gateway_session", id)

	bridge := NewBridge(logger)
	capture := speech.NewCapture(bridge, logger)
	playback := speech.NewPlayback(bridge, logger)

	var acquirer *media.Acquirer
	if s.mediaEnabled() {
		acquirer = media.NewAcquirer(bridge, media.DiscardSink{}, logger)
	}

	ls := &liveSession{
		id:      id,
		bridge:  bridge,
		created: time.Now(),
	}
	ls.orch = session.New(session.Options{
		Remote:         s.Remote,
		Capture:        capture,
		Playback:       playback,
		Media:          acquirer,
		SpeakQuestions: s.speakQuestions(),
		Metrics:        s.metrics,
		Logger:         logger,
	})
	// Subscribed after the orchestrator so pushed state already reflects the
	// event.
	ls.unsubscribe = append(ls.unsubscribe,
		capture.Subscribe(ls.onSpeechEvent),
		playback.Subscribe(ls.onSpeechEvent))
	return ls
}

// interviewDefaults fills unset fields from the configured defaults.
func (s *Server) interviewDefaults(cfg types.InterviewConfig) types.InterviewConfig {
	if s.AppConfig == nil {
		return cfg
	}
	d := s.AppConfig.Interview
	if cfg.Role == "" {
		cfg.Role = d.Role
	}
	if cfg.ExperienceLevel == "" {
		cfg.ExperienceLevel = d.Experience
	}
	if cfg.FocusArea == "" {
		cfg.FocusArea = d.Focus
	}
	if cfg.Intensity == 0 {
		cfg.Intensity = d.Intensity
	}
	if cfg.TurnLimit == 0 {
		cfg.TurnLimit = d.TurnLimit
	}
	if cfg.Mode == "" {
		cfg.Mode = types.Mode(d.Mode)
	}
	return cfg
}

// createSessionHandler starts a new interview.
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	var cfg types.InterviewConfig
	if err := parseJSONRequest(r, &cfg); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}
	cfg = s.interviewDefaults(cfg)

	ctx, span := s.tracer.Start(r.Context(), "session.create")
	defer span.End()

	ls := s.newLiveSession()
	span.SetAttributes(attribute.String("gateway.session", ls.id), attribute.String("interview.mode", string(cfg.Mode)))

	// Question playback outlives the request.
	st, err := ls.orch.Initialize(context.WithoutCancel(ctx), cfg)
	if err != nil {
		span.RecordError(err)
		ls.close()
		s.Logger.LogError(err, "Failed to start session", "gateway_session", ls.id)
		writeAppError(w, err)
		return
	}
	s.Sessions.add(ls)

	s.Logger.Info("Session created",
		"gateway_session", ls.id,
		"session_id", st.SessionID,
		"role", st.Config.Role,
		"mode", st.Config.Mode)

	writeJSON(w, http.StatusCreated, SessionResponse{ID: ls.id, State: *st})
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{ID: ls.id, State: ls.orch.State()})
}

// setAnswerHandler replaces the draft answer with a manual edit.
func (s *Server) setAnswerHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	var req answerRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}
	if err := ls.orch.SetAnswer(req.Answer); err != nil {
		writeAppError(w, err)
		return
	}
	ls.pushState()
	writeJSON(w, http.StatusOK, SessionResponse{ID: ls.id, State: ls.orch.State()})
}

// submitHandler submits the answer for evaluation. An empty answer submits
// the current draft.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	var req SubmitRequest
	if err := parseJSONRequest(r, &req); err != nil {
		writeErrorResponse(w, "Invalid request", err.Error(), http.StatusBadRequest)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "session.submit")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.session", ls.id))

	fb, err := ls.orch.SubmitAnswer(ctx, req.Answer, req.Metrics)
	ls.pushState()
	if err != nil {
		span.RecordError(err)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SubmitResponse{Feedback: fb, State: ls.orch.State()})
}

// advanceHandler loads the next question or completes the session.
func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "session.advance")
	defer span.End()
	span.SetAttributes(attribute.String("gateway.session", ls.id))

	step, err := ls.orch.Advance(context.WithoutCancel(ctx))
	ls.pushState()
	if err != nil {
		span.RecordError(err)
		writeAppError(w, err)
		return
	}
	span.SetAttributes(attribute.Bool("session.complete", step.Done()))
	writeJSON(w, http.StatusOK, AdvanceResponse{Step: step, State: ls.orch.State()})
}

// reportHandler renders the report of the turns completed so far.
func (s *Server) reportHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	out, err := formatters.NewFormatterRegistry().Format(ls.orch.Report(), format)
	if err != nil {
		writeErrorResponse(w, "Invalid format", err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", formatters.ContentType(format))
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, out); err != nil {
		s.Logger.Debug("Failed to write report", "error", err.Error())
	}
}

// deleteSessionHandler ends a session and releases everything it holds.
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Sessions.remove(id); err != nil {
		writeAppError(w, err)
		return
	}
	s.Logger.Info("Session deleted", "gateway_session", id)
	w.WriteHeader(http.StatusNoContent)
}

// healthHandler reports gateway health, including the remote interviewer's
// circuit breakers and certificate expiry.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":   "healthy",
		"service":  "prepai",
		"version":  s.Version,
		"sessions": s.Sessions.Len(),
	}
	healthy := true

	if breakers := s.remoteBreakerStats(); breakers != nil {
		response["circuit_breakers"] = breakers
		for _, v := range breakers {
			if stats, ok := v.(map[string]any); ok && stats["state"] == "open" {
				healthy = false
			}
		}
	}

	if certStatus := s.checkCertificateHealth(); certStatus != nil {
		response["certificates"] = certStatus
		if ok, _ := certStatus["healthy"].(bool); !ok {
			healthy = false
		}
	}

	if s.Auth != nil && s.Auth.Expired() {
		response["remote_auth"] = "expired"
		healthy = false
	}

	status := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) remoteBreakerStats() map[string]any {
	if b, ok := s.Remote.(interface{ BreakerStats() map[string]any }); ok {
		return b.BreakerStats()
	}
	return nil
}

// checkCertificateHealth checks the health of TLS certificates
func (s *Server) checkCertificateHealth() map[string]any {
	if s.Certificates == nil {
		return nil
	}

	certStatus := make(map[string]any)

	timeToExpiry, err := s.Certificates.TimeToExpiry()
	if err != nil {
		certStatus["healthy"] = false
		certStatus["error"] = fmt.Sprintf("Failed to check certificate expiry: %v", err)
		return certStatus
	}

	criticalThreshold := 24 * time.Hour
	warningThreshold := 7 * 24 * time.Hour

	certStatus["time_to_expiry_hours"] = int(timeToExpiry.Hours())
	certStatus["time_to_expiry"] = timeToExpiry.String()

	switch {
	case timeToExpiry <= 0:
		certStatus["healthy"] = false
		certStatus["status"] = "expired"
		certStatus["message"] = "Certificate has expired"
	case timeToExpiry <= criticalThreshold:
		certStatus["healthy"] = false
		certStatus["status"] = "critical"
		certStatus["message"] = "Certificate expires within 24 hours"
	case timeToExpiry <= warningThreshold:
		certStatus["healthy"] = true
		certStatus["status"] = "warning"
		certStatus["message"] = "Certificate expires within 7 days"
	default:
		certStatus["healthy"] = true
		certStatus["status"] = "ok"
		certStatus["message"] = "Certificate is valid"
	}

	certStatus["reload"] = s.Certificates.Stats()
	return certStatus
}

// statsHandler provides server statistics including rate limiting info
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"service":  "prepai",
		"version":  s.Version,
		"sessions": s.Sessions.GetStats(),
		"server": map[string]any{
			"max_request_size_bytes": s.MaxRequestSize,
		},
	}

	if s.RateLimiter != nil {
		response["rate_limiting"] = s.RateLimiter.GetStats()
	} else {
		response["rate_limiting"] = map[string]any{
			"enabled": false,
		}
	}

	if s.RateLimit != nil {
		response["rate_limit_config"] = map[string]any{
			"enabled":          s.RateLimit.Enabled,
			"requests_per_min": s.RateLimit.RequestsPerMin,
			"burst_capacity":   s.RateLimit.BurstCapacity,
			"by_ip":            s.RateLimit.ByIP,
			"by_api_key":       s.RateLimit.ByAPIKey,
		}
	}

	writeJSON(w, http.StatusOK, response)
}

// parseJSONRequest parses JSON request body into the provided struct
func parseJSONRequest(r *http.Request, v any) error {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("content-type must be application/json")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return fmt.Errorf("request body too large (limit is %d bytes)", maxBytesErr.Limit)
		}
		return fmt.Errorf("failed to read request body: %w", err)
	}
	defer func() {
		_ = r.Body.Close()
	}()

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	return nil
}

// statusFor maps an application error onto an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, apperrors.ErrSessionNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, apperrors.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
	switch appErr.Type {
	case apperrors.ErrorTypeState:
		return http.StatusConflict
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeRemote:
		return http.StatusBadGateway
	case apperrors.ErrorTypeHardware, apperrors.ErrorTypeCapability, apperrors.ErrorTypeCapture:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypeNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAppError writes err as an ErrorResponse with a user-facing message.
func writeAppError(w http.ResponseWriter, err error) {
	resp := types.ErrorResponse{
		Error:     http.StatusText(statusFor(err)),
		Message:   apperrors.UserMessage(err),
		Retryable: apperrors.IsRetryable(err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Code = appErr.Code
	}
	writeJSON(w, statusFor(err), resp)
}

// writeErrorResponse writes a standardized error response
func writeErrorResponse(w http.ResponseWriter, error, message string, statusCode int) {
	writeJSON(w, statusCode, types.ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

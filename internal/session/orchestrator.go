// Package session drives one guided interview from the first question to the
// final report. The Orchestrator owns the session's media handle, listening
// session and in-flight utterance, and is the only writer of its history.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"prepai/internal/analysis"
	apperrors "prepai/internal/errors"
	"prepai/internal/media"
	"prepai/internal/observability"
	"prepai/internal/speech"
	"prepai/internal/types"
)

// Status is the orchestrator's lifecycle state.
type Status string

const (
	StatusInitializing   Status = "initializing"
	StatusAwaitingAnswer Status = "awaiting_answer"
	// StatusRecording is reported while capture is listening. It is a
	// sub-state of StatusAwaitingAnswer and accepts the same operations.
	StatusRecording    Status = "recording"
	StatusSubmitting   Status = "submitting"
	StatusAwaitingNext Status = "awaiting_next"
	StatusComplete     Status = "complete"
)

// Defaults applied to a zero InterviewConfig field.
const (
	DefaultTurnLimit = 5
	DefaultIntensity = 3
)

// Remote is the interviewer service the orchestrator drives.
type Remote interface {
	StartSession(ctx context.Context, req *types.StartSessionRequest) (*types.StartSessionResponse, error)
	SubmitAnswer(ctx context.Context, req *types.SubmitAnswerRequest) (*types.Feedback, error)
	NextQuestion(ctx context.Context, req *types.NextQuestionRequest) (*types.Question, error)
}

// Turn is one completed question/answer/feedback exchange. It never changes
// after it is appended to the history.
type Turn struct {
	Index       int                `json:"index"`
	Question    types.Question     `json:"question"`
	Answer      string             `json:"answer"`
	Metrics     *types.TurnMetrics `json:"metrics,omitempty"`
	Feedback    types.Feedback     `json:"feedback"`
	SubmittedAt time.Time          `json:"submitted_at"`
}

// Complete is returned by Advance once the turn limit is reached.
type Complete struct {
	SessionID string                `json:"session_id"`
	Config    types.InterviewConfig `json:"config"`
	History   []Turn                `json:"history"`
	Report    Report                `json:"report"`
}

// Step is the outcome of Advance: either the next question or the finished
// session.
type Step struct {
	TurnIndex int             `json:"turn_index"`
	Question  *types.Question `json:"question,omitempty"`
	Complete  *Complete       `json:"complete,omitempty"`
}

// Done reports whether the session has finished.
func (s *Step) Done() bool {
	return s.Complete != nil
}

// Notice is a persistent, non-fatal problem shown next to the session, such
// as a missing microphone.
type Notice struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// State is a point-in-time snapshot of the session.
type State struct {
	SessionID    string                `json:"session_id"`
	Config       types.InterviewConfig `json:"config"`
	Status       Status                `json:"status"`
	TurnIndex    int                   `json:"turn_index"`
	Question     *types.Question       `json:"question,omitempty"`
	Draft        string                `json:"draft"`
	Confidence   float64               `json:"confidence"`
	LastFeedback *types.Feedback       `json:"last_feedback,omitempty"`
	History      []Turn                `json:"history"`
	Recording    bool                  `json:"recording"`
	Speaking     bool                  `json:"speaking"`
	MediaActive  bool                  `json:"media_active"`
	Camera       bool                  `json:"camera"`
	Microphone   bool                  `json:"microphone"`
	Notices      []Notice              `json:"notices,omitempty"`
	Closed       bool                  `json:"closed"`
}

// Options wires an Orchestrator. Only Remote is required; a nil Capture,
// Playback or Media disables that affordance.
type Options struct {
	Remote   Remote
	Capture  *speech.Capture
	Playback *speech.Playback
	Media    *media.Acquirer

	// SpeakQuestions reads every new question aloud through Playback.
	SpeakQuestions bool

	Metrics *observability.Metrics
	Logger  *apperrors.Logger
	// Now is the clock used for capture timing; defaults to time.Now.
	Now func() time.Time
}

// Orchestrator is the session state machine. Its methods are safe for
// concurrent use; operations that are not valid in the current status are
// rejected with errors.ErrInvalidState rather than queued.
type Orchestrator struct {
	remote         Remote
	capture        *speech.Capture
	playback       *speech.Playback
	media          *media.Acquirer
	speakQuestions bool
	metrics        *observability.Metrics
	logger         *apperrors.Logger
	now            func() time.Time
	unsubscribe    []func()

	mu           sync.Mutex
	status       Status
	busy         bool
	closed       bool
	sessionID    string
	cfg          types.InterviewConfig
	turnIndex    int
	question     *types.Question
	draft        string
	confidence   float64
	lastFeedback *types.Feedback
	history      []Turn
	handle       *media.Handle
	notices      []Notice

	// Capture bookkeeping for the current turn. draftPrefix holds text kept
	// from earlier listening sessions or manual edits; skipFinals counts the
	// final segments of the live transcript already folded into draftPrefix.
	listening      *speech.Session
	listenStart    time.Time
	listenedFor    time.Duration
	draftPrefix    string
	skipFinals     int
}

// New creates an orchestrator in StatusInitializing.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		remote:         opts.Remote,
		capture:        opts.Capture,
		playback:       opts.Playback,
		media:          opts.Media,
		speakQuestions: opts.SpeakQuestions,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		now:            opts.Now,
		status:         StatusInitializing,
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.capture != nil {
		o.unsubscribe = append(o.unsubscribe, o.capture.Subscribe(o.onCaptureEvent))
	}
	if o.playback != nil {
		o.unsubscribe = append(o.unsubscribe, o.playback.Subscribe(o.onPlaybackEvent))
	}
	return o
}

// normalizeConfig fills defaults and validates the immutable session config.
func normalizeConfig(cfg types.InterviewConfig) (types.InterviewConfig, error) {
	cfg.Role = strings.TrimSpace(cfg.Role)
	if cfg.Role == "" {
		return cfg, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "role is required", nil)
	}
	if cfg.TurnLimit == 0 {
		cfg.TurnLimit = DefaultTurnLimit
	}
	if cfg.TurnLimit < 1 {
		return cfg, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "turn limit must be at least 1", nil)
	}
	if cfg.Intensity == 0 {
		cfg.Intensity = DefaultIntensity
	}
	if cfg.Intensity < 1 || cfg.Intensity > 10 {
		return cfg, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "intensity must be between 1 and 10", nil)
	}
	if cfg.Mode == "" {
		cfg.Mode = types.ModeVerbal
	}
	if !cfg.Mode.Valid() {
		return cfg, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown interview mode %q", cfg.Mode), nil)
	}
	return cfg, nil
}

func (o *Orchestrator) invalidState(op string) error {
	return fmt.Errorf("%s in status %s: %w", op, o.statusLocked(), apperrors.ErrInvalidState)
}

// statusLocked folds the recording sub-state into the reported status.
func (o *Orchestrator) statusLocked() Status {
	if o.status == StatusAwaitingAnswer && o.listening != nil {
		return StatusRecording
	}
	return o.status
}

// Initialize asks the remote interviewer to start a session and loads the
// first question. On failure the orchestrator stays in StatusInitializing and
// Initialize may be retried.
func (o *Orchestrator) Initialize(ctx context.Context, cfg types.InterviewConfig) (*State, error) {
	cfg, err := normalizeConfig(cfg)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.closed || o.status != StatusInitializing || o.busy {
		err := o.invalidState("initialize")
		o.mu.Unlock()
		return nil, err
	}
	o.busy = true
	o.mu.Unlock()

	resp, err := o.remote.StartSession(ctx, &types.StartSessionRequest{
		Role:          cfg.Role,
		Experience:    cfg.ExperienceLevel,
		Focus:         cfg.FocusArea,
		Intensity:     cfg.Intensity,
		ResumeContext: cfg.ResumeContext,
		Mode:          cfg.Mode,
	})
	if err == nil && (resp == nil || resp.SessionID == "" || !resp.Question.Complete()) {
		err = fmt.Errorf("start response is missing the session id or question title/description")
	}

	o.mu.Lock()
	o.busy = false
	if err != nil {
		o.mu.Unlock()
		return nil, apperrors.NewRemoteError(apperrors.ErrCodeInitializationFailed, "could not start the interview", err)
	}
	if o.closed {
		o.mu.Unlock()
		return nil, o.invalidStateClosed("initialize")
	}
	o.sessionID = resp.SessionID
	o.cfg = cfg
	o.turnIndex = 1
	o.question = resp.Question
	o.status = StatusAwaitingAnswer
	o.logger.Info("Interview session started", "session_id", o.sessionID, "role", cfg.Role, "mode", cfg.Mode, "turn_limit", cfg.TurnLimit)
	o.mu.Unlock()

	o.metrics.RecordSessionStarted(ctx, cfg.Mode)

	if cfg.Mode == types.ModeVerbal && o.media != nil {
		o.acquireMedia(ctx)
	}
	o.speakQuestion(ctx, resp.Question)

	state := o.State()
	return &state, nil
}

func (o *Orchestrator) invalidStateClosed(op string) error {
	return fmt.Errorf("%s after close: %w", op, apperrors.ErrInvalidState)
}

// acquireMedia opens camera and microphone. Failures become notices.
func (o *Orchestrator) acquireMedia(ctx context.Context) {
	h, err := o.media.Acquire(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.addNoticeLocked(err)
		return
	}
	if o.closed {
		o.media.Release(h)
		return
	}
	o.handle = h
	o.clearNoticesLocked(apperrors.ErrCodePermissionDenied, apperrors.ErrCodeDeviceUnavailable)
}

// AcquireMedia (re)opens camera and microphone for the session. A live
// handle is released first.
func (o *Orchestrator) AcquireMedia(ctx context.Context) error {
	if o.media == nil {
		return apperrors.ErrDeviceUnavailable
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return o.invalidStateClosed("acquire media")
	}
	o.mu.Unlock()

	h, err := o.media.Acquire(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handle = nil
	if err != nil {
		o.addNoticeLocked(err)
		return err
	}
	o.handle = h
	o.clearNoticesLocked(apperrors.ErrCodePermissionDenied, apperrors.ErrCodeDeviceUnavailable)
	return nil
}

// ReleaseMedia stops the camera and microphone and forgets the handle. The
// session goes on; AcquireMedia opens the device again.
func (o *Orchestrator) ReleaseMedia() {
	if o.media == nil {
		return
	}
	o.mu.Lock()
	h := o.handle
	o.handle = nil
	o.mu.Unlock()
	o.media.Release(h)
}

// ToggleTrack mutes or unmutes the camera or microphone without releasing
// the device.
func (o *Orchestrator) ToggleTrack(kind media.TrackKind, enabled bool) error {
	if !kind.Valid() {
		return apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, fmt.Sprintf("unknown track kind %q", kind), nil)
	}
	if o.media == nil {
		return apperrors.ErrDeviceUnavailable
	}
	o.mu.Lock()
	h := o.handle
	o.mu.Unlock()
	return o.media.ToggleTrack(h, kind, enabled)
}

// SetAnswer replaces the draft answer. Manual edits are allowed while
// recording; later transcript updates build on the edited text.
func (o *Orchestrator) SetAnswer(text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.status != StatusAwaitingAnswer {
		return o.invalidState("set answer")
	}
	o.draft = text
	if o.listening != nil {
		// Interim text still being revised is not part of the edit; it lands
		// after the edited text once the recognizer settles it.
		o.draftPrefix = text
		o.skipFinals = o.listening.FinalCount()
	}
	return nil
}

// StartRecording starts a listening session for the current turn. Text
// already in the draft is kept and new speech is appended to it.
func (o *Orchestrator) StartRecording(ctx context.Context) error {
	if o.capture == nil || !o.capture.Supported() {
		o.mu.Lock()
		o.addNoticeLocked(apperrors.ErrRecognitionUnsupported)
		o.mu.Unlock()
		return apperrors.ErrRecognitionUnsupported
	}

	o.mu.Lock()
	if o.closed || o.status != StatusAwaitingAnswer {
		err := o.invalidState("start recording")
		o.mu.Unlock()
		return err
	}
	if o.listening != nil {
		o.mu.Unlock()
		return apperrors.ErrAlreadyListening
	}
	o.mu.Unlock()

	// The interviewer's voice must not end up in the transcript.
	if o.playback != nil {
		o.playback.Stop()
	}

	s, err := o.capture.Start(ctx)
	if err != nil {
		o.mu.Lock()
		o.addNoticeLocked(err)
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed || o.status != StatusAwaitingAnswer {
		go o.capture.Stop()
		return o.invalidState("start recording")
	}
	o.listening = s
	o.listenStart = o.now()
	o.clearNoticesLocked(apperrors.ErrCodeRecognitionUnsupported)
	o.draftPrefix = o.draft
	o.skipFinals = 0
	// Events emitted before the session was recorded here were dropped.
	if s.Ended() {
		o.finishListeningLocked(s)
	} else if s.Transcript() != "" {
		o.draft = o.liveDraftLocked(s)
	}
	o.logger.Debug("Recording started", "session_id", o.sessionID, "turn", o.turnIndex)
	return nil
}

// StopRecording ends the listening session and returns the draft answer with
// the final transcript folded in. It is a no-op when not recording.
func (o *Orchestrator) StopRecording() string {
	o.mu.Lock()
	s := o.listening
	o.mu.Unlock()
	if s == nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.draft
	}

	o.capture.Stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.listening == s {
		o.finishListeningLocked(s)
	}
	return o.draft
}

// finishListeningLocked closes the bookkeeping of listening session s.
func (o *Orchestrator) finishListeningLocked(s *speech.Session) {
	o.listenedFor += o.now().Sub(o.listenStart)
	if o.status == StatusAwaitingAnswer {
		o.draft = o.liveDraftLocked(s)
	}
	o.confidence = s.Confidence()
	o.listening = nil
	o.draftPrefix = ""
	o.skipFinals = 0
}

// liveDraftLocked combines the kept prefix with the part of s's transcript
// that is not folded into it yet.
func (o *Orchestrator) liveDraftLocked(s *speech.Session) string {
	return joinText(o.draftPrefix, s.TranscriptAfter(o.skipFinals))
}

func (o *Orchestrator) onCaptureEvent(ev speech.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.listening
	if s == nil || s.ID() != ev.ID {
		return
	}

	switch ev.Type {
	case speech.EventTranscript:
		if o.status == StatusAwaitingAnswer {
			o.draft = o.liveDraftLocked(s)
			o.confidence = ev.Update.Confidence
		}
	case speech.EventListeningStopped:
		// The engine ended on its own; StopRecording finds nothing to do.
		o.finishListeningLocked(s)
	case speech.EventCaptureError:
		o.addNoticeLocked(apperrors.NewCaptureError(apperrors.ErrCodeSpeechFailed, "speech recognition reported an error", ev.Err))
	}
}

func (o *Orchestrator) onPlaybackEvent(ev speech.Event) {
	if ev.Type != speech.EventPlaybackError {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.addNoticeLocked(ev.Err)
}

// SubmitAnswer sends the answer for evaluation. An empty text submits the
// current draft. metrics may be nil, in which case verbal answers are
// measured from the recorded duration. On failure the status returns to
// awaiting answer and the answer is kept as the draft.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, text string, metrics *types.TurnMetrics) (*types.Feedback, error) {
	o.mu.Lock()
	if o.closed || o.status != StatusAwaitingAnswer {
		err := o.invalidState("submit answer")
		o.mu.Unlock()
		return nil, err
	}
	recording := o.listening != nil
	o.mu.Unlock()

	if recording {
		o.StopRecording()
	}

	o.mu.Lock()
	if o.closed || o.status != StatusAwaitingAnswer {
		err := o.invalidState("submit answer")
		o.mu.Unlock()
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		text = o.draft
	}
	text = strings.TrimSpace(text)
	if text == "" {
		o.mu.Unlock()
		return nil, apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "answer is empty", nil)
	}
	if metrics == nil && o.cfg.Mode == types.ModeVerbal {
		m := analysis.Measure(text, o.listenedFor, o.confidence)
		metrics = &m
	}
	o.status = StatusSubmitting
	o.draft = text
	req := &types.SubmitAnswerRequest{
		SessionID:     o.sessionID,
		AnswerText:    text,
		QuestionTitle: o.question.Title,
		Metrics:       metrics,
		Mode:          o.cfg.Mode,
	}
	question := *o.question
	turn := o.turnIndex
	mode := o.cfg.Mode
	o.mu.Unlock()

	feedback, err := o.remote.SubmitAnswer(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if o.status == StatusSubmitting {
			o.status = StatusAwaitingAnswer
		}
		o.logger.Warn("Answer submission failed", "session_id", o.sessionID, "turn", turn, "error", err.Error())
		return nil, apperrors.NewRemoteError(apperrors.ErrCodeSubmissionFailed, "could not submit the answer", err)
	}
	if feedback == nil {
		feedback = &types.Feedback{}
	}

	o.history = append(o.history, Turn{
		Index:       turn,
		Question:    question,
		Answer:      text,
		Metrics:     metrics,
		Feedback:    *feedback,
		SubmittedAt: o.now(),
	})
	o.lastFeedback = feedback
	if !o.closed {
		o.status = StatusAwaitingNext
	}
	o.metrics.RecordTurn(ctx, mode, metrics)
	o.logger.Info("Answer submitted", "session_id", o.sessionID, "turn", turn)

	fb := *feedback
	return &fb, nil
}

// Advance moves to the next question, or completes the session when the
// turn limit has been reached. A failed request leaves the state unchanged.
func (o *Orchestrator) Advance(ctx context.Context) (*Step, error) {
	o.mu.Lock()
	if o.closed || o.status != StatusAwaitingNext || o.busy {
		err := o.invalidState("advance")
		o.mu.Unlock()
		return nil, err
	}

	if o.turnIndex >= o.cfg.TurnLimit {
		o.status = StatusComplete
		done := &Complete{
			SessionID: o.sessionID,
			Config:    o.cfg,
			History:   append([]Turn(nil), o.history...),
		}
		done.Report = BuildReport(done.History)
		done.Report.SessionID = o.sessionID
		done.Report.Config = o.cfg
		done.Report.GeneratedAt = o.now()
		turns := o.turnIndex
		mode := o.cfg.Mode
		o.logger.Info("Interview session complete", "session_id", o.sessionID, "turns", len(o.history), "score", done.Report.OverallScore)
		o.mu.Unlock()

		o.metrics.RecordSessionCompleted(ctx, mode, len(done.History))
		o.releaseResources()
		return &Step{TurnIndex: turns, Complete: done}, nil
	}

	o.busy = true
	req := &types.NextQuestionRequest{
		SessionID:          o.sessionID,
		PriorQuestionTitle: o.question.Title,
		Role:               o.cfg.Role,
		Experience:         o.cfg.ExperienceLevel,
		Focus:              o.cfg.FocusArea,
		ResumeContext:      o.cfg.ResumeContext,
	}
	o.mu.Unlock()

	q, err := o.remote.NextQuestion(ctx, req)
	if err == nil && !q.Complete() {
		err = fmt.Errorf("next question is missing a title or description")
	}

	o.mu.Lock()
	o.busy = false
	if err != nil {
		o.mu.Unlock()
		o.logger.Warn("Loading next question failed", "session_id", o.sessionID, "error", err.Error())
		return nil, apperrors.NewRemoteError(apperrors.ErrCodeAdvanceFailed, "could not load the next question", err)
	}
	if o.closed {
		o.mu.Unlock()
		return nil, o.invalidStateClosed("advance")
	}
	o.turnIndex++
	o.question = q
	o.draft = ""
	o.draftPrefix = ""
	o.skipFinals = 0
	o.confidence = 0
	o.listenedFor = 0
	o.lastFeedback = nil
	o.status = StatusAwaitingAnswer
	step := &Step{TurnIndex: o.turnIndex, Question: q}
	o.mu.Unlock()

	o.speakQuestion(ctx, q)
	return step, nil
}

// speakQuestion reads a question aloud when configured. Failures are
// recorded as notices by the playback listener.
func (o *Orchestrator) speakQuestion(ctx context.Context, q *types.Question) {
	if !o.speakQuestions || o.playback == nil || q == nil {
		return
	}
	if _, err := o.playback.Speak(ctx, questionText(q)); err != nil {
		o.mu.Lock()
		o.addNoticeLocked(err)
		o.mu.Unlock()
	}
}

func questionText(q *types.Question) string {
	if q.Description == "" {
		return q.Title
	}
	return q.Title + ". " + q.Description
}

// RepeatQuestion reads the current question aloud again. It is only valid
// while an answer is awaited.
func (o *Orchestrator) RepeatQuestion(ctx context.Context) error {
	if o.playback == nil {
		return apperrors.NewCapabilityError(apperrors.ErrCodeSpeechFailed, "speech playback is not available", nil)
	}
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return o.invalidStateClosed("repeat question")
	}
	status := o.statusLocked()
	if (status != StatusAwaitingAnswer && status != StatusRecording) || o.question == nil {
		o.mu.Unlock()
		return o.invalidState("repeat question")
	}
	text := questionText(o.question)
	o.mu.Unlock()

	_, err := o.playback.Speak(ctx, text)
	return err
}

// Speak reads text aloud, cancelling anything already being spoken.
func (o *Orchestrator) Speak(ctx context.Context, text string) (*speech.Utterance, error) {
	if o.playback == nil {
		return nil, apperrors.NewCapabilityError(apperrors.ErrCodeSpeechFailed, "speech playback is not available", nil)
	}
	return o.playback.Speak(ctx, text)
}

// StopSpeaking cancels the in-flight utterance, if any.
func (o *Orchestrator) StopSpeaking() {
	if o.playback != nil {
		o.playback.Stop()
	}
}

func (o *Orchestrator) addNoticeLocked(err error) {
	if err == nil {
		return
	}
	n := Notice{Code: apperrors.ErrCodeInvalidState, Message: apperrors.UserMessage(err)}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		n.Code = appErr.Code
	}
	for _, existing := range o.notices {
		if existing == n {
			return
		}
	}
	o.notices = append(o.notices, n)
	o.logger.Warn("Session notice", "session_id", o.sessionID, "code", n.Code, "message", n.Message)
}

// clearNoticesLocked drops notices whose problem has since been resolved.
func (o *Orchestrator) clearNoticesLocked(codes ...string) {
	o.notices = slices.DeleteFunc(o.notices, func(n Notice) bool {
		return slices.Contains(codes, n.Code)
	})
}

// State returns a snapshot of the session.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	st := State{
		SessionID:  o.sessionID,
		Config:     o.cfg,
		Status:     o.statusLocked(),
		TurnIndex:  o.turnIndex,
		Draft:      o.draft,
		Confidence: o.confidence,
		History:    append([]Turn(nil), o.history...),
		Recording:  o.listening != nil,
		Notices:    append([]Notice(nil), o.notices...),
		Closed:     o.closed,
	}
	if o.question != nil {
		q := *o.question
		st.Question = &q
	}
	if o.lastFeedback != nil {
		fb := *o.lastFeedback
		st.LastFeedback = &fb
	}
	h := o.handle
	o.mu.Unlock()

	if o.playback != nil {
		st.Speaking = o.playback.Speaking()
	}
	if h != nil && h.Active() {
		st.MediaActive = true
		st.Camera, _ = h.TrackEnabled(media.TrackVideo)
		st.Microphone, _ = h.TrackEnabled(media.TrackAudio)
	}
	return st
}

// History returns a copy of the completed turns in submission order.
func (o *Orchestrator) History() []Turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Turn(nil), o.history...)
}

// Report builds the report from the turns completed so far.
func (o *Orchestrator) Report() Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	r := BuildReport(o.history)
	r.SessionID = o.sessionID
	r.Config = o.cfg
	r.GeneratedAt = o.now()
	return r
}

// Close tears the session down: the media handle is released, capture is
// stopped and playback is cancelled. Every step runs regardless of the
// session's status or earlier failures. Close is idempotent.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.releaseResources()
	for _, unsubscribe := range o.unsubscribe {
		unsubscribe()
	}
	o.logger.Debug("Session closed", "session_id", o.sessionID)
	return nil
}

func (o *Orchestrator) releaseResources() {
	defer func() {
		if o.media == nil {
			return
		}
		o.mu.Lock()
		h := o.handle
		o.handle = nil
		o.mu.Unlock()
		o.media.Release(h)
		o.media.ReleaseCurrent()
	}()
	defer func() {
		if o.playback != nil {
			o.playback.Stop()
		}
	}()

	o.mu.Lock()
	s := o.listening
	o.mu.Unlock()
	if s != nil {
		o.capture.Stop()
		o.mu.Lock()
		if o.listening == s {
			o.finishListeningLocked(s)
		}
		o.mu.Unlock()
	}
}

func joinText(prefix, text string) string {
	prefix = strings.TrimSpace(prefix)
	text = strings.TrimSpace(text)
	switch {
	case prefix == "":
		return text
	case text == "":
		return prefix
	default:
		return prefix + " " + text
	}
}

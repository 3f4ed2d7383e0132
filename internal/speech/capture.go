package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "prepai/internal/errors"
)

// stopGrace bounds how long Stop waits for an engine to wind down.
var stopGrace = 2 * time.Second

// updateBuffer is the capacity of Session.Updates. Slow readers lose
// intermediate updates, never the final transcript.
const updateBuffer = 32

// Segment is one recognition result from an engine. Interim segments are
// replaced by the next segment; final segments are appended to the transcript.
type Segment struct {
	Text       string
	Confidence float64
	Final      bool
	// Err reports an engine failure; the engine closes the channel after it.
	Err error
}

// Recognizer is a continuous, interim-result speech recognition engine.
// Listen returns a channel of segments that the engine closes when ctx is
// cancelled or recognition ends on its own. Engines that cannot run on this
// platform return errors.ErrRecognitionUnsupported.
type Recognizer interface {
	Listen(ctx context.Context) (<-chan Segment, error)
}

var sessionSeq atomic.Uint64

// Session is one listening session. Its transcript starts empty and is
// discarded when a new session starts.
type Session struct {
	id      uint64
	cancel  context.CancelFunc
	done    chan struct{}
	updates chan Update

	mu         sync.Mutex
	finals     []string
	interim    string
	confidence float64
	seq        int
	final      bool
}

func newSession(cancel context.CancelFunc) *Session {
	return &Session{
		id:      sessionSeq.Add(1),
		cancel:  cancel,
		done:    make(chan struct{}),
		updates: make(chan Update, updateBuffer),
	}
}

// ID identifies the session in events.
func (s *Session) ID() uint64 { return s.id }

// Updates yields cumulative transcript snapshots. It is closed after the
// final snapshot.
func (s *Session) Updates() <-chan Update { return s.updates }

// Done is closed when the session has ended.
func (s *Session) Done() <-chan struct{} { return s.done }

// Transcript returns the cumulative transcript so far.
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text()
}

// Ended reports whether the session has produced its final transcript. It
// turns true before EventListeningStopped is emitted.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.final
}

// Confidence returns the confidence of the most recent segment.
func (s *Session) Confidence() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confidence
}

// FinalCount returns the number of final segments received so far.
func (s *Session) FinalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.finals)
}

// TranscriptAfter returns the transcript without its first n final segments.
// The pending interim text is always included.
func (s *Session) TranscriptAfter(n int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textFrom(n)
}

func (s *Session) text() string {
	return s.textFrom(0)
}

func (s *Session) textFrom(n int) string {
	n = min(max(n, 0), len(s.finals))
	parts := make([]string, 0, len(s.finals)-n+1)
	parts = append(parts, s.finals[n:]...)
	if s.interim != "" {
		parts = append(parts, s.interim)
	}
	return strings.Join(parts, " ")
}

func (s *Session) apply(seg Segment) Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := strings.TrimSpace(seg.Text)
	if seg.Final {
		if text != "" {
			s.finals = append(s.finals, text)
		}
		s.interim = ""
	} else {
		s.interim = text
	}
	s.confidence = seg.Confidence
	s.seq++
	return Update{Text: s.text(), Confidence: s.confidence, Seq: s.seq}
}

// finalize promotes the pending interim text and returns the final snapshot.
func (s *Session) finalize() Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.interim != "" {
		s.finals = append(s.finals, s.interim)
		s.interim = ""
	}
	s.final = true
	s.seq++
	return Update{Text: s.text(), Confidence: s.confidence, Final: true, Seq: s.seq}
}

// Capture produces a live transcript from a Recognizer. At most one Session
// is active at a time.
type Capture struct {
	engine  Recognizer
	emitter *Emitter
	logger  *apperrors.Logger

	mu      sync.Mutex
	current *Session
}

// NewCapture creates a capture component. A nil engine yields a capture that
// reports ErrRecognitionUnsupported on Start.
func NewCapture(engine Recognizer, logger *apperrors.Logger) *Capture {
	return &Capture{engine: engine, emitter: NewEmitter(), logger: logger}
}

// Supported reports whether an engine is available.
func (c *Capture) Supported() bool {
	return c.engine != nil
}

// Subscribe registers a listener for capture events.
func (c *Capture) Subscribe(l Listener) func() {
	return c.emitter.Subscribe(l)
}

// Listening reports whether a session is active.
func (c *Capture) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Start begins a fresh listening session. It fails with ErrAlreadyListening
// while another session is active; that session keeps running. The session
// outlives ctx's cancellation but keeps its values.
func (c *Capture) Start(ctx context.Context) (*Session, error) {
	if c.engine == nil {
		return nil, apperrors.ErrRecognitionUnsupported
	}

	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return nil, apperrors.ErrAlreadyListening
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	segments, err := c.engine.Listen(listenCtx)
	if err != nil {
		c.mu.Unlock()
		cancel()
		if errors.Is(err, apperrors.ErrRecognitionUnsupported) {
			return nil, err
		}
		return nil, apperrors.NewCaptureError(apperrors.ErrCodeSpeechFailed, "speech recognition could not start", err)
	}

	s := newSession(cancel)
	c.current = s
	c.mu.Unlock()

	c.logger.Debug("Speech capture started", "session", s.id)
	c.emitter.Emit(Event{Type: EventListeningStarted, ID: s.id})

	go c.run(s, segments)
	return s, nil
}

func (c *Capture) run(s *Session, segments <-chan Segment) {
	for seg := range segments {
		if seg.Err != nil {
			c.logger.Warn("Speech recognition error", "session", s.id, "error", seg.Err.Error())
			c.emitter.Emit(Event{Type: EventCaptureError, ID: s.id, Err: seg.Err})
			continue
		}
		u := s.apply(seg)
		c.emitter.Emit(Event{Type: EventTranscript, ID: s.id, Update: u})
		select {
		case s.updates <- u:
		default:
		}
	}

	final := s.finalize()
	s.cancel()

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	c.mu.Unlock()

	c.emitter.Emit(Event{Type: EventListeningStopped, ID: s.id, Update: final})

	// Make room for the final snapshot if a reader fell behind.
	select {
	case s.updates <- final:
	default:
		select {
		case <-s.updates:
		default:
		}
		s.updates <- final
	}
	close(s.updates)
	close(s.done)
	c.logger.Debug("Speech capture stopped", "session", s.id, "chars", len(final.Text))
}

// Stop ends the active session and returns its final transcript. It is a
// no-op returning "" when nothing is listening.
func (c *Capture) Stop() string {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s == nil {
		return ""
	}

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(stopGrace):
		c.logger.Warn("Speech engine did not stop in time", "session", s.id)
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		return s.finalize().Text
	}
	return s.Transcript()
}

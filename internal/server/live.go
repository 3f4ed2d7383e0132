package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	apperrors "prepai/internal/errors"
	"prepai/internal/media"
	"prepai/internal/session"
	"prepai/internal/speech"
	"prepai/internal/types"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Live channel frame types.
const (
	// client -> server
	FrameTranscript     = "transcript"
	FrameSpeechStarted  = "speech_started"
	FrameSpeechFinished = "speech_finished"
	FrameDevice         = "device"
	FrameTrack          = "track"
	FrameListen         = "listen"
	FrameRepeat         = "repeat"

	// server -> client
	FrameState            = "state"
	FrameSpeak            = "speak"
	FrameCancelSpeech     = "cancel_speech"
	FrameStartRecognition = "start_recognition"
	FrameStopRecognition  = "stop_recognition"
	FrameAcquireMedia     = "acquire_media"
	FrameReleaseMedia     = "release_media"
	FrameToggleTrack      = "toggle_track"
	FrameStopTrack        = "stop_track"
	FrameError            = "error"
)

const (
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxFrameSize     = 64 * 1024
	defaultDeviceAsk = 30 * time.Second
)

var errLiveClosed = errors.New("live channel closed")

// Frame is one JSON message on the live channel. Only the fields relevant to
// Type are set.
type Frame struct {
	Type       string          `json:"type"`
	ID         string          `json:"id,omitempty"`
	Text       string          `json:"text,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	Final      bool            `json:"final,omitempty"`
	Granted    bool            `json:"granted,omitempty"`
	Error      string          `json:"error,omitempty"`
	Kind       media.TrackKind `json:"kind,omitempty"`
	Enabled    *bool           `json:"enabled,omitempty"`
	On         *bool           `json:"on,omitempty"`
	Code       string          `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	State      *session.State  `json:"state,omitempty"`
}

func errorFrame(err error) Frame {
	f := Frame{Type: FrameError, Code: apperrors.ErrCodeInvalidRequest, Message: apperrors.UserMessage(err)}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		f.Code = appErr.Code
	}
	return f
}

// liveConn is one WebSocket connection. Writes are serialized.
type liveConn struct {
	id     string
	ws     *websocket.Conn
	closed chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newLiveConn(ws *websocket.Conn) *liveConn {
	return &liveConn{id: uuid.NewString(), ws: ws, closed: make(chan struct{})}
}

func (c *liveConn) send(f Frame) error {
	select {
	case <-c.closed:
		return errLiveClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

func (c *liveConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = c.ws.Close()
	})
}

type recognition struct {
	in   chan speech.Segment
	done chan struct{}
}

type pendingSpeech struct {
	id   string
	done chan struct{}
	once sync.Once
}

func (p *pendingSpeech) finish() {
	p.once.Do(func() { close(p.done) })
}

// Bridge exposes the browser on the other end of a session's live channel as
// the session's media device, speech recognizer and speech synthesizer. With
// no browser connected the device is unavailable, recognition is unsupported
// and speech completes immediately.
type Bridge struct {
	logger        *apperrors.Logger
	deviceTimeout time.Duration

	mu          sync.Mutex
	conn        *liveConn
	stream      *bridgeStream
	rec         *recognition
	utterance   *pendingSpeech
	deviceReply chan Frame
}

// NewBridge creates a bridge with no browser attached.
func NewBridge(logger *apperrors.Logger) *Bridge {
	return &Bridge{logger: logger, deviceTimeout: defaultDeviceAsk}
}

func (b *Bridge) connection() *liveConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

// Connected reports whether a browser is attached.
func (b *Bridge) Connected() bool {
	return b.connection() != nil
}

// attach makes ws the session's live channel, closing any previous one.
func (b *Bridge) attach(ws *websocket.Conn) *liveConn {
	c := newLiveConn(ws)
	b.mu.Lock()
	old := b.conn
	b.conn = c
	b.mu.Unlock()
	if old != nil {
		b.logger.Info("Replacing live channel", "old_conn", old.id, "new_conn", c.id)
		old.close()
	}
	return c
}

// detach closes c and forgets it if it is still current. It reports whether
// c was current, that is, not replaced by a newer connection.
func (b *Bridge) detach(c *liveConn) bool {
	b.mu.Lock()
	current := b.conn == c
	if current {
		b.conn = nil
	}
	b.mu.Unlock()
	c.close()
	return current
}

// streamOn reports whether the most recently opened media stream belongs to
// the browser on c.
func (b *Bridge) streamOn(c *liveConn) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stream != nil && b.stream.conn == c
}

// Send writes a frame to the attached browser.
func (b *Bridge) Send(f Frame) error {
	c := b.connection()
	if c == nil {
		return errLiveClosed
	}
	return c.send(f)
}

// Close drops the attached browser, if any.
func (b *Bridge) Close() {
	if c := b.connection(); c != nil {
		b.detach(c)
	}
}

// Open asks the browser for camera and microphone access and waits for its
// answer. The browser renders its own preview, so no frames reach the sink.
func (b *Bridge) Open(ctx context.Context, _ media.FrameSink) (media.Stream, error) {
	c := b.connection()
	if c == nil {
		return nil, apperrors.ErrDeviceUnavailable
	}

	reply := make(chan Frame, 1)
	b.mu.Lock()
	b.deviceReply = reply
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.deviceReply == reply {
			b.deviceReply = nil
		}
		b.mu.Unlock()
	}()

	if err := c.send(Frame{Type: FrameAcquireMedia}); err != nil {
		return nil, apperrors.ErrDeviceUnavailable
	}

	timer := time.NewTimer(b.deviceTimeout)
	defer timer.Stop()

	select {
	case f := <-reply:
		if !f.Granted {
			return nil, deviceError(f.Error)
		}
		stream := &bridgeStream{conn: c, stopped: make(map[media.TrackKind]bool)}
		b.mu.Lock()
		b.stream = stream
		b.mu.Unlock()
		return stream, nil
	case <-c.closed:
		return nil, apperrors.ErrDeviceUnavailable
	case <-timer.C:
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// deviceError maps a browser getUserMedia failure name onto the media
// taxonomy.
func deviceError(name string) error {
	switch strings.ToLower(name) {
	case "notallowederror", "securityerror", "permission_denied":
		return apperrors.ErrPermissionDenied
	default:
		return apperrors.ErrDeviceUnavailable
	}
}

func (b *Bridge) deviceResult(f Frame) {
	b.mu.Lock()
	reply := b.deviceReply
	b.mu.Unlock()
	if reply == nil {
		b.logger.Debug("Ignoring unsolicited device frame")
		return
	}
	select {
	case reply <- f:
	default:
	}
}

// Listen starts the browser's recognizer and relays its transcript frames
// until ctx is cancelled or the browser disconnects.
func (b *Bridge) Listen(ctx context.Context) (<-chan speech.Segment, error) {
	c := b.connection()
	if c == nil {
		return nil, apperrors.ErrRecognitionUnsupported
	}

	rec := &recognition{in: make(chan speech.Segment), done: make(chan struct{})}
	b.mu.Lock()
	b.rec = rec
	b.mu.Unlock()

	if err := c.send(Frame{Type: FrameStartRecognition}); err != nil {
		b.mu.Lock()
		if b.rec == rec {
			b.rec = nil
		}
		b.mu.Unlock()
		return nil, err
	}

	out := make(chan speech.Segment)
	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			if b.rec == rec {
				b.rec = nil
			}
			b.mu.Unlock()
			close(rec.done)
			_ = c.send(Frame{Type: FrameStopRecognition})
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case seg := <-rec.in:
				select {
				case out <- seg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *Bridge) deliverTranscript(seg speech.Segment) {
	b.mu.Lock()
	rec := b.rec
	b.mu.Unlock()
	if rec == nil {
		return
	}
	select {
	case rec.in <- seg:
	case <-rec.done:
	}
}

// Speak asks the browser to read text aloud and waits until it reports the
// utterance finished.
func (b *Bridge) Speak(ctx context.Context, text string) error {
	c := b.connection()
	if c == nil {
		b.logger.Debug("No live channel, skipping speech")
		return nil
	}

	p := &pendingSpeech{id: uuid.NewString(), done: make(chan struct{})}
	b.mu.Lock()
	b.utterance = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.utterance == p {
			b.utterance = nil
		}
		b.mu.Unlock()
	}()

	if err := c.send(Frame{Type: FrameSpeak, ID: p.id, Text: text}); err != nil {
		return err
	}

	select {
	case <-p.done:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		_ = c.send(Frame{Type: FrameCancelSpeech, ID: p.id})
		return ctx.Err()
	}
}

func (b *Bridge) finishSpeech(id string) {
	b.mu.Lock()
	p := b.utterance
	b.mu.Unlock()
	if p != nil && (id == "" || id == p.id) {
		p.finish()
	}
}

// bridgeStream is the browser's media stream as seen by the acquirer.
type bridgeStream struct {
	conn *liveConn

	mu      sync.Mutex
	stopped map[media.TrackKind]bool
}

func (s *bridgeStream) Kinds() []media.TrackKind {
	return []media.TrackKind{media.TrackVideo, media.TrackAudio}
}

func (s *bridgeStream) SetEnabled(kind media.TrackKind, enabled bool) error {
	return s.conn.send(Frame{Type: FrameToggleTrack, Kind: kind, Enabled: &enabled})
}

// StopTrack stops one browser track; once every track is stopped the browser
// is told to release the device.
func (s *bridgeStream) StopTrack(kind media.TrackKind) error {
	s.mu.Lock()
	s.stopped[kind] = true
	all := len(s.stopped) == len(s.Kinds())
	s.mu.Unlock()

	err := s.conn.send(Frame{Type: FrameStopTrack, Kind: kind})
	if all {
		_ = s.conn.send(Frame{Type: FrameReleaseMedia})
	}
	if errors.Is(err, errLiveClosed) {
		// The browser is gone and its tracks with it.
		return nil
	}
	return err
}

// liveHandler upgrades to the live channel of a session. A session has at
// most one live channel; a new connection replaces the old one.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	ls, err := s.Sessions.get(r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn("Live channel upgrade failed", "gateway_session", ls.id, "error", err.Error())
		return
	}

	c := ls.bridge.attach(ws)
	logger := s.Logger.With("gateway_session", ls.id, "conn", c.id)
	logger.Info("Live channel connected", "client_ip", getClientIP(r))

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		// A replacement connection owns recording and media from here on.
		if ls.bridge.detach(c) {
			ls.orch.StopRecording()
			ls.orch.ReleaseMedia()
		}
		logger.Info("Live channel disconnected")
	}()

	go s.keepAlive(c)
	go s.onLiveAttach(ctx, ls, c)

	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Live channel read failed", "error", err.Error())
			}
			return
		}
		ls.touch(s.Sessions.now())
		s.handleLiveFrame(ctx, ls, c, f)
	}
}

// keepAlive pings the browser until the connection closes.
func (s *Server) keepAlive(c *liveConn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// onLiveAttach brings a freshly connected browser up to date: it asks for
// the camera and microphone and reads the current question aloud.
func (s *Server) onLiveAttach(ctx context.Context, ls *liveSession, c *liveConn) {
	ls.pushState()

	st := ls.orch.State()
	if st.Closed || st.Status == session.StatusComplete {
		return
	}
	if st.MediaActive && !ls.bridge.streamOn(c) {
		// The handle belongs to a browser that has gone away.
		ls.orch.ReleaseMedia()
		st.MediaActive = false
	}
	if st.Config.Mode == types.ModeVerbal && s.mediaEnabled() && !st.MediaActive {
		if err := ls.orch.AcquireMedia(ctx); err != nil {
			s.Logger.Debug("Media not acquired on attach", "gateway_session", ls.id, "error", err.Error())
		}
	}
	if s.speakQuestions() && st.Status == session.StatusAwaitingAnswer && !st.Speaking {
		if err := ls.orch.RepeatQuestion(ctx); err != nil {
			s.Logger.Debug("Question not spoken on attach", "gateway_session", ls.id, "error", err.Error())
		}
	}
	ls.pushState()
}

// handleLiveFrame applies one client frame. Errors are reported back on the
// channel; the connection stays open.
func (s *Server) handleLiveFrame(ctx context.Context, ls *liveSession, c *liveConn, f Frame) {
	var err error
	switch f.Type {
	case FrameTranscript:
		ls.bridge.deliverTranscript(speech.Segment{Text: f.Text, Confidence: f.Confidence, Final: f.Final})
		return
	case FrameSpeechStarted:
		s.Logger.Debug("Browser started speaking", "gateway_session", ls.id, "utterance", f.ID)
		return
	case FrameSpeechFinished:
		ls.bridge.finishSpeech(f.ID)
		return
	case FrameDevice:
		ls.bridge.deviceResult(f)
		return
	case FrameTrack:
		if f.Enabled == nil {
			err = apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "track frame requires enabled", nil)
			break
		}
		err = ls.orch.ToggleTrack(f.Kind, *f.Enabled)
	case FrameListen:
		if f.On != nil && *f.On {
			err = ls.orch.StartRecording(ctx)
		} else {
			ls.orch.StopRecording()
		}
	case FrameRepeat:
		err = ls.orch.RepeatQuestion(ctx)
	default:
		err = apperrors.NewValidationError(apperrors.ErrCodeInvalidRequest, "unknown frame type "+f.Type, nil)
	}

	if err != nil {
		s.Logger.Debug("Live frame rejected", "gateway_session", ls.id, "type", f.Type, "error", err.Error())
		_ = c.send(errorFrame(err))
	}
	ls.pushState()
}

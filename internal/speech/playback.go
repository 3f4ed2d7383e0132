package speech

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "prepai/internal/errors"
)

// Synthesizer speaks text aloud. Speak blocks until playback finishes
// naturally or ctx is cancelled, in which case it returns promptly.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
}

var utteranceSeq atomic.Uint64

// Utterance is one invocation of Playback.Speak.
type Utterance struct {
	id     uint64
	text   string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

// ID identifies the utterance in events.
func (u *Utterance) ID() uint64 { return u.id }

// Done is closed once the utterance has finished, failed or been cancelled.
func (u *Utterance) Done() <-chan struct{} { return u.done }

// Wait blocks until the utterance ends and returns the engine error, if any.
// A cancelled utterance returns nil.
func (u *Utterance) Wait(ctx context.Context) error {
	select {
	case <-u.done:
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancelled reports whether the utterance was cut short.
func (u *Utterance) Cancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// Playback speaks one utterance at a time over a Synthesizer.
type Playback struct {
	engine  Synthesizer
	emitter *Emitter
	logger  *apperrors.Logger

	// speakMu serializes Speak and Stop so a cancel always completes before
	// the next utterance starts.
	speakMu sync.Mutex

	mu      sync.Mutex
	current *Utterance
}

// NewPlayback creates a playback component. A nil engine makes Speak fail
// with a capability error.
func NewPlayback(engine Synthesizer, logger *apperrors.Logger) *Playback {
	return &Playback{engine: engine, emitter: NewEmitter(), logger: logger}
}

// Supported reports whether an engine is available.
func (p *Playback) Supported() bool {
	return p.engine != nil
}

// Subscribe registers a listener for playback events.
func (p *Playback) Subscribe(l Listener) func() {
	return p.emitter.Subscribe(l)
}

// Speaking reports whether an utterance is in flight.
func (p *Playback) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Speak cancels any in-flight utterance and starts speaking text. The
// started event is emitted before Speak returns.
func (p *Playback) Speak(ctx context.Context, text string) (*Utterance, error) {
	if p.engine == nil {
		return nil, apperrors.NewCapabilityError(apperrors.ErrCodeSpeechFailed, "speech playback is not available", nil)
	}

	p.speakMu.Lock()
	defer p.speakMu.Unlock()

	p.cancelCurrent()

	speakCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	u := &Utterance{
		id:     utteranceSeq.Add(1),
		text:   text,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	p.mu.Lock()
	p.current = u
	p.mu.Unlock()

	p.emitter.Emit(Event{Type: EventSpeechStarted, ID: u.id, Text: text})
	go p.run(speakCtx, u)
	return u, nil
}

func (p *Playback) run(ctx context.Context, u *Utterance) {
	err := p.engine.Speak(ctx, u.text)

	ev := Event{ID: u.id, Text: u.text}
	u.mu.Lock()
	switch {
	case ctx.Err() != nil:
		u.cancelled = true
		ev.Type = EventSpeechCancelled
	case err != nil:
		u.err = apperrors.NewCapabilityError(apperrors.ErrCodeSpeechFailed, "speech playback failed", err)
		ev.Type = EventPlaybackError
		ev.Err = u.err
	default:
		ev.Type = EventSpeechFinished
	}
	u.mu.Unlock()
	u.cancel()

	p.mu.Lock()
	if p.current == u {
		p.current = nil
	}
	p.mu.Unlock()

	if ev.Err != nil {
		p.logger.Warn("Speech playback failed", "utterance", u.id, "error", err.Error())
	}
	p.emitter.Emit(ev)
	close(u.done)
}

// Stop cancels the in-flight utterance, if any, and marks playback as not
// speaking.
func (p *Playback) Stop() {
	p.speakMu.Lock()
	defer p.speakMu.Unlock()
	p.cancelCurrent()
}

func (p *Playback) cancelCurrent() {
	p.mu.Lock()
	u := p.current
	p.current = nil
	p.mu.Unlock()
	if u == nil {
		return
	}

	u.cancel()
	select {
	case <-u.done:
	case <-time.After(stopGrace):
		p.logger.Warn("Speech engine did not stop in time", "utterance", u.id)
	}
}

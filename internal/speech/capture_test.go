package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "prepai/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRecognizer hands each Listen call a channel the test feeds.
type scriptedRecognizer struct {
	mu       sync.Mutex
	sessions []chan Segment
	err      error
}

func (r *scriptedRecognizer) Listen(ctx context.Context) (<-chan Segment, error) {
	if r.err != nil {
		return nil, r.err
	}
	in := make(chan Segment)
	out := make(chan Segment)
	r.mu.Lock()
	r.sessions = append(r.sessions, in)
	r.mu.Unlock()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case seg, ok := <-in:
				if !ok {
					return
				}
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

func (r *scriptedRecognizer) feed(t *testing.T, i int, seg Segment) {
	t.Helper()
	r.mu.Lock()
	ch := r.sessions[i]
	r.mu.Unlock()
	select {
	case ch <- seg:
	case <-time.After(time.Second):
		t.Fatalf("recognizer session %d did not accept segment", i)
	}
}

// waitForText blocks until the session's transcript equals want.
func waitForText(t *testing.T, s *Session, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Transcript() == want }, time.Second, 5*time.Millisecond)
}

func TestCaptureStartUnsupported(t *testing.T) {
	c := NewCapture(nil, nil)
	assert.False(t, c.Supported())

	_, err := c.Start(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRecognitionUnsupported)
	assert.True(t, apperrors.IsLocallyRecoverable(err))
}

func TestCaptureStartEngineError(t *testing.T) {
	c := NewCapture(&scriptedRecognizer{err: errors.New("mic busy")}, nil)

	_, err := c.Start(context.Background())
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrCodeSpeechFailed, appErr.Code)
	assert.False(t, c.Listening())
}

func TestCaptureTranscriptAccumulates(t *testing.T) {
	rec := &scriptedRecognizer{}
	c := NewCapture(rec, nil)

	s, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, c.Listening())

	rec.feed(t, 0, Segment{Text: "I led", Confidence: 0.5})
	waitForText(t, s, "I led")

	rec.feed(t, 0, Segment{Text: "I led the team", Confidence: 0.9, Final: true})
	rec.feed(t, 0, Segment{Text: "through", Confidence: 0.4})
	waitForText(t, s, "I led the team through")

	assert.Equal(t, 1, s.FinalCount())
	assert.Equal(t, "through", s.TranscriptAfter(1))
	assert.Equal(t, "I led the team through", s.TranscriptAfter(-1))
	assert.Equal(t, "through", s.TranscriptAfter(5))

	// Interim text is promoted on stop.
	assert.Equal(t, "I led the team through", c.Stop())
	assert.Equal(t, 2, s.FinalCount())
	assert.False(t, c.Listening())
	assert.InDelta(t, 0.4, s.Confidence(), 1e-9)

	var last Update
	for u := range s.Updates() {
		last = u
	}
	assert.True(t, last.Final)
	assert.Equal(t, "I led the team through", last.Text)
}

func TestCaptureAlreadyListening(t *testing.T) {
	rec := &scriptedRecognizer{}
	c := NewCapture(rec, nil)

	first, err := c.Start(context.Background())
	require.NoError(t, err)

	_, err = c.Start(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyListening)

	// The first session keeps updating.
	rec.feed(t, 0, Segment{Text: "still here", Final: true, Confidence: 1})
	waitForText(t, first, "still here")

	c.Stop()
}

func TestCaptureRestartDiscardsTranscript(t *testing.T) {
	rec := &scriptedRecognizer{}
	c := NewCapture(rec, nil)

	first, err := c.Start(context.Background())
	require.NoError(t, err)
	rec.feed(t, 0, Segment{Text: "old answer", Final: true, Confidence: 1})
	waitForText(t, first, "old answer")
	c.Stop()

	second, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "", second.Transcript())

	rec.feed(t, 1, Segment{Text: "new answer", Final: true, Confidence: 1})
	waitForText(t, second, "new answer")
	assert.Equal(t, "new answer", c.Stop())
}

func TestCaptureEvents(t *testing.T) {
	rec := &scriptedRecognizer{}
	c := NewCapture(rec, nil)

	var mu sync.Mutex
	var types []EventType
	c.Subscribe(func(ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	s, err := c.Start(context.Background())
	require.NoError(t, err)
	rec.feed(t, 0, Segment{Err: errors.New("network blip")})
	rec.feed(t, 0, Segment{Text: "hello", Final: true, Confidence: 1})
	waitForText(t, s, "hello")
	assert.False(t, s.Ended())
	c.Stop()
	<-s.Done()
	assert.True(t, s.Ended())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{
		EventListeningStarted,
		EventCaptureError,
		EventTranscript,
		EventListeningStopped,
	}, types)
}

func TestCaptureEngineEndsOnItsOwn(t *testing.T) {
	rec := &scriptedRecognizer{}
	c := NewCapture(rec, nil)

	s, err := c.Start(context.Background())
	require.NoError(t, err)
	rec.feed(t, 0, Segment{Text: "done", Final: true, Confidence: 1})
	waitForText(t, s, "done")

	rec.mu.Lock()
	close(rec.sessions[0])
	rec.mu.Unlock()

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not end after engine closed")
	}
	assert.False(t, c.Listening())
	assert.Equal(t, "", c.Stop())
}

func TestCaptureStopWhenIdle(t *testing.T) {
	c := NewCapture(&scriptedRecognizer{}, nil)
	assert.Equal(t, "", c.Stop())
}

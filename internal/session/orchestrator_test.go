package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "prepai/internal/errors"
	"prepai/internal/media"
	"prepai/internal/speech"
	"prepai/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRemote scripts the interviewer service.
type fakeRemote struct {
	mu sync.Mutex

	startErr  error
	submitErr error
	nextErr   error
	startResp *types.StartSessionResponse

	starts  []types.StartSessionRequest
	submits []types.SubmitAnswerRequest
	nexts   []types.NextQuestionRequest
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		startResp: &types.StartSessionResponse{
			SessionID: "s-42",
			Question:  &types.Question{Title: "Question 1", Description: "Tell me about yourself."},
		},
	}
}

func (f *fakeRemote) StartSession(_ context.Context, req *types.StartSessionRequest) (*types.StartSessionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, *req)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startResp, nil
}

func (f *fakeRemote) SubmitAnswer(_ context.Context, req *types.SubmitAnswerRequest) (*types.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, *req)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	n := len(f.submits)
	return &types.Feedback{
		ClarityScore:    types.IntPtr(7 + n%2),
		ConfidenceScore: types.IntPtr(8),
		Commentary:      fmt.Sprintf("feedback %d", n),
	}, nil
}

func (f *fakeRemote) NextQuestion(_ context.Context, req *types.NextQuestionRequest) (*types.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nexts = append(f.nexts, *req)
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	n := len(f.nexts) + 1
	return &types.Question{Title: fmt.Sprintf("Question %d", n), Description: "Go on."}, nil
}

func (f *fakeRemote) setSubmitErr(err error) {
	f.mu.Lock()
	f.submitErr = err
	f.mu.Unlock()
}

func (f *fakeRemote) setNextErr(err error) {
	f.mu.Lock()
	f.nextErr = err
	f.mu.Unlock()
}

// fakeClock advances only when told.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// pushRecognizer lets the test push segments into the active listening
// session.
type pushRecognizer struct {
	mu      sync.Mutex
	current chan speech.Segment
}

func (r *pushRecognizer) Listen(ctx context.Context) (<-chan speech.Segment, error) {
	in := make(chan speech.Segment)
	out := make(chan speech.Segment)
	r.mu.Lock()
	r.current = in
	r.mu.Unlock()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case seg := <-in:
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

func (r *pushRecognizer) push(t *testing.T, seg speech.Segment) {
	t.Helper()
	r.mu.Lock()
	ch := r.current
	r.mu.Unlock()
	select {
	case ch <- seg:
	case <-time.After(time.Second):
		t.Fatal("recognizer did not accept segment")
	}
}

// blockingSynth speaks until cancelled.
type blockingSynth struct {
	mu     sync.Mutex
	spoken []string
}

func (b *blockingSynth) Speak(ctx context.Context, text string) error {
	b.mu.Lock()
	b.spoken = append(b.spoken, text)
	b.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingSynth) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.spoken...)
}

// fakeDevice hands out streams that record stopped tracks.
type fakeDevice struct {
	err     error
	streams []*fakeStream
}

type fakeStream struct {
	mu      sync.Mutex
	stopped map[media.TrackKind]int
	enabled map[media.TrackKind]bool
}

func (d *fakeDevice) Open(context.Context, media.FrameSink) (media.Stream, error) {
	if d.err != nil {
		return nil, d.err
	}
	s := &fakeStream{stopped: map[media.TrackKind]int{}, enabled: map[media.TrackKind]bool{}}
	d.streams = append(d.streams, s)
	return s, nil
}

func (s *fakeStream) Kinds() []media.TrackKind {
	return []media.TrackKind{media.TrackVideo, media.TrackAudio}
}

func (s *fakeStream) SetEnabled(kind media.TrackKind, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[kind] = enabled
	return nil
}

func (s *fakeStream) StopTrack(kind media.TrackKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped[kind]++
	return nil
}

func (s *fakeStream) stopCount(kind media.TrackKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped[kind]
}

func backendConfig(turns int) types.InterviewConfig {
	return types.InterviewConfig{
		Role:            "Backend Developer",
		ExperienceLevel: "mid",
		FocusArea:       "distributed systems",
		TurnLimit:       turns,
	}
}

func newTestOrchestrator(t *testing.T, remote Remote) *Orchestrator {
	t.Helper()
	o := New(Options{Remote: remote})
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func TestInitialize(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)

	state, err := o.Initialize(context.Background(), backendConfig(3))
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingAnswer, state.Status)
	assert.Equal(t, "s-42", state.SessionID)
	assert.Equal(t, 1, state.TurnIndex)
	require.NotNil(t, state.Question)
	assert.Equal(t, "Question 1", state.Question.Title)

	require.Len(t, remote.starts, 1)
	assert.Equal(t, "Backend Developer", remote.starts[0].Role)
	assert.Equal(t, "mid", remote.starts[0].Experience)
	assert.Equal(t, DefaultIntensity, remote.starts[0].Intensity)
	assert.Equal(t, types.ModeVerbal, remote.starts[0].Mode)

	_, err = o.Initialize(context.Background(), backendConfig(3))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestInitializeFailures(t *testing.T) {
	tests := []struct {
		name string
		resp *types.StartSessionResponse
		err  error
	}{
		{name: "remote error", err: errors.New("connection refused")},
		{name: "missing title", resp: &types.StartSessionResponse{SessionID: "s", Question: &types.Question{Description: "d"}}},
		{name: "missing description", resp: &types.StartSessionResponse{SessionID: "s", Question: &types.Question{Title: "t"}}},
		{name: "missing question", resp: &types.StartSessionResponse{SessionID: "s"}},
		{name: "missing session id", resp: &types.StartSessionResponse{Question: &types.Question{Title: "t", Description: "d"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			remote.startErr = tt.err
			if tt.resp != nil {
				remote.startResp = tt.resp
			}
			o := newTestOrchestrator(t, remote)

			state, err := o.Initialize(context.Background(), backendConfig(3))
			require.Error(t, err)
			assert.Nil(t, state)
			assert.ErrorIs(t, err, apperrors.ErrInitialization)
			assert.Equal(t, StatusInitializing, o.State().Status)
		})
	}
}

func TestInitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  types.InterviewConfig
	}{
		{"empty role", types.InterviewConfig{}},
		{"negative turns", types.InterviewConfig{Role: "SRE", TurnLimit: -1}},
		{"intensity too high", types.InterviewConfig{Role: "SRE", Intensity: 11}},
		{"unknown mode", types.InterviewConfig{Role: "SRE", Mode: "essay"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remote := newFakeRemote()
			o := newTestOrchestrator(t, remote)
			_, err := o.Initialize(context.Background(), tt.cfg)
			require.Error(t, err)
			assert.Empty(t, remote.starts)
		})
	}
}

func TestFullSessionThreeTurns(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)

	_, err := o.Initialize(context.Background(), backendConfig(3))
	require.NoError(t, err)

	var done *Complete
	for i := 1; i <= 3; i++ {
		fb, err := o.SubmitAnswer(context.Background(), fmt.Sprintf("answer %d", i), nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("feedback %d", i), fb.Commentary)
		assert.Equal(t, StatusAwaitingNext, o.State().Status)

		step, err := o.Advance(context.Background())
		require.NoError(t, err)
		if i < 3 {
			assert.False(t, step.Done())
			assert.Equal(t, i+1, step.TurnIndex)
			assert.Equal(t, fmt.Sprintf("Question %d", i+1), step.Question.Title)
			assert.Equal(t, "", o.State().Draft)
			continue
		}
		require.True(t, step.Done())
		done = step.Complete
	}

	require.NotNil(t, done)
	require.Len(t, done.History, 3)
	for i, turn := range done.History {
		assert.Equal(t, i+1, turn.Index)
		assert.Equal(t, fmt.Sprintf("answer %d", i+1), turn.Answer)
		assert.Equal(t, fmt.Sprintf("Question %d", i+1), turn.Question.Title)
	}
	assert.Equal(t, StatusComplete, o.State().Status)
	assert.Equal(t, 3, done.Report.Turns)
	assert.Equal(t, "s-42", done.Report.SessionID)

	// Next-question requests carry the prior title for continuity.
	require.Len(t, remote.nexts, 2)
	assert.Equal(t, "Question 1", remote.nexts[0].PriorQuestionTitle)
	assert.Equal(t, "Question 2", remote.nexts[1].PriorQuestionTitle)
	assert.Equal(t, "s-42", remote.nexts[1].SessionID)
	assert.Equal(t, "Backend Developer", remote.nexts[1].Role)

	_, err = o.Advance(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestSubmitRejectedOutsideAwaitingAnswer(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)

	_, err := o.SubmitAnswer(context.Background(), "too early", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	_, err = o.SubmitAnswer(context.Background(), "first", nil)
	require.NoError(t, err)

	_, err = o.SubmitAnswer(context.Background(), "again", nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Len(t, o.History(), 1)
	assert.Len(t, remote.submits, 1)
	assert.Equal(t, StatusAwaitingNext, o.State().Status)
}

func TestAdvanceRejectedOutsideAwaitingNext(t *testing.T) {
	o := newTestOrchestrator(t, newFakeRemote())
	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	_, err = o.Advance(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	assert.Equal(t, StatusAwaitingAnswer, o.State().Status)
}

func TestSubmitFailurePreservesAnswer(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)
	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	require.NoError(t, o.SetAnswer("I would shard by tenant"))
	remote.setSubmitErr(errors.New("503 service unavailable"))

	_, err = o.SubmitAnswer(context.Background(), "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSubmission)
	assert.True(t, apperrors.IsRetryable(err))

	state := o.State()
	assert.Equal(t, StatusAwaitingAnswer, state.Status)
	assert.Equal(t, "I would shard by tenant", state.Draft)
	assert.Empty(t, state.History)

	// Manual retry re-issues the same operation.
	remote.setSubmitErr(nil)
	_, err = o.SubmitAnswer(context.Background(), "", nil)
	require.NoError(t, err)
	require.Len(t, o.History(), 1)
	assert.Equal(t, "I would shard by tenant", o.History()[0].Answer)
	require.Len(t, remote.submits, 2)
	assert.Equal(t, remote.submits[0].AnswerText, remote.submits[1].AnswerText)
}

func TestSubmitUnauthorizedIsNotRetryable(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)
	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	remote.setSubmitErr(fmt.Errorf("submit: %w", apperrors.ErrUnauthorized))
	_, err = o.SubmitAnswer(context.Background(), "answer", nil)
	assert.ErrorIs(t, err, apperrors.ErrSubmission)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.False(t, apperrors.IsRetryable(err))
}

func TestSubmitEmptyAnswer(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)
	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	_, err = o.SubmitAnswer(context.Background(), "   ", nil)
	require.Error(t, err)
	assert.Empty(t, remote.submits)
	assert.Equal(t, StatusAwaitingAnswer, o.State().Status)
}

func TestAdvanceFailureKeepsState(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)
	_, err := o.Initialize(context.Background(), backendConfig(3))
	require.NoError(t, err)
	_, err = o.SubmitAnswer(context.Background(), "answer", nil)
	require.NoError(t, err)

	remote.setNextErr(errors.New("timeout"))
	_, err = o.Advance(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAdvance)

	state := o.State()
	assert.Equal(t, StatusAwaitingNext, state.Status)
	assert.Equal(t, 1, state.TurnIndex)
	assert.Equal(t, "Question 1", state.Question.Title)

	remote.setNextErr(nil)
	step, err := o.Advance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, step.TurnIndex)
}

func TestMetricsMeasuredFromRecording(t *testing.T) {
	remote := newFakeRemote()
	clock := newFakeClock()
	rec := &pushRecognizer{}
	o := New(Options{
		Remote:  remote,
		Capture: speech.NewCapture(rec, nil),
		Now:     clock.Now,
	})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	require.NoError(t, o.StartRecording(context.Background()))
	assert.Equal(t, StatusRecording, o.State().Status)

	rec.push(t, speech.Segment{Text: "um I think like", Confidence: 0.6})
	require.Eventually(t, func() bool { return o.State().Draft == "um I think like" }, time.Second, 5*time.Millisecond)
	rec.push(t, speech.Segment{Text: "um I think like we should uh cache it", Confidence: 0.9, Final: true})
	require.Eventually(t, func() bool { return o.State().Draft == "um I think like we should uh cache it" }, time.Second, 5*time.Millisecond)

	clock.Advance(4 * time.Second)
	assert.Equal(t, "um I think like we should uh cache it", o.StopRecording())
	assert.Equal(t, StatusAwaitingAnswer, o.State().Status)

	_, err = o.SubmitAnswer(context.Background(), "", nil)
	require.NoError(t, err)

	require.Len(t, remote.submits, 1)
	m := remote.submits[0].Metrics
	require.NotNil(t, m)
	assert.Equal(t, 135, m.WordsPerMinute) // 9 words in 4s
	assert.Equal(t, 3, m.FillerWordCount)
	assert.InDelta(t, 0.9, m.RecognitionConfidence, 1e-9)
	assert.InDelta(t, 4.0, m.DurationSeconds, 1e-9)
}

func TestRecordingKeepsEarlierDraft(t *testing.T) {
	rec := &pushRecognizer{}
	o := New(Options{Remote: newFakeRemote(), Capture: speech.NewCapture(rec, nil)})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	require.NoError(t, o.StartRecording(context.Background()))
	rec.push(t, speech.Segment{Text: "first part", Final: true, Confidence: 1})
	require.Eventually(t, func() bool { return o.State().Draft == "first part" }, time.Second, 5*time.Millisecond)
	o.StopRecording()

	// A fresh listening session appends rather than discarding the draft.
	require.NoError(t, o.StartRecording(context.Background()))
	rec.push(t, speech.Segment{Text: "second part", Final: true, Confidence: 1})
	require.Eventually(t, func() bool { return o.State().Draft == "first part second part" }, time.Second, 5*time.Millisecond)

	// Manual edits are allowed while recording.
	require.NoError(t, o.SetAnswer("edited"))
	rec.push(t, speech.Segment{Text: "tail", Final: true, Confidence: 1})
	require.Eventually(t, func() bool { return o.State().Draft == "edited tail" }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "edited tail", o.StopRecording())
}

func TestEditDuringInterimTranscript(t *testing.T) {
	rec := &pushRecognizer{}
	o := New(Options{Remote: newFakeRemote(), Capture: speech.NewCapture(rec, nil)})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	require.NoError(t, o.StartRecording(context.Background()))
	rec.push(t, speech.Segment{Text: "hello wor", Confidence: 0.5})
	require.Eventually(t, func() bool { return o.State().Draft == "hello wor" }, time.Second, 5*time.Millisecond)

	require.NoError(t, o.SetAnswer("edited"))
	assert.Equal(t, "edited", o.State().Draft)

	steps := []struct {
		seg  speech.Segment
		want string
	}{
		{speech.Segment{Text: "hello world", Confidence: 0.6}, "edited hello world"},
		{speech.Segment{Text: "hello ward", Confidence: 0.7}, "edited hello ward"},
		{speech.Segment{Text: "hello ward", Final: true, Confidence: 0.9}, "edited hello ward"},
		{speech.Segment{Text: "and more", Final: true, Confidence: 0.9}, "edited hello ward and more"},
	}
	for _, step := range steps {
		rec.push(t, step.seg)
		require.Eventually(t, func() bool { return o.State().Draft == step.want }, time.Second, 5*time.Millisecond,
			"after %q", step.seg.Text)
	}

	assert.Equal(t, "edited hello ward and more", o.StopRecording())
}

func TestStartRecordingTwice(t *testing.T) {
	rec := &pushRecognizer{}
	o := New(Options{Remote: newFakeRemote(), Capture: speech.NewCapture(rec, nil)})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	require.NoError(t, o.StartRecording(context.Background()))
	err = o.StartRecording(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyListening)

	// The first listening session keeps producing updates.
	rec.push(t, speech.Segment{Text: "still listening", Final: true, Confidence: 1})
	require.Eventually(t, func() bool { return o.State().Draft == "still listening" }, time.Second, 5*time.Millisecond)
	assert.True(t, o.State().Recording)
}

func TestStartRecordingUnsupported(t *testing.T) {
	o := New(Options{Remote: newFakeRemote(), Capture: speech.NewCapture(nil, nil)})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	err = o.StartRecording(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrRecognitionUnsupported)
	assert.True(t, apperrors.IsLocallyRecoverable(err))

	state := o.State()
	assert.Equal(t, StatusAwaitingAnswer, state.Status)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, apperrors.ErrCodeRecognitionUnsupported, state.Notices[0].Code)

	// Typing still works.
	require.NoError(t, o.SetAnswer("typed answer"))
	_, err = o.SubmitAnswer(context.Background(), "", nil)
	require.NoError(t, err)
}

func TestSubmitWhileRecordingStopsCapture(t *testing.T) {
	remote := newFakeRemote()
	rec := &pushRecognizer{}
	capture := speech.NewCapture(rec, nil)
	o := New(Options{Remote: remote, Capture: capture})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	require.NoError(t, o.StartRecording(context.Background()))
	rec.push(t, speech.Segment{Text: "spoken answer", Confidence: 0.7})
	require.Eventually(t, func() bool { return o.State().Draft == "spoken answer" }, time.Second, 5*time.Millisecond)

	_, err = o.SubmitAnswer(context.Background(), "", nil)
	require.NoError(t, err)
	assert.False(t, capture.Listening())
	assert.Equal(t, "spoken answer", remote.submits[0].AnswerText)
}

func TestCodingModeHasNoSpeechMetrics(t *testing.T) {
	remote := newFakeRemote()
	o := newTestOrchestrator(t, remote)
	cfg := backendConfig(1)
	cfg.Mode = types.ModeCoding

	_, err := o.Initialize(context.Background(), cfg)
	require.NoError(t, err)
	_, err = o.SubmitAnswer(context.Background(), "func main() {}", nil)
	require.NoError(t, err)

	require.Len(t, remote.submits, 1)
	assert.Nil(t, remote.submits[0].Metrics)
	assert.Equal(t, types.ModeCoding, remote.submits[0].Mode)

	step, err := o.Advance(context.Background())
	require.NoError(t, err)
	assert.True(t, step.Done())
}

func TestSpeaksQuestions(t *testing.T) {
	synth := &blockingSynth{}
	playback := speech.NewPlayback(synth, nil)
	o := New(Options{Remote: newFakeRemote(), Playback: playback, SpeakQuestions: true})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	assert.True(t, o.State().Speaking)
	require.Eventually(t, func() bool { return len(synth.texts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Question 1. Tell me about yourself.", synth.texts()[0])

	_, err = o.SubmitAnswer(context.Background(), "answer", nil)
	require.NoError(t, err)
	_, err = o.Advance(context.Background())
	require.NoError(t, err)

	// The new question cancels the old utterance.
	require.Eventually(t, func() bool { return len(synth.texts()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Question 2. Go on.", synth.texts()[1])

	o.StopSpeaking()
	assert.False(t, o.State().Speaking)
}

func TestRepeatQuestion(t *testing.T) {
	synth := &blockingSynth{}
	o := New(Options{Remote: newFakeRemote(), Playback: speech.NewPlayback(synth, nil)})
	defer o.Close()

	err := o.RepeatQuestion(context.Background())
	require.ErrorIs(t, err, apperrors.ErrInvalidState)

	_, err = o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	assert.Empty(t, synth.texts(), "questions are not spoken unless configured")

	require.NoError(t, o.RepeatQuestion(context.Background()))
	require.Eventually(t, func() bool { return len(synth.texts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Question 1. Tell me about yourself.", synth.texts()[0])

	_, err = o.SubmitAnswer(context.Background(), "answer", nil)
	require.NoError(t, err)
	require.ErrorIs(t, o.RepeatQuestion(context.Background()), apperrors.ErrInvalidState)
}

func TestRepeatQuestionWithoutPlayback(t *testing.T) {
	o := newTestOrchestrator(t, newFakeRemote())
	_, err := o.Initialize(context.Background(), backendConfig(1))
	require.NoError(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, o.RepeatQuestion(context.Background()), &appErr)
	assert.Equal(t, apperrors.ErrorTypeCapability, appErr.Type)
}

func TestMediaAcquiredAndReleasedOnClose(t *testing.T) {
	device := &fakeDevice{}
	acq := media.NewAcquirer(device, nil, nil)
	rec := &pushRecognizer{}
	capture := speech.NewCapture(rec, nil)
	playback := speech.NewPlayback(&blockingSynth{}, nil)
	o := New(Options{
		Remote:         newFakeRemote(),
		Media:          acq,
		Capture:        capture,
		Playback:       playback,
		SpeakQuestions: true,
	})

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)

	state := o.State()
	assert.True(t, state.MediaActive)
	assert.True(t, state.Camera)
	assert.True(t, state.Microphone)

	require.NoError(t, o.ToggleTrack(media.TrackVideo, false))
	assert.False(t, o.State().Camera)

	require.NoError(t, o.StartRecording(context.Background()))

	require.NoError(t, o.Close())
	require.Len(t, device.streams, 1)
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackVideo))
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackAudio))
	assert.Nil(t, acq.Current())
	assert.False(t, capture.Listening())
	assert.False(t, playback.Speaking())

	// Close is idempotent and operations are rejected afterwards.
	require.NoError(t, o.Close())
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackVideo))
	assert.ErrorIs(t, o.SetAnswer("late"), apperrors.ErrInvalidState)
}

func TestReleaseMediaKeepsSessionRunning(t *testing.T) {
	device := &fakeDevice{}
	acq := media.NewAcquirer(device, nil, nil)
	o := New(Options{Remote: newFakeRemote(), Media: acq})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	require.True(t, o.State().MediaActive)

	o.ReleaseMedia()
	state := o.State()
	assert.False(t, state.MediaActive)
	assert.Equal(t, StatusAwaitingAnswer, state.Status)
	assert.Nil(t, acq.Current())
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackVideo))
	assert.Error(t, o.ToggleTrack(media.TrackVideo, false), "the released handle cannot be toggled")

	// Releasing twice is harmless.
	o.ReleaseMedia()
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackVideo))

	require.NoError(t, o.AcquireMedia(context.Background()))
	require.Len(t, device.streams, 2)
	require.NoError(t, o.ToggleTrack(media.TrackVideo, false))
	assert.False(t, o.State().Camera)
}

func TestMediaFailureIsANotice(t *testing.T) {
	device := &fakeDevice{err: apperrors.ErrPermissionDenied}
	o := New(Options{Remote: newFakeRemote(), Media: media.NewAcquirer(device, nil, nil)})
	defer o.Close()

	state, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	assert.False(t, state.MediaActive)
	require.Len(t, state.Notices, 1)
	assert.Equal(t, apperrors.ErrCodePermissionDenied, state.Notices[0].Code)

	assert.ErrorIs(t, o.AcquireMedia(context.Background()), apperrors.ErrPermissionDenied)
	assert.Len(t, o.State().Notices, 1)
}

func TestCloseBeforeInitialize(t *testing.T) {
	o := New(Options{Remote: newFakeRemote()})
	require.NoError(t, o.Close())

	_, err := o.Initialize(context.Background(), backendConfig(2))
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestCompleteReleasesMedia(t *testing.T) {
	device := &fakeDevice{}
	acq := media.NewAcquirer(device, nil, nil)
	o := New(Options{Remote: newFakeRemote(), Media: acq})
	defer o.Close()

	_, err := o.Initialize(context.Background(), backendConfig(1))
	require.NoError(t, err)
	_, err = o.SubmitAnswer(context.Background(), "only answer", nil)
	require.NoError(t, err)
	step, err := o.Advance(context.Background())
	require.NoError(t, err)
	require.True(t, step.Done())

	assert.Nil(t, acq.Current())
	assert.Equal(t, 1, device.streams[0].stopCount(media.TrackAudio))
}

func TestMediaNoticeClearedAfterReacquire(t *testing.T) {
	device := &fakeDevice{err: apperrors.ErrDeviceUnavailable}
	o := New(Options{Remote: newFakeRemote(), Media: media.NewAcquirer(device, nil, nil)})
	defer o.Close()

	state, err := o.Initialize(context.Background(), backendConfig(2))
	require.NoError(t, err)
	require.Len(t, state.Notices, 1)

	device.err = nil
	require.NoError(t, o.AcquireMedia(context.Background()))
	current := o.State()
	state = &current
	assert.Empty(t, state.Notices)
	assert.True(t, state.MediaActive)
}

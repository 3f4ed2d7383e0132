package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prepai/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type recordingSink struct {
	pcm        []byte
	sampleRate int
}

func (r *recordingSink) Play(_ context.Context, pcm []byte, sampleRate int) error {
	r.pcm = pcm
	r.sampleRate = sampleRate
	return nil
}

func TestGeminiSynthesizerSpeak(t *testing.T) {
	sink := &recordingSink{}
	var gotText string
	g := newGeminiSynthesizer(func(_ context.Context, text string) ([]byte, error) {
		gotText = text
		return []byte{1, 2, 3, 4}, nil
	}, sink, config.GeminiConfig{Model: "tts", Voice: "Kore"}, nil)

	require.NoError(t, g.Speak(context.Background(), "Describe a hard bug."))
	assert.Equal(t, "Describe a hard bug.", gotText)
	assert.Equal(t, []byte{1, 2, 3, 4}, sink.pcm)
	assert.Equal(t, geminiSampleRate, sink.sampleRate)
}

func TestGeminiSynthesizerRetries(t *testing.T) {
	calls := 0
	g := newGeminiSynthesizer(func(context.Context, string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, genai.APIError{Code: 503, Message: "overloaded"}
		}
		return []byte{0, 0}, nil
	}, &recordingSink{}, config.GeminiConfig{MaxRetries: 2}, nil)

	require.NoError(t, g.Speak(context.Background(), "hi"))
	assert.Equal(t, 2, calls)
}

func TestGeminiSynthesizerNonRetryable(t *testing.T) {
	calls := 0
	g := newGeminiSynthesizer(func(context.Context, string) ([]byte, error) {
		calls++
		return nil, genai.APIError{Code: 400, Message: "bad voice"}
	}, &recordingSink{}, config.GeminiConfig{MaxRetries: 3}, nil)

	err := g.Speak(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExtractAudio(t *testing.T) {
	_, err := extractAudio(nil)
	assert.Error(t, err)

	_, err = extractAudio(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: "no audio"}}}}},
	})
	assert.Error(t, err)

	pcm, err := extractAudio(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: []byte{1, 2}, MIMEType: "audio/L16"}},
			{InlineData: &genai.Blob{Data: []byte{3, 4}, MIMEType: "audio/L16"}},
		}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, pcm)
}

func TestWAVFileSink(t *testing.T) {
	dir := t.TempDir()
	sink := &WAVFileSink{Dir: dir}
	pcm := make([]byte, 480) // 10ms at 24kHz

	require.NoError(t, sink.Play(context.Background(), pcm, geminiSampleRate))

	files, err := filepath.Glob(filepath.Join(dir, "*.wav"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	data, err := os.ReadFile(files[0])
	require.NoError(t, err)
	require.Len(t, data, 44+len(pcm))
	assert.Equal(t, "RIFF", string(data[0:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))
	assert.Equal(t, uint32(geminiSampleRate), binary.LittleEndian.Uint32(data[24:28]))
	assert.Equal(t, uint32(len(pcm)), binary.LittleEndian.Uint32(data[40:44]))
}

func TestWAVFileSinkCancel(t *testing.T) {
	sink := &WAVFileSink{}
	pcm := make([]byte, geminiSampleRate*bytesPerSample*60) // one minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := sink.Play(ctx, pcm, geminiSampleRate)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestClipDuration(t *testing.T) {
	assert.Equal(t, time.Second, clipDuration(make([]byte, 48000), 24000))
	assert.Equal(t, time.Duration(0), clipDuration([]byte{1, 2}, 0))
}

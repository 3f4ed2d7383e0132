package speech

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"prepai/internal/config"
	apperrors "prepai/internal/errors"
	"prepai/internal/resilience"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

// Gemini TTS returns 16-bit little-endian mono PCM at 24kHz.
const (
	geminiSampleRate = 24000
	bytesPerSample   = 2
)

// AudioSink plays raw PCM audio and returns when playback ends or ctx is
// cancelled.
type AudioSink interface {
	Play(ctx context.Context, pcm []byte, sampleRate int) error
}

// GeminiSynthesizer renders speech with a Gemini TTS model and hands the
// audio to a sink.
type GeminiSynthesizer struct {
	generate func(ctx context.Context, text string) ([]byte, error)
	sink     AudioSink
	cfg      config.GeminiConfig
	breaker  *resilience.CircuitBreaker[[]byte]
	logger   *apperrors.Logger
}

// NewGeminiSynthesizer creates a synthesizer backed by the Gemini API.
func NewGeminiSynthesizer(ctx context.Context, cfg config.GeminiConfig, sink AudioSink, logger *apperrors.Logger) (*GeminiSynthesizer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.NewConfigError(apperrors.ErrCodeMissingAPIKey, "failed to create Gemini client", err)
	}

	generate := func(ctx context.Context, text string) ([]byte, error) {
		resp, err := client.Models.GenerateContent(ctx, cfg.Model, genai.Text(text), &genai.GenerateContentConfig{
			ResponseModalities: []string{string(genai.ModalityAudio)},
			SpeechConfig: &genai.SpeechConfig{
				VoiceConfig: &genai.VoiceConfig{
					PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		return extractAudio(resp)
	}

	return newGeminiSynthesizer(generate, sink, cfg, logger), nil
}

func newGeminiSynthesizer(generate func(context.Context, string) ([]byte, error), sink AudioSink, cfg config.GeminiConfig, logger *apperrors.Logger) *GeminiSynthesizer {
	if sink == nil {
		sink = &WAVFileSink{}
	}
	return &GeminiSynthesizer{
		generate: generate,
		sink:     sink,
		cfg:      cfg,
		breaker:  resilience.NewCircuitBreaker[[]byte]("speech-gemini", cfg.CircuitBreaker, nil, logger),
		logger:   logger,
	}
}

// extractAudio concatenates the inline audio parts of the first candidate.
func extractAudio(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini returned no candidates")
	}
	var pcm []byte
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && part.InlineData != nil {
			pcm = append(pcm, part.InlineData.Data...)
		}
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("gemini returned no audio data")
	}
	return pcm, nil
}

// Speak synthesizes text and plays it through the sink.
func (g *GeminiSynthesizer) Speak(ctx context.Context, text string) error {
	tracer := otel.Tracer("prepai.speech.gemini")
	ctx, span := tracer.Start(ctx, "gemini.speak")
	defer span.End()
	span.SetAttributes(
		attribute.String("ai.model", g.cfg.Model),
		attribute.String("tts.voice", g.cfg.Voice),
		attribute.Int("tts.chars", len(text)),
	)

	genCtx := ctx
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	pcm, err := g.breaker.Execute(func() ([]byte, error) {
		return resilience.Retry(genCtx, "gemini.tts", g.cfg.MaxRetries, resilience.IsRetryableGoogleError, g.logger, func() ([]byte, error) {
			return g.generate(genCtx, text)
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "synthesis failed")
		return err
	}

	span.SetAttributes(attribute.Int("tts.audio_bytes", len(pcm)))
	return g.sink.Play(ctx, pcm, geminiSampleRate)
}

// WAVFileSink writes each clip to Dir as a WAV file, then waits for the
// clip's duration so callers observe realistic speaking time. With an empty
// Dir nothing is written.
type WAVFileSink struct {
	Dir    string
	Logger *apperrors.Logger
}

// Play implements AudioSink.
func (w *WAVFileSink) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if w.Dir != "" {
		path := filepath.Join(w.Dir, fmt.Sprintf("utterance-%d.wav", time.Now().UnixNano()))
		if err := writeWAV(path, pcm, sampleRate); err != nil {
			return err
		}
		w.Logger.Info("Speech audio written", "path", path, "bytes", len(pcm))
	}

	timer := time.NewTimer(clipDuration(pcm, sampleRate))
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func clipDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / bytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// writeWAV writes mono 16-bit PCM with a canonical 44-byte header.
func writeWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create audio file: %w", err)
	}
	defer f.Close()

	dataLen := uint32(len(pcm))
	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		36 + dataLen,
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(1), // PCM
		uint16(1), // mono
		uint32(sampleRate),
		uint32(sampleRate * bytesPerSample),
		uint16(bytesPerSample),
		uint16(8 * bytesPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataLen,
	}
	for _, field := range header {
		if err := binary.Write(f, binary.LittleEndian, field); err != nil {
			return fmt.Errorf("failed to write audio header: %w", err)
		}
	}
	if _, err := f.Write(pcm); err != nil {
		return fmt.Errorf("failed to write audio data: %w", err)
	}
	return nil
}

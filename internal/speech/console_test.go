package speech

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Segment) []Segment {
	t.Helper()
	var out []Segment
	timeout := time.After(time.Second)
	for {
		select {
		case seg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, seg)
		case <-timeout:
			t.Fatal("recognizer did not close its channel")
			return out
		}
	}
}

func TestLineRecognizerSessions(t *testing.T) {
	rec := NewLineRecognizer(strings.NewReader("first answer\n  more detail  \n\nsecond answer\n"))

	ch, err := rec.Listen(context.Background())
	require.NoError(t, err)
	segs := collect(t, ch)
	require.Len(t, segs, 2)
	assert.Equal(t, Segment{Text: "first answer", Confidence: 1, Final: true}, segs[0])
	assert.Equal(t, "more detail", segs[1].Text)

	ch, err = rec.Listen(context.Background())
	require.NoError(t, err)
	segs = collect(t, ch)
	require.Len(t, segs, 1)
	assert.Equal(t, "second answer", segs[0].Text)

	// EOF ends every later session immediately.
	ch, err = rec.Listen(context.Background())
	require.NoError(t, err)
	assert.Empty(t, collect(t, ch))
	assert.True(t, rec.Exhausted())
}

func TestLineRecognizerNotExhaustedBetweenAnswers(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	rec := NewLineRecognizer(pr)

	go func() { _, _ = pw.Write([]byte("one\n\n")) }()
	ch, err := rec.Listen(context.Background())
	require.NoError(t, err)
	require.Len(t, collect(t, ch), 1)
	assert.False(t, rec.Exhausted())
}

func TestLineRecognizerWithCapture(t *testing.T) {
	c := NewCapture(NewLineRecognizer(strings.NewReader("I built a cache\nand sharded it\n\n")), nil)

	s, err := c.Start(context.Background())
	require.NoError(t, err)
	<-s.Done()
	assert.Equal(t, "I built a cache and sharded it", s.Transcript())
}

func TestConsoleSynthesizer(t *testing.T) {
	var buf bytes.Buffer
	synth := &ConsoleSynthesizer{Writer: &buf, Prefix: "> "}

	require.NoError(t, synth.Speak(context.Background(), "Why Go?"))
	assert.Equal(t, "> Why Go?\n", buf.String())
}

func TestConsoleSynthesizerCancel(t *testing.T) {
	var buf bytes.Buffer
	synth := &ConsoleSynthesizer{Writer: &buf, WordsPerMinute: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := synth.Speak(ctx, "this would take minutes to read")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

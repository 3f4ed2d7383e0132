package speech

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// LineRecognizer treats typed lines as recognized speech. Each non-empty
// line is a final segment with full confidence; an empty line or EOF ends the
// listening session. The reader is shared across sessions.
type LineRecognizer struct {
	reader io.Reader

	once  sync.Once
	lines chan string
	eof   chan struct{}
}

// NewLineRecognizer reads lines from r.
func NewLineRecognizer(r io.Reader) *LineRecognizer {
	return &LineRecognizer{reader: r}
}

func (l *LineRecognizer) start() {
	l.lines = make(chan string)
	l.eof = make(chan struct{})
	go func() {
		defer close(l.lines)
		scanner := bufio.NewScanner(l.reader)
		for scanner.Scan() {
			l.lines <- scanner.Text()
		}
		close(l.eof)
	}()
}

// Exhausted reports whether the reader has reached EOF. Once it has, every
// session ends without segments.
func (l *LineRecognizer) Exhausted() bool {
	l.once.Do(l.start)
	select {
	case <-l.eof:
		return true
	default:
		return false
	}
}

// Listen forwards lines until an empty line, EOF or ctx cancellation.
func (l *LineRecognizer) Listen(ctx context.Context) (<-chan Segment, error) {
	l.once.Do(l.start)

	out := make(chan Segment)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-l.lines:
				if !ok {
					return
				}
				line = strings.TrimSpace(line)
				if line == "" {
					return
				}
				select {
				case out <- Segment{Text: line, Confidence: 1, Final: true}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// ConsoleSynthesizer prints utterances instead of speaking them. A non-zero
// WordsPerMinute holds Speak for roughly the time reading aloud would take.
type ConsoleSynthesizer struct {
	Writer         io.Writer
	Prefix         string
	WordsPerMinute int
}

// Speak writes text and waits for the simulated reading time.
func (c *ConsoleSynthesizer) Speak(ctx context.Context, text string) error {
	if _, err := fmt.Fprintf(c.Writer, "%s%s\n", c.Prefix, text); err != nil {
		return err
	}
	if c.WordsPerMinute <= 0 {
		return ctx.Err()
	}

	words := len(strings.Fields(text))
	wait := time.Duration(float64(words) / float64(c.WordsPerMinute) * float64(time.Minute))
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

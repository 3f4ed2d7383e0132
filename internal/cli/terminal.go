package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	apperrors "prepai/internal/errors"
	"prepai/internal/session"
	"prepai/internal/speech"
	"prepai/internal/types"
)

// terminalInterview drives one session from a terminal. Answers are read as
// typed lines: verbal answers go through speech capture so they are measured
// like speech, coding answers are collected directly.
type terminalInterview struct {
	orch    *session.Orchestrator
	capture *speech.Capture
	lines   *speech.LineRecognizer
	out     io.Writer

	// speak reads each question aloud and waits for it to finish
	speak bool
	// printQuestions writes the question text; off when the synthesizer
	// already prints it
	printQuestions bool
}

// run plays the session to the end and returns its report. If the input ends
// first the report covers the turns answered so far.
func (ti *terminalInterview) run(ctx context.Context, cfg types.InterviewConfig) (session.Report, error) {
	st, err := ti.orch.Initialize(ctx, cfg)
	if err != nil {
		return session.Report{}, err
	}
	ti.printNotices(st.Notices)

	for {
		st := ti.orch.State()
		ti.presentQuestion(ctx, st)

		answer, err := ti.readAnswer(ctx, st.Config.Mode)
		if err != nil {
			return session.Report{}, err
		}
		if answer == "" {
			if ti.lines.Exhausted() {
				fmt.Fprintln(ti.out, "\nInput closed, ending the interview early.")
				return ti.orch.Report(), nil
			}
			fmt.Fprintln(ti.out, "No answer captured, try again.")
			continue
		}

		fb, err := withRetry(ti, ctx, func() (*types.Feedback, error) {
			return ti.orch.SubmitAnswer(ctx, answer, nil)
		})
		if err != nil {
			return session.Report{}, err
		}
		ti.printFeedback(fb)

		step, err := withRetry(ti, ctx, func() (*session.Step, error) {
			return ti.orch.Advance(ctx)
		})
		if err != nil {
			return session.Report{}, err
		}
		if step.Done() {
			fmt.Fprintf(ti.out, "\nInterview complete: %s (%d/100)\n\n", step.Complete.Report.Tier, step.Complete.Report.OverallScore)
			return step.Complete.Report, nil
		}
	}
}

// withRetry re-runs a remote step each time the user presses Enter after a
// retryable failure. The session state is unchanged between attempts.
func withRetry[T any](ti *terminalInterview, ctx context.Context, op func() (T, error)) (T, error) {
	for {
		v, err := op()
		if err == nil || !apperrors.IsRetryable(err) {
			return v, err
		}
		fmt.Fprintf(ti.out, "! %s (press Enter)\n", apperrors.UserMessage(err))
		if !ti.waitForEnter(ctx) {
			return v, err
		}
	}
}

// waitForEnter consumes input up to the next empty line. It returns false
// when the input is closed or ctx is done.
func (ti *terminalInterview) waitForEnter(ctx context.Context) bool {
	segments, err := ti.lines.Listen(ctx)
	if err != nil {
		return false
	}
	for range segments {
	}
	return ctx.Err() == nil && !ti.lines.Exhausted()
}

func (ti *terminalInterview) presentQuestion(ctx context.Context, st session.State) {
	q := st.Question
	if q == nil {
		return
	}
	fmt.Fprintf(ti.out, "\n--- Question %d of %d ---\n", st.TurnIndex, st.Config.TurnLimit)
	if ti.printQuestions {
		fmt.Fprintln(ti.out, q.Title)
		fmt.Fprintln(ti.out, q.Description)
		if q.InputFormat != "" {
			fmt.Fprintf(ti.out, "Input: %s\n", q.InputFormat)
		}
		if q.OutputFormat != "" {
			fmt.Fprintf(ti.out, "Output: %s\n", q.OutputFormat)
		}
	}

	if !ti.speak {
		return
	}
	u, err := ti.orch.Speak(ctx, q.Title+". "+q.Description)
	if err == nil {
		err = u.Wait(ctx)
	}
	if err != nil {
		fmt.Fprintf(ti.out, "(could not read the question aloud: %s)\n", apperrors.UserMessage(err))
	}
}

func (ti *terminalInterview) readAnswer(ctx context.Context, mode types.Mode) (string, error) {
	if mode == types.ModeVerbal && ti.capture != nil {
		answer, err := ti.recordAnswer(ctx)
		if err == nil || !apperrors.IsLocallyRecoverable(err) {
			return answer, err
		}
		fmt.Fprintf(ti.out, "! %s\n", apperrors.UserMessage(err))
	}

	fmt.Fprintln(ti.out, "Type your answer, then an empty line to submit.")
	segments, err := ti.lines.Listen(ctx)
	if err != nil {
		return "", err
	}
	var parts []string
	for seg := range segments {
		parts = append(parts, seg.Text)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.Join(parts, "\n"), nil
}

// recordAnswer captures one listening session and returns the draft it left.
func (ti *terminalInterview) recordAnswer(ctx context.Context) (string, error) {
	stopped := make(chan struct{}, 1)
	unsubscribe := ti.capture.Subscribe(func(ev speech.Event) {
		if ev.Type == speech.EventListeningStopped {
			select {
			case stopped <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	fmt.Fprintln(ti.out, "Listening. Speak your answer, then an empty line to stop.")
	if err := ti.orch.StartRecording(ctx); err != nil {
		return "", err
	}

	select {
	case <-stopped:
	case <-ctx.Done():
		ti.orch.StopRecording()
		return "", ctx.Err()
	}
	return strings.TrimSpace(ti.orch.StopRecording()), nil
}

func (ti *terminalInterview) printFeedback(fb *types.Feedback) {
	fmt.Fprintln(ti.out, "\nFeedback:")
	if fb.ClarityScore != nil {
		fmt.Fprintf(ti.out, "  Clarity: %d/10\n", *fb.ClarityScore)
	}
	if fb.ConfidenceScore != nil {
		fmt.Fprintf(ti.out, "  Confidence: %d/10\n", *fb.ConfidenceScore)
	}
	if fb.Correctness != "" {
		fmt.Fprintf(ti.out, "  Correctness: %s\n", fb.Correctness)
	}
	if fb.TimeComplexity != "" {
		fmt.Fprintf(ti.out, "  Time complexity: %s\n", fb.TimeComplexity)
	}
	if fb.Commentary != "" {
		fmt.Fprintf(ti.out, "  %s\n", fb.Commentary)
	}
	ti.printNotices(ti.orch.State().Notices)
}

func (ti *terminalInterview) printNotices(notices []session.Notice) {
	for _, n := range notices {
		fmt.Fprintf(ti.out, "! %s\n", n.Message)
	}
}

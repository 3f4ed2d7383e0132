package cli

import (
	"context"
	"fmt"
	"io"

	"prepai/internal/api"
	"prepai/internal/common"
	"prepai/internal/config"
	"prepai/internal/errors"
	"prepai/internal/session"
	"prepai/internal/speech"
	"prepai/internal/types"

	"github.com/spf13/cobra"
)

var interviewCmd = &cobra.Command{
	Use:   "interview",
	Short: "Run a practice interview in the terminal",
	Long: `Run a mock interview in the terminal against the remote AI interviewer.

Questions are printed, or read aloud when the Gemini speech engine is
configured. Answers are typed; in verbal mode they go through speech capture
and are scored for pace and filler words like spoken answers. An empty line
submits the answer.

When the session ends a report is written in the selected format.`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		format, err := common.ResolveOutputFormat(interviewConfig.OutputFormat, cfg.App.DefaultFormat, cfg.App.SupportedFormats)
		if err != nil {
			return err
		}
		interviewConfig.OutputFormat = format
		return nil
	},
	RunE: runInterview,
}

var interviewConfig common.CommandConfig

var interviewFlags struct {
	role       string
	experience string
	focus      string
	intensity  int
	turns      int
	mode       string
	resumeFile string
}

func init() {
	flags := interviewCmd.Flags()
	flags.StringVar(&interviewFlags.role, "role", "", "Target role (default from config)")
	flags.StringVar(&interviewFlags.experience, "experience", "", "Experience level, e.g. Junior, Senior (default from config)")
	flags.StringVar(&interviewFlags.focus, "focus", "", "Focus area, e.g. system design (default from config)")
	flags.IntVar(&interviewFlags.intensity, "intensity", 0, "Question difficulty from 1 to 10 (default from config)")
	flags.IntVar(&interviewFlags.turns, "turns", 0, "Number of questions (default from config)")
	flags.StringVar(&interviewFlags.mode, "mode", "", "Interview mode: verbal or coding (default from config)")
	flags.StringVar(&interviewFlags.resumeFile, "resume", "", "Resume file used to personalize questions")
	flags.StringVarP(&interviewConfig.OutputFile, "output", "o", "", "Report file path (default: stdout)")
	flags.StringVar(&interviewConfig.OutputFormat, "format", "", "Report format: json, yaml, text, or markdown")

	_ = interviewCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return []string{}, cobra.ShellCompDirectiveError
		}
		return common.GetSupportedFormats(cfg.App.SupportedFormats), cobra.ShellCompDirectiveNoFileComp
	})
	_ = interviewCmd.RegisterFlagCompletionFunc("mode", cobra.FixedCompletions(
		[]string{string(types.ModeVerbal), string(types.ModeCoding)}, cobra.ShellCompDirectiveNoFileComp))
}

// sessionConfigFrom merges the interview flags over the configured defaults
// and loads the resume context.
func sessionConfigFrom(cfg *config.Config, logger *errors.Logger) (types.InterviewConfig, error) {
	ic := types.InterviewConfig{
		Role:            firstNonEmpty(interviewFlags.role, cfg.Interview.Role),
		ExperienceLevel: firstNonEmpty(interviewFlags.experience, cfg.Interview.Experience),
		FocusArea:       firstNonEmpty(interviewFlags.focus, cfg.Interview.Focus),
		Intensity:       cfg.Interview.Intensity,
		TurnLimit:       cfg.Interview.TurnLimit,
		Mode:            types.Mode(firstNonEmpty(interviewFlags.mode, cfg.Interview.Mode)),
	}
	if interviewFlags.intensity != 0 {
		ic.Intensity = interviewFlags.intensity
	}
	if interviewFlags.turns != 0 {
		ic.TurnLimit = interviewFlags.turns
	}

	if interviewFlags.resumeFile != "" {
		contents, err := common.NewFileProcessor(logger).
			WithMaxSize(cfg.App.MaxFileSize).
			ValidateAndReadFiles(interviewFlags.resumeFile)
		if err != nil {
			return ic, err
		}
		ic.ResumeContext = contents[0]
	}
	return ic, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newTerminalPlayback builds playback for the configured speech engine. It
// returns nil when speech output is disabled.
func newTerminalPlayback(ctx context.Context, cfg *config.Config, out io.Writer, logger *errors.Logger) (*speech.Playback, error) {
	switch cfg.Speech.Engine {
	case "console":
		return speech.NewPlayback(&speech.ConsoleSynthesizer{Writer: out, Prefix: "Interviewer: "}, logger), nil
	case "gemini":
		sink := &speech.WAVFileSink{Dir: cfg.Speech.Gemini.AudioDir, Logger: logger}
		synth, err := speech.NewGeminiSynthesizer(ctx, cfg.Speech.Gemini, sink, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create speech synthesizer: %w", err)
		}
		return speech.NewPlayback(synth, logger), nil
	default:
		return nil, nil
	}
}

func runInterview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := getConfigFromContext(ctx)
	if err != nil {
		return err
	}
	logger, err := getLoggerFromContext(ctx)
	if err != nil {
		return err
	}

	ic, err := sessionConfigFrom(cfg, logger)
	if err != nil {
		return err
	}

	auth, err := newSessionContext(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := auth.Close(); err != nil {
			logger.Warn("Failed to release API token source", "error", err)
		}
	}()

	out := cmd.OutOrStdout()
	playback, err := newTerminalPlayback(ctx, cfg, out, logger)
	if err != nil {
		return err
	}

	lines := speech.NewLineRecognizer(cmd.InOrStdin())
	var capture *speech.Capture
	if cfg.Speech.Engine != "none" {
		capture = speech.NewCapture(lines, logger)
	}

	orch := session.New(session.Options{
		Remote:   auth.NewClient(cfg.API, api.WithLogger(logger)),
		Capture:  capture,
		Playback: playback,
		Logger:   logger,
	})
	defer orch.Close()

	ti := &terminalInterview{
		orch:           orch,
		capture:        capture,
		lines:          lines,
		out:            out,
		speak:          playback != nil && cfg.Interview.SpeakQuestions,
		printQuestions: playback == nil || !cfg.Interview.SpeakQuestions || cfg.Speech.Engine != "console",
	}

	logger.Info("Starting interview",
		"role", ic.Role,
		"mode", ic.Mode,
		"turns", ic.TurnLimit,
		"resume_chars", len(ic.ResumeContext),
		"speech_engine", cfg.Speech.Engine)

	report, err := ti.run(ctx, ic)
	if err != nil {
		return fmt.Errorf("interview failed: %w", err)
	}

	handler := common.NewOutputHandler(logger)
	handler.Stdout = out
	if err := handler.HandleOutput(report, interviewConfig); err != nil {
		return err
	}
	logger.Info("Interview completed", "turns", report.Turns, "score", report.OverallScore, "tier", report.Tier)
	return nil
}

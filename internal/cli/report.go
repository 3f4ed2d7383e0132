package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"prepai/internal/common"
	"prepai/internal/session"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report [report-file]",
	Short: "Render a saved JSON report in another format",
	Long: `Render a report saved with 'prepai interview --format json' (or fetched
from the gateway) as text, markdown, yaml or json.

Scores, the readiness tier and averages are recomputed from the turn
history, so reports edited by hand stay consistent.`,
	Args: cobra.ExactArgs(1),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return err
		}
		format, err := common.ResolveOutputFormat(reportConfig.OutputFormat, cfg.App.DefaultFormat, cfg.App.SupportedFormats)
		if err != nil {
			return err
		}
		reportConfig.OutputFormat = format
		return nil
	},
	RunE: runReport,
}

var reportConfig common.CommandConfig

func init() {
	reportCmd.Flags().StringVarP(&reportConfig.OutputFile, "output", "o", "", "Output file path (default: stdout)")
	reportCmd.Flags().StringVar(&reportConfig.OutputFormat, "format", "", "Output format: json, yaml, text, or markdown")

	_ = reportCmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		cfg, err := getConfigFromContext(cmd.Context())
		if err != nil {
			return []string{}, cobra.ShellCompDirectiveError
		}
		return common.GetSupportedFormats(cfg.App.SupportedFormats), cobra.ShellCompDirectiveNoFileComp
	})
}

// parseReport decodes a saved report.
func parseReport(contents []string) (session.Report, error) {
	if len(contents) != 1 {
		return session.Report{}, fmt.Errorf("expected 1 file path, got %d", len(contents))
	}
	var r session.Report
	if err := json.Unmarshal([]byte(contents[0]), &r); err != nil {
		return session.Report{}, fmt.Errorf("not a JSON report: %w", err)
	}
	return r, nil
}

// recomputeReport rebuilds the derived fields from the history.
func recomputeReport(_ context.Context, saved session.Report) (session.Report, error) {
	r := session.BuildReport(saved.History)
	r.SessionID = saved.SessionID
	r.Config = saved.Config
	r.GeneratedAt = saved.GeneratedAt
	return r, nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := getLoggerFromContext(cmd.Context())
	if err != nil {
		return err
	}

	logger.Info("Rendering report", "file", args[0], "output_format", reportConfig.OutputFormat)

	err = common.FileCommand[session.Report, session.Report]{
		Logger:      logger,
		Config:      reportConfig,
		CreateInput: parseReport,
		Operation:   recomputeReport,
		Stdout:      cmd.OutOrStdout(),
		MaxFileSize: cfg.App.MaxFileSize,
	}.Run(cmd.Context(), args...)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

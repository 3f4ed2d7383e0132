package cli

import (
	"context"
	"fmt"

	"prepai/internal/api"
	"prepai/internal/config"
	"prepai/internal/errors"
	"prepai/internal/session"

	"github.com/spf13/cobra"
)

// Define custom private types for context keys.
type configKeyType struct{}
type loggerKeyType struct{}

// Use variables of these types as the keys.
var configKey = configKeyType{}
var loggerKey = loggerKeyType{}

var rootCmd = &cobra.Command{
	Use:   "prepai",
	Short: "Practice technical interviews with an AI interviewer",
	Long: `PrepAI runs mock technical interviews against a remote AI interviewer.
Questions can be read aloud, answers spoken or typed, and every answer is
scored. A session ends with a report of clarity, confidence and delivery.

Run an interview in the terminal with 'prepai interview', or start the
gateway for browser clients with 'prepai serve'.`,
	SilenceUsage: true,
}

func Execute(ctx context.Context, cfg *config.Config, logger *errors.Logger) error {
	// Attach the config and logger to the context, making them available to all subcommands
	ctx = context.WithValue(ctx, configKey, cfg)
	ctx = context.WithValue(ctx, loggerKey, logger)
	rootCmd.SetContext(ctx)
	return rootCmd.Execute()
}

func getConfigFromContext(ctx context.Context) (*config.Config, error) {
	if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
		return cfg, nil
	}
	return nil, fmt.Errorf("config not found in context")
}

func getLoggerFromContext(ctx context.Context) (*errors.Logger, error) {
	if logger, ok := ctx.Value(loggerKey).(*errors.Logger); ok {
		return logger, nil
	}
	return nil, fmt.Errorf("logger not found in context")
}

// newSessionContext builds the credential context for the remote API. A
// token file takes precedence over an inline token.
func newSessionContext(cfg *config.Config, logger *errors.Logger) (*session.Context, error) {
	var tokens api.TokenSource = api.StaticTokenSource(cfg.API.Token)
	if cfg.API.TokenFile != "" {
		fileTokens, err := api.NewFileTokenSource(cfg.API.TokenFile, cfg.API.WatchTokenFile, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load API token: %w", err)
		}
		tokens = fileTokens
	} else if cfg.API.Token == "" {
		logger.Warn("No remote API token configured, requests are sent unauthenticated")
	}

	return session.NewContext(tokens, func() {
		logger.Warn("Remote API rejected the token, sign in again and update the token")
	}), nil
}

func init() {
	rootCmd.AddCommand(interviewCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

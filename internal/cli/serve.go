package cli

import (
	"fmt"

	"prepai/internal/config"
	"prepai/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the interview gateway for browser clients",
	Long: `Start an HTTP gateway that runs interview sessions for browser clients.

Sessions are created and driven over REST; the browser attaches to
/sessions/{id}/live over a WebSocket to lend its camera, microphone,
speech recognition and speech synthesis to the session.

Available endpoints:
- POST /sessions: Start an interview
- GET /sessions/{id}: Session state
- PUT /sessions/{id}/answer: Edit the draft answer
- POST /sessions/{id}/submit: Submit the answer for feedback
- POST /sessions/{id}/advance: Load the next question or finish
- GET /sessions/{id}/report: Session report
- DELETE /sessions/{id}: End the session
- GET /health: Health check endpoint
- GET /stats: Server statistics and rate limiting info

TLS Configuration:
- Use --tls-mode to set TLS mode: disabled, server
- Use --cert-file and --key-file for TLS certificates`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("port", "p", "", "Port to listen on (default from config)")
	serveCmd.Flags().String("host", "", "Host to bind to (default from config)")
	serveCmd.Flags().String("tls-mode", "", "TLS mode: disabled, server (overrides config)")
	serveCmd.Flags().String("cert-file", "", "Server certificate file (PEM, overrides config)")
	serveCmd.Flags().String("key-file", "", "Server private key file (PEM, overrides config)")

	// Bind flags to viper config keys
	bindFlag := func(key, flagName string) {
		if err := serveFlags.BindPFlag(key, serveCmd.Flags().Lookup(flagName)); err != nil {
			panic(err)
		}
	}

	bindFlag("server.port", "port")
	bindFlag("server.host", "host")
	bindFlag("server.tls.mode", "tls-mode")
	bindFlag("server.tls.certFile", "cert-file")
	bindFlag("server.tls.keyFile", "key-file")
}

// serveFlags holds the serve flags under their config keys. A key is set
// only when its flag was given.
var serveFlags = viper.New()

// applyServeOverrides copies the flags the user set over the loaded config.
func applyServeOverrides(cfg *config.Config, flags *viper.Viper) {
	tls := &cfg.Server.TLS
	for key, target := range map[string]*string{
		"server.host":         &cfg.Server.Host,
		"server.port":         &cfg.Server.Port,
		"server.tls.mode":     &tls.Mode,
		"server.tls.certFile": &tls.CertFile,
		"server.tls.keyFile":  &tls.KeyFile,
	} {
		if flags.IsSet(key) {
			*target = flags.GetString(key)
		}
	}
	// A file given on the command line replaces inline content.
	if flags.IsSet("server.tls.certFile") {
		tls.CertContent = ""
	}
	if flags.IsSet("server.tls.keyFile") {
		tls.KeyContent = ""
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := getConfigFromContext(cmd.Context())
	if err != nil {
		return err
	}
	logger, err := getLoggerFromContext(cmd.Context())
	if err != nil {
		return err
	}

	applyServeOverrides(cfg, serveFlags)

	// Validate TLS configuration after applying overrides
	if err := cfg.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("invalid TLS configuration: %w", err)
	}

	auth, err := newSessionContext(cfg, logger)
	if err != nil {
		return err
	}

	srv := server.NewServer(cfg, server.ServerConfigFrom(cfg, Version), logger)
	srv.Auth = auth
	return srv.Start()
}

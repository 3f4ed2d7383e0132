package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"prepai/internal/config"
	"prepai/internal/errors"
	"prepai/internal/session"
	"prepai/internal/types"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromViper(viper.New())
	require.NoError(t, err)
	return cfg
}

func execute(t *testing.T, cfg *config.Config, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})

	logger := errors.NewLoggerWithWriter(slog.LevelError, io.Discard)
	err := Execute(context.Background(), cfg, logger)
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, testConfig(t), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "prepai version dev")
}

func TestReportCommand(t *testing.T) {
	history := []session.Turn{
		{
			Index:    1,
			Question: types.Question{Title: "Design a cache", Description: "Explain eviction."},
			Answer:   "LRU with a TTL",
			Feedback: types.Feedback{ClarityScore: types.IntPtr(9), ConfidenceScore: types.IntPtr(9), Commentary: "Great."},
		},
	}
	saved := session.Report{
		SessionID:    "remote-1",
		Config:       types.InterviewConfig{Role: "SRE", ExperienceLevel: "Senior", Mode: types.ModeCoding},
		OverallScore: 1,
		Tier:         "tampered",
		History:      history,
		GeneratedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(saved)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	want := session.BuildReport(history)

	out, err := execute(t, testConfig(t), "report", path, "--format", "markdown")
	require.NoError(t, err)
	assert.Contains(t, out, "# Interview Report")
	assert.Contains(t, out, "**Role:** SRE (Senior)")
	assert.Contains(t, out, want.Tier)
	assert.NotContains(t, out, "tampered")

	target := filepath.Join(t.TempDir(), "report.yaml")
	_, err = execute(t, testConfig(t), "report", path, "--format", "yaml", "--output", target)
	require.NoError(t, err)
	written, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(written), "session_id: remote-1")
	reportConfig.OutputFile = ""
}

func TestReportCommandRejectsUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := execute(t, testConfig(t), "report", path, "--format", "pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format 'pdf'")
}

func TestSessionConfigFrom(t *testing.T) {
	cfg := testConfig(t)
	resume := filepath.Join(t.TempDir(), "resume.md")
	require.NoError(t, os.WriteFile(resume, []byte("Ten years of Go."), 0o600))

	saved := interviewFlags
	t.Cleanup(func() { interviewFlags = saved })

	interviewFlags.focus = "distributed systems"
	interviewFlags.turns = 2
	interviewFlags.mode = "coding"
	interviewFlags.resumeFile = resume

	ic, err := sessionConfigFrom(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.Interview.Role, ic.Role)
	assert.Equal(t, "distributed systems", ic.FocusArea)
	assert.Equal(t, 2, ic.TurnLimit)
	assert.Equal(t, cfg.Interview.Intensity, ic.Intensity)
	assert.Equal(t, types.ModeCoding, ic.Mode)
	assert.Equal(t, "Ten years of Go.", ic.ResumeContext)

	interviewFlags.resumeFile = resume + ".missing"
	_, err = sessionConfigFrom(cfg, nil)
	assert.Error(t, err)
}

func TestApplyServeOverrides(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TLS.CertContent = "inline"

	flags := viper.New()
	flags.Set("server.port", "9443")
	flags.Set("server.tls.certFile", "/etc/prepai/tls.crt")

	applyServeOverrides(cfg, flags)
	assert.Equal(t, "9443", cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "/etc/prepai/tls.crt", cfg.Server.TLS.CertFile)
	assert.Empty(t, cfg.Server.TLS.CertContent)
}

func TestNewSessionContext(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Token = "inline-token"

	auth, err := newSessionContext(cfg, nil)
	require.NoError(t, err)
	token, err := auth.Tokens().Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "inline-token", token)
	require.NoError(t, auth.Close())

	cfg.API.TokenFile = filepath.Join(t.TempDir(), "missing-token")
	_, err = newSessionContext(cfg, nil)
	assert.Error(t, err)
}

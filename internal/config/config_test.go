package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadWith(t *testing.T, overrides map[string]any) (*Config, error) {
	t.Helper()
	v := viper.New()
	for key, value := range overrides {
		v.Set(key, value)
	}
	return LoadFromViper(v)
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := loadWith(t, nil)
	if err != nil {
		t.Fatalf("Expected defaults to validate, got %v", err)
	}

	if cfg.Interview.TurnLimit != 5 {
		t.Errorf("Expected default turn limit 5, got %d", cfg.Interview.TurnLimit)
	}
	if cfg.API.Submit.Path != "/api/interview/submit" {
		t.Errorf("Unexpected submit path %q", cfg.API.Submit.Path)
	}
	if got := cfg.API.OperationTimeout(cfg.API.Submit); got != 90*time.Second {
		t.Errorf("Expected submit timeout 90s, got %v", got)
	}
	if got := cfg.API.OperationTimeout(cfg.API.Start); got != 60*time.Second {
		t.Errorf("Expected start timeout to fall back to 60s, got %v", got)
	}
	if !cfg.API.Next.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker enabled by default")
	}
	if cfg.Observability.ServiceInstance == "" {
		t.Error("Expected generated service instance id")
	}
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		overrides map[string]any
		wantErr   string
	}{
		{"bad base url", map[string]any{"api.baseUrl": "ftp://example.com"}, "invalid remote API base URL"},
		{"zero turn limit", map[string]any{"interview.turnLimit": 0}, "turn limit"},
		{"intensity out of range", map[string]any{"interview.intensity": 11}, "intensity"},
		{"unknown mode", map[string]any{"interview.mode": "written"}, "invalid interview mode"},
		{"unknown engine", map[string]any{"speech.engine": "browser"}, "invalid speech engine"},
		{"gemini without key", map[string]any{"speech.engine": "gemini"}, "gemini API key is required"},
		{"unknown device", map[string]any{"media.device": "webcam"}, "invalid media device"},
		{"bad default format", map[string]any{"app.defaultFormat": "pdf"}, "invalid default format"},
		{"tls without cert", map[string]any{"server.tls.mode": "server"}, "TLS certificate and key are required"},
		{"unsupported tls mode", map[string]any{"server.tls.mode": "mutual"}, "invalid TLS mode"},
		{"bad breaker threshold", map[string]any{"api.start.circuitBreaker.failureThreshold": 1.5}, "api.start.circuitBreaker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "")
			_, err := loadWith(t, tt.overrides)
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGeminiKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	cfg, err := loadWith(t, map[string]any{"speech.engine": "gemini"})
	if err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	if cfg.Speech.Gemini.APIKey != "env-gemini" {
		t.Errorf("Expected GEMINI_API_KEY fallback, got %q", cfg.Speech.Gemini.APIKey)
	}
}

func TestServerAPIKeysFromCommaList(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{"server.apiKeys": []string{"a, b,c"}})
	if err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	if len(cfg.Server.APIKeys) != 3 || cfg.Server.APIKeys[1] != "b" {
		t.Errorf("Expected split keys, got %v", cfg.Server.APIKeys)
	}
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{"api.baseUrl": "https://api.example.com/"})
	if err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}
	if cfg.API.BaseURL != "https://api.example.com" {
		t.Errorf("Expected trimmed base URL, got %q", cfg.API.BaseURL)
	}
}

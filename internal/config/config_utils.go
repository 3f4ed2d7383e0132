package config

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// applyFallbacks applies environment variable fallbacks
func (c *Config) applyFallbacks() {
	c.applyServerAPIKeyFallbacks()
	c.applyGeminiKeyFallback()

	if c.Server.TLS.MinVersion == "" && c.Server.TLS.Mode != "disabled" {
		c.Server.TLS.MinVersion = "1.2"
	}
	if c.Observability.ServiceInstance == "" {
		c.Observability.ServiceInstance = generateServiceInstanceID(c.Observability.ServiceName)
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
}

// applyServerAPIKeyFallbacks reads comma-separated gateway keys from the
// environment when viper left the slice empty.
func (c *Config) applyServerAPIKeyFallbacks() {
	if len(c.Server.APIKeys) == 1 && strings.Contains(c.Server.APIKeys[0], ",") {
		c.Server.APIKeys = splitAndTrim(c.Server.APIKeys[0])
		return
	}
	if len(c.Server.APIKeys) == 0 {
		if apiKeysEnv := os.Getenv("PREPAI_SERVER_APIKEYS"); apiKeysEnv != "" {
			c.Server.APIKeys = splitAndTrim(apiKeysEnv)
		}
	}
}

// applyGeminiKeyFallback honors the conventional GEMINI_API_KEY variable.
func (c *Config) applyGeminiKeyFallback() {
	if c.Speech.Gemini.APIKey == "" {
		c.Speech.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
}

func splitAndTrim(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// generateServiceInstanceID generates a unique service instance ID
func generateServiceInstanceID(serviceName string) string {
	if hostname, err := os.Hostname(); err == nil {
		return fmt.Sprintf("%s-%s", serviceName, hostname)
	}
	return fmt.Sprintf("%s-1", serviceName)
}

// logConfigurationSources logs a summary of configuration sources being used
func (c *Config) logConfigurationSources(configFileUsed string) {
	log.Println("[CONFIG] === Configuration Sources Summary ===")

	if configFileUsed != "" {
		log.Printf("[CONFIG] Config file: %s", configFileUsed)
	} else {
		log.Println("[CONFIG] Config file: None (using defaults)")
	}

	envVars := []string{
		"PREPAI_API_BASEURL",
		"PREPAI_API_TOKEN",
		"PREPAI_API_TOKENFILE",
		"PREPAI_SPEECH_ENGINE",
		"PREPAI_SPEECH_GEMINI_APIKEY",
		"PREPAI_SERVER_PORT",
		"PREPAI_SERVER_HOST",
		"PREPAI_APP_LOGLEVEL",
		"PREPAI_VAULT_ENABLED",
		"GEMINI_API_KEY",
	}

	log.Println("[CONFIG] Environment variables:")
	hasEnvVars := false
	for _, envVar := range envVars {
		if value := os.Getenv(envVar); value != "" {
			if isSensitive(envVar) {
				log.Printf("[CONFIG]   %s=***MASKED***", envVar)
			} else {
				log.Printf("[CONFIG]   %s=%s", envVar, value)
			}
			hasEnvVars = true
		}
	}
	if !hasEnvVars {
		log.Println("[CONFIG]   None set")
	}

	log.Println("[CONFIG] === Key Configuration Values ===")
	log.Printf("[CONFIG] Remote API: %s", c.API.BaseURL)
	log.Printf("[CONFIG] API Token: %s", maskedState(c.API.Token != "" || c.API.TokenFile != ""))
	log.Printf("[CONFIG] Speech Engine: %s", c.Speech.Engine)
	if c.Speech.Engine == "gemini" {
		log.Printf("[CONFIG] Gemini API Key: %s", maskedState(c.Speech.Gemini.APIKey != ""))
	}
	log.Printf("[CONFIG] Turn Limit: %d", c.Interview.TurnLimit)
	log.Printf("[CONFIG] Server: %s:%s (TLS %s)", c.Server.Host, c.Server.Port, c.Server.TLS.Mode)
	log.Printf("[CONFIG] Log Level: %s", c.App.LogLevel)
	log.Printf("[CONFIG] Vault Enabled: %t", c.Vault.Enabled)
	log.Printf("[CONFIG] Observability Enabled: %t", c.Observability.Enabled)
	log.Println("[CONFIG] =====================================")
}

func isSensitive(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "key") || strings.Contains(lower, "token")
}

func maskedState(configured bool) string {
	if configured {
		return "***CONFIGURED***"
	}
	return "***NOT SET***"
}

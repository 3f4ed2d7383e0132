package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Application
	v.SetDefault("app.logLevel", "info")
	v.SetDefault("app.defaultFormat", "text")
	v.SetDefault("app.supportedFormats", []string{"json", "yaml", "text", "markdown"})
	v.SetDefault("app.maxFileSize", 1024*1024)

	// Remote interview API
	v.SetDefault("api.baseUrl", "http://localhost:5000")
	v.SetDefault("api.timeout", 60*time.Second)
	v.SetDefault("api.token", "")
	v.SetDefault("api.tokenFile", "")
	v.SetDefault("api.watchTokenFile", true)

	v.SetDefault("api.start.path", "/api/interview/initiate")
	v.SetDefault("api.submit.path", "/api/interview/submit")
	v.SetDefault("api.next.path", "/api/interview/next-question")
	// Answer review is the slowest remote call
	v.SetDefault("api.submit.timeout", 90*time.Second)

	for _, op := range []string{"start", "submit", "next"} {
		prefix := "api." + op + ".circuitBreaker."
		v.SetDefault(prefix+"enabled", true)
		v.SetDefault(prefix+"maxRequests", 1)
		v.SetDefault(prefix+"interval", 60*time.Second)
		v.SetDefault(prefix+"timeout", 30*time.Second)
		v.SetDefault(prefix+"minRequests", 3)
		v.SetDefault(prefix+"failureThreshold", 0.6)
	}

	// Interview defaults
	v.SetDefault("interview.role", "Software Engineer")
	v.SetDefault("interview.experience", "Mid-Level")
	v.SetDefault("interview.focus", "General")
	v.SetDefault("interview.intensity", 3)
	v.SetDefault("interview.turnLimit", 5)
	v.SetDefault("interview.mode", "verbal")
	v.SetDefault("interview.speakQuestions", true)

	// Speech engines
	v.SetDefault("speech.engine", "console")
	v.SetDefault("speech.gemini.apiKey", "")
	v.SetDefault("speech.gemini.model", "gemini-2.5-flash-preview-tts")
	v.SetDefault("speech.gemini.voice", "Kore")
	v.SetDefault("speech.gemini.timeout", 60*time.Second)
	v.SetDefault("speech.gemini.maxRetries", 2)
	v.SetDefault("speech.gemini.audioDir", "")
	v.SetDefault("speech.gemini.circuitBreaker.enabled", true)
	v.SetDefault("speech.gemini.circuitBreaker.maxRequests", 3)
	v.SetDefault("speech.gemini.circuitBreaker.interval", 60*time.Second)
	v.SetDefault("speech.gemini.circuitBreaker.timeout", 60*time.Second)
	v.SetDefault("speech.gemini.circuitBreaker.minRequests", 3)
	v.SetDefault("speech.gemini.circuitBreaker.failureThreshold", 0.6)

	// Media
	v.SetDefault("media.device", "none")

	// Gateway server
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 30*time.Second)
	v.SetDefault("server.writeTimeout", 120*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.sessionTtl", 30*time.Minute)
	v.SetDefault("server.maxRequestSize", 1024*1024)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.apiKeys", []string{})
	v.SetDefault("server.tls.mode", "disabled")
	v.SetDefault("server.tls.certFile", "")
	v.SetDefault("server.tls.keyFile", "")
	v.SetDefault("server.tls.minVersion", "1.2")

	v.SetDefault("server.rateLimit.enabled", true)
	v.SetDefault("server.rateLimit.requestsPerMin", 120)
	v.SetDefault("server.rateLimit.burstCapacity", 20)
	v.SetDefault("server.rateLimit.byIP", true)
	v.SetDefault("server.rateLimit.byAPIKey", false)
	v.SetDefault("server.rateLimit.window", time.Minute)

	// Vault
	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "")
	v.SetDefault("vault.token", "")
	v.SetDefault("vault.tokenFile", "")
	v.SetDefault("vault.namespace", "")
	v.SetDefault("vault.secrets.apiToken", "")
	v.SetDefault("vault.secrets.geminiKey", "")
	v.SetDefault("vault.secrets.apiKeys", "")

	// Observability
	v.SetDefault("observability.enabled", false)
	v.SetDefault("observability.serviceName", "prepai")
	v.SetDefault("observability.serviceVersion", "dev")
	v.SetDefault("observability.serviceInstance", "")
	v.SetDefault("observability.tracing.enabled", true)
	v.SetDefault("observability.tracing.sampleRate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.collectionInterval", 15*time.Second)
	v.SetDefault("observability.console.enabled", false)
	v.SetDefault("observability.console.prettyPrint", true)
	v.SetDefault("observability.prometheus.enabled", true)
	v.SetDefault("observability.prometheus.endpoint", "/metrics")
	v.SetDefault("observability.prometheus.port", "9090")
	v.SetDefault("observability.otlp.enabled", false)
	v.SetDefault("observability.otlp.endpoint", "http://localhost:4318")
	v.SetDefault("observability.otlp.insecure", true)
	v.SetDefault("observability.otlp.headers", map[string]string{})
}

package config

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
// Secret precedence order:
// 1. Vault (if configured) - Highest priority
// 2. Config File values
// 3. Environment Variables (PREPAI_API_TOKEN, etc.)
// 4. Default values - Lowest priority
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	API           APIConfig           `mapstructure:"api"`
	Interview     InterviewConfig     `mapstructure:"interview"`
	Speech        SpeechConfig        `mapstructure:"speech"`
	Media         MediaConfig         `mapstructure:"media"`
	Server        ServerConfig        `mapstructure:"server"`
	Vault         VaultConfig         `mapstructure:"vault"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// AppConfig holds general application configuration
type AppConfig struct {
	LogLevel         string   `mapstructure:"logLevel"`
	DefaultFormat    string   `mapstructure:"defaultFormat"`
	SupportedFormats []string `mapstructure:"supportedFormats"`
	MaxFileSize      int64    `mapstructure:"maxFileSize"`
}

// APIConfig describes the remote interview API
type APIConfig struct {
	BaseURL   string        `mapstructure:"baseUrl"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Token     string        `mapstructure:"token"`
	TokenFile string        `mapstructure:"tokenFile"`
	// WatchTokenFile reloads the token whenever the file changes on disk
	WatchTokenFile bool `mapstructure:"watchTokenFile"`

	Start  OperationConfig `mapstructure:"start"`
	Submit OperationConfig `mapstructure:"submit"`
	Next   OperationConfig `mapstructure:"next"`
}

// OperationConfig holds per-endpoint settings. A zero Timeout falls back to
// the API-wide timeout.
type OperationConfig struct {
	Path           string               `mapstructure:"path"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
}

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`          // Whether circuit breaker is enabled
	MaxRequests      uint32        `mapstructure:"maxRequests"`      // Max requests allowed when half-open
	Interval         time.Duration `mapstructure:"interval"`         // Interval to clear counts
	Timeout          time.Duration `mapstructure:"timeout"`          // Timeout for half-open to open
	MinRequests      uint32        `mapstructure:"minRequests"`      // Min requests before tripping
	FailureThreshold float64       `mapstructure:"failureThreshold"` // Failure ratio to trip (0.0-1.0)
}

// InterviewConfig holds defaults for new sessions
type InterviewConfig struct {
	Role       string `mapstructure:"role"`
	Experience string `mapstructure:"experience"`
	Focus      string `mapstructure:"focus"`
	Intensity  int    `mapstructure:"intensity"`
	TurnLimit  int    `mapstructure:"turnLimit"`
	Mode       string `mapstructure:"mode"`
	// SpeakQuestions reads each new question aloud through playback
	SpeakQuestions bool `mapstructure:"speakQuestions"`
}

// SpeechConfig selects the recognition and synthesis engines
type SpeechConfig struct {
	Engine string       `mapstructure:"engine"` // console, gemini, none
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig configures the Gemini text-to-speech engine
type GeminiConfig struct {
	APIKey         string               `mapstructure:"apiKey"`
	Model          string               `mapstructure:"model"`
	Voice          string               `mapstructure:"voice"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	MaxRetries     int                  `mapstructure:"maxRetries"`
	AudioDir       string               `mapstructure:"audioDir"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuitBreaker"`
}

// MediaConfig selects the camera/microphone backend
type MediaConfig struct {
	Device string `mapstructure:"device"` // none, gateway
}

// ServerConfig holds gateway HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout  time.Duration `mapstructure:"idleTimeout"`

	// SessionTTL reaps sessions that saw no request for this long
	SessionTTL     time.Duration `mapstructure:"sessionTtl"`
	MaxRequestSize int64         `mapstructure:"maxRequestSize"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`

	TLS TLSConfig `mapstructure:"tls"`

	// Valid API keys for gateway clients
	APIKeys []string `mapstructure:"apiKeys"`

	RateLimit RateLimitConfig `mapstructure:"rateLimit"`
}

// TLSConfig holds gateway TLS configuration
type TLSConfig struct {
	Mode     string `mapstructure:"mode"` // disabled, server
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`

	// Certificate content (used when loaded from Vault instead of files)
	CertContent string `mapstructure:"certContent"`
	KeyContent  string `mapstructure:"keyContent"`

	MinVersion string `mapstructure:"minVersion"` // "1.2", "1.3"
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `mapstructure:"enabled"`        // Enable/disable rate limiting
	RequestsPerMin int           `mapstructure:"requestsPerMin"` // Requests allowed per minute
	BurstCapacity  int           `mapstructure:"burstCapacity"`  // Burst capacity for token bucket
	ByIP           bool          `mapstructure:"byIP"`           // Enable per-IP rate limiting
	ByAPIKey       bool          `mapstructure:"byAPIKey"`       // Enable per-API-key rate limiting
	Window         time.Duration `mapstructure:"window"`         // Idle limiter cleanup window
}

// ObservabilityConfig holds observability configuration
type ObservabilityConfig struct {
	Enabled         bool             `mapstructure:"enabled"`
	ServiceName     string           `mapstructure:"serviceName"`
	ServiceVersion  string           `mapstructure:"serviceVersion"`
	ServiceInstance string           `mapstructure:"serviceInstance"`
	Tracing         TracingConfig    `mapstructure:"tracing"`
	Metrics         MetricsConfig    `mapstructure:"metrics"`
	Console         ConsoleConfig    `mapstructure:"console"`
	Prometheus      PrometheusConfig `mapstructure:"prometheus"`
	OTLP            OTLPConfig       `mapstructure:"otlp"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	SampleRate float64 `mapstructure:"sampleRate"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	CollectionInterval time.Duration `mapstructure:"collectionInterval"`
}

// ConsoleConfig holds console exporter configuration
type ConsoleConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	PrettyPrint bool `mapstructure:"prettyPrint"`
}

// PrometheusConfig holds Prometheus configuration
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
	Port     string `mapstructure:"port"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	Endpoint string            `mapstructure:"endpoint"`
	Insecure bool              `mapstructure:"insecure"`
	Headers  map[string]string `mapstructure:"headers"`
}

// LoadConfig loads configuration from defaults, a config file and the
// environment.
func LoadConfig() (*Config, error) {
	log.Println("[CONFIG] Starting configuration loading process")

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PREPAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/prepai/")
	v.AddConfigPath("$HOME/.prepai")
	v.AddConfigPath(".")

	configFileUsed := ""
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Println("[CONFIG] No config file found, using defaults and environment variables")
	} else {
		configFileUsed = v.ConfigFileUsed()
		log.Printf("[CONFIG] Successfully loaded config file: %s", configFileUsed)
	}

	return decode(v, configFileUsed)
}

// LoadFromViper builds a Config from an already populated viper instance.
// Defaults are applied for keys the instance does not set.
func LoadFromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	return decode(v, v.ConfigFileUsed())
}

func decode(v *viper.Viper, configFileUsed string) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyFallbacks()
	config.logConfigurationSources(configFileUsed)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log.Println("[CONFIG] Configuration loading completed successfully")
	return &config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("remote API base URL is required (set PREPAI_API_BASEURL)")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid remote API base URL: %s", c.API.BaseURL)
	}

	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	for name, op := range map[string]OperationConfig{"start": c.API.Start, "submit": c.API.Submit, "next": c.API.Next} {
		if op.Path == "" {
			return fmt.Errorf("api.%s.path is required", name)
		}
		if err := validateCircuitBreaker(op.CircuitBreaker); err != nil {
			return fmt.Errorf("api.%s.circuitBreaker: %w", name, err)
		}
	}

	if c.Interview.TurnLimit < 1 {
		return fmt.Errorf("interview turn limit must be at least 1")
	}
	if c.Interview.Intensity < 1 || c.Interview.Intensity > 10 {
		return fmt.Errorf("interview intensity must be between 1 and 10")
	}
	switch c.Interview.Mode {
	case "verbal", "coding":
	default:
		return fmt.Errorf("invalid interview mode: %s (must be 'verbal' or 'coding')", c.Interview.Mode)
	}

	switch c.Speech.Engine {
	case "console", "none":
	case "gemini":
		if c.Speech.Gemini.APIKey == "" {
			return fmt.Errorf("gemini API key is required for the gemini speech engine (set PREPAI_SPEECH_GEMINI_APIKEY)")
		}
		if err := validateCircuitBreaker(c.Speech.Gemini.CircuitBreaker); err != nil {
			return fmt.Errorf("speech.gemini.circuitBreaker: %w", err)
		}
	default:
		return fmt.Errorf("invalid speech engine: %s (must be 'console', 'gemini', or 'none')", c.Speech.Engine)
	}

	switch c.Media.Device {
	case "none", "gateway":
	default:
		return fmt.Errorf("invalid media device: %s (must be 'none' or 'gateway')", c.Media.Device)
	}

	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RequestsPerMin <= 0 || c.Server.RateLimit.BurstCapacity <= 0) {
		return fmt.Errorf("rate limit requestsPerMin and burstCapacity must be positive when enabled")
	}

	validFormats := make(map[string]bool)
	for _, format := range c.App.SupportedFormats {
		validFormats[format] = true
	}
	if !validFormats[c.App.DefaultFormat] {
		return fmt.Errorf("invalid default format: %s", c.App.DefaultFormat)
	}

	if err := c.ValidateTLSConfig(); err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	return nil
}

func validateCircuitBreaker(cb CircuitBreakerConfig) error {
	if !cb.Enabled {
		return nil
	}
	if cb.FailureThreshold <= 0 || cb.FailureThreshold > 1 {
		return fmt.Errorf("failureThreshold must be in (0, 1]")
	}
	if cb.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// OperationTimeout returns the effective timeout of an API operation
func (c *APIConfig) OperationTimeout(op OperationConfig) time.Duration {
	if op.Timeout > 0 {
		return op.Timeout
	}
	return c.Timeout
}

// ValidateTLSConfig validates the gateway TLS configuration
func (c *Config) ValidateTLSConfig() error {
	tls := c.Server.TLS

	switch tls.Mode {
	case "disabled":
		return nil
	case "server":
		if (tls.CertFile == "" && tls.CertContent == "") || (tls.KeyFile == "" && tls.KeyContent == "") {
			return fmt.Errorf("TLS certificate and key are required for server mode (provide either files or content)")
		}
		if tls.CertFile != "" && tls.CertContent != "" {
			return fmt.Errorf("cannot specify both certFile and certContent - choose one")
		}
		if tls.KeyFile != "" && tls.KeyContent != "" {
			return fmt.Errorf("cannot specify both keyFile and keyContent - choose one")
		}
	default:
		return fmt.Errorf("invalid TLS mode: %s (must be 'disabled' or 'server')", tls.Mode)
	}

	switch tls.MinVersion {
	case "", "1.2", "1.3":
	default:
		return fmt.Errorf("invalid TLS minVersion: %s (must be '1.2' or '1.3')", tls.MinVersion)
	}

	return nil
}

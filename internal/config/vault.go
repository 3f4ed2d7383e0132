package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"prepai/internal/errors"

	"github.com/hashicorp/vault/api"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"`
	Namespace string `mapstructure:"namespace"`

	Secrets VaultSecrets `mapstructure:"secrets"`
}

// VaultSecrets defines the KVv2 paths secrets are read from. Empty paths are
// skipped.
type VaultSecrets struct {
	// APIToken holds the remote interview API bearer token under key "token"
	APIToken string `mapstructure:"apiToken"`
	// GeminiKey holds the Gemini key under key "api_key"
	GeminiKey string `mapstructure:"geminiKey"`
	// APIKeys holds comma-separated gateway keys under key "keys"
	APIKeys string `mapstructure:"apiKeys"`
	// TLSCerts holds PEM content under keys "cert" and "key"
	TLSCerts string `mapstructure:"tlsCerts"`
}

// secretReader is the part of VaultClient the loaders need.
type secretReader interface {
	GetSecretV2(path string) (*VaultSecret, error)
	GetStringSecret(path, key string) (string, error)
	GetStringSliceSecret(path, key string) ([]string, error)
}

// VaultClient wraps the Vault API client
type VaultClient struct {
	client *api.Client
	config VaultConfig
	logger *errors.Logger
}

// NewVaultClient creates a new Vault client from configuration. It returns
// nil, nil when Vault is disabled.
func NewVaultClient(config VaultConfig, logger *errors.Logger) (*VaultClient, error) {
	if !config.Enabled {
		logger.Debug("Vault integration disabled")
		return nil, nil
	}

	vaultConfig := api.DefaultConfig()
	if config.Address != "" {
		vaultConfig.Address = config.Address
	}
	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}

	token, err := resolveVaultToken(config)
	if err != nil {
		return nil, err
	}
	client.SetToken(token)

	health, err := client.Sys().Health()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vault: %w", err)
	}
	logger.Info("Connected to Vault",
		"address", vaultConfig.Address,
		"version", health.Version,
		"sealed", health.Sealed)

	return &VaultClient{client: client, config: config, logger: logger}, nil
}

// resolveVaultToken resolves the Vault token from config or file
func resolveVaultToken(config VaultConfig) (string, error) {
	token := config.Token

	if token == "" && config.TokenFile != "" {
		tokenBytes, err := os.ReadFile(config.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read vault token file: %w", err)
		}
		token = strings.TrimSpace(string(tokenBytes))
	}

	if token == "" {
		return "", fmt.Errorf("vault token is required when vault is enabled")
	}
	return token, nil
}

// VaultSecret represents a secret read from Vault's KVv2 engine.
type VaultSecret struct {
	Data    map[string]any
	Version int64
}

// GetSecretV2 retrieves a secret from a Vault KVv2 store.
func (vc *VaultClient) GetSecretV2(path string) (*VaultSecret, error) {
	if vc == nil {
		return nil, fmt.Errorf("vault client not initialized")
	}

	secret, err := vc.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("secret not found at path: %s", path)
	}
	return decodeKV2(secret.Data, path)
}

// decodeKV2 unpacks the data and metadata envelopes of a KVv2 read.
func decodeKV2(raw map[string]any, path string) (*VaultSecret, error) {
	data, ok := raw["data"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'data' field)", path)
	}
	metadata, ok := raw["metadata"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("secret at %s is not in KVv2 format (missing 'metadata' field)", path)
	}
	versionRaw, ok := metadata["version"]
	if !ok {
		return nil, fmt.Errorf("secret metadata at %s is missing 'version' field", path)
	}
	version, err := parseVersionValue(versionRaw, path)
	if err != nil {
		return nil, err
	}
	return &VaultSecret{Data: data, Version: version}, nil
}

// parseVersionValue parses version value from various types
func parseVersionValue(versionRaw any, path string) (int64, error) {
	switch v := versionRaw.(type) {
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		version, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("could not parse secret version at %s: %w", path, err)
		}
		return version, nil
	default:
		return 0, fmt.Errorf("unexpected type for version at %s: %T", path, versionRaw)
	}
}

// GetStringSecret retrieves a string value from a Vault secret
func (vc *VaultClient) GetStringSecret(path, key string) (string, error) {
	secret, err := vc.GetSecretV2(path)
	if err != nil {
		return "", err
	}
	return stringValue(secret, path, key)
}

func stringValue(secret *VaultSecret, path, key string) (string, error) {
	value, ok := secret.Data[key]
	if !ok {
		return "", fmt.Errorf("key '%s' not found in secret %s", key, path)
	}
	strValue, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value for key '%s' is not a string in secret %s", key, path)
	}
	return strValue, nil
}

// GetStringSliceSecret retrieves a comma-separated string as a slice from Vault
func (vc *VaultClient) GetStringSliceSecret(path, key string) ([]string, error) {
	value, err := vc.GetStringSecret(path, key)
	if err != nil {
		return nil, err
	}
	return splitAndTrim(value), nil
}

// ApplyVaultSecrets loads secrets from Vault and applies them to the config
func ApplyVaultSecrets(config *Config, logger *errors.Logger) error {
	if !config.Vault.Enabled {
		logger.Debug("Vault integration disabled, skipping secret loading")
		return nil
	}

	client, err := NewVaultClient(config.Vault, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize vault client: %w", err)
	}
	if client == nil {
		return nil
	}
	if err := applySecrets(client, config, logger); err != nil {
		return err
	}
	return config.Validate()
}

// applySecrets overrides config values with whatever the configured paths hold.
func applySecrets(reader secretReader, config *Config, logger *errors.Logger) error {
	paths := config.Vault.Secrets

	if paths.APIToken != "" {
		token, err := reader.GetStringSecret(paths.APIToken, "token")
		if err != nil {
			return fmt.Errorf("failed to load API token from vault: %w", err)
		}
		if token != "" {
			config.API.Token = token
			logger.Info("Remote API token loaded from Vault")
		}
	}

	if paths.GeminiKey != "" {
		key, err := reader.GetStringSecret(paths.GeminiKey, "api_key")
		if err != nil {
			return fmt.Errorf("failed to load Gemini API key from vault: %w", err)
		}
		if key != "" {
			config.Speech.Gemini.APIKey = key
			logger.Info("Gemini API key loaded from Vault")
		}
	}

	if paths.APIKeys != "" {
		keys, err := reader.GetStringSliceSecret(paths.APIKeys, "keys")
		if err != nil {
			return fmt.Errorf("failed to load gateway API keys from vault: %w", err)
		}
		if len(keys) > 0 {
			config.Server.APIKeys = keys
			logger.Info("Gateway API keys loaded from Vault", "count", len(keys))
		} else {
			logger.Warn("No gateway API keys found in Vault", "path", paths.APIKeys)
		}
	}

	if paths.TLSCerts != "" {
		secret, err := reader.GetSecretV2(paths.TLSCerts)
		if err != nil {
			return fmt.Errorf("failed to load TLS certificates from vault: %w", err)
		}
		if cert, ok := secret.Data["cert"].(string); ok && cert != "" {
			config.Server.TLS.CertContent = cert
			config.Server.TLS.CertFile = ""
		}
		if key, ok := secret.Data["key"].(string); ok && key != "" {
			config.Server.TLS.KeyContent = key
			config.Server.TLS.KeyFile = ""
		}
		logger.Info("TLS certificates loaded from Vault", "version", secret.Version)
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured for a provider.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider names with API keys.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderTavily    = "tavily"
)

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

var keyEnvVars = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderTavily:    "TAVILY_API_KEY",
}

// GetAPIKey returns the key for provider and where it came from.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config, provider string) (string, KeySource, error) {
	envVar, ok := keyEnvVars[provider]
	if !ok {
		return "", KeySourceNone, fmt.Errorf("unknown provider %q", provider)
	}
	if key := os.Getenv(envVar); key != "" {
		return key, KeySourceEnv, nil
	}

	if key := configuredKey(cfg, provider); key != "" {
		// Expand any remaining env var references
		key = os.ExpandEnv(key)
		if key != "" && !strings.HasPrefix(key, "${") {
			return key, KeySourceConfig, nil
		}
	}

	return "", KeySourceNone, fmt.Errorf("%w for %s (set %s)", ErrNoAPIKey, provider, envVar)
}

func configuredKey(cfg *Config, provider string) string {
	if cfg == nil {
		return ""
	}
	switch provider {
	case ProviderOpenAI:
		return cfg.OpenAI.APIKey
	case ProviderAnthropic:
		return cfg.Anthropic.APIKey
	case ProviderTavily:
		return cfg.Search.TavilyAPIKey
	}
	return ""
}

// ValidateAPIKey performs basic format validation on a provider key.
// It does not verify the key with the provider.
func ValidateAPIKey(provider, key string) error {
	if key == "" {
		return ErrNoAPIKey
	}

	var prefix string
	switch provider {
	case ProviderOpenAI:
		prefix = "sk-"
	case ProviderAnthropic:
		prefix = "sk-ant-"
	case ProviderTavily:
		prefix = "tvly-"
	default:
		return fmt.Errorf("unknown provider %q", provider)
	}
	if !strings.HasPrefix(key, prefix) {
		return fmt.Errorf("invalid %s API key format: expected %q prefix", provider, prefix)
	}

	// Keys should be reasonably long
	if len(key) < 20 {
		return errors.New("invalid API key format: key too short")
	}

	return nil
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and the last 4.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}

	if len(key) <= 15 {
		return "***"
	}

	return key[:7] + "..." + key[len(key)-4:]
}

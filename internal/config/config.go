// Package config handles configuration loading and management for rosterbuild.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	appName           = "rosterbuild"
	projectConfigName = ".rosterbuild.yaml"
	envPrefix         = "ROSTERBUILD"
)

// ErrNoConfigFile is returned by Watch when no config file exists to watch.
var ErrNoConfigFile = errors.New("no config file to watch")

// ErrUnknownKey is returned by SetKey for keys the config does not define.
var ErrUnknownKey = errors.New("unknown config key")

// Config holds all configuration for rosterbuild.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Models    ModelsConfig    `mapstructure:"models"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Search    SearchConfig    `mapstructure:"search"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Prompts   PromptsConfig   `mapstructure:"prompts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// PipelineConfig holds run envelope settings.
type PipelineConfig struct {
	// Deadline bounds a whole run.
	Deadline time.Duration `mapstructure:"deadline"`
	// StageTimeout bounds each stage. Zero disables the per-stage bound.
	StageTimeout time.Duration `mapstructure:"stage_timeout"`
	// FailureLimit caps the cause text kept in a degraded placeholder.
	FailureLimit int `mapstructure:"failure_limit"`
}

// CacheConfig holds memoizing cache settings.
type CacheConfig struct {
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	AnalysisTTL time.Duration `mapstructure:"analysis_ttl"`
	SweepEvery  int           `mapstructure:"sweep_every"`
}

// ModelsConfig holds provider selection and circuit breaker settings.
type ModelsConfig struct {
	Default         string        `mapstructure:"default"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// OpenAIConfig holds OpenAI-compatible endpoint settings.
type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	MaxTokens  int    `mapstructure:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// SearchConfig holds web search settings.
type SearchConfig struct {
	TavilyAPIKey string `mapstructure:"tavily_api_key"`
	MaxResults   int    `mapstructure:"max_results"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// PromptsConfig points at an optional prompt catalogue overlay.
type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (OPENAI_API_KEY, ANTHROPIC_API_KEY, TAVILY_API_KEY, ROSTERBUILD_*)
// 2. Project config (.rosterbuild.yaml in current directory or parent)
// 3. User config (~/.config/rosterbuild/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. Environment
// variables still take precedence over the file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references in secrets
	cfg.OpenAI.APIKey = expandEnv(cfg.OpenAI.APIKey)
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Search.TavilyAPIKey = expandEnv(cfg.Search.TavilyAPIKey)

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider conventions win over the prefixed names.
	_ = v.BindEnv("openai.api_key", "OPENAI_API_KEY", envPrefix+"_OPENAI_API_KEY")
	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY", envPrefix+"_ANTHROPIC_API_KEY")
	_ = v.BindEnv("search.tavily_api_key", "TAVILY_API_KEY", envPrefix+"_SEARCH_TAVILY_API_KEY")
}

// Validate reports settings that would make the service unusable.
func (c *Config) Validate() error {
	var errs []error
	if c.Pipeline.Deadline <= 0 {
		errs = append(errs, errors.New("pipeline.deadline must be positive"))
	}
	if c.Pipeline.StageTimeout < 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must not be negative"))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.default_ttl must be positive"))
	}
	if c.Cache.AnalysisTTL <= 0 {
		errs = append(errs, errors.New("cache.analysis_ttl must be positive"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Models.Default == "" {
		errs = append(errs, errors.New("models.default is required"))
	}
	return errors.Join(errs...)
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	return SaveTo(GetUserConfigPath(), cfg)
}

// SaveTo writes the configuration to path, creating parent directories.
func SaveTo(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)

	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.shutdown_timeout", cfg.Server.ShutdownTimeout.String())
	v.Set("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.Set("pipeline.deadline", cfg.Pipeline.Deadline.String())
	v.Set("pipeline.stage_timeout", cfg.Pipeline.StageTimeout.String())
	v.Set("pipeline.failure_limit", cfg.Pipeline.FailureLimit)
	v.Set("cache.default_ttl", cfg.Cache.DefaultTTL.String())
	v.Set("cache.analysis_ttl", cfg.Cache.AnalysisTTL.String())
	v.Set("cache.sweep_every", cfg.Cache.SweepEvery)
	v.Set("models.default", cfg.Models.Default)
	v.Set("models.breaker_failures", cfg.Models.BreakerFailures)
	v.Set("models.breaker_cooldown", cfg.Models.BreakerCooldown.String())
	v.Set("openai.api_key", cfg.OpenAI.APIKey)
	v.Set("openai.base_url", cfg.OpenAI.BaseURL)
	v.Set("openai.model", cfg.OpenAI.Model)
	v.Set("openai.max_tokens", cfg.OpenAI.MaxTokens)
	v.Set("openai.timeout", cfg.OpenAI.Timeout.String())
	v.Set("ollama.base_url", cfg.Ollama.BaseURL)
	v.Set("ollama.model", cfg.Ollama.Model)
	v.Set("ollama.timeout", cfg.Ollama.Timeout.String())
	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.max_tokens", cfg.Anthropic.MaxTokens)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("search.tavily_api_key", cfg.Search.TavilyAPIKey)
	v.Set("search.max_results", cfg.Search.MaxResults)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("logging.file", cfg.Logging.File)
	v.Set("prompts.path", cfg.Prompts.Path)

	return v.WriteConfig()
}

// Keys returns every known config key, sorted.
func Keys() []string {
	v := viper.New()
	setDefaults(v)
	keys := v.AllKeys()
	sort.Strings(keys)
	return keys
}

// SetKey updates a single key in the config file at path, keeping the rest.
func SetKey(path, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	known := false
	for _, k := range Keys() {
		if k == key {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config from %s: %w", path, err)
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if key == "server.allowed_origins" {
		v.Set(key, splitList(value))
	} else {
		v.Set(key, value)
	}
	return v.WriteConfig()
}

// GetKey returns the value of key in cfg. API keys are masked.
func GetKey(cfg *Config, key string) (any, error) {
	v := viper.New()
	if err := v.MergeConfigMap(settingsOf(cfg)); err != nil {
		return nil, err
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if !v.IsSet(key) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return v.Get(key), nil
}

func settingsOf(cfg *Config) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"addr":             cfg.Server.Addr,
			"shutdown_timeout": cfg.Server.ShutdownTimeout.String(),
			"allowed_origins":  cfg.Server.AllowedOrigins,
		},
		"pipeline": map[string]any{
			"deadline":      cfg.Pipeline.Deadline.String(),
			"stage_timeout": cfg.Pipeline.StageTimeout.String(),
			"failure_limit": cfg.Pipeline.FailureLimit,
		},
		"cache": map[string]any{
			"default_ttl":  cfg.Cache.DefaultTTL.String(),
			"analysis_ttl": cfg.Cache.AnalysisTTL.String(),
			"sweep_every":  cfg.Cache.SweepEvery,
		},
		"models": map[string]any{
			"default":          cfg.Models.Default,
			"breaker_failures": cfg.Models.BreakerFailures,
			"breaker_cooldown": cfg.Models.BreakerCooldown.String(),
		},
		"openai": map[string]any{
			"api_key":    MaskAPIKey(cfg.OpenAI.APIKey),
			"base_url":   cfg.OpenAI.BaseURL,
			"model":      cfg.OpenAI.Model,
			"max_tokens": cfg.OpenAI.MaxTokens,
			"timeout":    cfg.OpenAI.Timeout.String(),
		},
		"ollama": map[string]any{
			"base_url": cfg.Ollama.BaseURL,
			"model":    cfg.Ollama.Model,
			"timeout":  cfg.Ollama.Timeout.String(),
		},
		"anthropic": map[string]any{
			"api_key":     MaskAPIKey(cfg.Anthropic.APIKey),
			"model":       cfg.Anthropic.Model,
			"max_tokens":  cfg.Anthropic.MaxTokens,
			"use_bedrock": cfg.Anthropic.UseBedrock,
			"aws_region":  cfg.Anthropic.AWSRegion,
			"aws_profile": cfg.Anthropic.AWSProfile,
		},
		"search": map[string]any{
			"tavily_api_key": MaskAPIKey(cfg.Search.TavilyAPIKey),
			"max_results":    cfg.Search.MaxResults,
		},
		"logging": map[string]any{
			"level":  cfg.Logging.Level,
			"format": cfg.Logging.Format,
			"file":   cfg.Logging.File,
		},
		"prompts": map[string]any{
			"path": cfg.Prompts.Path,
		},
	}
}

// Watch reloads the configuration whenever the active config file changes and
// passes the result to onChange. A failed reload is reported with a nil Config.
// The returned path is the file being watched.
func Watch(onChange func(*Config, error)) (string, error) {
	path := ActiveConfigPath()
	if path == "" {
		return "", ErrNoConfigFile
	}
	return path, WatchPath(path, func(*Config, error) {
		onChange(Load())
	})
}

// WatchPath watches a single config file and passes the file's own
// configuration to onChange on every write.
func WatchPath(path string, onChange func(*Config, error)) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrNoConfigFile, path)
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config from %s: %w", path, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		onChange(LoadFromPath(e.Name))
	})
	v.WatchConfig()
	return nil
}

// ActiveConfigPath returns the highest-precedence config file that exists,
// or "" when only defaults are in effect.
func ActiveConfigPath() string {
	if p := findProjectConfig(); p != "" {
		return p
	}
	if p := GetUserConfigPath(); fileExists(p) {
		return p
	}
	return ""
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout.String())
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)

	v.SetDefault("pipeline.deadline", d.Pipeline.Deadline.String())
	v.SetDefault("pipeline.stage_timeout", d.Pipeline.StageTimeout.String())
	v.SetDefault("pipeline.failure_limit", d.Pipeline.FailureLimit)

	v.SetDefault("cache.default_ttl", d.Cache.DefaultTTL.String())
	v.SetDefault("cache.analysis_ttl", d.Cache.AnalysisTTL.String())
	v.SetDefault("cache.sweep_every", d.Cache.SweepEvery)

	v.SetDefault("models.default", d.Models.Default)
	v.SetDefault("models.breaker_failures", d.Models.BreakerFailures)
	v.SetDefault("models.breaker_cooldown", d.Models.BreakerCooldown.String())

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("openai.model", d.OpenAI.Model)
	v.SetDefault("openai.max_tokens", d.OpenAI.MaxTokens)
	v.SetDefault("openai.timeout", d.OpenAI.Timeout.String())

	v.SetDefault("ollama.base_url", d.Ollama.BaseURL)
	v.SetDefault("ollama.model", d.Ollama.Model)
	v.SetDefault("ollama.timeout", d.Ollama.Timeout.String())

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("search.tavily_api_key", "")
	v.SetDefault("search.max_results", d.Search.MaxResults)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("prompts.path", "")
}

// getUserConfigDir returns the XDG config directory for rosterbuild.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, appName)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", appName)
	}
	return filepath.Join(home, ".config", appName)
}

// findProjectConfig searches for .rosterbuild.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, projectConfigName)
		if fileExists(configPath) {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Pipeline: PipelineConfig{
			Deadline:     60 * time.Second,
			FailureLimit: 200,
		},
		Cache: CacheConfig{
			DefaultTTL:  5 * time.Minute,
			AnalysisTTL: 10 * time.Minute,
			SweepEvery:  100,
		},
		Models: ModelsConfig{
			Default:         "openai",
			BreakerFailures: 3,
			BreakerCooldown: 30 * time.Second,
		},
		OpenAI: OpenAIConfig{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			MaxTokens: 2000,
			Timeout:   30 * time.Second,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3:latest",
			Timeout: 120 * time.Second,
		},
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 2000,
		},
		Search: SearchConfig{
			MaxResults: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

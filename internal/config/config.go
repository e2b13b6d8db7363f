// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/shlex"

	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/memory"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/util"
	"github.com/jeranaias/rigrun-agent/internal/validate"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigrun-agent configuration.
type Config struct {
	// General settings
	DefaultModel string `toml:"default_model"`
	SystemPrompt string `toml:"system_prompt"`
	LogLevel     string `toml:"log_level"`
	LogFormat    string `toml:"log_format"`

	Server ServerConfig `toml:"server"`
	Retry  RetryConfig  `toml:"retry"`
	Memory MemoryConfig `toml:"memory"`
	Models ModelsConfig `toml:"models"`
	Agent  AgentConfig  `toml:"agent"`
}

// ServerConfig describes how to reach Ollama.
type ServerConfig struct {
	URL             string   `toml:"url"`
	ConnectTimeout  Duration `toml:"connect_timeout"`
	RequestTimeout  Duration `toml:"request_timeout"`
	DownloadTimeout Duration `toml:"download_timeout"`

	// FallbackCommand is run when HTTP cannot connect, e.g. "curl --noproxy '*'"
	FallbackCommand string `toml:"fallback_command"`
	DisableFallback bool   `toml:"disable_fallback"`
}

// RetryConfig shapes chat retries.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// MemoryConfig sizes the conversation memory.
type MemoryConfig struct {
	Capacity int `toml:"capacity"`
}

// ModelsConfig controls the model listing cache.
type ModelsConfig struct {
	CacheTTL Duration `toml:"cache_ttl"`
}

// AgentConfig holds request-level limits.
type AgentConfig struct {
	MaxInputLength  int      `toml:"max_input_length"`
	RequestDeadline Duration `toml:"request_deadline"` // 0 = no per-request deadline
	RateLimit       float64  `toml:"rate_limit"`       // requests per second, 0 = unlimited
	RateBurst       int      `toml:"rate_burst"`
	HealthProbe     string   `toml:"health_probe"`
}

// Duration is a time.Duration written as a string ("30s", "1m30s") in TOML.
type Duration struct {
	time.Duration
}

// Dur wraps d.
func Dur(d time.Duration) Duration { return Duration{d} }

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel: "llama3.1:8b",
		SystemPrompt: "You are a helpful assistant. Answer concisely.",
		LogLevel:     "info",
		LogFormat:    logging.FormatText,
		Server: ServerConfig{
			URL:             ollama.DefaultBaseURL,
			ConnectTimeout:  Dur(ollama.DefaultConnectTimeout),
			RequestTimeout:  Dur(ollama.DefaultRequestTimeout),
			DownloadTimeout: Dur(ollama.DefaultDownloadTimeout),
			FallbackCommand: ollama.DefaultFallbackCommand,
		},
		Retry: RetryConfig{
			MaxAttempts: ollama.DefaultMaxRetries,
			BaseDelay:   Dur(ollama.DefaultRetryBaseDelay),
			MaxDelay:    Dur(ollama.DefaultRetryMaxDelay),
		},
		Memory: MemoryConfig{
			Capacity: memory.DefaultCapacity,
		},
		Models: ModelsConfig{
			CacheTTL: Dur(ollama.DefaultCacheTTL),
		},
		Agent: AgentConfig{
			MaxInputLength: validate.DefaultMaxTextLength,
			RateBurst:      1,
			HealthProbe:    "ping",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-agent"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load reads the TOML file at path (the default location when empty) over
// the built-in defaults, applies RIGRUN_* environment overrides and
// validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if err := LoadTOML(cfg, path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes the file at path into cfg and fills zero values.
func LoadTOML(cfg *Config, path string) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return fmt.Errorf("failed to decode TOML file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	fillDefaults(cfg)
	return nil
}

// fillDefaults fills in any missing values with defaults. Zero is a real
// setting for agent.request_deadline and agent.rate_limit and is kept.
func fillDefaults(cfg *Config) {
	defaults := Default()

	// General
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaults.DefaultModel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaults.LogFormat
	}

	// Server
	if cfg.Server.URL == "" {
		cfg.Server.URL = defaults.Server.URL
	}
	if cfg.Server.ConnectTimeout.Duration == 0 {
		cfg.Server.ConnectTimeout = defaults.Server.ConnectTimeout
	}
	if cfg.Server.RequestTimeout.Duration == 0 {
		cfg.Server.RequestTimeout = defaults.Server.RequestTimeout
	}
	if cfg.Server.DownloadTimeout.Duration == 0 {
		cfg.Server.DownloadTimeout = defaults.Server.DownloadTimeout
	}
	if cfg.Server.FallbackCommand == "" {
		cfg.Server.FallbackCommand = defaults.Server.FallbackCommand
	}

	// Retry
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.BaseDelay.Duration == 0 {
		cfg.Retry.BaseDelay = defaults.Retry.BaseDelay
	}
	if cfg.Retry.MaxDelay.Duration == 0 {
		cfg.Retry.MaxDelay = defaults.Retry.MaxDelay
	}

	// Memory / models
	if cfg.Memory.Capacity == 0 {
		cfg.Memory.Capacity = defaults.Memory.Capacity
	}
	if cfg.Models.CacheTTL.Duration == 0 {
		cfg.Models.CacheTTL = defaults.Models.CacheTTL
	}

	// Agent
	if cfg.Agent.MaxInputLength == 0 {
		cfg.Agent.MaxInputLength = defaults.Agent.MaxInputLength
	}
	if cfg.Agent.RateBurst == 0 {
		cfg.Agent.RateBurst = defaults.Agent.RateBurst
	}
	if cfg.Agent.HealthProbe == "" {
		cfg.Agent.HealthProbe = defaults.Agent.HealthProbe
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg as TOML to path (the default location when empty). The
// file is replaced atomically so a watcher never reads a partial file.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# rigrun-agent configuration file\n")
	buf.WriteString("# Durations are strings such as \"30s\" or \"2m\".\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WriteFileAtomic(path, buf.Bytes(), 0600, 0700); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// String renders the configuration as TOML.
func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns ValidateErrors listing all
// problems, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// General
	if err := validate.ModelName(c.DefaultModel); err != nil {
		add("default_model", "invalid model name %q", c.DefaultModel)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}
	if f := strings.ToLower(c.LogFormat); f != logging.FormatText && f != logging.FormatJSON {
		add("log_format", "invalid format %q, must be text or json", c.LogFormat)
	}

	// Server
	if u, err := url.Parse(c.Server.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("server.url", "invalid URL %q, must be http(s)://host[:port]", c.Server.URL)
	}
	for _, t := range []struct {
		field string
		d     Duration
	}{
		{"server.connect_timeout", c.Server.ConnectTimeout},
		{"server.request_timeout", c.Server.RequestTimeout},
		{"server.download_timeout", c.Server.DownloadTimeout},
	} {
		if t.d.Duration <= 0 {
			add(t.field, "must be positive, got %s", t.d)
		}
	}
	if !c.Server.DisableFallback {
		if parts, err := shlex.Split(c.Server.FallbackCommand); err != nil || len(parts) == 0 {
			add("server.fallback_command", "cannot parse command %q", c.Server.FallbackCommand)
		}
	}

	// Retry
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		add("retry.max_attempts", "must be between 1 and 10, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay.Duration <= 0 {
		add("retry.base_delay", "must be positive, got %s", c.Retry.BaseDelay)
	}
	if c.Retry.MaxDelay.Duration < c.Retry.BaseDelay.Duration {
		add("retry.max_delay", "must be at least base_delay (%s), got %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}

	// Memory / models
	if c.Memory.Capacity < 1 || c.Memory.Capacity > 1000 {
		add("memory.capacity", "must be between 1 and 1000, got %d", c.Memory.Capacity)
	}
	if c.Models.CacheTTL.Duration < 0 {
		add("models.cache_ttl", "must not be negative, got %s", c.Models.CacheTTL)
	}

	// Agent
	if c.Agent.MaxInputLength < 1 || c.Agent.MaxInputLength > 1_000_000 {
		add("agent.max_input_length", "must be between 1 and 1000000, got %d", c.Agent.MaxInputLength)
	}
	if c.Agent.RequestDeadline.Duration < 0 {
		add("agent.request_deadline", "must not be negative, got %s", c.Agent.RequestDeadline)
	}
	if c.Agent.RateLimit < 0 {
		add("agent.rate_limit", "must not be negative, got %g", c.Agent.RateLimit)
	}
	if c.Agent.RateBurst < 1 {
		add("agent.rate_burst", "must be at least 1, got %d", c.Agent.RateBurst)
	}
	if err := validate.Text(c.Agent.HealthProbe, 100); err != nil {
		add("agent.health_probe", "invalid probe text %q", c.Agent.HealthProbe)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGRUN_MODEL: overrides default_model
//   - RIGRUN_OLLAMA_URL: overrides server.url
//   - RIGRUN_SYSTEM_PROMPT: overrides system_prompt
//   - RIGRUN_LOG_LEVEL: overrides log_level
//   - RIGRUN_MAX_RETRIES: overrides retry.max_attempts
//   - RIGRUN_MEMORY_CAPACITY: overrides memory.capacity
//   - RIGRUN_NO_FALLBACK: "1" or "true" disables the process fallback
//
// Unparseable numeric values are reported as ValidateErrors.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidateErrors

	if model := os.Getenv("RIGRUN_MODEL"); model != "" {
		c.DefaultModel = model
	}
	if u := os.Getenv("RIGRUN_OLLAMA_URL"); u != "" {
		c.Server.URL = u
	}
	if prompt := os.Getenv("RIGRUN_SYSTEM_PROMPT"); prompt != "" {
		c.SystemPrompt = prompt
	}
	if level := os.Getenv("RIGRUN_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if v := os.Getenv("RIGRUN_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, ValidationError{Field: "RIGRUN_MAX_RETRIES", Message: fmt.Sprintf("not an integer: %q", v)})
		} else {
			c.Retry.MaxAttempts = n
		}
	}
	if v := os.Getenv("RIGRUN_MEMORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err != nil {
			errs = append(errs, ValidationError{Field: "RIGRUN_MEMORY_CAPACITY", Message: fmt.Sprintf("not an integer: %q", v)})
		} else {
			c.Memory.Capacity = n
		}
	}
	if v := os.Getenv("RIGRUN_NO_FALLBACK"); v != "" {
		c.Server.DisableFallback = v == "1" || strings.EqualFold(v, "true")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// PROJECTIONS
// =============================================================================

// ExecutorConfig returns the settings for the ollama executor and model
// manager.
func (c *Config) ExecutorConfig() ollama.Config {
	return ollama.Config{
		BaseURL:         c.Server.URL,
		ConnectTimeout:  c.Server.ConnectTimeout.Duration,
		RequestTimeout:  c.Server.RequestTimeout.Duration,
		DownloadTimeout: c.Server.DownloadTimeout.Duration,
		MaxRetries:      c.Retry.MaxAttempts,
		RetryBaseDelay:  c.Retry.BaseDelay.Duration,
		RetryMaxDelay:   c.Retry.MaxDelay.Duration,
		FallbackCommand: c.Server.FallbackCommand,
		DisableFallback: c.Server.DisableFallback,
		CacheTTL:        c.Models.CacheTTL.Duration,
	}
}

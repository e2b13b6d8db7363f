// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import "time"

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// Default configuration values.
const (
	DefaultBaseURL         = "http://127.0.0.1:11434"
	DefaultConnectTimeout  = 5 * time.Second
	DefaultRequestTimeout  = 120 * time.Second
	DefaultDownloadTimeout = 30 * time.Minute
	DefaultMaxRetries      = 3
	DefaultRetryBaseDelay  = 1 * time.Second
	DefaultRetryMaxDelay   = 10 * time.Second
	DefaultFallbackCommand = "curl"
	DefaultCacheTTL        = 30 * time.Second
)

// Config holds the executor and model manager settings. It is copied at
// construction and never modified afterwards.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Note: Uses explicit IPv4 address instead of localhost to avoid IPv6 resolution issues
	BaseURL string

	// ConnectTimeout bounds TCP connection setup (default: 5s)
	ConnectTimeout time.Duration

	// RequestTimeout bounds a single chat/list/show call (default: 120s)
	RequestTimeout time.Duration

	// DownloadTimeout bounds a model pull (default: 30m)
	DownloadTimeout time.Duration

	// MaxRetries is the total number of chat attempts (default: 3)
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay shape the wait between attempts
	// (defaults: 1s and 10s)
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// FallbackCommand is the shell-style command line used when the HTTP
	// client cannot connect (default: "curl")
	FallbackCommand string

	// DisableFallback turns the process fallback off entirely.
	DisableFallback bool

	// CacheTTL is how long a model listing is served from cache (default: 30s)
	CacheTTL time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		ConnectTimeout:  DefaultConnectTimeout,
		RequestTimeout:  DefaultRequestTimeout,
		DownloadTimeout: DefaultDownloadTimeout,
		MaxRetries:      DefaultMaxRetries,
		RetryBaseDelay:  DefaultRetryBaseDelay,
		RetryMaxDelay:   DefaultRetryMaxDelay,
		FallbackCommand: DefaultFallbackCommand,
		CacheTTL:        DefaultCacheTTL,
	}
}

// withDefaults fills in defaults for any zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = d.DownloadTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.FallbackCommand == "" {
		c.FallbackCommand = d.FallbackCommand
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = d.CacheTTL
	}
	return c
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-agent.
//
// Configuration is TOML with sensible defaults, environment variable
// overrides and validation.
//
// # Key Types
//
//   - Config: top-level settings (model, system prompt, logging)
//   - ServerConfig: Ollama URL, timeouts and the process fallback
//   - RetryConfig, MemoryConfig, ModelsConfig, AgentConfig
//   - Duration: a time.Duration written as "30s" in TOML
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (RIGRUN_*)
//   - ~/.rigrun-agent/config.toml (or --config PATH)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	exec := ollama.NewExecutor(cfg.ExecutorConfig(), nil, active, logger)
//
// Watch follows edits to the file so a running chat session picks up a new
// default_model without a restart.
package config

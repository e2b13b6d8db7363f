// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-agent/internal/agent"
	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/memory"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/validate"
)

// =============================================================================
// APP WIRING
// =============================================================================

// App is a fully wired agent plus the settings it was built from.
type App struct {
	Config     *config.Config
	ConfigPath string
	Logger     *slog.Logger
	Agent      *agent.Agent
	Registry   *prometheus.Registry

	out    io.Writer
	errOut io.Writer
}

// NewApp loads the configuration and builds the agent and its collaborators.
func NewApp(args Args, stdout, stderr io.Writer) (*App, error) {
	path, err := resolveConfigPath(args.ConfigPath)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	if args.LogLevel != "" {
		cfg.LogLevel = args.LogLevel
	}
	if args.Model != "" {
		if err := validate.ModelName(args.Model); err != nil {
			return nil, usageErrorf("--model: %v", err)
		}
		cfg.DefaultModel = args.Model
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, usageErrorf("--log-level: %v", err)
	}
	base := logging.New(logging.Options{
		Level:  level,
		Format: cfg.LogFormat,
		Writer: stderr,
	})

	ag, reg, err := buildAgent(cfg, base)
	if err != nil {
		return nil, err
	}

	return &App{
		Config:     cfg,
		ConfigPath: path,
		Logger:     base.With("component", "cli"),
		Agent:      ag,
		Registry:   reg,
		out:        stdout,
		errOut:     stderr,
	}, nil
}

// buildAgent wires the transport, executor, model manager, memory and
// metrics described by cfg.
func buildAgent(cfg *config.Config, logger *slog.Logger) (*agent.Agent, *prometheus.Registry, error) {
	execCfg := cfg.ExecutorConfig()
	active := ollama.NewActiveModel(cfg.DefaultModel)
	transport := ollama.NewTransport(execCfg, logger.With("component", "transport"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := agent.NewMetrics(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.Agent.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Agent.RateLimit), cfg.Agent.RateBurst)
	}

	ag, err := agent.New(agent.Options{
		Executor:       ollama.NewExecutor(execCfg, transport, active, logger.With("component", "executor")),
		Models:         ollama.NewManager(execCfg, transport, active, logger.With("component", "models")),
		Memory:         memory.New(cfg.Memory.Capacity),
		SystemPrompt:   cfg.SystemPrompt,
		MaxInputLength: cfg.Agent.MaxInputLength,
		RequestTimeout: cfg.Agent.RequestDeadline.Duration,
		Limiter:        limiter,
		HealthProbe:    cfg.Agent.HealthProbe,
		Logger:         logger.With("component", "agent"),
		Metrics:        metrics,
	})
	if err != nil {
		return nil, nil, err
	}
	return ag, reg, nil
}

// resolveConfigPath returns flagPath or the default config location.
func resolveConfigPath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	path, err := config.ConfigPath()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return path, nil
}

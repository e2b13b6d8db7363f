// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/agent"
	"github.com/jeranaias/rigrun-agent/internal/config"
)

// StatusOutput is the --json payload of the status command.
type StatusOutput struct {
	Health     agent.HealthStatus `json:"health"`
	ServerURL  string             `json:"server_url"`
	Model      string             `json:"model"`
	Models     int                `json:"models"`
	Fallback   string             `json:"fallback"`
	Retries    int                `json:"retries"`
	Memory     int                `json:"memory_capacity"`
	ConfigPath string             `json:"config_path"`
}

// HandleStatus probes the server with the health prompt and prints the
// effective settings. It fails only if the output cannot be written; an
// unhealthy server is reported, not returned.
func (a *App) HandleStatus(ctx context.Context, args Args) error {
	probeCtx, cancel := context.WithTimeout(ctx, a.Config.Server.RequestTimeout.Duration)
	defer cancel()
	health := a.Agent.CheckHealth(probeCtx)

	// A failed listing leaves the count at -1.
	count := -1
	if models, err := a.Agent.ListModels(ctx); err == nil {
		count = len(models)
	}

	out := StatusOutput{
		Health:     health,
		ServerURL:  a.Config.Server.URL,
		Model:      a.Agent.ActiveModel(),
		Models:     count,
		Fallback:   fallbackDescription(a.Config),
		Retries:    a.Config.Retry.MaxAttempts,
		Memory:     a.Config.Memory.Capacity,
		ConfigPath: a.ConfigPath,
	}

	if args.JSON {
		return NewJSONResponse("status", out).Print(a.out)
	}
	printStatus(a.out, out)
	return nil
}

func fallbackDescription(cfg *config.Config) string {
	if cfg.Server.DisableFallback {
		return "disabled"
	}
	return cfg.Server.FallbackCommand
}

func printStatus(w io.Writer, s StatusOutput) {
	fmt.Fprintln(w, TitleStyle.Render("rigrun-agent status"))
	fmt.Fprintln(w, RenderSeparator(40))

	state := "healthy"
	if !s.Health.Healthy {
		state = "unhealthy"
	}
	fmt.Fprintf(w, "%s %s\n", RenderField("Server", s.ServerURL), RenderStatus(state))
	fmt.Fprintln(w, RenderField("Model", s.Model))
	fmt.Fprintln(w, RenderField("Latency", s.Health.Latency.Round(time.Millisecond).String()))
	if s.Health.Error != "" {
		fmt.Fprintln(w, RenderField("Error", WarningStyle.Render(s.Health.Error)))
	}

	models := "unknown"
	if s.Models >= 0 {
		models = strconv.Itoa(s.Models)
	}
	fmt.Fprintln(w, RenderField("Local models", models))
	fmt.Fprintln(w, RenderField("Fallback", s.Fallback))
	fmt.Fprintln(w, RenderField("Max attempts", strconv.Itoa(s.Retries)))
	fmt.Fprintln(w, RenderField("Memory", fmt.Sprintf("%d messages", s.Memory)))
	fmt.Fprintln(w, RenderField("Config", s.ConfigPath))
}

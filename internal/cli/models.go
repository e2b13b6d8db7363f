// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// HandleModels runs "models list|pull|rm".
//
// Examples:
//
//	rigrun-agent models
//	rigrun-agent models pull qwen2.5:7b
//	rigrun-agent models rm qwen2.5:7b --json
func (a *App) HandleModels(ctx context.Context, args Args) error {
	switch args.Subcommand {
	case "pull":
		if !args.JSON && !args.Quiet {
			fmt.Fprintf(a.errOut, "Pulling %s (this can take a while)...\n", args.Name)
		}
		out, err := a.Agent.PullModel(ctx, args.Name)
		if err != nil {
			return err
		}
		return a.printOutcome("models pull", out, args)

	case "rm":
		out, err := a.Agent.DeleteModel(ctx, args.Name)
		if err != nil {
			return err
		}
		return a.printOutcome("models rm", out, args)

	default:
		models, err := a.Agent.ListModels(ctx)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("models list", models).Print(a.out)
		}
		printModelTable(a.out, models, a.Agent.ActiveModel())
		return nil
	}
}

func (a *App) printOutcome(command string, out *ollama.Outcome, args Args) error {
	if args.JSON {
		return NewJSONResponse(command, out).Print(a.out)
	}
	fmt.Fprintf(a.out, "%s %s %s (%s)\n",
		SuccessStyle.Render("[OK]"), out.Model, out.Status, out.Duration.Round(time.Millisecond))
	return nil
}

// printModelTable renders models with the active one marked.
func printModelTable(w io.Writer, models []ollama.ModelDescriptor, active string) {
	if len(models) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No local models. Pull one with: rigrun-agent models pull llama3.1:8b"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(SeparatorStyle).
		Headers("", "NAME", "SIZE", "PARAMS", "QUANT", "MODIFIED").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TitleStyle.Padding(0, 1)
			}
			return ValueStyle.Padding(0, 1)
		})

	for _, m := range models {
		marker := ""
		if m.Name == active {
			marker = "*"
		}
		modified := ""
		if !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Local().Format("2006-01-02")
		}
		t.Row(marker, m.Name, m.FormatSize(), m.ParameterSize, m.QuantizationLevel, modified)
	}

	fmt.Fprintln(w, t.Render())
	if active != "" {
		fmt.Fprintln(w, DimStyle.Render("* active model: "+active))
	}
}

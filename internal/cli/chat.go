// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
	"github.com/jeranaias/rigrun-agent/internal/config"
	"github.com/jeranaias/rigrun-agent/internal/memory"
	"github.com/jeranaias/rigrun-agent/internal/util"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader reads prompt lines with editing and a persistent history.
type lineReader struct {
	line        *liner.State
	historyFile string
	logger      *slog.Logger
}

func newLineReader(logger *slog.Logger) *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history"), logger: logger}

	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *lineReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history (owner-only permissions) and restores the terminal.
func (r *lineReader) Close() error {
	var buf bytes.Buffer
	if _, err := r.line.WriteHistory(&buf); err != nil {
		r.logger.Warn("chat history not saved", "error", err)
	} else {
		r.saveHistory(buf.Bytes())
	}
	return r.line.Close()
}

func (r *lineReader) saveHistory(data []byte) {
	if err := util.WriteFileAtomic(r.historyFile, data, 0600, 0700); err != nil {
		r.logger.Warn("chat history not saved", "path", r.historyFile, "error", err)
	}
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat loop.
//
// Examples:
//
//	rigrun-agent chat
//	rigrun-agent chat --model mistral:7b
//	rigrun-agent chat --metrics-addr 127.0.0.1:9090
//
// Ctrl+C cancels a running request, or exits at the prompt. Ctrl+D exits.
func (a *App) HandleChat(ctx context.Context, args Args) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if args.MetricsAddr != "" {
		stop, err := a.serveMetrics(args.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	// An explicit --model pins the model; otherwise follow config edits.
	if args.Model == "" {
		a.watchConfig(ctx)
	}

	if !args.Quiet {
		a.printWelcome(ctx)
	}

	reader := newLineReader(a.Logger)
	defer reader.Close()

	for {
		input, err := reader.ReadLine(PromptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D, or a closed stdin.
			fmt.Fprintln(a.out)
			a.printExitSummary()
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			keepGoing, err := a.handleSlashCommand(ctx, input)
			if err != nil {
				DisplayError(a.errOut, "chat", err, false)
			}
			if !keepGoing {
				a.printExitSummary()
				return nil
			}
			continue
		}
		if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
			a.printExitSummary()
			return nil
		}

		if err := a.sendMessage(ctx, input); err != nil {
			DisplayError(a.errOut, "chat", err, false)
		}
	}
}

// sendMessage runs one request. Ctrl+C while it is running cancels only
// this request.
func (a *App) sendMessage(ctx context.Context, input string) error {
	reqCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	reply, err := a.Agent.Run(reqCtx, input)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			fmt.Fprintln(a.errOut, WarningStyle.Render("[Cancelled]"))
			return nil
		}
		return err
	}

	fmt.Fprintln(a.out)
	content := renderMarkdown(reply.Content)
	fmt.Fprint(a.out, content)
	if !strings.HasSuffix(content, "\n") {
		fmt.Fprintln(a.out)
	}
	fmt.Fprintln(a.out, DimStyle.Render(fmt.Sprintf("%s · %s", reply.Model, reply.Duration.Round(time.Millisecond))))
	fmt.Fprintln(a.out)
	return nil
}

// watchConfig switches the active model when default_model changes in the
// config file.
func (a *App) watchConfig(ctx context.Context) {
	if _, err := os.Stat(a.ConfigPath); err != nil {
		return
	}
	_, err := config.Watch(ctx, a.ConfigPath, a.Logger, func(cfg *config.Config) {
		if cfg.DefaultModel == a.Agent.ActiveModel() {
			return
		}
		out, err := a.Agent.SwitchModel(ctx, cfg.DefaultModel)
		if err != nil {
			a.Logger.Warn("config changed but model switch failed", "model", cfg.DefaultModel, "error", err)
			return
		}
		fmt.Fprintf(a.errOut, "\n%s model switched to %s (config change)\n",
			WarningStyle.Render("[Config]"), out.Model)
	})
	if err != nil {
		a.Logger.Warn("config watch unavailable", "path", a.ConfigPath, "error", err)
	}
}

// serveMetrics exposes the Prometheus registry on addr until stop is called.
func (a *App) serveMetrics(addr string) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, usageErrorf("--metrics-addr %s: %v", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn("metrics server stopped", "error", err)
		}
	}()
	a.Logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			a.Logger.Warn("metrics server shutdown failed", "error", err)
		}
	}, nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a /command. It returns false when the chat
// should end.
func (a *App) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	command := strings.ToLower(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}

	switch command {
	case "/help", "/h", "/?", "/":
		a.printChatHelp()

	case "/exit", "/quit", "/q":
		return false, nil

	case "/models":
		models, err := a.Agent.ListModels(ctx)
		if err != nil {
			return true, err
		}
		printModelTable(a.out, models, a.Agent.ActiveModel())

	case "/model", "/m":
		if arg == "" {
			fmt.Fprintln(a.out, RenderField("Model", a.Agent.ActiveModel()))
			return true, nil
		}
		out, err := a.Agent.SwitchModel(ctx, arg)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s switched from %s to %s\n", SuccessStyle.Render("[OK]"), out.Previous, out.Model)

	case "/pull":
		if arg == "" {
			return true, usageErrorf("usage: /pull NAME")
		}
		fmt.Fprintf(a.out, "Pulling %s...\n", arg)
		out, err := a.Agent.PullModel(ctx, arg)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s pulled %s in %s\n", SuccessStyle.Render("[OK]"), out.Model, out.Duration.Round(time.Second))

	case "/rm", "/delete":
		if arg == "" {
			return true, usageErrorf("usage: /rm NAME")
		}
		out, err := a.Agent.DeleteModel(ctx, arg)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(a.out, "%s deleted %s\n", SuccessStyle.Render("[OK]"), out.Model)

	case "/memory":
		fmt.Fprintln(a.out, RenderField("Memory", a.Agent.MemorySummary()))

	case "/clear", "/c":
		a.Agent.ClearMemory()
		fmt.Fprintln(a.out, SuccessStyle.Render("[Conversation cleared]"))

	case "/history":
		a.printHistory()

	case "/health":
		status := a.Agent.CheckHealth(ctx)
		if status.Healthy {
			fmt.Fprintf(a.out, "%s %s answered in %s\n", RenderStatus("ok"), status.Model, status.Latency.Round(time.Millisecond))
		} else {
			fmt.Fprintf(a.out, "%s %s\n", RenderStatus("fail"), status.Error)
		}

	case "/stats":
		a.printStats()

	default:
		return true, usageErrorf("unknown command %s (type /help for commands)", command)
	}
	return true, nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func (a *App) printWelcome(ctx context.Context) {
	fmt.Fprintln(a.out, TitleStyle.Render("rigrun-agent chat"))
	fmt.Fprintln(a.out, RenderSeparator(30))
	fmt.Fprintln(a.out, RenderField("Model", a.Agent.ActiveModel()))
	fmt.Fprintln(a.out, RenderField("Server", a.Config.Server.URL))
	fmt.Fprintln(a.out, RenderField("Memory", a.Agent.MemorySummary()))

	probeCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ConnectTimeout.Duration+a.Config.Server.RequestTimeout.Duration)
	defer cancel()
	if _, err := a.Agent.ListModels(probeCtx); err != nil {
		fmt.Fprintln(a.out, WarningStyle.Render("Server not reachable yet: "+apperr.TypeOf(err).String()))
	}

	fmt.Fprintln(a.out)
	fmt.Fprintln(a.out, DimStyle.Render("Type a message and press Enter. /help lists commands, /exit quits."))
	fmt.Fprintln(a.out)
}

func (a *App) printChatHelp() {
	commands := []struct{ cmd, desc string }{
		{"/models", "List local models"},
		{"/model [NAME]", "Show or switch the active model"},
		{"/pull NAME", "Download a model"},
		{"/rm NAME", "Delete a local model"},
		{"/memory", "Show memory usage"},
		{"/clear", "Forget the conversation"},
		{"/history", "Show the remembered conversation"},
		{"/health", "Probe the active model"},
		{"/stats", "Show request statistics"},
		{"/exit", "Leave the chat"},
	}
	fmt.Fprintln(a.out, TitleStyle.Render("Commands"))
	for _, c := range commands {
		fmt.Fprintf(a.out, "  %s %s\n", SuccessStyle.Render(fmt.Sprintf("%-15s", c.cmd)), DimStyle.Render(c.desc))
	}
	fmt.Fprintln(a.out, DimStyle.Render("Ctrl+C cancels a running request, Ctrl+D exits."))
}

func (a *App) printHistory() {
	entries := a.Agent.History()
	if len(entries) == 0 {
		fmt.Fprintln(a.out, DimStyle.Render("[No messages yet]"))
		return
	}
	width := GetTerminalWidth() - 16
	for i, e := range entries {
		role := AssistantRoleStyle.Render(e.Model)
		content := e.Content
		if e.Role == memory.RoleUser {
			// User entries are stored escaped.
			role = UserRoleStyle.Render("You")
			content = html.UnescapeString(content)
		}
		fmt.Fprintf(a.out, "  %2d. %s: %s\n", i+1, role, Preview(content, width))
	}
}

func (a *App) printStats() {
	s := a.Agent.Stats()
	fmt.Fprintln(a.out, TitleStyle.Render("Session"))
	fmt.Fprintln(a.out, RenderField("Requests", fmt.Sprintf("%d (%d ok, %d failed)", s.Total, s.Success, s.Failed)))
	fmt.Fprintln(a.out, RenderField("Avg latency", s.AverageLatency.Round(time.Millisecond).String()))
	fmt.Fprintln(a.out, RenderField("Uptime", s.Uptime.Round(time.Second).String()))
	fmt.Fprintln(a.out, RenderField("Memory", a.Agent.MemorySummary()))
}

func (a *App) printExitSummary() {
	if s := a.Agent.Stats(); s.Total > 0 {
		a.printStats()
	}
	fmt.Fprintln(a.out, DimStyle.Render("Goodbye!"))
}

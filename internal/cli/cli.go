// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strings"
)

// Version information (overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command is the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdModels
	CmdStatus
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdAsk:
		return "ask"
	case CmdModels:
		return "models"
	case CmdStatus:
		return "status"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	LogLevel   string
	Model      string
	JSON       bool
	Quiet      bool

	// ask
	Query string
	Raw   bool // print the reply without markdown rendering

	// chat
	MetricsAddr string

	// models / config
	Subcommand string
	Name       string
}

// boolFlags take no value.
var boolFlags = []string{"json", "raw", "quiet", "q", "help", "h", "version", "v"}

// knownFlags lists the flags each command accepts, besides the global ones.
var knownFlags = map[Command][]string{
	CmdAsk:    {"raw"},
	CmdChat:   {"metrics-addr"},
	CmdModels: nil,
	CmdStatus: nil,
	CmdConfig: nil,
}

var globalFlags = []string{"config", "c", "log-level", "model", "m", "json", "quiet", "q", "help", "h", "version", "v"}

const usageText = `rigrun-agent - chat with local Ollama models

Usage:
  rigrun-agent [flags] <command> [args]

Commands:
  chat                      Interactive chat (default)
    --metrics-addr ADDR     Serve Prometheus metrics on ADDR (e.g. :9090)
  ask TEXT                  Ask a single question
    --raw                   Print the reply without markdown rendering
  models list               List local models
  models pull NAME          Download a model
  models rm NAME            Delete a local model
  status                    Probe the server and show settings
  config init               Write a default config file
  config show               Print the effective configuration
  config path               Print the config file location
  version                   Show version information
  help                      Show this help

Global flags:
  -c, --config PATH         Config file (default ~/.rigrun-agent/config.toml)
      --log-level LEVEL     trace, debug, info, warn or error
  -m, --model NAME          Model to use instead of default_model
      --json                Machine-readable output
  -q, --quiet               Less output

Chat commands:
  /models  /model NAME  /pull NAME  /rm NAME  /memory  /clear
  /history  /health  /stats  /help  /exit

Environment:
  RIGRUN_MODEL, RIGRUN_OLLAMA_URL, RIGRUN_SYSTEM_PROMPT, RIGRUN_LOG_LEVEL,
  RIGRUN_MAX_RETRIES, RIGRUN_MEMORY_CAPACITY, RIGRUN_NO_FALLBACK

Version: %s
`

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "rigrun-agent version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(w, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// =============================================================================
// PARSING
// =============================================================================

// Parse parses argv (without the program name).
func Parse(argv []string) (Command, Args, error) {
	p := NewArgParser(argv, boolFlags...)

	args := Args{
		ConfigPath: p.Flag("config", "c"),
		LogLevel:   p.Flag("log-level"),
		Model:      p.Flag("model", "m"),
		JSON:       p.BoolFlag("json"),
		Quiet:      p.BoolFlag("quiet", "q"),
	}

	if p.BoolFlag("help", "h") {
		return CmdHelp, args, nil
	}
	if p.BoolFlag("version", "v") {
		return CmdVersion, args, nil
	}

	cmd := CmdChat
	name := strings.ToLower(p.Positional(0))
	switch name {
	case "", "chat":
		cmd = CmdChat
	case "ask":
		cmd = CmdAsk
	case "models", "model":
		cmd = CmdModels
	case "status", "s":
		cmd = CmdStatus
	case "config":
		cmd = CmdConfig
	case "version":
		return CmdVersion, args, nil
	case "help":
		return CmdHelp, args, nil
	default:
		return CmdHelp, args, usageErrorf("unknown command %q", name)
	}

	if err := checkFlags(p, cmd); err != nil {
		return cmd, args, err
	}

	switch cmd {
	case CmdAsk:
		args.Query = p.JoinFrom(1)
		args.Raw = p.BoolFlag("raw")
		if strings.TrimSpace(args.Query) == "" {
			return cmd, args, usageErrorf("ask needs a question, e.g. rigrun-agent ask \"what is a mutex?\"")
		}

	case CmdChat:
		args.MetricsAddr = p.Flag("metrics-addr")

	case CmdModels:
		args.Subcommand = strings.ToLower(p.Positional(1))
		args.Name = p.Positional(2)
		switch args.Subcommand {
		case "", "list", "ls":
			args.Subcommand = "list"
		case "pull", "rm", "delete":
			if args.Subcommand == "delete" {
				args.Subcommand = "rm"
			}
			if args.Name == "" {
				return cmd, args, usageErrorf("models %s needs a model name", args.Subcommand)
			}
		default:
			return cmd, args, usageErrorf("unknown models subcommand %q (list, pull, rm)", args.Subcommand)
		}

	case CmdConfig:
		args.Subcommand = strings.ToLower(p.Positional(1))
		switch args.Subcommand {
		case "":
			args.Subcommand = "show"
		case "init", "show", "path":
		default:
			return cmd, args, usageErrorf("unknown config subcommand %q (init, show, path)", args.Subcommand)
		}
	}

	return cmd, args, nil
}

// checkFlags rejects flags the command does not accept.
func checkFlags(p *ArgParser, cmd Command) error {
	allowed := make(map[string]bool)
	for _, f := range globalFlags {
		allowed[f] = true
	}
	for _, f := range knownFlags[cmd] {
		allowed[f] = true
	}

	var unknown []string
	for _, f := range p.Flags() {
		if !allowed[f] {
			unknown = append(unknown, "--"+f)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return usageErrorf("%s: unknown flag %s", cmd, strings.Join(unknown, ", "))
	}
	return nil
}

// =============================================================================
// DISPATCH
// =============================================================================

// Run executes cmd, writing output to stdout and diagnostics to stderr.
func Run(ctx context.Context, cmd Command, args Args, stdout, stderr io.Writer) error {
	switch cmd {
	case CmdHelp:
		PrintUsage(stdout)
		return nil
	case CmdVersion:
		return HandleVersion(args, stdout)
	case CmdConfig:
		return HandleConfig(args, stdout)
	}

	app, err := NewApp(args, stdout, stderr)
	if err != nil {
		return err
	}

	switch cmd {
	case CmdAsk:
		return app.HandleAsk(ctx, args)
	case CmdModels:
		return app.HandleModels(ctx, args)
	case CmdStatus:
		return app.HandleStatus(ctx, args)
	default:
		return app.HandleChat(ctx, args)
	}
}

// HandleVersion prints version information, as JSON with --json.
func HandleVersion(args Args, w io.Writer) error {
	if args.JSON {
		return NewJSONResponse("version", map[string]string{
			"version":    Version,
			"git_commit": GitCommit,
			"build_date": BuildDate,
			"go_version": runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}).Print(w)
	}
	PrintVersion(w)
	return nil
}

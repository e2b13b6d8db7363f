// rigrun-agent - a command line assistant for local Ollama models.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jeranaias/rigrun-agent/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	os.Exit(run())
}

func run() int {
	cmd, args, err := cli.Parse(os.Args[1:])
	if err != nil {
		report(cmd, args, err)
		return cli.GetExitCode(err)
	}

	// Ctrl+C during a chat request cancels only that request; the chat
	// loop installs its own handler. SIGTERM always stops the program.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cli.Run(ctx, cmd, args, os.Stdout, os.Stderr); err != nil {
		report(cmd, args, err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

// report prints err to stderr, or as JSON to stdout in --json mode.
func report(cmd cli.Command, args cli.Args, err error) {
	w := os.Stderr
	if args.JSON {
		w = os.Stdout
	}
	cli.DisplayError(w, cmd.String(), err, args.JSON)
}

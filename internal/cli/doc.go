// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the rigrun-agent command line.
//
// # Key Types
//
//   - Command: the commands (chat, ask, models, status, config, version, help)
//   - Args: parsed global and command flags
//   - ArgParser: flag and positional splitting shared by all commands
//   - App: a loaded configuration plus a fully wired agent.Agent
//
// # Usage
//
//	cmd, args, err := cli.Parse(os.Args[1:])
//	if err == nil {
//	    err = cli.Run(ctx, cmd, args, os.Stdout, os.Stderr)
//	}
//	os.Exit(cli.GetExitCode(err))
//
// All commands accept --json for machine-readable output. Exit codes
// follow the error type: 2 for usage and validation errors, 3 for config
// errors, 5 for network errors, 7 for missing models, 8 for timeouts.
package cli

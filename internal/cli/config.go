// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jeranaias/rigrun-agent/internal/config"
)

// HandleConfig runs "config init|show|path".
//
// Examples:
//
//	rigrun-agent config init
//	rigrun-agent --config ./dev.toml config show
//	rigrun-agent config show --json
func HandleConfig(args Args, w io.Writer) error {
	path, err := resolveConfigPath(args.ConfigPath)
	if err != nil {
		return err
	}

	switch args.Subcommand {
	case "path":
		if args.JSON {
			return NewJSONResponse("config path", map[string]string{"path": path}).Print(w)
		}
		fmt.Fprintln(w, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil {
			return &ConfigError{Path: path, Err: errors.New("file already exists, remove it first to start over")}
		}
		cfg := config.Default()
		if args.Model != "" {
			cfg.DefaultModel = args.Model
		}
		if err := cfg.Validate(); err != nil {
			return usageErrorf("%v", err)
		}
		if err := config.Save(cfg, path); err != nil {
			return &ConfigError{Path: path, Err: err}
		}
		if args.JSON {
			return NewJSONResponse("config init", map[string]string{"path": path}).Print(w)
		}
		fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
		return nil

	default:
		cfg, err := config.Load(path)
		if err != nil {
			return &ConfigError{Path: path, Err: err}
		}
		if args.JSON {
			return NewJSONResponse("config show", cfg).Print(w)
		}
		fmt.Fprintln(w, DimStyle.Render("# "+path))
		fmt.Fprint(w, cfg.String())
		return nil
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/rigrun-agent/internal/logging"
)

// watchDebounce collapses the burst of events an editor save produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the config file at path whenever it changes and passes the
// new configuration to onChange. Files that fail to load or validate are
// logged and skipped. The returned channel is closed when ctx is done and
// the watcher has shut down.
//
// The parent directory is watched rather than the file itself so that
// atomic saves (write temp file, rename over) are seen.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) (<-chan struct{}, error) {
	logger = logging.OrDiscard(logger)

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer watcher.Close()

		// Stopped until the first relevant event arrives.
		timer := time.NewTimer(time.Hour)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != absPath {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(watchDebounce)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)

			case <-timer.C:
				// Renamed away or deleted: keep the current settings.
				if _, err := os.Stat(absPath); err != nil {
					continue
				}
				cfg, err := Load(absPath)
				if err != nil {
					logger.Warn("ignoring config change", "path", absPath, "error", err)
					continue
				}
				logger.Info("config reloaded", "path", absPath)
				onChange(cfg)
			}
		}
	}()

	return done, nil
}

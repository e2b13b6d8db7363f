// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2 // bad arguments or rejected input
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid command-line usage.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

func usageErrorf(format string, args ...any) error {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ConfigError reports a configuration file that could not be loaded.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// =============================================================================
// DISPLAY
// =============================================================================

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	switch apperr.TypeOf(err) {
	case apperr.TypeValidation:
		return ExitUsageError
	case apperr.TypeNetwork:
		return ExitNetworkError
	case apperr.TypeTimeout:
		return ExitTimeoutError
	case apperr.TypeModelNotFound:
		return ExitNotFoundError
	case apperr.TypeModelDownload:
		return ExitNetworkError
	}
	return ExitGeneralError
}

// errorKind names the error category for JSON output.
func errorKind(err error) string {
	var usage *UsageError
	if errors.As(err, &usage) {
		return "usage_error"
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return "config_error"
	}
	switch apperr.TypeOf(err) {
	case apperr.TypeValidation:
		return "validation_error"
	case apperr.TypeNetwork:
		return "network_error"
	case apperr.TypeTimeout:
		return "timeout_error"
	case apperr.TypeModelNotFound:
		return "model_not_found"
	case apperr.TypeModelDownload:
		return "model_download_error"
	}
	return "error"
}

// DisplayError writes err to w, as a JSON error response in JSON mode.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		NewJSONErrorResponse(command, err).Print(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())

	var usage *UsageError
	if errors.As(err, &usage) {
		fmt.Fprintln(w, DimStyle.Render("Run 'rigrun-agent help' for usage."))
	}
	if apperr.IsNetwork(err) {
		fmt.Fprintln(w, DimStyle.Render("Is Ollama running? Start it with: ollama serve"))
	}
}

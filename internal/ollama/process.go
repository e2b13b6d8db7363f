// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
)

// =============================================================================
// PROCESS TRANSPORT
// =============================================================================

// ProcessError is returned when the fallback command exits non-zero.
type ProcessError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// curlHTTPError matches curl's --fail diagnostic, which carries the status.
var curlHTTPError = regexp.MustCompile(`returned error: (\d{3})`)

// ProcessTransport sends requests by running an external HTTP client
// (curl by default). The payload goes on stdin and stdout is the body.
type ProcessTransport struct {
	baseURL        string
	command        string
	connectTimeout time.Duration
}

// NewProcessTransport creates a process transport. command is a shell-style
// command line; extra arguments in it are passed before the request flags.
func NewProcessTransport(baseURL, command string, connectTimeout time.Duration) *ProcessTransport {
	if command == "" {
		command = DefaultFallbackCommand
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &ProcessTransport{
		baseURL:        strings.TrimRight(baseURL, "/"),
		command:        command,
		connectTimeout: connectTimeout,
	}
}

// Send implements Transport.
func (t *ProcessTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	argv, err := t.buildArgs(req)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Body != nil {
		cmd.Stdin = bytes.NewReader(req.Body)
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(argv[0]), ctx.Err())
		}
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("run %s: %w", argv[0], err)
		}
		errText := strings.TrimSpace(stderr.String())
		// An HTTP status was received; report it like the HTTP transport would.
		if m := curlHTTPError.FindStringSubmatch(errText); m != nil {
			code, _ := strconv.Atoi(m[1])
			return &Response{StatusCode: code, Body: stdout.Bytes(), Via: ViaProcess}, nil
		}
		return nil, &ProcessError{
			Command:  filepath.Base(argv[0]),
			ExitCode: exitErr.ExitCode(),
			Stderr:   errText,
		}
	}

	return &Response{StatusCode: 200, Body: stdout.Bytes(), Via: ViaProcess}, nil
}

// buildArgs assembles the command line for req.
func (t *ProcessTransport) buildArgs(req *Request) ([]string, error) {
	parts, err := shlex.Split(t.command)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fallback command %q: %w", t.command, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("fallback command is empty")
	}

	exe, err := findExecutable(parts[0])
	if err != nil {
		return nil, err
	}

	args := append([]string{exe}, parts[1:]...)
	args = append(args,
		"-sS",
		"--fail",
		"-X", req.Method,
		"--connect-timeout", formatSeconds(t.connectTimeout),
	)
	if req.Timeout > 0 {
		args = append(args, "--max-time", formatSeconds(req.Timeout))
	}

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range req.Header[k] {
			args = append(args, "-H", k+": "+v)
		}
	}
	if req.Body != nil {
		if req.Header.Get("Content-Type") == "" {
			args = append(args, "-H", "Content-Type: application/json")
		}
		args = append(args, "--data-binary", "@-")
	}

	return append(args, t.baseURL+req.Path), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// findExecutable resolves name via PATH and then common installation paths.
func findExecutable(name string) (string, error) {
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}
	if filepath.IsAbs(name) || strings.ContainsRune(name, filepath.Separator) {
		return "", fmt.Errorf("fallback command %s not found", name)
	}

	possiblePaths := []string{
		filepath.Join("/usr/local/bin", name),
		filepath.Join("/usr/bin", name),
		filepath.Join("/bin", name),
		filepath.Join("/opt/homebrew/bin", name),
	}
	if home := os.Getenv("HOME"); home != "" {
		possiblePaths = append(possiblePaths,
			filepath.Join(home, ".local", "bin", name),
			filepath.Join(home, "bin", name),
		)
	}

	for _, p := range possiblePaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}

	return "", fmt.Errorf("%s not found in PATH or common installation directories", name)
}

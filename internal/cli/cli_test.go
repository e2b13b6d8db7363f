// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
)

// =============================================================================
// ARG PARSER TESTS
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name: "flag with value",
			args: []string{"models", "--lines", "50"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("lines") != "50" {
					t.Errorf("Flag(lines) = %q, want %q", p.Flag("lines"), "50")
				}
			},
		},
		{
			name: "flag with equals",
			args: []string{"--config=/tmp/x.toml", "status"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("config") != "/tmp/x.toml" {
					t.Errorf("Flag(config) = %q, want %q", p.Flag("config"), "/tmp/x.toml")
				}
				if p.Positional(0) != "status" {
					t.Errorf("Positional(0) = %q, want status", p.Positional(0))
				}
			},
		},
		{
			name:  "declared boolean does not swallow the next word",
			args:  []string{"ask", "--json", "why", "not"},
			bools: []string{"json"},
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be true")
				}
				if got := p.JoinFrom(1); got != "why not" {
					t.Errorf("JoinFrom(1) = %q, want %q", got, "why not")
				}
			},
		},
		{
			name:  "explicit boolean value",
			args:  []string{"--json=false"},
			bools: []string{"json"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.BoolFlag("json") {
					t.Error("BoolFlag(json) should be false")
				}
				if !p.HasFlag("json") {
					t.Error("HasFlag(json) should be true")
				}
			},
		},
		{
			name: "undeclared trailing flag is boolean",
			args: []string{"chat", "--verbose"},
			validate: func(t *testing.T, p *ArgParser) {
				if !p.BoolFlag("verbose") {
					t.Error("BoolFlag(verbose) should be true")
				}
			},
		},
		{
			name: "double dash ends flags",
			args: []string{"ask", "--", "--not-a-flag", "-x"},
			validate: func(t *testing.T, p *ArgParser) {
				if got := p.JoinFrom(1); got != "--not-a-flag -x" {
					t.Errorf("JoinFrom(1) = %q", got)
				}
				if p.HasFlag("not-a-flag") {
					t.Error("flag after -- should be positional")
				}
			},
		},
		{
			name: "negative number is positional",
			args: []string{"ask", "is", "-1", "odd"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.PositionalCount() != 4 {
					t.Errorf("PositionalCount() = %d, want 4", p.PositionalCount())
				}
			},
		},
		{
			name: "short alias",
			args: []string{"-m", "phi3:mini", "ask", "hi"},
			validate: func(t *testing.T, p *ArgParser) {
				if p.Flag("model", "m") != "phi3:mini" {
					t.Errorf("Flag(model, m) = %q", p.Flag("model", "m"))
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.validate(t, NewArgParser(tt.args, tt.bools...))
		})
	}
}

func TestArgParser_FlagInt(t *testing.T) {
	p := NewArgParser([]string{"--n", "7", "--bad", "x"})

	n, err := p.FlagInt("n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = p.FlagInt("bad")
	assert.Error(t, err)
	_, err = p.FlagInt("missing")
	assert.Error(t, err)

	assert.Equal(t, "fallback", p.FlagOrDefault("missing", "fallback"))
}

func TestParseBoolString(t *testing.T) {
	for _, s := range []string{"true", "YES", "y", "1", "on"} {
		b, err := ParseBoolString(s)
		assert.NoError(t, err, s)
		assert.True(t, b, s)
	}
	for _, s := range []string{"false", "No", "n", "0", "off"} {
		b, err := ParseBoolString(s)
		assert.NoError(t, err, s)
		assert.False(t, b, s)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// COMMAND PARSING TESTS
// =============================================================================

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		check   func(*testing.T, Args)
	}{
		{"no args is chat", nil, CmdChat, nil},
		{"help flag", []string{"ask", "--help"}, CmdHelp, nil},
		{"version", []string{"version", "--json"}, CmdVersion, func(t *testing.T, a Args) {
			assert.True(t, a.JSON)
		}},
		{"ask", []string{"-m", "phi3:mini", "ask", "--raw", "what", "is", "Go?"}, CmdAsk, func(t *testing.T, a Args) {
			assert.Equal(t, "what is Go?", a.Query)
			assert.Equal(t, "phi3:mini", a.Model)
			assert.True(t, a.Raw)
		}},
		{"chat with metrics", []string{"chat", "--metrics-addr", ":9090"}, CmdChat, func(t *testing.T, a Args) {
			assert.Equal(t, ":9090", a.MetricsAddr)
		}},
		{"models default list", []string{"models"}, CmdModels, func(t *testing.T, a Args) {
			assert.Equal(t, "list", a.Subcommand)
		}},
		{"models delete alias", []string{"models", "delete", "phi3:mini"}, CmdModels, func(t *testing.T, a Args) {
			assert.Equal(t, "rm", a.Subcommand)
			assert.Equal(t, "phi3:mini", a.Name)
		}},
		{"status alias", []string{"--config", "/tmp/c.toml", "s"}, CmdStatus, func(t *testing.T, a Args) {
			assert.Equal(t, "/tmp/c.toml", a.ConfigPath)
		}},
		{"config default show", []string{"config"}, CmdConfig, func(t *testing.T, a Args) {
			assert.Equal(t, "show", a.Subcommand)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args, err := Parse(tt.argv)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, cmd)
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestParse_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		argv []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command"},
		{"ask without text", []string{"ask"}, "needs a question"},
		{"pull without name", []string{"models", "pull"}, "needs a model name"},
		{"bad models subcommand", []string{"models", "show"}, "unknown models subcommand"},
		{"bad config subcommand", []string{"config", "set"}, "unknown config subcommand"},
		{"flag for another command", []string{"status", "--raw"}, "unknown flag --raw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Parse(tt.argv)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, ExitUsageError, GetExitCode(err))
		})
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"usage", usageErrorf("bad"), ExitUsageError},
		{"config", &ConfigError{Path: "x", Err: errors.New("boom")}, ExitConfigError},
		{"validation", apperr.Validation("validate.Text", "text is empty"), ExitUsageError},
		{"network", apperr.WithOp(apperr.Network("ollama.Execute", "all 3 attempts failed", nil), "agent.Run"), ExitNetworkError},
		{"timeout", apperr.Timeout("agent.Run", context.DeadlineExceeded), ExitTimeoutError},
		{"not found", apperr.ModelNotFound("ollama.SwitchModel", "missing"), ExitNotFoundError},
		{"download", apperr.ModelDownload("ollama.PullModel", "failed", nil), ExitNetworkError},
		{"other", errors.New("boom"), ExitGeneralError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestDisplayError_JSON(t *testing.T) {
	var buf bytes.Buffer
	DisplayError(&buf, "ask", apperr.ModelNotFound("ollama.chat", "model \"x\" not found"), true)

	var resp JSONResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, "model_not_found", resp.ErrorType)
	require.NotNil(t, resp.Error)
	assert.Contains(t, *resp.Error, "ollama.chat")
}

// =============================================================================
// TERMINAL HELPER TESTS
// =============================================================================

func TestWrapText(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{"fits", "short line", 20, "short line"},
		{"wraps at word", "the quick brown fox", 10, "the quick\nbrown fox"},
		{"keeps newlines", "a\nb", 10, "a\nb"},
		{"wide runes", "日本語 日本語", 8, "日本語\n日本語"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WrapText(tt.text, tt.width))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "one two", Preview("one\n  two", 20))
	assert.Equal(t, "abcdefg...", Preview("abcdefghijklmnop", 10))
}

// =============================================================================
// COMMAND TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"RIGRUN_MODEL", "RIGRUN_OLLAMA_URL", "RIGRUN_SYSTEM_PROMPT", "RIGRUN_LOG_LEVEL",
		"RIGRUN_MAX_RETRIES", "RIGRUN_MEMORY_CAPACITY", "RIGRUN_NO_FALLBACK",
	} {
		t.Setenv(k, "")
	}
}

// fakeOllama serves the endpoints the CLI uses. Only "llama3.1:8b" and
// "mistral:7b" exist.
func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	known := map[string]bool{"llama3.1:8b": true, "mistral:7b": true}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat":
			var req ollama.ChatRequest
			json.NewDecoder(r.Body).Decode(&req)
			content := "pong from " + req.Model
			if n := len(req.Messages); n > 0 && req.Messages[n-1].Content == "entities" {
				content = "Tom &amp; Jerry"
			}
			json.NewEncoder(w).Encode(ollama.ChatResponse{
				Model:   req.Model,
				Message: &ollama.Message{Role: "assistant", Content: content},
				Done:    true,
			})
		case "/api/tags":
			fmt.Fprint(w, `{"models":[
				{"name":"mistral:7b","size":4100000000,"details":{"parameter_size":"7B","quantization_level":"Q4_0"}},
				{"name":"llama3.1:8b","size":4900000000,"details":{"parameter_size":"8B","quantization_level":"Q4_K_M"}}]}`)
		case "/api/show", "/api/delete":
			var req ollama.ModelRequest
			json.NewDecoder(r.Body).Decode(&req)
			if !known[req.Name] {
				w.WriteHeader(http.StatusNotFound)
				fmt.Fprint(w, `{"error":"model not found"}`)
				return
			}
			fmt.Fprint(w, `{}`)
		case "/api/pull":
			fmt.Fprint(w, `{"status":"success"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeTestConfig writes a config pointing at url and returns its path.
func writeTestConfig(t *testing.T, url string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	content := fmt.Sprintf(`
default_model = "llama3.1:8b"
log_level = "error"

[server]
url = %q
disable_fallback = true

[retry]
max_attempts = 1
`, url)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func runCommand(t *testing.T, argv ...string) (string, error) {
	t.Helper()
	cmd, args, err := Parse(argv)
	require.NoError(t, err)

	var stdout, stderr bytes.Buffer
	err = Run(context.Background(), cmd, args, &stdout, &stderr)
	return stdout.String(), err
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.True(t, resp.Success, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func TestAsk(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, fakeOllama(t).URL)

	out, err := runCommand(t, "--config", path, "ask", "--raw", "--quiet", "ping?")
	require.NoError(t, err)
	assert.Equal(t, "pong from llama3.1:8b\n", out)

	out, err = runCommand(t, "--config", path, "-m", "mistral:7b", "ask", "--json", "ping?")
	require.NoError(t, err)
	var res askResult
	decodeData(t, out, &res)
	assert.Equal(t, "pong from mistral:7b", res.Content)
	assert.Equal(t, "mistral:7b", res.Model)
	assert.Equal(t, ollama.ViaHTTP, res.Via)
}

func TestAsk_Errors(t *testing.T) {
	clearEnv(t)
	srv := fakeOllama(t)
	path := writeTestConfig(t, srv.URL)

	_, err := runCommand(t, "--config", path, "ask", "<script>alert(1)</script>")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	_, err = runCommand(t, "--config", path, "-m", "bad name!", "ask", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))

	srv.Close()
	_, err = runCommand(t, "--config", path, "ask", "hi")
	require.Error(t, err)
	assert.Equal(t, ExitNetworkError, GetExitCode(err))
}

func TestModels(t *testing.T) {
	clearEnv(t)
	path := writeTestConfig(t, fakeOllama(t).URL)

	out, err := runCommand(t, "--config", path, "models", "--json")
	require.NoError(t, err)
	var models []ollama.ModelDescriptor
	decodeData(t, out, &models)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.1:8b", models[0].Name)

	out, err = runCommand(t, "--config", path, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "mistral:7b")
	assert.Contains(t, out, "active model: llama3.1:8b")

	out, err = runCommand(t, "--config", path, "models", "pull", "phi3:mini", "--json")
	require.NoError(t, err)
	var outcome ollama.Outcome
	decodeData(t, out, &outcome)
	assert.Equal(t, "success", outcome.Status)

	_, err = runCommand(t, "--config", path, "models", "rm", "ghost:1b")
	require.Error(t, err)
	assert.Equal(t, ExitNotFoundError, GetExitCode(err))
}

func TestStatus(t *testing.T) {
	clearEnv(t)
	srv := fakeOllama(t)
	path := writeTestConfig(t, srv.URL)

	out, err := runCommand(t, "--config", path, "status", "--json")
	require.NoError(t, err)
	var status StatusOutput
	decodeData(t, out, &status)
	assert.True(t, status.Health.Healthy)
	assert.Equal(t, "llama3.1:8b", status.Model)
	assert.Equal(t, 2, status.Models)
	assert.Equal(t, "disabled", status.Fallback)

	srv.Close()
	out, err = runCommand(t, "--config", path, "status", "--json")
	require.NoError(t, err)
	decodeData(t, out, &status)
	assert.False(t, status.Health.Healthy)
	assert.NotEmpty(t, status.Health.Error)
	assert.Equal(t, -1, status.Models)
}

func TestConfigCommand(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, err := runCommand(t, "--config", path, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, path+"\n", out)

	_, err = runCommand(t, "--config", path, "-m", "phi3:mini", "config", "init")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	_, err = runCommand(t, "--config", path, "config", "init")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))

	out, err = runCommand(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, `default_model = "phi3:mini"`)
}

func TestConfigCommand_InvalidFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[retry]
max_attempts = 99
`), 0600))

	_, err := runCommand(t, "--config", path, "status")
	require.Error(t, err)
	assert.Equal(t, ExitConfigError, GetExitCode(err))
	assert.Contains(t, err.Error(), "retry.max_attempts")
}

// =============================================================================
// CHAT SLASH COMMAND TESTS
// =============================================================================

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	clearEnv(t)
	path := writeTestConfig(t, fakeOllama(t).URL)

	var out bytes.Buffer
	app, err := NewApp(Args{ConfigPath: path}, &out, &out)
	require.NoError(t, err)
	return app, &out
}

func TestSlashCommands(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.sendMessage(ctx, "hello"))
	assert.Contains(t, out.String(), "pong from llama3.1:8b")

	keep, err := app.handleSlashCommand(ctx, "/memory")
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Contains(t, out.String(), "2/10 messages")

	_, err = app.handleSlashCommand(ctx, "/model mistral:7b")
	require.NoError(t, err)
	assert.Equal(t, "mistral:7b", app.Agent.ActiveModel())

	_, err = app.handleSlashCommand(ctx, "/model ghost:1b")
	require.Error(t, err)
	assert.True(t, apperr.IsModelNotFound(err))
	assert.Equal(t, "mistral:7b", app.Agent.ActiveModel())

	out.Reset()
	_, err = app.handleSlashCommand(ctx, "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "hello")
	assert.Contains(t, out.String(), "llama3.1:8b")

	_, err = app.handleSlashCommand(ctx, "/clear")
	require.NoError(t, err)
	assert.Zero(t, app.Agent.MemorySize())

	_, err = app.handleSlashCommand(ctx, "/pull")
	assert.Error(t, err)

	_, err = app.handleSlashCommand(ctx, "/bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")

	keep, err = app.handleSlashCommand(ctx, "/exit")
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestSlashCommands_StatsAndHealth(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	_, err := app.handleSlashCommand(ctx, "/health")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[OK]")

	require.NoError(t, app.sendMessage(ctx, "hi"))
	out.Reset()
	_, err = app.handleSlashCommand(ctx, "/stats")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.String(), "1 (1 ok, 0 failed)"), out.String())
}

func TestHistory_ShowsRepliesVerbatim(t *testing.T) {
	app, out := newTestApp(t)
	ctx := context.Background()

	require.NoError(t, app.sendMessage(ctx, "a < b"))
	require.NoError(t, app.sendMessage(ctx, "entities"))

	out.Reset()
	_, err := app.handleSlashCommand(ctx, "/history")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "a < b")
	assert.Contains(t, out.String(), "Tom &amp; Jerry")
	assert.NotContains(t, out.String(), "&lt;")
}

func TestLineReader_SaveHistoryLogsFailure(t *testing.T) {
	// A regular file where the history directory should be.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	var logs bytes.Buffer
	r := &lineReader{
		historyFile: filepath.Join(blocker, "chat_history"),
		logger:      logging.New(logging.Options{Level: slog.LevelWarn, Writer: &logs}),
	}
	r.saveHistory([]byte("hello\n"))

	assert.Contains(t, logs.String(), "chat history not saved")
	assert.Contains(t, logs.String(), blocker)
}

func TestLineReader_SaveHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "chat_history")
	r := &lineReader{historyFile: path, logger: logging.Discard()}
	r.saveHistory([]byte("hello\n"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

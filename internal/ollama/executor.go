// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/validate"
)

// =============================================================================
// CHAT EXECUTOR
// =============================================================================

// ChatInput is a single chat request.
type ChatInput struct {
	// Model overrides the active model. Callers that must attribute the
	// reply to a specific model pass their snapshot here.
	Model string

	Prompt       string
	SystemPrompt string
	History      []Message // chronological, oldest first

	// MaxLength bounds the prompt in characters (0 = validate.DefaultMaxTextLength).
	MaxLength int
}

// ChatResult is a successful chat reply.
type ChatResult struct {
	Content         string
	Model           string
	Attempts        int
	Duration        time.Duration
	Via             string // transport that delivered the reply
	TokensPerSecond float64
}

// Executor sends chat requests with bounded retries.
//
// The Executor holds no per-call state and is safe for concurrent use.
type Executor struct {
	cfg       Config
	transport Transport
	active    *ActiveModel
	logger    *slog.Logger

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor. active supplies the model when a
// ChatInput does not name one; logger may be nil.
func NewExecutor(cfg Config, transport Transport, active *ActiveModel, logger *slog.Logger) *Executor {
	cfg = cfg.withDefaults()
	logger = logging.OrDiscard(logger)
	if transport == nil {
		transport = NewTransport(cfg, logger)
	}
	if active == nil {
		active = &ActiveModel{}
	}
	return &Executor{
		cfg:       cfg,
		transport: transport,
		active:    active,
		logger:    logger,
		sleep:     sleepContext,
	}
}

// Config returns a copy of the executor configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// RetryDelay returns the wait after failed attempt n (1-based):
// min(base*n, max).
func RetryDelay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	d := base * time.Duration(n)
	if d > max || d < 0 {
		return max
	}
	return d
}

// Execute validates the prompt, builds the message list and calls
// /api/chat, making at most Config.MaxRetries attempts.
//
// Errors:
//   - validation error for a bad prompt or model name (no network call)
//   - timeout error when ctx's deadline passes
//   - network error wrapping the last cause when every attempt fails
func (e *Executor) Execute(ctx context.Context, in ChatInput) (*ChatResult, error) {
	const op = "ollama.Execute"
	start := time.Now()

	if err := validate.Text(in.Prompt, in.MaxLength); err != nil {
		return nil, apperr.WithOp(err, op)
	}
	prompt := validate.Sanitize(in.Prompt)

	model := in.Model
	if model == "" {
		model = e.active.Load()
	}
	if err := validate.ModelName(model); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	messages := make([]Message, 0, len(in.History)+2)
	if in.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: in.SystemPrompt})
	}
	messages = append(messages, in.History...)
	messages = append(messages, Message{Role: "user", Content: prompt})

	body, err := json.Marshal(ChatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return nil, apperr.Validation(op, "failed to marshal request: "+err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, apperr.FromContext(op, err)
		}

		resp, via, err := e.attempt(ctx, model, body)
		if err == nil {
			result := &ChatResult{
				Content:         resp.Message.Content,
				Model:           model,
				Attempts:        attempt,
				Duration:        time.Since(start),
				Via:             via,
				TokensPerSecond: resp.TokensPerSecond(),
			}
			e.logger.Debug("chat completed",
				"model", model,
				"attempts", attempt,
				"via", via,
				"duration", result.Duration,
			)
			return result, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.FromContext(op, ctxErr)
		}

		lastErr = err
		e.logger.Debug("chat attempt failed",
			"model", model,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxRetries,
			"error", err,
		)

		if attempt == e.cfg.MaxRetries {
			break
		}
		if err := e.sleep(ctx, RetryDelay(attempt, e.cfg.RetryBaseDelay, e.cfg.RetryMaxDelay)); err != nil {
			return nil, apperr.FromContext(op, err)
		}
	}

	return nil, apperr.Network(op, fmt.Sprintf("all %d attempts failed", e.cfg.MaxRetries), lastErr)
}

// attempt performs one chat call. A 200 without content fails like a
// missing model.
func (e *Executor) attempt(ctx context.Context, model string, body []byte) (*ChatResponse, string, error) {
	const op = "ollama.chat"

	resp, err := e.transport.Send(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/api/chat",
		Body:    body,
		Timeout: e.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, "", err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, resp.Via, apperr.ModelNotFound(op, fmt.Sprintf("model %q: %s", model, serverMessage(resp.Body)))
	case !resp.OK():
		return nil, resp.Via, fmt.Errorf("server returned %d: %s", resp.StatusCode, serverMessage(resp.Body))
	}

	var chat ChatResponse
	if err := json.Unmarshal(resp.Body, &chat); err != nil {
		return nil, resp.Via, fmt.Errorf("decode chat response: %w", err)
	}
	if chat.Message == nil || chat.Message.Content == "" {
		return nil, resp.Via, apperr.ModelNotFound(op, fmt.Sprintf("model %q returned no content", model))
	}
	return &chat, resp.Via, nil
}

// serverMessage extracts {"error": "..."} from body, falling back to the
// raw text.
func serverMessage(body []byte) string {
	var oe OllamaError
	if err := json.Unmarshal(body, &oe); err == nil && oe.Error != "" {
		return oe.Error
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

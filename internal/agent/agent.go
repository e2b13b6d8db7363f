// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/memory"
	"github.com/jeranaias/rigrun-agent/internal/ollama"
	"github.com/jeranaias/rigrun-agent/internal/validate"
)

// DefaultHealthProbe is sent by CheckHealth when Options.HealthProbe is empty.
const DefaultHealthProbe = "ping"

// =============================================================================
// COLLABORATORS
// =============================================================================

// ChatExecutor sends one chat request. *ollama.Executor implements it.
type ChatExecutor interface {
	Execute(ctx context.Context, in ollama.ChatInput) (*ollama.ChatResult, error)
}

// ModelManager runs the model lifecycle. *ollama.Manager implements it.
type ModelManager interface {
	ListModels(ctx context.Context) ([]ollama.ModelDescriptor, error)
	PullModel(ctx context.Context, name string) (*ollama.Outcome, error)
	DeleteModel(ctx context.Context, name string) (*ollama.Outcome, error)
	SwitchModel(ctx context.Context, name string) (*ollama.Outcome, error)
	Active() *ollama.ActiveModel
}

// =============================================================================
// TYPES
// =============================================================================

// Options configures an Agent. Executor and Models are required.
type Options struct {
	Executor ChatExecutor
	Models   ModelManager
	Memory   *memory.Memory // nil = memory.New(memory.DefaultCapacity)

	SystemPrompt   string
	MaxInputLength int           // 0 = validate.DefaultMaxTextLength
	RequestTimeout time.Duration // 0 = no per-request deadline
	Limiter        *rate.Limiter // nil = unlimited
	HealthProbe    string        // "" = DefaultHealthProbe

	Logger  *slog.Logger
	Metrics *Metrics
}

// Reply is the result of a successful Run.
type Reply struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration"`
	Attempts int           `json:"attempts"`
	Via      string        `json:"via"`
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Healthy   bool          `json:"healthy"`
	Model     string        `json:"model"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Stats are the running request counters.
type Stats struct {
	Total          int64         `json:"total"`
	Success        int64         `json:"success"`
	Failed         int64         `json:"failed"`
	TotalLatency   time.Duration `json:"total_latency"`
	AverageLatency time.Duration `json:"average_latency"`
	SessionStart   time.Time     `json:"session_start"`
	Uptime         time.Duration `json:"uptime"`
}

// =============================================================================
// AGENT
// =============================================================================

// Agent turns user input into model replies while keeping a bounded
// conversation history.
//
// Run may be called from many goroutines. Each call reads the active model
// once at its start, so a concurrent SwitchModel never changes the model an
// in-flight request uses or is attributed to.
type Agent struct {
	executor ChatExecutor
	models   ModelManager
	memory   *memory.Memory

	systemPrompt   string
	maxInputLength int
	requestTimeout time.Duration
	limiter        *rate.Limiter
	healthProbe    string

	logger  *slog.Logger
	metrics *Metrics

	sessionStart time.Time

	mu           sync.Mutex
	total        int64
	success      int64
	failed       int64
	totalLatency time.Duration
}

// New creates an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Executor == nil {
		return nil, errors.New("agent: executor is required")
	}
	if opts.Models == nil {
		return nil, errors.New("agent: model manager is required")
	}
	if opts.Memory == nil {
		opts.Memory = memory.New(memory.DefaultCapacity)
	}
	if opts.MaxInputLength <= 0 {
		opts.MaxInputLength = validate.DefaultMaxTextLength
	}
	if opts.HealthProbe == "" {
		opts.HealthProbe = DefaultHealthProbe
	}

	return &Agent{
		executor:       opts.Executor,
		models:         opts.Models,
		memory:         opts.Memory,
		systemPrompt:   opts.SystemPrompt,
		maxInputLength: opts.MaxInputLength,
		requestTimeout: opts.RequestTimeout,
		limiter:        opts.Limiter,
		healthProbe:    opts.HealthProbe,
		logger:         logging.OrDiscard(opts.Logger),
		metrics:        opts.Metrics,
		sessionStart:   time.Now(),
	}, nil
}

// Run answers input using the recent conversation as context. On success
// the exchange is appended to memory, the reply attributed to the model that
// was active when Run started. Failures leave memory untouched.
func (a *Agent) Run(ctx context.Context, input string) (reply *Reply, err error) {
	const op = "agent.Run"
	start := time.Now()

	defer func() {
		elapsed := time.Since(start)
		a.record(err, elapsed)
		if err != nil {
			a.logger.Warn("request failed", "error", err, "duration", elapsed)
		}
	}()

	if a.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.requestTimeout)
		defer cancel()
	}

	// Rejected input never spends a limiter token.
	if err := validate.Text(input, a.maxInputLength); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	if err := a.wait(ctx); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	model := a.models.Active().Load()
	history := a.history()

	result, err := a.executor.Execute(ctx, ollama.ChatInput{
		Model:        model,
		Prompt:       input,
		SystemPrompt: a.systemPrompt,
		History:      history,
		MaxLength:    a.maxInputLength,
	})
	if err != nil {
		return nil, apperr.WithOp(err, op)
	}

	// Stored as sent so later history matches what the model saw.
	a.memory.AddEntry(memory.RoleUser, validate.Sanitize(input))
	a.memory.AddEntryWithModel(memory.RoleAssistant, result.Content, model)
	a.metrics.SetMemorySize(a.memory.Size())

	a.logger.Debug("request completed",
		"model", model,
		"attempts", result.Attempts,
		"via", result.Via,
		"history", len(history),
	)

	return &Reply{
		Content:  result.Content,
		Model:    model,
		Duration: time.Since(start),
		Attempts: result.Attempts,
		Via:      result.Via,
	}, nil
}

// wait blocks on the rate limiter, if any.
func (a *Agent) wait(ctx context.Context) error {
	const op = "agent.wait"
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apperr.FromContext(op, ctxErr)
		}
		// The limiter refuses up front when the wait would outlast the deadline.
		return apperr.Timeout(op, err)
	}
	return nil
}

// history returns the whole memory as chat messages, oldest first.
func (a *Agent) history() []ollama.Message {
	entries := a.memory.GetRecent(a.memory.Capacity())
	msgs := make([]ollama.Message, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, ollama.Message{Role: e.Role.String(), Content: e.Content})
	}
	return msgs
}

func (a *Agent) record(err error, d time.Duration) {
	a.mu.Lock()
	a.total++
	if err == nil {
		a.success++
	} else {
		a.failed++
	}
	a.totalLatency += d
	a.mu.Unlock()

	a.metrics.ObserveRequest(err, d)
}

// =============================================================================
// HEALTH & STATS
// =============================================================================

// CheckHealth sends the probe text to the active model without history and
// reports whether a reply came back. Memory and request counters are not
// touched.
func (a *Agent) CheckHealth(ctx context.Context) HealthStatus {
	start := time.Now()
	model := a.models.Active().Load()

	_, err := a.executor.Execute(ctx, ollama.ChatInput{
		Model:  model,
		Prompt: a.healthProbe,
	})

	status := HealthStatus{
		Healthy:   err == nil,
		Model:     model,
		Latency:   time.Since(start),
		CheckedAt: time.Now(),
	}
	if err != nil {
		status.Error = apperr.WithOp(err, "agent.CheckHealth").Error()
		a.logger.Warn("health check failed", "model", model, "error", err)
	}
	a.metrics.SetHealthy(status.Healthy)
	return status
}

// Stats returns a snapshot of the request counters.
func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Stats{
		Total:        a.total,
		Success:      a.success,
		Failed:       a.failed,
		TotalLatency: a.totalLatency,
		SessionStart: a.sessionStart,
		Uptime:       time.Since(a.sessionStart),
	}
	if a.total > 0 {
		s.AverageLatency = a.totalLatency / time.Duration(a.total)
	}
	return s
}

// =============================================================================
// MODELS
// =============================================================================

// ListModels returns the locally available models.
func (a *Agent) ListModels(ctx context.Context) ([]ollama.ModelDescriptor, error) {
	models, err := a.models.ListModels(ctx)
	return models, apperr.WithOp(err, "agent.ListModels")
}

// PullModel downloads a model.
func (a *Agent) PullModel(ctx context.Context, name string) (*ollama.Outcome, error) {
	out, err := a.models.PullModel(ctx, name)
	return out, apperr.WithOp(err, "agent.PullModel")
}

// DeleteModel removes a local model.
func (a *Agent) DeleteModel(ctx context.Context, name string) (*ollama.Outcome, error) {
	out, err := a.models.DeleteModel(ctx, name)
	return out, apperr.WithOp(err, "agent.DeleteModel")
}

// SwitchModel makes name the active model for requests started afterwards.
func (a *Agent) SwitchModel(ctx context.Context, name string) (*ollama.Outcome, error) {
	out, err := a.models.SwitchModel(ctx, name)
	return out, apperr.WithOp(err, "agent.SwitchModel")
}

// ActiveModel returns the name of the active model.
func (a *Agent) ActiveModel() string {
	return a.models.Active().Load()
}

// =============================================================================
// MEMORY
// =============================================================================

// MemorySize returns the number of remembered entries.
func (a *Agent) MemorySize() int { return a.memory.Size() }

// MemorySummary returns e.g. "4/10 messages".
func (a *Agent) MemorySummary() string { return a.memory.Summary() }

// ClearMemory forgets the conversation.
func (a *Agent) ClearMemory() {
	a.memory.Clear()
	a.metrics.SetMemorySize(0)
}

// History returns the remembered entries, oldest first.
func (a *Agent) History() []memory.Entry { return a.memory.All() }

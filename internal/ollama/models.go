// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
	"github.com/jeranaias/rigrun-agent/internal/logging"
	"github.com/jeranaias/rigrun-agent/internal/validate"
)

// =============================================================================
// MODEL MANAGER
// =============================================================================

// Outcome describes a completed lifecycle operation.
type Outcome struct {
	Model    string        `json:"model"`
	Previous string        `json:"previous,omitempty"` // set by SwitchModel
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration"`
}

// Manager lists, pulls, deletes and switches models. Listings are cached
// for Config.CacheTTL.
//
// The Manager is safe for concurrent use.
type Manager struct {
	cfg       Config
	transport Transport
	active    *ActiveModel
	logger    *slog.Logger
	now       func() time.Time

	refresh singleflight.Group

	mu       sync.RWMutex
	cache    []ModelDescriptor
	cachedAt time.Time
}

// NewManager creates a model manager that switches active. logger may be nil.
func NewManager(cfg Config, transport Transport, active *ActiveModel, logger *slog.Logger) *Manager {
	cfg = cfg.withDefaults()
	logger = logging.OrDiscard(logger)
	if transport == nil {
		transport = NewTransport(cfg, logger)
	}
	if active == nil {
		active = &ActiveModel{}
	}
	return &Manager{
		cfg:       cfg,
		transport: transport,
		active:    active,
		logger:    logger,
		now:       time.Now,
	}
}

// Active returns the active model shared with executors.
func (m *Manager) Active() *ActiveModel {
	return m.active
}

// ListModels returns the locally available models sorted by name. A cached
// listing younger than the TTL is returned without a request. If a refresh
// fails while an older listing is cached, the stale listing is returned.
func (m *Manager) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	const op = "ollama.ListModels"

	if models, ok := m.fresh(); ok {
		return models, nil
	}

	// The shared fetch outlives any one caller's deadline; it is bounded
	// by the request timeout instead.
	fetchCtx := context.WithoutCancel(ctx)
	ch := m.refresh.DoChan("tags", func() (any, error) {
		return m.fetchModels(fetchCtx)
	})

	var err error
	select {
	case res := <-ch:
		if res.Err == nil {
			return cloneDescriptors(res.Val.([]ModelDescriptor)), nil
		}
		err = res.Err
	case <-ctx.Done():
		err = ctx.Err()
	}

	m.mu.RLock()
	stale := cloneDescriptors(m.cache)
	hasCache := m.cache != nil
	m.mu.RUnlock()

	if hasCache {
		m.logger.Warn("model listing refresh failed, serving cached listing",
			"error", err,
			"cached_at", m.CachedAt(),
		)
		return stale, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return []ModelDescriptor{}, apperr.FromContext(op, ctxErr)
	}
	return []ModelDescriptor{}, apperr.Network(op, "failed to list models", err)
}

// fresh returns the cached listing if it is within the TTL.
func (m *Manager) fresh() ([]ModelDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cache == nil || m.cachedAt.IsZero() || m.now().Sub(m.cachedAt) >= m.cfg.CacheTTL {
		return nil, false
	}
	return cloneDescriptors(m.cache), true
}

func (m *Manager) fetchModels(ctx context.Context) ([]ModelDescriptor, error) {
	resp, err := m.transport.Send(ctx, &Request{
		Method:  http.MethodGet,
		Path:    "/api/tags",
		Timeout: m.cfg.RequestTimeout,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, serverMessage(resp.Body))
	}

	var list ListModelsResponse
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}

	models := make([]ModelDescriptor, 0, len(list.Models))
	for _, info := range list.Models {
		models = append(models, info.descriptor())
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })

	m.mu.Lock()
	m.cache = models
	m.cachedAt = m.now()
	m.mu.Unlock()

	return models, nil
}

// Invalidate forces the next ListModels to refresh. The old listing is
// kept as a fallback for a failed refresh.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cachedAt = time.Time{}
	m.mu.Unlock()
}

// CachedAt returns when the listing was last refreshed, or the zero time.
func (m *Manager) CachedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cachedAt
}

// PullModel downloads a model. The name is validated before any request.
func (m *Manager) PullModel(ctx context.Context, name string) (*Outcome, error) {
	const op = "ollama.PullModel"
	start := time.Now()

	if err := validate.ModelName(name); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	body, _ := json.Marshal(PullRequest{Name: name, Stream: false})
	m.logger.Info("pulling model", "model", name)

	resp, err := m.transport.Send(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/api/pull",
		Body:    body,
		Timeout: m.cfg.DownloadTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		return nil, apperr.ModelDownload(op, fmt.Sprintf("pull %s failed", name), err)
	}
	if !resp.OK() {
		return nil, apperr.ModelDownload(op,
			fmt.Sprintf("pull %s failed: server returned %d: %s", name, resp.StatusCode, serverMessage(resp.Body)), nil)
	}

	status := lastPullStatus(resp.Body)
	if status.Error != "" {
		return nil, apperr.ModelDownload(op, fmt.Sprintf("pull %s failed: %s", name, status.Error), nil)
	}
	if status.Status != "success" {
		return nil, apperr.ModelDownload(op, fmt.Sprintf("pull %s ended with status %q", name, status.Status), nil)
	}

	m.Invalidate()
	outcome := &Outcome{Model: name, Status: status.Status, Duration: time.Since(start)}
	m.logger.Info("model pulled", "model", name, "duration", outcome.Duration)
	return outcome, nil
}

// lastPullStatus decodes the final status object. Servers that stream
// anyway send one JSON object per line; the last one is authoritative.
func lastPullStatus(body []byte) PullResponse {
	var status PullResponse
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &status); err != nil {
			return PullResponse{Error: "invalid pull response: " + err.Error()}
		}
		return status
	}
	return PullResponse{Error: "empty pull response"}
}

// DeleteModel removes a local model. The active model is left unchanged
// even if it is the one deleted.
func (m *Manager) DeleteModel(ctx context.Context, name string) (*Outcome, error) {
	const op = "ollama.DeleteModel"
	start := time.Now()

	if err := validate.ModelName(name); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	body, _ := json.Marshal(ModelRequest{Name: name})
	resp, err := m.transport.Send(ctx, &Request{
		Method:  http.MethodDelete,
		Path:    "/api/delete",
		Body:    body,
		Timeout: m.cfg.RequestTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		return nil, apperr.ModelDownload(op, fmt.Sprintf("delete %s failed", name), err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.ModelNotFound(op, fmt.Sprintf("model %q not found", name))
	case !resp.OK():
		return nil, apperr.ModelDownload(op,
			fmt.Sprintf("delete %s failed: server returned %d: %s", name, resp.StatusCode, serverMessage(resp.Body)), nil)
	}

	m.Invalidate()
	if m.active.Load() == name {
		m.logger.Warn("deleted the active model", "model", name)
	}
	return &Outcome{Model: name, Status: "deleted", Duration: time.Since(start)}, nil
}

// SwitchModel checks that name exists on the server and makes it the
// active model.
func (m *Manager) SwitchModel(ctx context.Context, name string) (*Outcome, error) {
	const op = "ollama.SwitchModel"
	start := time.Now()

	if err := validate.ModelName(name); err != nil {
		return nil, apperr.WithOp(err, op)
	}

	body, _ := json.Marshal(ModelRequest{Name: name})
	resp, err := m.transport.Send(ctx, &Request{
		Method:  http.MethodPost,
		Path:    "/api/show",
		Body:    body,
		Timeout: m.cfg.RequestTimeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, apperr.FromContext(op, ctx.Err())
		}
		return nil, apperr.Network(op, "model existence check failed", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.ModelNotFound(op, fmt.Sprintf("model %q not found", name))
	case !resp.OK():
		return nil, apperr.Network(op, "model existence check failed",
			fmt.Errorf("server returned %d: %s", resp.StatusCode, serverMessage(resp.Body)))
	}

	previous := m.active.Store(name)
	m.logger.Info("switched model", "model", name, "previous", previous)
	return &Outcome{Model: name, Previous: previous, Status: "switched", Duration: time.Since(start)}, nil
}

func cloneDescriptors(in []ModelDescriptor) []ModelDescriptor {
	if in == nil {
		return []ModelDescriptor{}
	}
	out := make([]ModelDescriptor, len(in))
	copy(out, in)
	return out
}

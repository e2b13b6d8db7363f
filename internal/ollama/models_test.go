// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
)

const tagsBody = `{"models":[
	{"name":"mistral:7b","size":4109865159,"digest":"sha256:61e8","details":{"family":"llama","parameter_size":"7.2B","quantization_level":"Q4_0"}},
	{"name":"llama3.1:8b","size":4920734208,"digest":"sha256:42182","details":{"family":"llama","parameter_size":"8.0B","quantization_level":"Q4_K_M"}}
]}`

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(ft *fakeTransport, active *ActiveModel) (*Manager, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(Config{CacheTTL: 30 * time.Second}, ft, active, nil)
	m.now = clock.Now
	return m, clock
}

// =============================================================================
// LIST TESTS
// =============================================================================

func TestListModels_SortedAndCached(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		assert.Equal(t, http.MethodGet, req.Method)
		assert.Equal(t, "/api/tags", req.Path)
		return jsonResponse(200, tagsBody), nil
	}}
	m, clock := newTestManager(ft, nil)
	ctx := context.Background()

	models, err := m.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3.1:8b", models[0].Name)
	assert.Equal(t, "mistral:7b", models[1].Name)
	assert.Equal(t, "Q4_K_M", models[0].QuantizationLevel)
	assert.True(t, models[0].Downloaded)
	assert.Equal(t, clock.Now(), m.CachedAt())

	// Within the TTL the cache answers.
	clock.Advance(29 * time.Second)
	_, err = m.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ft.count())

	// At the TTL a refresh happens.
	clock.Advance(time.Second)
	_, err = m.ListModels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, ft.count())
}

func TestListModels_ReturnsCopy(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		return jsonResponse(200, tagsBody), nil
	}}
	m, _ := newTestManager(ft, nil)

	first, err := m.ListModels(context.Background())
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", second[0].Name)
}

func TestListModels_StaleCacheOnFailure(t *testing.T) {
	fail := false
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		if fail {
			return nil, syscall.ECONNREFUSED
		}
		return jsonResponse(200, tagsBody), nil
	}}
	m, clock := newTestManager(ft, nil)

	_, err := m.ListModels(context.Background())
	require.NoError(t, err)
	cachedAt := m.CachedAt()

	fail = true
	clock.Advance(time.Minute)

	models, err := m.ListModels(context.Background())
	require.NoError(t, err, "stale cache is served silently")
	assert.Len(t, models, 2)
	assert.Equal(t, cachedAt, m.CachedAt())
	assert.Equal(t, 2, ft.count())
}

func TestListModels_NoCacheFailure(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		return jsonResponse(500, `{"error":"internal"}`), nil
	}}
	m, _ := newTestManager(ft, nil)

	models, err := m.ListModels(context.Background())
	require.Error(t, err)
	assert.NotNil(t, models)
	assert.Empty(t, models)
	assert.True(t, apperr.IsNetwork(err))
	assert.Contains(t, err.Error(), "ollama.ListModels")
}

func TestListModels_ConcurrentRefreshCollapsed(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		<-release
		return jsonResponse(200, tagsBody), nil
	}}
	m, _ := newTestManager(ft, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			models, err := m.ListModels(context.Background())
			assert.NoError(t, err)
			assert.Len(t, models, 2)
		}()
	}

	// Let the callers pile up behind the in-flight refresh.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, ft.count(), 8, "refreshes should be shared")
}

func TestListModels_SharedRefreshIgnoresCallerDeadline(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		select {
		case <-time.After(150 * time.Millisecond):
			return jsonResponse(200, tagsBody), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	m, _ := newTestManager(ft, nil)

	var wg sync.WaitGroup
	var shortErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, shortErr = m.ListModels(ctx)
	}()

	// Join the flight the short caller started.
	time.Sleep(10 * time.Millisecond)
	models, err := m.ListModels(context.Background())
	wg.Wait()

	require.NoError(t, err)
	assert.Len(t, models, 2)
	require.Error(t, shortErr)
	assert.True(t, apperr.IsTimeout(shortErr), "got %v", shortErr)
	assert.Equal(t, 1, ft.count())
}

func TestListModels_CancelledCallerStillFillsCache(t *testing.T) {
	release := make(chan struct{})
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		<-release
		return jsonResponse(200, tagsBody), nil
	}}
	m, _ := newTestManager(ft, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.ListModels(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	require.Eventually(t, func() bool { return !m.CachedAt().IsZero() }, time.Second, 5*time.Millisecond)

	models, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 2)
	assert.Equal(t, 1, ft.count())
}

// =============================================================================
// PULL / DELETE TESTS
// =============================================================================

func TestPullModel_InvalidNameNoNetwork(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		t.Fatal("transport must not be called")
		return nil, nil
	}}
	m, _ := newTestManager(ft, nil)

	for _, name := range []string{"bad name!", "../etc/passwd", ""} {
		_, err := m.PullModel(context.Background(), name)
		require.Error(t, err, name)
		assert.True(t, apperr.IsValidation(err), "PullModel(%q) = %v", name, err)
		assert.Contains(t, err.Error(), "ollama.PullModel")
	}
	assert.Equal(t, 0, ft.count())
}

func TestPullModel(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		transport  error
		wantErr    bool
		wantStatus string
	}{
		{"success", 200, `{"status":"success"}`, nil, false, "success"},
		{"streamed lines", 200, "{\"status\":\"pulling manifest\"}\n{\"status\":\"success\"}\n", nil, false, "success"},
		{"error body", 200, `{"error":"pull model manifest: file does not exist"}`, nil, true, ""},
		{"unexpected status", 200, `{"status":"verifying"}`, nil, true, ""},
		{"server error", 500, `{"error":"disk full"}`, nil, true, ""},
		{"process exit", 0, "", &ProcessError{Command: "curl", ExitCode: 7}, true, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
				assert.Equal(t, "/api/pull", req.Path)
				assert.Equal(t, 30*time.Minute, req.Timeout)
				var pr PullRequest
				assert.NoError(t, json.Unmarshal(req.Body, &pr))
				assert.Equal(t, "llama3.1:8b", pr.Name)
				assert.False(t, pr.Stream)
				if tc.transport != nil {
					return nil, tc.transport
				}
				return jsonResponse(tc.status, tc.body), nil
			}}
			m, _ := newTestManager(ft, nil)

			out, err := m.PullModel(context.Background(), "llama3.1:8b")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperr.IsModelDownload(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "llama3.1:8b", out.Model)
			assert.Equal(t, tc.wantStatus, out.Status)
		})
	}
}

func TestPullModel_InvalidatesCache(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		if req.Path == "/api/pull" {
			return jsonResponse(200, `{"status":"success"}`), nil
		}
		return jsonResponse(200, tagsBody), nil
	}}
	m, _ := newTestManager(ft, nil)

	_, err := m.ListModels(context.Background())
	require.NoError(t, err)
	require.False(t, m.CachedAt().IsZero())

	_, err = m.PullModel(context.Background(), "qwen2.5:7b")
	require.NoError(t, err)
	assert.True(t, m.CachedAt().IsZero())

	_, err = m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, ft.count())
}

func TestDeleteModel(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		check   func(error) bool
		wantErr bool
	}{
		{"deleted", 200, nil, false},
		{"not found", 404, apperr.IsModelNotFound, true},
		{"server error", 500, apperr.IsModelDownload, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
				assert.Equal(t, http.MethodDelete, req.Method)
				assert.Equal(t, "/api/delete", req.Path)
				return jsonResponse(tc.status, `{"error":"x"}`), nil
			}}
			active := NewActiveModel("llama3.1:8b")
			m, _ := newTestManager(ft, active)

			out, err := m.DeleteModel(context.Background(), "llama3.1:8b")
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, tc.check(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "deleted", out.Status)
			assert.Equal(t, "llama3.1:8b", active.Load(), "active model is left unchanged")
		})
	}
}

// =============================================================================
// SWITCH TESTS
// =============================================================================

func TestSwitchModel(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		var mr ModelRequest
		assert.NoError(t, json.Unmarshal(req.Body, &mr))
		if mr.Name == "ghost" {
			return jsonResponse(404, `{"error":"model 'ghost' not found"}`), nil
		}
		return jsonResponse(200, `{"details":{}}`), nil
	}}
	active := NewActiveModel("mistral:7b")
	m, _ := newTestManager(ft, active)

	out, err := m.SwitchModel(context.Background(), "llama3.1:8b")
	require.NoError(t, err)
	assert.Equal(t, "llama3.1:8b", out.Model)
	assert.Equal(t, "mistral:7b", out.Previous)
	assert.Equal(t, "llama3.1:8b", active.Load())

	_, err = m.SwitchModel(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apperr.IsModelNotFound(err))
	assert.Equal(t, "llama3.1:8b", active.Load(), "failed switch leaves the active model")

	_, err = m.SwitchModel(context.Background(), "bad name!")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))
	assert.Equal(t, 2, ft.count())
}

func TestSwitchModel_Unreachable(t *testing.T) {
	ft := &fakeTransport{handler: func(ctx context.Context, req *Request) (*Response, error) {
		return nil, syscall.ECONNREFUSED
	}}
	active := NewActiveModel("mistral:7b")
	m, _ := newTestManager(ft, active)

	_, err := m.SwitchModel(context.Background(), "llama3.1:8b")
	require.Error(t, err)
	assert.True(t, apperr.IsNetwork(err))
	assert.Equal(t, "mistral:7b", active.Load())
}

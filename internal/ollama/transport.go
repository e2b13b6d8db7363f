// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"
)

// Transport identifiers reported in Response.Via.
const (
	ViaHTTP    = "http"
	ViaProcess = "process"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// =============================================================================
// TRANSPORT INTERFACE
// =============================================================================

// Request is a single call to the Ollama API.
type Request struct {
	Method  string
	Path    string // e.g. "/api/chat"
	Body    []byte // JSON payload, may be nil
	Header  http.Header
	Timeout time.Duration // zero means no per-request bound beyond ctx
}

// Response is the raw result of a Request.
type Response struct {
	StatusCode int
	Body       []byte
	Via        string // ViaHTTP or ViaProcess
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport delivers a Request to the server. Implementations never retry;
// an error means no HTTP status was obtained.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

// NewTransport selects the transport strategy for cfg: plain HTTP when the
// fallback is disabled, otherwise HTTP with a process fallback.
func NewTransport(cfg Config, logger *slog.Logger) Transport {
	cfg = cfg.withDefaults()
	primary := NewHTTPTransport(cfg.BaseURL, cfg.ConnectTimeout)
	if cfg.DisableFallback {
		return primary
	}
	return &FallbackTransport{
		Primary:  primary,
		Fallback: NewProcessTransport(cfg.BaseURL, cfg.FallbackCommand, cfg.ConnectTimeout),
		Logger:   logger,
	}
}

// =============================================================================
// HTTP TRANSPORT
// =============================================================================

// HTTPTransport sends requests with net/http over a pooled connection.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates an HTTP transport for baseURL. connectTimeout
// bounds TCP connection setup.
func NewHTTPTransport(baseURL string, connectTimeout time.Duration) *HTTPTransport {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			// Per-request bounds come from the context.
			Transport: newHTTPTransport(connectTimeout),
		},
	}
}

// newHTTPTransport creates an http.Transport with sensible defaults for a
// local server: explicit dial timeout and a small idle pool.
func newHTTPTransport(connectTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: data, Via: ViaHTTP}, nil
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
	r.Close()
}

// =============================================================================
// FALLBACK TRANSPORT
// =============================================================================

// FallbackTransport sends through Primary and, when Primary cannot connect,
// tries Fallback exactly once. Any HTTP status from Primary is final.
type FallbackTransport struct {
	Primary  Transport
	Fallback Transport
	Logger   *slog.Logger
}

// Send implements Transport.
func (t *FallbackTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	resp, err := t.Primary.Send(ctx, req)
	if err == nil || t.Fallback == nil || !IsConnectionError(err) || ctx.Err() != nil {
		return resp, err
	}

	if t.Logger != nil {
		t.Logger.Debug("primary transport unreachable, using fallback",
			"method", req.Method,
			"path", req.Path,
			"error", err,
		)
	}

	resp, fbErr := t.Fallback.Send(ctx, req)
	if fbErr != nil {
		return nil, fmt.Errorf("%w (fallback: %v)", err, fbErr)
	}
	return resp, nil
}

// IsConnectionError reports whether err is a failure to reach the server
// at all: refused, unreachable, DNS failure or a failed dial. Such errors
// happen before any bytes reach the server.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, // connection refused (server not running)
			syscall.EHOSTUNREACH, // no route to host
			syscall.ENETUNREACH:  // network unreachable
			return true
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return false
}

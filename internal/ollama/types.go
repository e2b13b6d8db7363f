// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"strconv"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`    // Model name (e.g., "llama3.1:8b")
	Messages []Message `json:"messages"` // System, history, then the user turn
	Stream   bool      `json:"stream"`   // Always false
}

// PullRequest is the request body for /api/pull.
type PullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// ModelRequest names a model for /api/show and /api/delete.
type ModelRequest struct {
	Name string `json:"name"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ChatResponse is the response from /api/chat endpoint.
type ChatResponse struct {
	Model         string    `json:"model"`
	CreatedAt     time.Time `json:"created_at"`
	Message       *Message  `json:"message,omitempty"`
	Done          bool      `json:"done"`
	TotalDuration int64     `json:"total_duration,omitempty"` // nanoseconds
	EvalCount     int       `json:"eval_count,omitempty"`     // number of tokens generated
	EvalDuration  int64     `json:"eval_duration,omitempty"`  // nanoseconds
}

// TokensPerSecond calculates the generation speed from a response.
func (r *ChatResponse) TokensPerSecond() float64 {
	if r.EvalDuration == 0 {
		return 0
	}
	seconds := float64(r.EvalDuration) / 1e9
	return float64(r.EvalCount) / seconds
}

// PullResponse is the final status object from a non-streaming pull.
type PullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// MODEL TYPES
// =============================================================================

// ModelInfo is a model entry as returned by /api/tags.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string `json:"format"`
	Family            string `json:"family"`
	ParameterSize     string `json:"parameter_size"`
	QuantizationLevel string `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// ModelDescriptor describes a locally available model.
type ModelDescriptor struct {
	Name              string    `json:"name"`
	Size              int64     `json:"size"` // bytes
	ParameterSize     string    `json:"parameter_size,omitempty"`
	QuantizationLevel string    `json:"quantization_level,omitempty"`
	Family            string    `json:"family,omitempty"`
	Digest            string    `json:"digest,omitempty"`
	ModifiedAt        time.Time `json:"modified_at"`
	Downloaded        bool      `json:"downloaded"`
}

// descriptor converts a /api/tags entry. Everything listed is on disk.
func (m ModelInfo) descriptor() ModelDescriptor {
	return ModelDescriptor{
		Name:              m.Name,
		Size:              m.Size,
		ParameterSize:     m.Details.ParameterSize,
		QuantizationLevel: m.Details.QuantizationLevel,
		Family:            m.Details.Family,
		Digest:            m.Digest,
		ModifiedAt:        m.ModifiedAt,
		Downloaded:        true,
	}
}

// FormatSize formats the model size in human-readable form.
func (m ModelDescriptor) FormatSize() string {
	return FormatBytes(m.Size)
}

// FormatBytes renders n bytes as "512 B", "1.5 KB", "4.7 GB".
func FormatBytes(n int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case n >= GB:
		return formatFloat(float64(n)/GB) + " GB"
	case n >= MB:
		return formatFloat(float64(n)/MB) + " MB"
	case n >= KB:
		return formatFloat(float64(n)/KB) + " KB"
	default:
		return strconv.FormatInt(n, 10) + " B"
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 1, 64)
	if len(s) > 2 && s[len(s)-2:] == ".0" {
		return s[:len(s)-2]
	}
	return s
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama talks to a local Ollama server: chat execution with
// bounded retries and model lifecycle management.
//
// # Key Types
//
//   - Transport: delivers one request; HTTPTransport is primary and
//     ProcessTransport (curl) is used when the server cannot be reached
//     over HTTP, via FallbackTransport
//   - Executor: sends chat requests to /api/chat with linear, capped
//     backoff between attempts
//   - Manager: lists (cached), pulls, deletes and switches models
//   - ActiveModel: the atomically swapped current model name
//
// # Usage
//
//	cfg := ollama.DefaultConfig()
//	active := ollama.NewActiveModel("llama3.1:8b")
//	transport := ollama.NewTransport(cfg, logger)
//	exec := ollama.NewExecutor(cfg, transport, active, logger)
//	models := ollama.NewManager(cfg, transport, active, logger)
//
//	res, err := exec.Execute(ctx, ollama.ChatInput{Prompt: "Hello"})
//
// Errors returned across the package boundary are *apperr.Error values.
package ollama

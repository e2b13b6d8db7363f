// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package apperr defines the typed errors surfaced by the orchestration core.
//
// Every error that crosses a component boundary is an *Error carrying one of
// five types:
//
//   - TypeValidation: bad text or model name, never retried
//   - TypeNetwork: transport failure after retry exhaustion
//   - TypeTimeout: the request deadline was exceeded
//   - TypeModelNotFound: the model is missing or returned no content
//   - TypeModelDownload: a pull or delete request failed
//
// Each error is labelled with the operation that produced it, so a caller
// printing err.Error() sees where the failure originated:
//
//	ollama.Execute: network error: attempt 3/3: connection refused
//
// The IsX helpers inspect the whole wrap chain, so a network error wrapping
// an exhausted model-not-found cause satisfies both IsNetwork and
// IsModelNotFound.
package apperr

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package agent ties input validation, conversation memory, chat execution
// and model management together behind one caller-facing type.
//
// A Run validates the input, snapshots the active model, sends the prompt
// with the remembered conversation, and on success records both sides of
// the exchange. Request counters, a health probe and optional Prometheus
// metrics are kept per Agent.
package agent

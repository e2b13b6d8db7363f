// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the CLI and config packages.
package util

import "strings"

// Truncate shortens s to at most max runes, ending in "..." when cut.
// Multi-byte characters are never split.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// OneLine collapses runs of whitespace, including newlines, to single
// spaces. Used for previews of multi-line messages.
func OneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

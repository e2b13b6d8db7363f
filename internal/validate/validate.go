// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate checks and sanitizes user text and model names before
// they reach the LLM server.
//
// All functions are pure. Failures are returned as apperr validation errors
// and are never retried by callers.
package validate

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/rigrun-agent/internal/apperr"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultMaxTextLength is the maximum prompt length in characters.
	DefaultMaxTextLength = 10000

	// MaxModelNameLength is the maximum length of a model name.
	MaxModelNameLength = 100
)

// injectionPatterns are matched case-insensitively against normalized text.
var injectionPatterns = []string{
	"<script",
	"</script",
	"javascript:",
	"vbscript:",
	"data:text/html",
	"onerror=",
	"onload=",
	"onclick=",
	"onmouseover=",
	"<iframe",
	"<object",
	"<embed",
	"eval(",
	"expression(",
}

// =============================================================================
// TEXT
// =============================================================================

// Text validates user text. It fails if s is blank, longer than maxLen
// characters, or contains a blacklisted injection pattern. A maxLen of zero
// or less uses DefaultMaxTextLength.
func Text(s string, maxLen int) error {
	const op = "validate.Text"

	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	if strings.TrimSpace(s) == "" {
		return apperr.Validation(op, "text is empty")
	}
	if n := utf8.RuneCountInString(s); n > maxLen {
		return apperr.Validation(op, fmt.Sprintf("text is %d characters, maximum is %d", n, maxLen))
	}
	if p := findInjection(s); p != "" {
		return apperr.Validation(op, fmt.Sprintf("text contains forbidden pattern %q", p))
	}
	return nil
}

// findInjection returns the first blacklisted pattern found in s, or "".
// NFKC folds full-width and other compatibility forms into ASCII first, so
// "＜script" is caught the same as "<script".
func findInjection(s string) string {
	folded := strings.ToLower(norm.NFKC.String(s))
	for _, p := range injectionPatterns {
		if strings.Contains(folded, p) {
			return p
		}
	}
	return ""
}

// Sanitize trims s and HTML-escapes < > " ' &.
func Sanitize(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// =============================================================================
// MODEL NAMES
// =============================================================================

// ModelName validates a model name such as "llama3.1:8b". Only letters,
// digits and . _ : - are allowed, up to MaxModelNameLength characters.
func ModelName(s string) error {
	const op = "validate.ModelName"

	if strings.TrimSpace(s) == "" {
		return apperr.Validation(op, "model name is empty")
	}
	if len(s) > MaxModelNameLength {
		return apperr.Validation(op, fmt.Sprintf("model name is %d characters, maximum is %d", len(s), MaxModelNameLength))
	}
	for i, r := range s {
		if !isModelNameRune(r) {
			return apperr.Validation(op, fmt.Sprintf("model name %q has invalid character %q at position %d", s, r, i))
		}
	}
	if strings.Contains(s, "..") {
		return apperr.Validation(op, fmt.Sprintf("model name %q contains a path traversal sequence", s))
	}
	return nil
}

func isModelNameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '.', r == '_', r == ':', r == '-':
		return true
	}
	return false
}

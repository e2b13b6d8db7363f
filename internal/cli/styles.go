// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// init matches the lipgloss color profile to the terminal. Respects NO_COLOR
// and FORCE_COLOR.
func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")). // Light gray
			Width(16)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	// SuccessStyle is used for OK statuses
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")). // Green
			Bold(true)

	// ErrorStyle is used for errors and failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")). // Red
			Bold(true)

	// WarningStyle is used for warnings
	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	// SeparatorStyle is used for dividers
	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// PromptStyle is the chat input prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// UserRoleStyle and AssistantRoleStyle label history entries
	UserRoleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	AssistantRoleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141")) // Purple
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal line of width w (default 40).
func RenderSeparator(w int) string {
	if w <= 0 {
		w = 40
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderStatus renders a status tag: ok, fail, warn, or anything else dimmed.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "healthy":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "failed", "unhealthy":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "warn":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderField renders a "label value" row.
func RenderField(label, value string) string {
	return "  " + LabelStyle.Render(label) + ValueStyle.Render(value)
}

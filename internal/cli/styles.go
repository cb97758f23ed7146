// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared lipgloss styles for lexguard output.
//
// Colors follow the terminal: they are dropped for pipes and redirects,
// when NO_COLOR is set, and forced on by FORCE_COLOR (see terminal.go).
package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/lexguard/internal/security/classification"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// PALETTE
// =============================================================================

const (
	colorAccent = lipgloss.Color("39")  // cyan
	colorText   = lipgloss.Color("252") // off-white
	colorMuted  = lipgloss.Color("245") // gray
	colorFaint  = lipgloss.Color("240") // dark gray
	colorGood   = lipgloss.Color("42")  // green
	colorBad    = lipgloss.Color("196") // red
	colorCaveat = lipgloss.Color("214") // amber
)

var (
	TitleStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	SectionStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorText).MarginTop(1)
	LabelStyle     = lipgloss.NewStyle().Foreground(colorMuted).Width(20)
	ValueStyle     = lipgloss.NewStyle().Foreground(colorText)
	SuccessStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorGood)
	ErrorStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorBad)
	WarningStyle   = lipgloss.NewStyle().Foreground(colorCaveat)
	DimStyle       = lipgloss.NewStyle().Foreground(colorFaint)
	SeparatorStyle = lipgloss.NewStyle().Foreground(colorFaint)
)

// statusBadges maps the status words used by commands to a badge.
var statusBadges = map[string]struct {
	badge string
	style *lipgloss.Style
}{
	"ok":       {"[OK]", &SuccessStyle},
	"verified": {"[OK]", &SuccessStyle},
	"active":   {"[OK]", &SuccessStyle},
	"warn":     {"[WARN]", &WarningStyle},
	"locked":   {"[LOCKED]", &ErrorStyle},
	"denied":   {"[DENIED]", &ErrorStyle},
	"broken":   {"[BROKEN]", &ErrorStyle},
	"fail":     {"[FAIL]", &ErrorStyle},
}

// =============================================================================
// RENDER HELPERS
// =============================================================================

// RenderSeparator renders a rule of width columns.
func RenderSeparator(width int) string {
	return SeparatorStyle.Render(strings.Repeat("=", width))
}

// RenderStatus renders the badge for a status word. Unknown words are shown
// upper-cased and dimmed.
func RenderStatus(status string) string {
	key := strings.ToLower(status)
	if b, ok := statusBadges[key]; ok {
		return b.style.Render(b.badge)
	}
	return DimStyle.Render("[" + strings.ToUpper(key) + "]")
}

// RenderLabel renders a field label padded to the label column.
func RenderLabel(label string) string {
	return LabelStyle.Render(label)
}

// RenderLevel renders a classification level in its banner color.
func RenderLevel(l classification.Level) string {
	return RenderConditional(lipgloss.NewStyle().Bold(true).Foreground(l.Color()), l.String())
}

// RenderConditional applies style only when colors are enabled.
func RenderConditional(style lipgloss.Style, text string) string {
	if !ColorsEnabled() {
		return text
	}
	return style.Render(text)
}

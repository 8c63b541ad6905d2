// ABOUTME: Terminal styles for CLI output
// ABOUTME: Titles, status marks and muted detail text rendered with lipgloss
package cli

import (
	"github.com/charmbracelet/lipgloss"

	isync "github.com/harperreed/issuecal/sync"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Width(12)

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

func okMark() string   { return okStyle.Render("✓") }
func failMark() string { return errorStyle.Render("✗") }

// tokenStateText colors a token state for display.
func tokenStateText(state isync.TokenState) string {
	switch state {
	case isync.TokenValid:
		return okStyle.Render(string(state))
	case isync.TokenStale:
		return warnStyle.Render(string(state) + " (refreshes on next use)")
	default:
		return errorStyle.Render(string(state))
	}
}

func field(label, value string) string {
	return labelStyle.Render(label) + value
}

package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("39")
	colorOK     = lipgloss.Color("42")
	colorWarn   = lipgloss.Color("214")
	colorBad    = lipgloss.Color("196")
	colorMuted  = lipgloss.Color("245")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorMuted)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errStyle   = lipgloss.NewStyle().Foreground(colorBad)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)

	warningStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(colorWarn).
			Padding(1, 3).
			Align(lipgloss.Center)
)

// statusStyle colors sensor and job states.
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "ok", "online", "running", "complete":
		return lipgloss.NewStyle().Foreground(colorOK)
	case "degraded", "queued":
		return lipgloss.NewStyle().Foreground(colorWarn)
	case "offline", "failed", "cancelled":
		return lipgloss.NewStyle().Foreground(colorBad)
	default:
		return lipgloss.NewStyle()
	}
}

package tui

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	accentTeal   = lipgloss.Color("#05A081")
	accentCyan   = lipgloss.Color("#00D7D7")
	accentGreen  = lipgloss.Color("#39FF14")
	accentYellow = lipgloss.Color("#FFD75F")
	accentOrange = lipgloss.Color("#FF8700")
	accentRed    = lipgloss.Color("#FF3B30")
	dimWhite     = lipgloss.Color("#B0B0B0")
	darkGray     = lipgloss.Color("#626262")

	headerStyle = lipgloss.NewStyle().
			Foreground(accentTeal).
			Bold(true).
			Padding(1, 0, 0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accentTeal).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Background(accentTeal).
			Foreground(lipgloss.Color("#000000")).
			Bold(true).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(accentCyan).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(accentYellow)

	successStyle = lipgloss.NewStyle().
			Foreground(accentGreen).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(accentRed).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(accentOrange).
			Bold(true)

	logTimeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	helpStyle = lipgloss.NewStyle().
			Foreground(darkGray).
			Padding(1, 0, 0, 2)
)

// levelColor picks the log line color
func levelColor(level string) lipgloss.Color {
	switch level {
	case "ERROR":
		return accentRed
	case "WARN":
		return accentOrange
	case "SUCCESS":
		return accentGreen
	case "INFO":
		return accentCyan
	default:
		return dimWhite
	}
}

// statusStyle returns the style for a final run status
func statusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return successStyle
	case "failed":
		return errorStyle
	default:
		return warningStyle
	}
}

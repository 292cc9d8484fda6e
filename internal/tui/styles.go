package tui

import "github.com/charmbracelet/lipgloss"

// Color palette
var (
	primaryColor   = lipgloss.Color("#7C3AED") // Purple
	secondaryColor = lipgloss.Color("#10B981") // Green
	warningColor   = lipgloss.Color("#F59E0B") // Amber
	dangerColor    = lipgloss.Color("#EF4444") // Red
	mutedColor     = lipgloss.Color("#6B7280") // Gray
	fgColor        = lipgloss.Color("#F9FAFB") // Light foreground
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(fgColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)

	barStyle = lipgloss.NewStyle().
			Foreground(secondaryColor)

	categoryStyle = lipgloss.NewStyle().
			Width(16)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// phaseStyle colors the tracker phase badge.
func phaseStyle(phase string) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(fgColor)
	switch phase {
	case "active":
		return base.Background(secondaryColor)
	case "paused":
		return base.Background(warningColor)
	case "detecting":
		return base.Background(primaryColor)
	default:
		return base.Background(mutedColor)
	}
}

func indicator(on bool) string {
	if on {
		return lipgloss.NewStyle().Foreground(secondaryColor).Bold(true).Render("●")
	}
	return mutedStyle.Render("○")
}

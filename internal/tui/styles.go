package tui

import "github.com/charmbracelet/lipgloss"

var (
	ColorGray  = lipgloss.Color("245")
	ColorWhite = lipgloss.Color("255")

	severityPalette = map[string]lipgloss.Color{
		"INFO":  lipgloss.Color("39"),
		"WARN":  lipgloss.Color("208"),
		"ERROR": lipgloss.Color("196"),
	}

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activeSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("205")).
				Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	errStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	pausedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))
)

// severityStyle returns the display style for a severity label.
func severityStyle(severity string) lipgloss.Style {
	if c, ok := severityPalette[severity]; ok {
		return lipgloss.NewStyle().Foreground(c)
	}
	return lipgloss.NewStyle().Foreground(ColorGray)
}

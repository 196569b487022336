package terminal

import "github.com/charmbracelet/lipgloss"

var (
	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 2)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	separatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33"))

	thinkingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("170"))

	explanationStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("252")).
				Italic(true)

	toolNameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("51"))

	toolArgStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("44"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	promptStyle = lipgloss.NewStyle().
			Bold(true)
)

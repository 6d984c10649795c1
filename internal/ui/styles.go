package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the color palette for terminal output
type Theme struct {
	Primary   lipgloss.Color // highlights, activity titles
	Secondary lipgloss.Color // headers
	Success   lipgloss.Color
	Error     lipgloss.Color
	Warning   lipgloss.Color
	Muted     lipgloss.Color // notices and secondary text
	Text      lipgloss.Color
}

// DefaultTheme returns the default color theme (gruvbox)
func DefaultTheme() *Theme {
	return &Theme{
		Primary:   lipgloss.Color("#b8bb26"), // gruvbox green
		Secondary: lipgloss.Color("#83a598"), // gruvbox aqua
		Success:   lipgloss.Color("#b8bb26"),
		Error:     lipgloss.Color("#fb4934"), // gruvbox red
		Warning:   lipgloss.Color("#fabd2f"), // gruvbox yellow
		Muted:     lipgloss.Color("#928374"), // gruvbox gray
		Text:      lipgloss.Color("#ebdbb2"), // gruvbox foreground
	}
}

// Styles holds the lipgloss styles for one output stream.
type Styles struct {
	Title    lipgloss.Style
	Muted    lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	ToolCall lipgloss.Style
	Activity lipgloss.Style
}

// NewStyles creates styles for output. Color is dropped automatically when
// output is not a terminal.
func NewStyles(output *os.File) *Styles {
	theme := DefaultTheme()
	r := lipgloss.NewRenderer(output)
	return &Styles{
		Title:    r.NewStyle().Bold(true).Foreground(theme.Text),
		Muted:    r.NewStyle().Foreground(theme.Muted),
		Success:  r.NewStyle().Foreground(theme.Success),
		Error:    r.NewStyle().Foreground(theme.Error),
		Warning:  r.NewStyle().Foreground(theme.Warning),
		ToolCall: r.NewStyle().Foreground(theme.Secondary).Italic(true),
		Activity: r.NewStyle().Bold(true).Foreground(theme.Primary),
	}
}

// Truncate cuts s to maxLen runes, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

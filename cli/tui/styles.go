// Package tui provides Bubble Tea views for the tsrebuild CLI.
//
// The run progress view is opt-in (--progress) and reads only the events
// the pipeline observers emit. The static views (--tui on inspect and
// state) show the same payloads the json/table/yaml renderers print.
package tui

import "github.com/charmbracelet/lipgloss"

// Adaptive palette, readable on light and dark terminals.
var (
	accentColor    = lipgloss.AdaptiveColor{Light: "#5B21B6", Dark: "#A78BFA"}
	successColor   = lipgloss.AdaptiveColor{Light: "#047857", Dark: "#34D399"}
	warningColor   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	errorColor     = lipgloss.AdaptiveColor{Light: "#B91C1C", Dark: "#F87171"}
	mutedColor     = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"}
	highlightColor = lipgloss.AdaptiveColor{Light: "#1D4ED8", Dark: "#60A5FA"}
	textColor      = lipgloss.AdaptiveColor{Light: "#111827", Dark: "#F9FAFB"}
)

var (
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(accentColor).MarginBottom(1)
	LabelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(16)
	ValueStyle = lipgloss.NewStyle().Foreground(textColor)
	HelpStyle  = lipgloss.NewStyle().Foreground(mutedColor).Italic(true).MarginTop(1)

	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)
	ErrorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)

	// BoxStyle frames the static inspect views.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(1, 2)

	// StatBoxStyle frames one counter; callers set the border color.
	StatBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			Width(16).
			Align(lipgloss.Center)

	StatLabelStyle = lipgloss.NewStyle().Foreground(mutedColor)
	StatValueStyle = lipgloss.NewStyle().Bold(true)
)

// stateStyles maps run, fetch and parse outcome strings to a style.
var stateStyles = map[string]lipgloss.Style{
	"success":          SuccessStyle,
	"already_complete": SuccessStyle,
	"completed":        SuccessStyle,
	"downloaded":       SuccessStyle,
	"found_locally":    SuccessStyle,
	"ok":               SuccessStyle,

	"in_progress": WarningStyle,
	"interrupted": WarningStyle,
	"canceled":    WarningStyle,
	"skipped":     WarningStyle,

	"no_input":             ErrorStyle,
	"output_failure":       ErrorStyle,
	"failed":               ErrorStyle,
	"failed_permanent":     ErrorStyle,
	"failed_after_retries": ErrorStyle,
}

// StateStyle returns the style for an outcome string. Unknown states use
// ValueStyle.
func StateStyle(state string) lipgloss.Style {
	if s, ok := stateStyles[state]; ok {
		return s
	}
	return ValueStyle
}

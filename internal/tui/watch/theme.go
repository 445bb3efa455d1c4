// Package watch implements `relay watch`, a live terminal view of a relay
// service fed by its HTTP event stream.
package watch

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// Theme keeps every color used by the view in one place.
type Theme struct {
	OK     lipgloss.Style
	Failed lipgloss.Style
	Active lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style

	DotOn  lipgloss.Style
	DotOff lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")

	return Theme{
		OK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Active: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),

		DotOn:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		DotOff: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

func (t Theme) tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	return s
}

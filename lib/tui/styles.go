// Package tui renders session state for the terminal.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/wgclient/lib/notify"
)

var styles = struct {
	Title      lipgloss.Style
	Label      lipgloss.Style
	StatusText lipgloss.Style
	Error      lipgloss.Style
	Success    lipgloss.Style
	Warning    lipgloss.Style
	Muted      lipgloss.Style
	Bold       lipgloss.Style
	Selected   lipgloss.Style
	Box        lipgloss.Style
	BoxTitle   lipgloss.Style
}{
	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1),

	Label: lipgloss.NewStyle().
		Foreground(lipgloss.Color("244")).
		Width(14),

	StatusText: lipgloss.NewStyle().
		Foreground(lipgloss.Color("244")),

	Error: lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true),

	Success: lipgloss.NewStyle().
		Foreground(lipgloss.Color("82")).
		Bold(true),

	Warning: lipgloss.NewStyle().
		Foreground(lipgloss.Color("214")),

	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")),

	Bold: lipgloss.NewStyle().
		Bold(true),

	Selected: lipgloss.NewStyle().
		Foreground(lipgloss.Color("255")).
		Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(1, 2),

	BoxTitle: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")),
}

// PhaseStyle returns the style for a session phase.
func PhaseStyle(p notify.Phase) lipgloss.Style {
	switch p {
	case notify.PhaseConnected:
		return styles.Success
	case notify.PhaseConnecting, notify.PhaseRefreshing, notify.PhaseDisconnecting:
		return styles.Warning
	case notify.PhaseDisconnected:
		return styles.Muted
	default:
		return styles.StatusText
	}
}

// EventStyle returns the style for an event line.
func EventStyle(t notify.EventType) lipgloss.Style {
	switch {
	case t.Failure():
		return styles.Error
	case t == notify.EventConnected || t == notify.EventRefreshed:
		return styles.Success
	case t == notify.EventDisconnected:
		return styles.Muted
	default:
		return styles.Warning
	}
}

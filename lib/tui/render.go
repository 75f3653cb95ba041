package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/wgclient/lib/config"
	"github.com/go-i2p/wgclient/lib/credential"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/session"
)

const timeLayout = "15:04:05"

// Event renders one lifecycle event as a single line.
func Event(ev notify.Event) string {
	stamp := styles.Muted.Render(ev.Timestamp.Format(timeLayout))
	name := EventStyle(ev.Type).Render(fmt.Sprintf("%-17s", ev.Type.String()))

	parts := []string{stamp, name}
	if ev.ServerID != "" {
		parts = append(parts, styles.Bold.Render(ev.ServerID))
	}
	if ev.TunnelID != "" {
		parts = append(parts, styles.Muted.Render(truncate(ev.TunnelID, 8)))
	}
	if ev.Err != nil {
		parts = append(parts, styles.Error.Render(errorText(ev.Err)))
	}
	return strings.Join(parts, " ")
}

// Status renders a session snapshot as a bordered box.
func Status(st session.Status, now time.Time) string {
	rows := []string{
		styles.BoxTitle.Render("VPN Session"),
		"",
		row("Phase", PhaseStyle(st.Phase).Render(st.Phase.String())),
	}

	switch {
	case st.ServerID != "":
		rows = append(rows, row("Server", st.ServerID))
	case st.Requested != "":
		rows = append(rows, row("Server", st.Requested+styles.Muted.Render(" (requested)")))
	}
	if st.TunnelID != "" {
		rows = append(rows, row("Tunnel", st.TunnelID))
	}
	if !st.ConnectedAt.IsZero() && st.Connected() {
		rows = append(rows, row("Connected", formatDuration(now.Sub(st.ConnectedAt))+" ago"))
	}
	if !st.NextRefresh.IsZero() {
		rows = append(rows, row("Next refresh", "in "+formatDuration(st.NextRefresh.Sub(now))))
	}
	if st.Refreshes > 0 {
		rows = append(rows, row("Refreshes", fmt.Sprintf("%d", st.Refreshes)))
	}
	rows = append(rows, row("Version", st.Version))

	return styles.Box.Width(56).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// Servers renders the exit location list, marking current.
func Servers(servers []config.Server, current string) string {
	if len(servers) == 0 {
		return styles.Muted.Render("No servers configured")
	}

	lines := []string{styles.Title.Render("Exit locations")}
	for _, s := range servers {
		marker := "  "
		id := fmt.Sprintf("%-12s", s.ID)
		if s.ID == current {
			marker = styles.Success.Render("● ")
			id = styles.Selected.Render(id)
		}
		lines = append(lines, marker+id+" "+styles.StatusText.Render(s.Name))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// Success renders a confirmation line.
func Success(msg string) string {
	return styles.Success.Render("✓ ") + msg
}

// Failure renders an error line, followed by the action that resolves it
// when the error's code calls for one.
func Failure(err error) string {
	line := styles.Error.Render("✗ " + errorText(err))
	if h := hint(err); h != "" {
		line += "\n" + styles.Muted.Render("  "+h)
	}
	return line
}

// hint routes on the error code to what the user can do about it.
func hint(err error) string {
	coded := apperrors.FromSentinel(err)
	if coded == nil {
		return ""
	}
	switch coded.Code {
	case apperrors.CodeCredential:
		if status, ok := credential.StatusOf(err); ok && status == credential.StatusSubscriptionRequired {
			return "renew the subscription, then sign in again with: wgclient login"
		}
		return "sign in again with: wgclient login"
	case apperrors.CodeSchedulingPermission:
		return "allow exact alarms for wgclient, or set refresh.require_exact_alarm = false"
	case apperrors.CodeBusy:
		return "wait for the current request to finish and retry"
	}
	return ""
}

func row(label, value string) string {
	return styles.Label.Render(label) + value
}

// errorText prefers the credential status over the raw chain, which may be
// long and carries transport details. Coded errors show their safe message.
func errorText(err error) string {
	if status, ok := credential.StatusOf(err); ok {
		switch status {
		case credential.StatusAuthenticationRequired:
			return "sign in again"
		case credential.StatusSubscriptionRequired:
			return "an active subscription is required"
		case credential.StatusConnectionDenied:
			return "connection denied by the service"
		}
	}
	var coded *apperrors.Error
	if apperrors.As(err, &coded) {
		return coded.SafeMessage()
	}
	return err.Error()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

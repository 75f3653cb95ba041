// Package notify publishes session lifecycle events and keeps the
// foreground "VPN in use" presentation in step with them.
package notify

import (
	"time"
)

// Phase is the session state-machine phase.
type Phase string

const (
	// PhaseDisconnected is the initial and final phase. No tunnel exists.
	PhaseDisconnected Phase = "disconnected"
	// PhaseConnecting means a profile is being requested and applied.
	PhaseConnecting Phase = "connecting"
	// PhaseConnected means the tunnel is up and a refresh is armed.
	PhaseConnected Phase = "connected"
	// PhaseRefreshing means the tunnel is up and its profile is being replaced.
	PhaseRefreshing Phase = "refreshing"
	// PhaseDisconnecting means the tunnel is being brought down.
	PhaseDisconnecting Phase = "disconnecting"
)

func (p Phase) String() string {
	return string(p)
}

// HasTunnel reports whether a live tunnel exists in this phase.
func (p Phase) HasTunnel() bool {
	switch p {
	case PhaseConnected, PhaseRefreshing, PhaseDisconnecting:
		return true
	default:
		return false
	}
}

// Transient reports whether the phase is an in-flight connect or disconnect.
func (p Phase) Transient() bool {
	return p == PhaseConnecting || p == PhaseDisconnecting
}

// EventType categorizes session events.
type EventType int

const (
	// EventConnecting is emitted when a connect request starts.
	EventConnecting EventType = iota
	// EventConnected is emitted when the tunnel is up.
	EventConnected
	// EventConnectionFailed is emitted when a connect attempt fails.
	EventConnectionFailed
	// EventRefreshing is emitted when a scheduled refresh starts.
	EventRefreshing
	// EventRefreshed is emitted when a refresh completes and the tunnel stays up.
	EventRefreshed
	// EventRefreshFailed is emitted when a refresh fails and the tunnel is torn down.
	EventRefreshFailed
	// EventDisconnecting is emitted when a disconnect starts.
	EventDisconnecting
	// EventDisconnected is emitted when a user-requested disconnect completes.
	EventDisconnected
)

// String returns a human-readable name for the event type.
func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventConnectionFailed:
		return "connection_failed"
	case EventRefreshing:
		return "refreshing"
	case EventRefreshed:
		return "refreshed"
	case EventRefreshFailed:
		return "refresh_failed"
	case EventDisconnecting:
		return "disconnecting"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Failure reports whether the event reports a failed operation.
func (t EventType) Failure() bool {
	return t == EventConnectionFailed || t == EventRefreshFailed
}

// Event describes one state transition.
type Event struct {
	// Type is the category of this event.
	Type EventType

	// Phase is the phase entered by this transition.
	Phase Phase

	// Previous is the phase left by this transition.
	Previous Phase

	// ServerID is the exit location the transition concerns. For
	// EventConnecting and EventConnectionFailed it is the requested server.
	ServerID string

	// TunnelID identifies the backend tunnel, when one exists.
	TunnelID string

	// Err carries the cause of a failure. For EventDisconnected it carries a
	// teardown error, if the backend reported one.
	Err error

	// Message is a human-readable description of the event.
	Message string

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

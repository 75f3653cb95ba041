package notify

import (
	"errors"
)

// Urgency mirrors the freedesktop notification urgency levels.
type Urgency byte

const (
	UrgencyLow Urgency = iota
	UrgencyNormal
	UrgencyCritical
)

// Presentation is the content of the foreground indicator.
type Presentation struct {
	Title   string
	Message string
	// Ongoing marks the indicator as held: it stays visible until replaced.
	Ongoing bool
	Urgency Urgency
	Icon    string
}

// Presenter is the foreground presentation sink.
type Presenter interface {
	// Present shows or replaces the current indicator.
	Present(p Presentation) error
	// Retire releases the indicator after the final presentation.
	Retire() error
}

// PresentationFor maps an event to the foreground presentation. It returns
// false for events that must not change what the user sees.
func PresentationFor(ev Event) (Presentation, bool) {
	switch ev.Type {
	case EventConnecting:
		return Presentation{
			Title:   "Connecting to the VPN...",
			Ongoing: true,
			Urgency: UrgencyLow,
			Icon:    "network-vpn-acquiring",
		}, true
	case EventConnected, EventRefreshing, EventRefreshed:
		// Refresh is invisible: it shows the same content as connected.
		return Presentation{
			Title:   "Securely connected to the VPN",
			Message: "You can now browse the internet securely and privately.",
			Ongoing: true,
			Urgency: UrgencyLow,
			Icon:    "network-vpn",
		}, true
	case EventDisconnecting:
		return Presentation{
			Title:   "Disconnecting from the VPN...",
			Ongoing: true,
			Urgency: UrgencyLow,
			Icon:    "network-vpn",
		}, true
	case EventDisconnected:
		return Presentation{
			Title:   "Disconnected from the VPN",
			Message: "Your device has been disconnected from the VPN",
			Urgency: UrgencyNormal,
			Icon:    "network-vpn-disconnected",
		}, true
	case EventConnectionFailed:
		msg := "An error has occurred when trying to connect to the VPN"
		if credentialFailure(ev.Err) {
			msg = "Sign in again to connect to the VPN"
		}
		return Presentation{
			Title:   "VPN connection failure",
			Message: msg,
			Urgency: UrgencyCritical,
			Icon:    "network-vpn-error",
		}, true
	case EventRefreshFailed:
		return Presentation{
			Title:   "VPN connection refresh failure",
			Message: "An error has occurred when trying to refresh the VPN connection",
			Urgency: UrgencyCritical,
			Icon:    "network-vpn-error",
		}, true
	default:
		return Presentation{}, false
	}
}

// credentialError is satisfied by errors that ask the user to re-authenticate.
type credentialError interface {
	RequiresReauth() bool
}

func credentialFailure(err error) bool {
	var ce credentialError
	return errors.As(err, &ce) && ce.RequiresReauth()
}

// LogPresenter writes presentations to the package logger. It is the default
// when no desktop notification service is available.
type LogPresenter struct{}

// Present implements Presenter.
func (LogPresenter) Present(p Presentation) error {
	log.WithField("title", p.Title).
		WithField("message", p.Message).
		WithField("ongoing", p.Ongoing).
		Info("notification")
	return nil
}

// Retire implements Presenter.
func (LogPresenter) Retire() error {
	log.Debug("notification retired")
	return nil
}

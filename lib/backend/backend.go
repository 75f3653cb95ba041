// Package backend applies tunnel configurations to a WireGuard engine.
//
// The controller owns the only reference to a tunnel identity and never calls
// Apply concurrently for the same identity; the adapter itself only guards
// its own bookkeeping.
package backend

import (
	"context"

	"github.com/go-i2p/wgclient/lib/profile"
)

// Backend brings tunnels up and down.
type Backend interface {
	// Apply brings the tunnel up with cfg (swapping the configuration of an
	// already-up tunnel) or, when up is false, tears it down. Tearing down an
	// unknown tunnel is a no-op. Failures wrap ErrBackendApply.
	Apply(ctx context.Context, tunnelID string, cfg *profile.TunnelConfig, up bool) error
}

// State is a backend-reported tunnel state.
type State int

const (
	StateDown State = iota
	StateUp
)

func (s State) String() string {
	switch s {
	case StateDown:
		return "down"
	case StateUp:
		return "up"
	default:
		return "unknown"
	}
}

// StateChange is an informational report from the backend. It never drives
// session state.
type StateChange struct {
	TunnelID string
	State    State
	Err      error
}

// StateListener receives backend state changes.
type StateListener func(StateChange)

// Platform performs the OS-level plumbing wireguard-go does not: interface
// addresses, DNS, routes and per-application exclusion.
type Platform interface {
	Configure(ctx context.Context, ifname string, cfg *profile.TunnelConfig) error
	Teardown(ctx context.Context, ifname string) error
}

// LogPlatform records what would be configured without touching the host.
type LogPlatform struct{}

// Configure implements Platform.
func (LogPlatform) Configure(_ context.Context, ifname string, cfg *profile.TunnelConfig) error {
	log.WithField("interface", ifname).
		WithField("addresses", cfg.Interface.Addresses).
		WithField("dns", cfg.Interface.DNS).
		WithField("excluded_routes", cfg.Interface.ExcludedRoutes).
		WithField("excluded_apps", cfg.Interface.ExcludedApplications).
		Debug("platform configure")
	return nil
}

// Teardown implements Platform.
func (LogPlatform) Teardown(_ context.Context, ifname string) error {
	log.WithField("interface", ifname).Debug("platform teardown")
	return nil
}

package backend

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"sync"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/profile"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun"
	"golang.zx2c4.com/wireguard/tun/netstack"
)

// Config configures the WireGuard adapter.
type Config struct {
	// InterfaceName is the kernel interface name. Ignored in userspace mode.
	InterfaceName string

	// Userspace runs the tunnel on a gVisor netstack instead of a kernel TUN.
	// No host routes change; traffic is reachable through DialContext.
	Userspace bool

	// Bind is the WireGuard network binding. If nil, defaults to
	// conn.NewDefaultBind() for standard UDP.
	Bind func() conn.Bind

	// Verbose enables wireguard-go's own logging.
	Verbose bool

	// Platform configures host networking for kernel tunnels. Nil means LogPlatform.
	Platform Platform

	// OnStateChange receives informational state reports. It is called with
	// the adapter's lock held and must not call back into the adapter.
	OnStateChange StateListener
}

// WireGuard is a Backend over wireguard-go.
type WireGuard struct {
	mu      sync.Mutex
	config  Config
	tunnels map[string]*wgTunnel
	closed  bool
}

type wgTunnel struct {
	dev  *device.Device
	tun  tun.Device
	net  *netstack.Net
	name string
	cfg  *profile.TunnelConfig
}

// NewWireGuard creates the adapter. No device exists until the first Apply.
func NewWireGuard(cfg Config) *WireGuard {
	if cfg.InterfaceName == "" {
		cfg.InterfaceName = "wg0"
	}
	if cfg.Platform == nil {
		cfg.Platform = LogPlatform{}
	}
	if cfg.Bind == nil {
		cfg.Bind = conn.NewDefaultBind
	}
	return &WireGuard{
		config:  cfg,
		tunnels: make(map[string]*wgTunnel),
	}
}

// Apply implements Backend.
func (w *WireGuard) Apply(ctx context.Context, tunnelID string, cfg *profile.TunnelConfig, up bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("%w: %w", apperrors.ErrBackendApply, apperrors.ErrBackendClosed)
	}
	if tunnelID == "" {
		return fmt.Errorf("%w: empty tunnel id", apperrors.ErrBackendApply)
	}

	if !up {
		return w.downLocked(ctx, tunnelID)
	}
	if cfg == nil {
		return fmt.Errorf("%w: nil configuration", apperrors.ErrBackendApply)
	}

	if t, ok := w.tunnels[tunnelID]; ok {
		return w.reconfigureLocked(ctx, tunnelID, t, cfg)
	}
	return w.upLocked(ctx, tunnelID, cfg)
}

func (w *WireGuard) upLocked(ctx context.Context, tunnelID string, cfg *profile.TunnelConfig) error {
	t, err := w.createTunnel(cfg)
	if err != nil {
		w.report(tunnelID, StateDown, err)
		return fmt.Errorf("%w: %w", apperrors.ErrBackendApply, err)
	}

	if !w.config.Userspace {
		if err := w.config.Platform.Configure(ctx, t.name, cfg); err != nil {
			if tdErr := w.config.Platform.Teardown(ctx, t.name); tdErr != nil {
				log.WithField("interface", t.name).WithError(tdErr).Warn("cleanup after failed host configuration")
			}
			t.dev.Close()
			w.report(tunnelID, StateDown, err)
			return fmt.Errorf("%w: configuring host networking: %w", apperrors.ErrBackendApply, err)
		}
	}

	w.tunnels[tunnelID] = t

	log.WithField("tunnel", tunnelID).
		WithField("interface", t.name).
		WithField("endpoint", cfg.Peer.Endpoint.String()).
		WithField("userspace", w.config.Userspace).
		Info("tunnel up")
	w.report(tunnelID, StateUp, nil)
	return nil
}

// reconfigureLocked swaps the configuration of a live tunnel. IpcSet with
// replace_peers applies the new keys and peer in one step. A netstack's
// addresses are fixed at creation, so an address change rebuilds it.
func (w *WireGuard) reconfigureLocked(ctx context.Context, tunnelID string, t *wgTunnel, cfg *profile.TunnelConfig) error {
	if w.config.Userspace && !slices.Equal(t.cfg.Interface.Addresses, cfg.Interface.Addresses) {
		log.WithField("tunnel", tunnelID).Debug("addresses changed, rebuilding userspace tunnel")
		nt, err := w.createTunnel(cfg)
		if err != nil {
			return fmt.Errorf("%w: rebuilding tunnel: %w", apperrors.ErrBackendApply, err)
		}
		t.dev.Close()
		w.tunnels[tunnelID] = nt
		w.report(tunnelID, StateUp, nil)
		return nil
	}

	if err := t.dev.IpcSet(cfg.UAPI()); err != nil {
		return fmt.Errorf("%w: reconfiguring device: %w", apperrors.ErrBackendApply, err)
	}
	if !w.config.Userspace {
		if err := w.config.Platform.Configure(ctx, t.name, cfg); err != nil {
			return fmt.Errorf("%w: reconfiguring host networking: %w", apperrors.ErrBackendApply, err)
		}
	}
	t.cfg = cfg.Clone()

	log.WithField("tunnel", tunnelID).
		WithField("endpoint", cfg.Peer.Endpoint.String()).
		Info("tunnel reconfigured")
	return nil
}

func (w *WireGuard) downLocked(ctx context.Context, tunnelID string) error {
	t, ok := w.tunnels[tunnelID]
	if !ok {
		log.WithField("tunnel", tunnelID).Debug("down on unknown tunnel ignored")
		return nil
	}
	delete(w.tunnels, tunnelID)

	var teardownErr error
	if !w.config.Userspace {
		teardownErr = w.config.Platform.Teardown(ctx, t.name)
	}
	t.dev.Close()

	log.WithField("tunnel", tunnelID).Info("tunnel down")
	w.report(tunnelID, StateDown, teardownErr)

	if teardownErr != nil {
		return fmt.Errorf("%w: tearing down host networking: %w", apperrors.ErrBackendApply, teardownErr)
	}
	return nil
}

// createTunnel creates the TUN and device and applies the configuration.
func (w *WireGuard) createTunnel(cfg *profile.TunnelConfig) (*wgTunnel, error) {
	var (
		tunDev tun.Device
		tnet   *netstack.Net
		name   string
		err    error
	)

	if w.config.Userspace {
		addrs := make([]netip.Addr, 0, len(cfg.Interface.Addresses))
		for _, p := range cfg.Interface.Addresses {
			addrs = append(addrs, p.Addr())
		}
		tunDev, tnet, err = netstack.CreateNetTUN(addrs, cfg.Interface.DNS, cfg.Interface.MTU)
		if err != nil {
			return nil, fmt.Errorf("creating netstack TUN: %w", err)
		}
		name = "netstack"
	} else {
		tunDev, err = tun.CreateTUN(w.config.InterfaceName, cfg.Interface.MTU)
		if err != nil {
			return nil, fmt.Errorf("creating TUN %s: %w", w.config.InterfaceName, err)
		}
		if name, err = tunDev.Name(); err != nil {
			name = w.config.InterfaceName
		}
	}

	level := device.LogLevelSilent
	if w.config.Verbose {
		level = device.LogLevelVerbose
	}
	dev := device.NewDevice(tunDev, w.config.Bind(), device.NewLogger(level, "("+name+") "))

	if err := dev.IpcSet(cfg.UAPI()); err != nil {
		dev.Close()
		return nil, fmt.Errorf("configuring device: %w", err)
	}
	if err := dev.Up(); err != nil {
		dev.Close()
		return nil, fmt.Errorf("bringing up device: %w", err)
	}

	return &wgTunnel{dev: dev, tun: tunDev, net: tnet, name: name, cfg: cfg.Clone()}, nil
}

func (w *WireGuard) report(tunnelID string, s State, err error) {
	if w.config.OnStateChange != nil {
		w.config.OnStateChange(StateChange{TunnelID: tunnelID, State: s, Err: err})
	}
}

// DialContext dials through the userspace network stack of the live
// tunnel. The tunnel is looked up on every call, so connections made after
// a refresh use the refreshed stack.
func (w *WireGuard) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	w.mu.Lock()
	var tnet *netstack.Net
	for _, t := range w.tunnels {
		if t.net != nil {
			tnet = t.net
			break
		}
	}
	w.mu.Unlock()

	if tnet == nil {
		return nil, fmt.Errorf("%w: no userspace tunnel is up", apperrors.ErrUnavailable)
	}
	return tnet.DialContext(ctx, network, address)
}

// Inspect returns the device's current UAPI "get" dump.
func (w *WireGuard) Inspect(tunnelID string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tunnels[tunnelID]
	if !ok {
		return "", apperrors.ErrTunnelNotFound
	}
	return t.dev.IpcGet()
}

// Tunnels returns the number of live tunnels.
func (w *WireGuard) Tunnels() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tunnels)
}

// Close tears down every tunnel and rejects further Apply calls.
func (w *WireGuard) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	var errs []error
	for id := range w.tunnels {
		if err := w.downLocked(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	return apperrors.Join(errs...)
}

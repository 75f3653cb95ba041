package profile

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultDNS is the fixed resolver set pushed into every tunnel.
var DefaultDNS = []netip.Addr{
	netip.MustParseAddr("1.1.1.1"),
	netip.MustParseAddr("1.0.0.1"),
	netip.MustParseAddr("2606:4700:4700::1111"),
	netip.MustParseAddr("2606:4700:4700::1001"),
}

// AllTraffic is the peer route set: every IPv4 and IPv6 destination.
var AllTraffic = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/0"),
	netip.MustParsePrefix("::/0"),
}

// DefaultMTU matches the wireguard-go default.
const DefaultMTU = 1420

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// Builder turns a ConnectionProfile into a TunnelConfig.
type Builder struct {
	// Resolver resolves the server endpoint and out-of-band hosts.
	// If nil, net.DefaultResolver is used.
	Resolver Resolver

	// RouteExclusion enables per-host route exclusions for out-of-band hosts.
	// Platforms that cannot exclude routes leave this false.
	RouteExclusion bool

	// DNS overrides DefaultDNS when non-empty.
	DNS []netip.Addr

	// MTU is the tunnel MTU. Zero means DefaultMTU.
	MTU int

	// PersistentKeepalive is the keepalive interval in seconds (0 disables).
	PersistentKeepalive int
}

// Build assembles the interface and peer sections for p.
//
// When RouteExclusion is set, every out-of-band host must resolve: a tunnel
// that would carry traffic to the credential infrastructure is never built.
func (b *Builder) Build(ctx context.Context, p *ConnectionProfile, excludedApplicationID string, outOfBandHosts []string) (*TunnelConfig, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil profile", apperrors.ErrTunnelConfig)
	}

	endpoint, err := b.resolveEndpoint(ctx, p.Endpoint())
	if err != nil {
		return nil, err
	}

	dns := DefaultDNS
	if len(b.DNS) > 0 {
		dns = b.DNS
	}
	mtu := b.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}

	cfg := &TunnelConfig{
		Interface: Interface{
			Addresses:  p.Addresses(),
			PrivateKey: p.PrivateKey(),
			DNS:        slices.Clone(dns),
			MTU:        mtu,
		},
		Peer: Peer{
			PublicKey:           p.ServerPublicKey(),
			Endpoint:            endpoint,
			EndpointHost:        p.Endpoint(),
			AllowedIPs:          slices.Clone(AllTraffic),
			PersistentKeepalive: b.PersistentKeepalive,
		},
	}

	if excludedApplicationID != "" {
		cfg.Interface.ExcludedApplications = []string{excludedApplicationID}
	}

	if b.RouteExclusion && len(outOfBandHosts) > 0 {
		routes, err := b.resolveExclusions(ctx, outOfBandHosts)
		if err != nil {
			return nil, err
		}
		cfg.Interface.ExcludedRoutes = routes
	}

	log.WithField("addresses", len(cfg.Interface.Addresses)).
		WithField("endpoint", cfg.Peer.Endpoint.String()).
		WithField("excluded_routes", len(cfg.Interface.ExcludedRoutes)).
		Debug("built tunnel configuration")

	return cfg, nil
}

func (b *Builder) resolver() Resolver {
	if b.Resolver != nil {
		return b.Resolver
	}
	return net.DefaultResolver
}

// resolveEndpoint turns the issued host:port into ip:port, since the engine
// only accepts numeric endpoints.
func (b *Builder) resolveEndpoint(ctx context.Context, endpoint string) (netip.AddrPort, error) {
	host, port, err := splitEndpoint(endpoint)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: endpoint %q: %w", apperrors.ErrTunnelConfig, endpoint, err)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), port), nil
	}

	addrs, err := b.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: resolving endpoint %q: %w", apperrors.ErrTunnelConfig, host, err)
	}
	if len(addrs) == 0 {
		return netip.AddrPort{}, fmt.Errorf("%w: endpoint %q has no addresses", apperrors.ErrTunnelConfig, host)
	}

	// Prefer IPv4 for the outer transport.
	chosen := addrs[0].Unmap()
	for _, a := range addrs {
		if a.Unmap().Is4() {
			chosen = a.Unmap()
			break
		}
	}
	return netip.AddrPortFrom(chosen, port), nil
}

// resolveExclusions resolves every out-of-band host concurrently and returns
// one single-host prefix per resolved address, deduplicated and sorted.
func (b *Builder) resolveExclusions(ctx context.Context, hosts []string) ([]netip.Prefix, error) {
	results := make([][]netip.Addr, len(hosts))
	r := b.resolver()

	g, gctx := errgroup.WithContext(ctx)
	for i, h := range hosts {
		host := stripPort(h)
		g.Go(func() error {
			if addr, err := netip.ParseAddr(host); err == nil {
				results[i] = []netip.Addr{addr}
				return nil
			}
			addrs, err := r.LookupNetIP(gctx, "ip", host)
			if err != nil {
				return fmt.Errorf("%w: resolving out-of-band host %q: %w", apperrors.ErrTunnelConfig, host, err)
			}
			if len(addrs) == 0 {
				return fmt.Errorf("%w: out-of-band host %q has no addresses", apperrors.ErrTunnelConfig, host)
			}
			results[i] = addrs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("out-of-band host resolution failed")
		return nil, err
	}

	set := newPrefixSet()
	for _, addrs := range results {
		for _, a := range addrs {
			set.add(hostPrefix(a))
		}
	}
	routes := set.items
	slices.SortFunc(routes, func(a, b netip.Prefix) int {
		return a.Addr().Compare(b.Addr())
	})
	return routes, nil
}

// stripPort removes an optional :port suffix. Bare IPv6 literals are kept.
func stripPort(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return strings.Trim(host, "[]")
}

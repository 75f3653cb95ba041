package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/go-i2p/wgclient/lib/profile"
)

// Runner executes a host command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(out))
	}
	return out, nil
}

// gateway is the host's original route out for one address family.
type gateway struct {
	via string
	dev string
}

func (g gateway) routeArgs() []string {
	if g.via == "" {
		return []string{"dev", g.dev}
	}
	return []string{"via", g.via, "dev", g.dev}
}

// ipState is what IPRoute installed for one interface.
type ipState struct {
	addresses []netip.Prefix
	bypass    []netip.Prefix
	gateways  map[int]gateway
	dns       bool
}

// IPRoute configures a Linux host with iproute2 and systemd-resolved.
//
// All traffic is routed into the tunnel with two half-default routes per
// address family, leaving the original default route in place. The peer
// endpoint and every excluded route get host routes through the original
// gateway. An excluded host whose family has no original gateway is made
// unreachable rather than left to the tunnel.
//
// Per-application exclusion has no iproute2 equivalent; excluded
// applications are logged and rely on the excluded routes.
type IPRoute struct {
	runner Runner

	mu     sync.Mutex
	states map[string]*ipState
}

// NewIPRoute returns a platform that runs commands through r. A nil r uses
// ExecRunner.
func NewIPRoute(r Runner) *IPRoute {
	if r == nil {
		r = ExecRunner{}
	}
	return &IPRoute{runner: r, states: make(map[string]*ipState)}
}

// Configure implements Platform. It is called again with the new
// configuration after every refresh and converges the host to it.
func (p *IPRoute) Configure(ctx context.Context, ifname string, cfg *profile.TunnelConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[ifname]
	if !ok {
		gws, err := p.discoverGateways(ctx, ifname)
		if err != nil {
			return err
		}
		st = &ipState{gateways: gws}
		p.states[ifname] = st
	}

	if err := p.configureLink(ctx, ifname, st, cfg); err != nil {
		return err
	}
	if err := p.configureBypass(ctx, st, cfg); err != nil {
		return err
	}
	if err := p.configureDefault(ctx, ifname, cfg); err != nil {
		return err
	}
	p.configureDNS(ctx, ifname, st, cfg)

	if len(cfg.Interface.ExcludedApplications) > 0 {
		log.WithField("interface", ifname).
			WithField("excluded_apps", cfg.Interface.ExcludedApplications).
			Debug("per-application exclusion is not available, relying on excluded routes")
	}
	return nil
}

// Teardown implements Platform. Routes through the interface disappear with
// it; the bypass routes and DNS settings are removed here.
func (p *IPRoute) Teardown(ctx context.Context, ifname string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.states[ifname]
	if !ok {
		return nil
	}
	delete(p.states, ifname)

	var errs []error
	for _, prefix := range st.bypass {
		if err := p.ip(ctx, prefix, "route", "del", prefix.String()); err != nil && !routeMissing(err) {
			errs = append(errs, err)
		}
	}
	if st.dns {
		if _, err := p.runner.Run(ctx, "resolvectl", "revert", ifname); err != nil {
			log.WithField("interface", ifname).WithError(err).Warn("failed to revert DNS settings")
		}
	}
	log.WithField("interface", ifname).
		WithField("bypass_routes", len(st.bypass)).
		Debug("host networking removed")
	return errors.Join(errs...)
}

func (p *IPRoute) configureLink(ctx context.Context, ifname string, st *ipState, cfg *profile.TunnelConfig) error {
	for _, old := range st.addresses {
		if slices.Contains(cfg.Interface.Addresses, old) {
			continue
		}
		if err := p.ip(ctx, old, "address", "del", old.String(), "dev", ifname); err != nil {
			log.WithField("address", old.String()).WithError(err).Warn("failed to remove stale tunnel address")
		}
	}
	for _, addr := range cfg.Interface.Addresses {
		if err := p.ip(ctx, addr, "address", "replace", addr.String(), "dev", ifname); err != nil {
			return err
		}
	}
	st.addresses = slices.Clone(cfg.Interface.Addresses)

	args := []string{"link", "set", "dev", ifname}
	if cfg.Interface.MTU > 0 {
		args = append(args, "mtu", strconv.Itoa(cfg.Interface.MTU))
	}
	args = append(args, "up")
	_, err := p.runner.Run(ctx, "ip", args...)
	return err
}

// configureBypass installs host routes for the endpoint and excluded routes
// and drops the ones a previous configuration needed but this one does not.
func (p *IPRoute) configureBypass(ctx context.Context, st *ipState, cfg *profile.TunnelConfig) error {
	want := slices.Clone(cfg.Interface.ExcludedRoutes)
	if cfg.Peer.Endpoint.IsValid() {
		ep := cfg.Peer.Endpoint.Addr().Unmap()
		want = append(want, netip.PrefixFrom(ep, ep.BitLen()))
	}
	slices.SortFunc(want, func(a, b netip.Prefix) int { return a.Addr().Compare(b.Addr()) })
	want = slices.Compact(want)

	for _, old := range st.bypass {
		if slices.Contains(want, old) {
			continue
		}
		if err := p.ip(ctx, old, "route", "del", old.String()); err != nil {
			log.WithField("route", old.String()).WithError(err).Warn("failed to remove stale bypass route")
		}
	}

	installed := make([]netip.Prefix, 0, len(want))
	for _, prefix := range want {
		args := []string{"route", "replace"}
		if gw, ok := st.gateways[family(prefix.Addr())]; ok {
			args = append(args, prefix.String())
			args = append(args, gw.routeArgs()...)
		} else {
			args = append(args, "unreachable", prefix.String())
		}
		if err := p.ip(ctx, prefix, args...); err != nil {
			st.bypass = installed
			return err
		}
		installed = append(installed, prefix)
	}
	st.bypass = installed
	return nil
}

// configureDefault routes each address family the peer carries into the
// tunnel. IPv6 is only routed when the tunnel has an IPv6 address.
func (p *IPRoute) configureDefault(ctx context.Context, ifname string, cfg *profile.TunnelConfig) error {
	hasV6 := slices.ContainsFunc(cfg.Interface.Addresses, func(a netip.Prefix) bool { return a.Addr().Is6() })
	for _, allowed := range cfg.Peer.AllowedIPs {
		if allowed.Bits() != 0 {
			if err := p.ip(ctx, allowed, "route", "replace", allowed.String(), "dev", ifname); err != nil {
				return err
			}
			continue
		}
		if allowed.Addr().Is6() && !hasV6 {
			continue
		}
		for _, half := range halves(allowed.Addr()) {
			if err := p.ip(ctx, half, "route", "replace", half.String(), "dev", ifname); err != nil {
				return err
			}
		}
	}
	return nil
}

// configureDNS points the interface's resolver at the tunnel DNS servers.
// Failure is logged: hosts without systemd-resolved keep their resolver.
func (p *IPRoute) configureDNS(ctx context.Context, ifname string, st *ipState, cfg *profile.TunnelConfig) {
	if len(cfg.Interface.DNS) == 0 {
		return
	}
	args := []string{"dns", ifname}
	for _, a := range cfg.Interface.DNS {
		args = append(args, a.String())
	}
	if _, err := p.runner.Run(ctx, "resolvectl", args...); err != nil {
		log.WithField("interface", ifname).WithError(err).Warn("failed to set tunnel DNS servers")
		return
	}
	if _, err := p.runner.Run(ctx, "resolvectl", "domain", ifname, "~."); err != nil {
		log.WithField("interface", ifname).WithError(err).Warn("failed to route DNS queries to the tunnel")
	}
	st.dns = true
}

// discoverGateways reads the default routes that existed before the tunnel.
func (p *IPRoute) discoverGateways(ctx context.Context, ifname string) (map[int]gateway, error) {
	gws := make(map[int]gateway, 2)
	for _, fam := range []int{4, 6} {
		out, err := p.runner.Run(ctx, "ip", "-"+strconv.Itoa(fam), "route", "show", "default")
		if err != nil {
			if fam == 4 {
				return nil, fmt.Errorf("reading default route: %w", err)
			}
			continue
		}
		if gw, ok := parseDefaultRoute(out, ifname); ok {
			gws[fam] = gw
		}
	}
	if len(gws) == 0 {
		return nil, errors.New("no default route to keep the endpoint reachable")
	}
	log.WithField("gateways", gws).Debug("original default routes")
	return gws, nil
}

func (p *IPRoute) ip(ctx context.Context, prefix netip.Prefix, args ...string) error {
	full := append([]string{"-" + strconv.Itoa(family(prefix.Addr()))}, args...)
	_, err := p.runner.Run(ctx, "ip", full...)
	return err
}

// parseDefaultRoute returns the first default route not via ifname, in the
// `ip route show default` format: "default via 192.0.2.1 dev eth0 ...".
func parseDefaultRoute(out []byte, ifname string) (gateway, bool) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "default" {
			continue
		}
		var gw gateway
		for i := 1; i+1 < len(fields); i++ {
			switch fields[i] {
			case "via":
				gw.via = fields[i+1]
			case "dev":
				gw.dev = fields[i+1]
			}
		}
		if gw.dev == "" || gw.dev == ifname {
			continue
		}
		return gw, true
	}
	return gateway{}, false
}

// routeMissing reports iproute2's ESRCH reply for a route that is already gone.
func routeMissing(err error) bool {
	return strings.Contains(err.Error(), "No such process")
}

func family(a netip.Addr) int {
	if a.Unmap().Is4() {
		return 4
	}
	return 6
}

// halves splits a default route into two /1 routes that take precedence
// over the existing default without replacing it.
func halves(a netip.Addr) []netip.Prefix {
	if a.Is4() {
		return []netip.Prefix{
			netip.MustParsePrefix("0.0.0.0/1"),
			netip.MustParsePrefix("128.0.0.0/1"),
		}
	}
	return []netip.Prefix{
		netip.MustParsePrefix("::/1"),
		netip.MustParsePrefix("8000::/1"),
	}
}

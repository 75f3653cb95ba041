package profile

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Interface is the local side of the tunnel.
type Interface struct {
	Addresses  []netip.Prefix
	PrivateKey wgtypes.Key
	DNS        []netip.Addr
	MTU        int

	// ExcludedApplications bypass the tunnel entirely.
	ExcludedApplications []string

	// ExcludedRoutes are single-host prefixes that must never be routed
	// through the tunnel.
	ExcludedRoutes []netip.Prefix
}

// Peer is the single remote server.
type Peer struct {
	PublicKey wgtypes.Key
	// Endpoint is the resolved ip:port.
	Endpoint netip.AddrPort
	// EndpointHost is the endpoint as issued, before resolution.
	EndpointHost        string
	AllowedIPs          []netip.Prefix
	PersistentKeepalive int
}

// TunnelConfig is the backend-ready configuration of one tunnel.
type TunnelConfig struct {
	Interface Interface
	Peer      Peer
}

// Clone returns a deep copy.
func (c *TunnelConfig) Clone() *TunnelConfig {
	out := *c
	out.Interface.Addresses = slices.Clone(c.Interface.Addresses)
	out.Interface.DNS = slices.Clone(c.Interface.DNS)
	out.Interface.ExcludedApplications = slices.Clone(c.Interface.ExcludedApplications)
	out.Interface.ExcludedRoutes = slices.Clone(c.Interface.ExcludedRoutes)
	out.Peer.AllowedIPs = slices.Clone(c.Peer.AllowedIPs)
	return &out
}

// UAPI renders the configuration in the wireguard-go IPC "set" format.
// replace_peers makes a re-apply swap the peer set atomically.
func (c *TunnelConfig) UAPI() string {
	var b strings.Builder
	fmt.Fprintf(&b, "private_key=%s\n", hexKey(c.Interface.PrivateKey))
	b.WriteString("replace_peers=true\n")
	fmt.Fprintf(&b, "public_key=%s\n", hexKey(c.Peer.PublicKey))
	if c.Peer.Endpoint.IsValid() {
		fmt.Fprintf(&b, "endpoint=%s\n", c.Peer.Endpoint.String())
	}
	if c.Peer.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "persistent_keepalive_interval=%d\n", c.Peer.PersistentKeepalive)
	}
	b.WriteString("replace_allowed_ips=true\n")
	for _, ip := range c.Peer.AllowedIPs {
		fmt.Fprintf(&b, "allowed_ip=%s\n", ip.String())
	}
	return b.String()
}

// WGQuick renders a wg-quick style INI document. ExcludedApplications is
// understood by the Android client; route exclusions are written as comments
// because wg-quick has no equivalent.
func (c *TunnelConfig) WGQuick() string {
	var b strings.Builder

	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", c.Interface.PrivateKey.String())
	fmt.Fprintf(&b, "Address = %s\n", joinStrings(c.Interface.Addresses))
	if len(c.Interface.DNS) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", joinStrings(c.Interface.DNS))
	}
	if c.Interface.MTU > 0 {
		fmt.Fprintf(&b, "MTU = %d\n", c.Interface.MTU)
	}
	if len(c.Interface.ExcludedApplications) > 0 {
		fmt.Fprintf(&b, "ExcludedApplications = %s\n", strings.Join(c.Interface.ExcludedApplications, ", "))
	}
	for _, r := range c.Interface.ExcludedRoutes {
		fmt.Fprintf(&b, "# ExcludedRoute = %s\n", r.String())
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", c.Peer.PublicKey.String())
	fmt.Fprintf(&b, "AllowedIPs = %s\n", joinStrings(c.Peer.AllowedIPs))
	endpoint := c.Peer.EndpointHost
	if endpoint == "" && c.Peer.Endpoint.IsValid() {
		endpoint = c.Peer.Endpoint.String()
	}
	if endpoint != "" {
		fmt.Fprintf(&b, "Endpoint = %s\n", endpoint)
	}
	if c.Peer.PersistentKeepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", c.Peer.PersistentKeepalive)
	}
	return b.String()
}

// hexKey converts a WireGuard key to hex format for IPC.
func hexKey(key wgtypes.Key) string {
	return fmt.Sprintf("%x", key[:])
}

func joinStrings[T fmt.Stringer](items []T) string {
	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = it.String()
	}
	return strings.Join(parts, ", ")
}

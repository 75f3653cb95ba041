// Package profile decodes connection profiles issued by the credential service
// and builds WireGuard tunnel configurations from them.
//
// A ConnectionProfile describes exactly one tunnel instance. It is created fresh
// for every connect or refresh, never mutated, and dropped once superseded.
package profile

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// wireProfile is the JSON shape returned by the credential service.
type wireProfile struct {
	ClientAddresses  []string `json:"client_addresses"`
	ClientPrivateKey string   `json:"client_private_key"`
	ClientPublicKey  string   `json:"client_public_key,omitempty"`
	ServerPublicKey  string   `json:"wg_public_key"`
	ServerEndpoint   string   `json:"wg_endpoint"`
}

// ConnectionProfile holds the parameters of a single tunnel session.
// The zero value is not usable; obtain one from Parse or New.
type ConnectionProfile struct {
	addresses       []netip.Prefix
	privateKey      wgtypes.Key
	serverPublicKey wgtypes.Key
	endpoint        string
}

// New assembles a profile from already-decoded parts. Duplicate addresses are
// dropped, keeping the first occurrence.
func New(addresses []netip.Prefix, privateKey, serverPublicKey wgtypes.Key, endpoint string) (*ConnectionProfile, error) {
	if len(addresses) == 0 {
		return nil, malformed("client_addresses", "must not be empty", nil)
	}
	if _, _, err := splitEndpoint(endpoint); err != nil {
		return nil, malformed("wg_endpoint", "must be host:port", err)
	}
	if privateKey == (wgtypes.Key{}) {
		return nil, malformed("client_private_key", "must not be zero", nil)
	}
	if serverPublicKey == (wgtypes.Key{}) {
		return nil, malformed("wg_public_key", "must not be zero", nil)
	}

	set := newPrefixSet()
	for _, p := range addresses {
		if !p.IsValid() {
			return nil, malformed("client_addresses", "contains an invalid prefix", nil)
		}
		set.add(p)
	}

	return &ConnectionProfile{
		addresses:       set.items,
		privateKey:      privateKey,
		serverPublicKey: serverPublicKey,
		endpoint:        endpoint,
	}, nil
}

// Parse decodes a raw issued profile. Every failure wraps ErrMalformedProfile.
func Parse(raw []byte) (*ConnectionProfile, error) {
	if len(raw) == 0 {
		return nil, malformed("", "empty profile", nil)
	}

	var w wireProfile
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, malformed("", "invalid JSON", err)
	}

	if len(w.ClientAddresses) == 0 {
		return nil, malformed("client_addresses", "is required", nil)
	}
	addresses := make([]netip.Prefix, 0, len(w.ClientAddresses))
	for _, s := range w.ClientAddresses {
		p, err := parseAddress(s)
		if err != nil {
			return nil, malformed("client_addresses", fmt.Sprintf("invalid address %q", s), err)
		}
		addresses = append(addresses, p)
	}

	privateKey, err := parseKey("client_private_key", w.ClientPrivateKey)
	if err != nil {
		return nil, err
	}
	serverKey, err := parseKey("wg_public_key", w.ServerPublicKey)
	if err != nil {
		return nil, err
	}

	if w.ClientPublicKey != "" {
		clientKey, err := parseKey("client_public_key", w.ClientPublicKey)
		if err != nil {
			return nil, err
		}
		if clientKey != privateKey.PublicKey() {
			return nil, malformed("client_public_key", "does not match client_private_key", nil)
		}
	}

	if w.ServerEndpoint == "" {
		return nil, malformed("wg_endpoint", "is required", nil)
	}

	p, err := New(addresses, privateKey, serverKey, w.ServerEndpoint)
	if err != nil {
		return nil, err
	}

	log.WithField("addresses", len(p.addresses)).
		WithField("server_key", shortKey(serverKey)).
		WithField("endpoint", p.endpoint).
		Debug("parsed connection profile")

	return p, nil
}

// Addresses returns the local tunnel addresses in issue order.
func (p *ConnectionProfile) Addresses() []netip.Prefix {
	return append([]netip.Prefix(nil), p.addresses...)
}

// PrivateKey returns the client's private key.
func (p *ConnectionProfile) PrivateKey() wgtypes.Key {
	return p.privateKey
}

// PublicKey returns the client's public key derived from the private key.
func (p *ConnectionProfile) PublicKey() wgtypes.Key {
	return p.privateKey.PublicKey()
}

// ServerPublicKey returns the remote peer's public key.
func (p *ConnectionProfile) ServerPublicKey() wgtypes.Key {
	return p.serverPublicKey
}

// Endpoint returns the remote peer's host:port as issued.
func (p *ConnectionProfile) Endpoint() string {
	return p.endpoint
}

// MarshalJSON encodes the profile in the credential service's wire format.
func (p *ConnectionProfile) MarshalJSON() ([]byte, error) {
	w := wireProfile{
		ClientAddresses:  make([]string, 0, len(p.addresses)),
		ClientPrivateKey: p.privateKey.String(),
		ClientPublicKey:  p.privateKey.PublicKey().String(),
		ServerPublicKey:  p.serverPublicKey.String(),
		ServerEndpoint:   p.endpoint,
	}
	for _, a := range p.addresses {
		w.ClientAddresses = append(w.ClientAddresses, a.String())
	}
	return json.Marshal(w)
}

// String never includes key material.
func (p *ConnectionProfile) String() string {
	return fmt.Sprintf("profile{addresses=%v server=%s endpoint=%s}", p.addresses, shortKey(p.serverPublicKey), p.endpoint)
}

func parseKey(field, value string) (wgtypes.Key, error) {
	if value == "" {
		return wgtypes.Key{}, malformed(field, "is required", nil)
	}
	key, err := wgtypes.ParseKey(value)
	if err != nil {
		return wgtypes.Key{}, malformed(field, "must be a base64 encoded 32 byte key", err)
	}
	return key, nil
}

// parseAddress accepts CIDR notation or a bare address, which becomes a
// single-host prefix.
func parseAddress(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return hostPrefix(a), nil
}

// splitEndpoint splits host:port and checks the port is numeric and in range.
func splitEndpoint(endpoint string) (string, uint16, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("missing host")
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, uint16(port), nil
}

func hostPrefix(a netip.Addr) netip.Prefix {
	a = a.Unmap()
	return netip.PrefixFrom(a, a.BitLen())
}

func malformed(field, reason string, cause error) error {
	msg := reason
	if field != "" {
		msg = field + ": " + reason
	}
	if cause != nil {
		return fmt.Errorf("%w: %s: %w", apperrors.ErrMalformedProfile, msg, cause)
	}
	return fmt.Errorf("%w: %s", apperrors.ErrMalformedProfile, msg)
}

func shortKey(k wgtypes.Key) string {
	return k.String()[:8] + "..."
}

// prefixSet is an insertion-ordered set of prefixes.
type prefixSet struct {
	seen  map[netip.Prefix]struct{}
	items []netip.Prefix
}

func newPrefixSet() *prefixSet {
	return &prefixSet{seen: make(map[netip.Prefix]struct{})}
}

func (s *prefixSet) add(p netip.Prefix) {
	if _, ok := s.seen[p]; ok {
		return
	}
	s.seen[p] = struct{}{}
	s.items = append(s.items, p)
}

// Package testutil provides in-memory collaborators for exercising the
// session controller without a credential service, a WireGuard device or
// real timers.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/go-i2p/wgclient/lib/credential"
)

// ProfileFixture is a connection profile with freshly generated keys.
type ProfileFixture struct {
	ClientKey wgtypes.Key
	ServerKey wgtypes.Key
	Addresses []string
	Endpoint  string
}

// NewProfileFixture generates keys for a profile pointing at endpoint.
// An empty endpoint selects 192.0.2.1:51820.
func NewProfileFixture(endpoint string) (*ProfileFixture, error) {
	client, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating client key: %w", err)
	}
	server, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generating server key: %w", err)
	}
	if endpoint == "" {
		endpoint = "192.0.2.1:51820"
	}
	return &ProfileFixture{
		ClientKey: client,
		ServerKey: server.PublicKey(),
		Addresses: []string{"10.64.0.2/32", "fd00:64::2/128"},
		Endpoint:  endpoint,
	}, nil
}

// MustProfileFixture is NewProfileFixture that panics on error.
func MustProfileFixture(endpoint string) *ProfileFixture {
	f, err := NewProfileFixture(endpoint)
	if err != nil {
		panic(err)
	}
	return f
}

// JSON renders the profile in the issuer's wire format.
func (f *ProfileFixture) JSON() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"client_addresses":   f.Addresses,
		"client_private_key": f.ClientKey.String(),
		"client_public_key":  f.ClientKey.PublicKey().String(),
		"wg_public_key":      f.ServerKey.String(),
		"wg_endpoint":        f.Endpoint,
	})
	return data
}

// Grant wraps the profile in an issuer response.
func (f *ProfileFixture) Grant(secondsUntilRefresh int64) *credential.Grant {
	return &credential.Grant{Profile: f.JSON(), SecondsUntilRefresh: secondsUntilRefresh}
}

// StaticResolver resolves names from a fixed table. Literal addresses
// resolve to themselves.
type StaticResolver struct {
	mu    sync.Mutex
	hosts map[string][]netip.Addr
}

// NewStaticResolver returns a resolver seeded with hosts.
func NewStaticResolver(hosts map[string][]string) *StaticResolver {
	r := &StaticResolver{hosts: make(map[string][]netip.Addr)}
	for name, addrs := range hosts {
		for _, a := range addrs {
			r.hosts[name] = append(r.hosts[name], netip.MustParseAddr(a))
		}
	}
	return r
}

// LookupNetIP implements profile.Resolver.
func (r *StaticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if a, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		return []netip.Addr{a}, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	addrs, ok := r.hosts[host]
	if !ok {
		return nil, fmt.Errorf("lookup %s: no such host", host)
	}
	return append([]netip.Addr(nil), addrs...), nil
}

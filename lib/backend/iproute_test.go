package backend

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-i2p/wgclient/lib/profile"
)

// scriptedRunner records commands and answers from canned outputs.
type scriptedRunner struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
	failures map[string]error
}

func newScriptedRunner() *scriptedRunner {
	return &scriptedRunner{
		outputs: map[string]string{
			"ip -4 route show default": "default via 192.168.1.1 dev wlan0 proto dhcp metric 600\n",
			"ip -6 route show default": "",
		},
		failures: map[string]error{},
	}
}

func (r *scriptedRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.Join(append([]string{name}, args...), " ")
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
	if err, ok := r.failures[cmd]; ok {
		return nil, err
	}
	return []byte(r.outputs[cmd]), nil
}

func (r *scriptedRunner) ran(cmd string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.commands, cmd)
}

func (r *scriptedRunner) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}

func platformConfig(t *testing.T, endpoint string, excluded ...string) *profile.TunnelConfig {
	t.Helper()
	cfg := testTunnelConfig(t, "10.66.0.2/32")
	cfg.Peer.Endpoint = netip.MustParseAddrPort(endpoint)
	for _, e := range excluded {
		cfg.Interface.ExcludedRoutes = append(cfg.Interface.ExcludedRoutes, netip.MustParsePrefix(e))
	}
	cfg.Interface.ExcludedApplications = []string{"wgclient"}
	return cfg
}

func TestIPRoute_Configure(t *testing.T) {
	r := newScriptedRunner()
	p := NewIPRoute(r)
	cfg := platformConfig(t, "198.51.100.7:51820", "203.0.113.10/32", "2001:db8::10/128")

	if err := p.Configure(context.Background(), "wgclient0", cfg); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}

	for _, want := range []string{
		"ip -4 address replace 10.66.0.2/32 dev wgclient0",
		"ip link set dev wgclient0 mtu 1280 up",
		"ip -4 route replace 198.51.100.7/32 via 192.168.1.1 dev wlan0",
		"ip -4 route replace 203.0.113.10/32 via 192.168.1.1 dev wlan0",
		"ip -6 route replace unreachable 2001:db8::10/128",
		"ip -4 route replace 0.0.0.0/1 dev wgclient0",
		"ip -4 route replace 128.0.0.0/1 dev wgclient0",
		"resolvectl dns wgclient0 1.1.1.1 1.0.0.1 2606:4700:4700::1111 2606:4700:4700::1001",
		"resolvectl domain wgclient0 ~.",
	} {
		if !r.ran(want) {
			t.Errorf("missing command %q\nran: %v", want, r.commands)
		}
	}
	if r.ran("ip -6 route replace ::/1 dev wgclient0") {
		t.Error("IPv6 should not be routed into a tunnel without an IPv6 address")
	}
}

func TestIPRoute_ReconfigureMovesEndpointRoute(t *testing.T) {
	r := newScriptedRunner()
	p := NewIPRoute(r)
	ctx := context.Background()

	if err := p.Configure(ctx, "wgclient0", platformConfig(t, "198.51.100.7:51820")); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	r.reset()

	if err := p.Configure(ctx, "wgclient0", platformConfig(t, "198.51.100.8:51820")); err != nil {
		t.Fatalf("Configure(refreshed) error = %v", err)
	}
	if !r.ran("ip -4 route del 198.51.100.7/32") {
		t.Error("stale endpoint route should be removed")
	}
	if !r.ran("ip -4 route replace 198.51.100.8/32 via 192.168.1.1 dev wlan0") {
		t.Error("new endpoint should be routed around the tunnel")
	}
	if r.ran("ip -4 route show default") {
		t.Error("original gateway should be read only once per interface")
	}
}

func TestIPRoute_Teardown(t *testing.T) {
	r := newScriptedRunner()
	p := NewIPRoute(r)
	ctx := context.Background()

	if err := p.Configure(ctx, "wgclient0", platformConfig(t, "198.51.100.7:51820", "203.0.113.10/32")); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	r.failures["ip -4 route del 203.0.113.10/32"] = errors.New("RTNETLINK answers: No such process")
	r.reset()

	if err := p.Teardown(ctx, "wgclient0"); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	for _, want := range []string{
		"ip -4 route del 198.51.100.7/32",
		"resolvectl revert wgclient0",
	} {
		if !r.ran(want) {
			t.Errorf("missing command %q", want)
		}
	}

	r.reset()
	if err := p.Teardown(ctx, "wgclient0"); err != nil {
		t.Errorf("second Teardown() error = %v", err)
	}
	if len(r.commands) != 0 {
		t.Errorf("second Teardown() ran %v", r.commands)
	}
}

func TestIPRoute_TeardownReportsFailures(t *testing.T) {
	r := newScriptedRunner()
	p := NewIPRoute(r)
	ctx := context.Background()

	if err := p.Configure(ctx, "wgclient0", platformConfig(t, "198.51.100.7:51820")); err != nil {
		t.Fatalf("Configure() error = %v", err)
	}
	r.failures["ip -4 route del 198.51.100.7/32"] = errors.New("permission denied")
	if err := p.Teardown(ctx, "wgclient0"); err == nil {
		t.Error("Teardown() should report a route it could not remove")
	}
}

func TestIPRoute_NoDefaultRoute(t *testing.T) {
	r := newScriptedRunner()
	r.outputs["ip -4 route show default"] = ""
	p := NewIPRoute(r)

	if err := p.Configure(context.Background(), "wgclient0", platformConfig(t, "198.51.100.7:51820")); err == nil {
		t.Fatal("Configure() should fail without a route to the endpoint")
	}
	if r.ran("ip -4 route replace 0.0.0.0/1 dev wgclient0") {
		t.Error("no traffic should be routed into the tunnel")
	}
}

func TestIPRoute_ConfigureFailure(t *testing.T) {
	r := newScriptedRunner()
	r.failures["ip -4 route replace 203.0.113.10/32 via 192.168.1.1 dev wlan0"] = errors.New("boom")
	p := NewIPRoute(r)

	err := p.Configure(context.Background(), "wgclient0", platformConfig(t, "198.51.100.7:51820", "203.0.113.10/32"))
	if err == nil {
		t.Fatal("Configure() should fail when an exclusion cannot be installed")
	}
	if r.ran("ip -4 route replace 0.0.0.0/1 dev wgclient0") {
		t.Error("traffic must not be routed into the tunnel before exclusions are in place")
	}
}

func TestParseDefaultRoute(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want gateway
		ok   bool
	}{
		{"via gateway", "default via 192.0.2.1 dev eth0 proto static\n", gateway{via: "192.0.2.1", dev: "eth0"}, true},
		{"device only", "default dev ppp0 scope link\n", gateway{dev: "ppp0"}, true},
		{"skips tunnel", "default dev wgclient0\ndefault via 192.0.2.1 dev eth0\n", gateway{via: "192.0.2.1", dev: "eth0"}, true},
		{"empty", "", gateway{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDefaultRoute([]byte(tt.out), "wgclient0")
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseDefaultRoute() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

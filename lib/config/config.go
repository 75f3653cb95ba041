// Package config loads and saves the wgclient TOML configuration.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/validation"
)

// Default configuration values
const (
	DefaultApplicationID     = "wgclient"
	DefaultCredentialURL     = "https://vpn.example.com"
	DefaultRequestTimeout    = 15 * time.Second
	DefaultMaxAttempts       = 5
	DefaultRetryDelay        = time.Second
	DefaultEpochLength       = time.Hour
	DefaultEpochBuffer       = 5 * time.Minute
	DefaultInterfaceName     = "wgclient0"
	DefaultMTU               = 1420
	DefaultMinRefreshDelay   = 5 * time.Second
	DefaultWakeCheckInterval = 15 * time.Second
	DefaultMetricsListen     = "127.0.0.1:9273"
	DefaultConfigFile        = "config.toml"
)

// Config holds all configuration for the client.
type Config struct {
	Client     ClientConfig     `toml:"client"`
	Credential CredentialConfig `toml:"credential"`
	Tunnel     TunnelConfig     `toml:"tunnel"`
	Refresh    RefreshConfig    `toml:"refresh"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Servers    []Server         `toml:"servers"`
}

// ClientConfig contains application identity settings.
type ClientConfig struct {
	// ApplicationID is excluded from the tunnel so the client's own
	// traffic never loops through it
	ApplicationID string `toml:"application_id"`
	// DataDir is the directory where persistent data is stored
	DataDir string `toml:"data_dir"`
}

// CredentialConfig contains credential service settings.
type CredentialConfig struct {
	// Endpoint is the base URL of the credential service
	Endpoint string `toml:"endpoint"`
	// Account names the keyring entry holding the access token
	Account        string        `toml:"account"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	MaxAttempts    int           `toml:"max_attempts"`
	RetryDelay     time.Duration `toml:"retry_delay"`
	// EpochLength is the service's key rotation period, used when a
	// response carries no refresh hint. Zero disables the fallback
	EpochLength time.Duration `toml:"epoch_length"`
	EpochBuffer time.Duration `toml:"epoch_buffer"`
}

// TunnelConfig contains local tunnel settings.
type TunnelConfig struct {
	// Name is the interface name
	Name string `toml:"name"`
	MTU  int    `toml:"mtu"`
	// Userspace runs the tunnel on a gVisor netstack instead of a kernel TUN
	Userspace bool `toml:"userspace"`
	// RouteExclusion routes out-of-band hosts outside the tunnel
	RouteExclusion bool `toml:"route_exclusion"`
	// OutOfBandHosts are hosts the credential infrastructure must reach directly
	OutOfBandHosts []string `toml:"out_of_band_hosts"`
	// DNS overrides the default resolvers when non-empty
	DNS []string `toml:"dns,omitempty"`
}

// RefreshConfig contains refresh scheduling settings.
type RefreshConfig struct {
	// MinDelay is the floor applied to the issuer's refresh hint
	MinDelay time.Duration `toml:"min_delay"`
	// WakeCheckInterval is how often wall time is compared after suspend
	WakeCheckInterval time.Duration `toml:"wake_check_interval"`
	// RequireExactAlarm refuses to connect without exact-alarm permission
	RequireExactAlarm bool `toml:"require_exact_alarm"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

// Server is one exit location.
type Server struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// DefaultServers returns the built-in exit locations.
func DefaultServers() []Server {
	return []Server{
		{ID: "ca_tor", Name: "Toronto, Canada"},
		{ID: "usa_ny", Name: "New York, USA"},
		{ID: "gb_london", Name: "London, England"},
		{ID: "aus_syd", Name: "Sydney, Australia"},
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".wgclient")

	return &Config{
		Client: ClientConfig{
			ApplicationID: DefaultApplicationID,
			DataDir:       dataDir,
		},
		Credential: CredentialConfig{
			Endpoint:       DefaultCredentialURL,
			RequestTimeout: DefaultRequestTimeout,
			MaxAttempts:    DefaultMaxAttempts,
			RetryDelay:     DefaultRetryDelay,
			EpochLength:    DefaultEpochLength,
			EpochBuffer:    DefaultEpochBuffer,
		},
		Tunnel: TunnelConfig{
			Name:           DefaultInterfaceName,
			MTU:            DefaultMTU,
			RouteExclusion: true,
			OutOfBandHosts: []string{},
		},
		Refresh: RefreshConfig{
			MinDelay:          DefaultMinRefreshDelay,
			WakeCheckInterval: DefaultWakeCheckInterval,
		},
		Metrics: MetricsConfig{
			Listen: DefaultMetricsListen,
		},
		Servers: DefaultServers(),
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".wgclient", DefaultConfigFile)
}

// LoadConfig reads configuration from a TOML file and applies WGCLIENT_*
// environment overrides. If the file doesn't exist, defaults are used.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		// Lists in the file replace the defaults rather than extending them.
		cfg.Servers = nil
		cfg.Tunnel.OutOfBandHosts = nil
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %w", apperrors.ErrConfiguration, err)
		}
		if len(cfg.Servers) == 0 {
			cfg.Servers = DefaultServers()
		}
	case os.IsNotExist(err):
		log.WithField("path", path).Debug("Config file not found, using defaults")
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the configuration and reports every invalid field, not
// just the first.
func (c *Config) Validate() error {
	var errs validation.Errors
	errs.Add(validation.Required("client.application_id", c.Client.ApplicationID))
	errs.Add(validation.Required("client.data_dir", c.Client.DataDir))
	errs.Add(validation.URL("credential.endpoint", c.Credential.Endpoint))
	errs.Add(validation.IntRange("credential.max_attempts", c.Credential.MaxAttempts, 1, 20))
	errs.Add(validation.DurationRange("credential.request_timeout", c.Credential.RequestTimeout, time.Second, 5*time.Minute))
	errs.Add(validation.DurationRange("credential.retry_delay", c.Credential.RetryDelay, 0, time.Minute))
	errs.Add(validation.DurationRange("credential.epoch_length", c.Credential.EpochLength, 0, 7*24*time.Hour))
	errs.Add(validation.DurationRange("credential.epoch_buffer", c.Credential.EpochBuffer, 0, c.Credential.EpochLength))
	errs.Add(validation.InterfaceName("tunnel.name", c.Tunnel.Name))
	errs.Add(validation.IntRange("tunnel.mtu", c.Tunnel.MTU, 576, 65535))
	errs.Add(validation.DurationRange("refresh.min_delay", c.Refresh.MinDelay, time.Second, time.Hour))
	errs.Add(validation.DurationRange("refresh.wake_check_interval", c.Refresh.WakeCheckInterval, time.Second, 10*time.Minute))
	errs.Add(c.validateHosts())
	errs.Add(c.validateDNS())
	errs.Add(c.validateServers())
	if c.Metrics.Enabled {
		errs.Add(validation.HostPort("metrics.listen", c.Metrics.Listen))
	}

	if errs.HasErrors() {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, errs.Err())
	}
	return nil
}

func (c *Config) validateHosts() error {
	for i, host := range c.Tunnel.OutOfBandHosts {
		if err := validation.Host(fmt.Sprintf("tunnel.out_of_band_hosts[%d]", i), host); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateDNS() error {
	for i, addr := range c.Tunnel.DNS {
		if err := validation.Addr(fmt.Sprintf("tunnel.dns[%d]", i), addr); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServers() error {
	if len(c.Servers) == 0 {
		return validation.NewResult("servers", "at least one server is required", validation.ErrRequired)
	}
	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if err := validation.ServerID(fmt.Sprintf("servers[%d].id", i), s.ID); err != nil {
			return err
		}
		if err := validation.ServerName(fmt.Sprintf("servers[%d].name", i), s.Name); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return validation.NewResult(fmt.Sprintf("servers[%d].id", i), "duplicate server id "+s.ID, validation.ErrInvalidFormat)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// Server looks up an exit location by ID.
func (c *Config) Server(id string) (Server, bool) {
	for _, s := range c.Servers {
		if s.ID == id {
			return s, true
		}
	}
	return Server{}, false
}

// DNSAddrs returns the configured resolver overrides. Entries are assumed
// to have passed Validate.
func (c *Config) DNSAddrs() []netip.Addr {
	if len(c.Tunnel.DNS) == 0 {
		return nil
	}
	addrs := make([]netip.Addr, 0, len(c.Tunnel.DNS))
	for _, s := range c.Tunnel.DNS {
		if a, err := netip.ParseAddr(s); err == nil {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

// OutOfBandHosts returns the configured out-of-band hosts plus the
// credential endpoint's host, which must never be reached through the
// tunnel it authorizes. Duplicates are dropped; order is kept.
func (c *Config) OutOfBandHosts() []string {
	hosts := make([]string, 0, len(c.Tunnel.OutOfBandHosts)+1)
	seen := make(map[string]bool, cap(hosts))
	add := func(h string) {
		key := strings.ToLower(hostOnly(h))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		hosts = append(hosts, h)
	}

	if u, err := url.Parse(c.Credential.Endpoint); err == nil {
		add(u.Hostname())
	}
	for _, h := range c.Tunnel.OutOfBandHosts {
		add(h)
	}
	return hosts
}

func hostOnly(h string) string {
	h = strings.TrimSpace(h)
	if host, _, err := net.SplitHostPort(h); err == nil {
		return host
	}
	return strings.Trim(h, "[]")
}

// DataPath returns an absolute path within the data directory.
func (c *Config) DataPath(elem ...string) string {
	parts := append([]string{c.Client.DataDir}, elem...)
	return filepath.Join(parts...)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.Client.DataDir, 0o700)
}

// applyEnvOverrides applies WGCLIENT_* environment variables. Values that
// fail to parse are ignored. Durations are given in seconds.
func applyEnvOverrides(cfg *Config) {
	envString("WGCLIENT_APPLICATION_ID", &cfg.Client.ApplicationID)
	envString("WGCLIENT_DATA_DIR", &cfg.Client.DataDir)
	envString("WGCLIENT_CREDENTIAL_ENDPOINT", &cfg.Credential.Endpoint)
	envString("WGCLIENT_CREDENTIAL_ACCOUNT", &cfg.Credential.Account)
	envInt("WGCLIENT_MAX_ATTEMPTS", &cfg.Credential.MaxAttempts)
	envSeconds("WGCLIENT_REQUEST_TIMEOUT", &cfg.Credential.RequestTimeout)
	envSeconds("WGCLIENT_RETRY_DELAY", &cfg.Credential.RetryDelay)
	envString("WGCLIENT_TUNNEL_NAME", &cfg.Tunnel.Name)
	envInt("WGCLIENT_TUNNEL_MTU", &cfg.Tunnel.MTU)
	envBool("WGCLIENT_TUNNEL_USERSPACE", &cfg.Tunnel.Userspace)
	envBool("WGCLIENT_ROUTE_EXCLUSION", &cfg.Tunnel.RouteExclusion)
	envSeconds("WGCLIENT_MIN_REFRESH_DELAY", &cfg.Refresh.MinDelay)
	envBool("WGCLIENT_REQUIRE_EXACT_ALARM", &cfg.Refresh.RequireExactAlarm)
	envBool("WGCLIENT_METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString("WGCLIENT_METRICS_LISTEN", &cfg.Metrics.Listen)

	if v := os.Getenv("WGCLIENT_OUT_OF_BAND_HOSTS"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		cfg.Tunnel.OutOfBandHosts = hosts
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).WithField("value", v).Warn("Ignoring invalid integer environment override")
		return
	}
	*dst = n
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.WithField("key", key).WithField("value", v).Warn("Ignoring invalid boolean environment override")
		return
	}
	*dst = b
}

func envSeconds(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.WithField("key", key).WithField("value", v).Warn("Ignoring invalid duration environment override")
		return
	}
	*dst = time.Duration(n) * time.Second
}

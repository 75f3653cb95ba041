package session

import (
	"fmt"
	"time"

	"github.com/go-i2p/wgclient/lib/backend"
	"github.com/go-i2p/wgclient/lib/credential"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/schedule"
	"github.com/go-i2p/wgclient/lib/validation"
)

// Default configuration values for a session.
const (
	DefaultQueueSize       = 16
	DefaultShutdownTimeout = 30 * time.Second
)

// Config configures a Controller.
// Fields with zero values use sensible defaults.
type Config struct {
	// ApplicationID is excluded from the tunnel so the requesting
	// application's own traffic bypasses it. Required.
	ApplicationID string

	// OutOfBandHosts are infrastructure hosts that must never be reached
	// through the tunnel.
	OutOfBandHosts []string

	// MinRefreshDelay is the floor applied to the issuer's refresh hint.
	// Default: schedule.MinRefreshDelay
	MinRefreshDelay time.Duration

	// QueueSize is the worker's task buffer.
	// Default: 16
	QueueSize int

	// ShutdownTimeout bounds Close.
	// Default: 30s
	ShutdownTimeout time.Duration
}

// Option is a functional option for configuring a Controller.
type Option func(*Config)

// WithApplicationID sets the application excluded from the tunnel.
func WithApplicationID(id string) Option {
	return func(c *Config) {
		c.ApplicationID = id
	}
}

// WithOutOfBandHosts sets the hosts routed outside the tunnel.
func WithOutOfBandHosts(hosts ...string) Option {
	return func(c *Config) {
		c.OutOfBandHosts = append([]string(nil), hosts...)
	}
}

// WithMinRefreshDelay sets the refresh delay floor.
func WithMinRefreshDelay(d time.Duration) Option {
	return func(c *Config) {
		c.MinRefreshDelay = d
	}
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	if c.MinRefreshDelay <= 0 {
		c.MinRefreshDelay = schedule.MinRefreshDelay
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	err := validation.All(
		func() error { return validation.Required("application_id", c.ApplicationID) },
		func() error {
			for i, h := range c.OutOfBandHosts {
				if err := validation.Host(fmt.Sprintf("out_of_band_hosts[%d]", i), h); err != nil {
					return err
				}
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
	}
	return nil
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	// Issuer requests connection profiles. Required.
	Issuer credential.Issuer
	// Backend applies tunnel configurations. Required.
	Backend backend.Backend
	// Scheduler arms refresh alarms. Required.
	Scheduler schedule.Scheduler
	// Builder turns profiles into tunnel configurations.
	// Default: a Builder using the system resolver with route exclusion on.
	Builder *profile.Builder
	// Notifier publishes events. Default: a notifier with a LogPresenter.
	Notifier *notify.Notifier
	// Now is the clock used for status timestamps. Default: time.Now.
	Now func() time.Time
}

func (d *Deps) applyDefaults() {
	if d.Builder == nil {
		d.Builder = &profile.Builder{RouteExclusion: true}
	}
	if d.Notifier == nil {
		d.Notifier = notify.NewNotifier(nil)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

func (d *Deps) validate() error {
	switch {
	case d.Issuer == nil:
		return fmt.Errorf("%w: issuer is required", apperrors.ErrConfiguration)
	case d.Backend == nil:
		return fmt.Errorf("%w: backend is required", apperrors.ErrConfiguration)
	case d.Scheduler == nil:
		return fmt.Errorf("%w: scheduler is required", apperrors.ErrConfiguration)
	}
	return nil
}

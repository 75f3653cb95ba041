package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-i2p/wgclient/lib/backend"
	"github.com/go-i2p/wgclient/lib/credential"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/metrics"
	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/schedule"
	"github.com/go-i2p/wgclient/lib/validation"
	"github.com/go-i2p/wgclient/version"
)

// Phase is the session state-machine phase.
type Phase = notify.Phase

// Session phases.
const (
	PhaseDisconnected  = notify.PhaseDisconnected
	PhaseConnecting    = notify.PhaseConnecting
	PhaseConnected     = notify.PhaseConnected
	PhaseRefreshing    = notify.PhaseRefreshing
	PhaseDisconnecting = notify.PhaseDisconnecting
)

// Status is a point-in-time snapshot of the session.
type Status struct {
	// Phase is the current phase.
	Phase Phase
	// ServerID is the connected exit location. It is set only while a
	// tunnel exists.
	ServerID string
	// Requested is the exit location a connect in progress is targeting.
	Requested string
	// TunnelID identifies the live backend tunnel.
	TunnelID string
	// ConnectedAt is when the tunnel first came up.
	ConnectedAt time.Time
	// LastRefresh is when the profile was last issued.
	LastRefresh time.Time
	// NextRefresh is the pending alarm's deadline.
	NextRefresh time.Time
	// Refreshes counts successful in-place refreshes.
	Refreshes int
	// Busy reports whether a connect or disconnect is in flight.
	Busy bool
	// Version is the software version.
	Version string
}

// Connected reports whether a tunnel is up.
func (s Status) Connected() bool {
	return s.Phase.HasTunnel()
}

type taskKind int

const (
	taskConnect taskKind = iota
	taskDisconnect
	taskRefresh
	taskSync
	taskShutdown
)

type task struct {
	kind     taskKind
	serverID string
	gen      uint64
	done     chan struct{}
}

// tunnelHandle is the controller's reference to the live backend tunnel.
type tunnelHandle struct {
	id  string
	cfg *profile.TunnelConfig
}

// Controller is the session state machine.
type Controller struct {
	config    Config
	issuer    credential.Issuer
	backend   backend.Backend
	scheduler schedule.Scheduler
	builder   *profile.Builder
	notifier  *notify.Notifier
	now       func() time.Time
	alarm     *schedule.Alarm

	// Owned by the worker goroutine.
	phase       Phase
	serverID    string
	requested   string
	tunnel      *tunnelHandle
	connectedAt time.Time
	lastRefresh time.Time
	refreshes   int
	// requestOpen is set while a connect or disconnect task is being
	// handled and cleared when it reaches its final phase.
	requestOpen bool

	status atomic.Pointer[Status]

	// admit serializes request admission against closed/inflight.
	admit    sync.Mutex
	inflight atomic.Bool
	closed   bool

	tasks     chan task
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error

	// invariantHook, when set, receives invariant violations. Tests use it.
	invariantHook func(error)
}

// New creates a Controller and starts its worker. The session starts
// Disconnected; nothing is restored from a previous run.
func New(cfg Config, deps Deps) (*Controller, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Debug("session configuration validation failed")
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		config:    cfg,
		issuer:    deps.Issuer,
		backend:   deps.Backend,
		scheduler: deps.Scheduler,
		builder:   deps.Builder,
		notifier:  deps.Notifier,
		now:       deps.Now,
		alarm:     schedule.NewAlarm(deps.Scheduler),
		phase:     PhaseDisconnected,
		tasks:     make(chan task, cfg.QueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	c.publish()
	metrics.SetPhase(string(PhaseDisconnected))

	go c.run()

	log.WithField("application_id", cfg.ApplicationID).Debug("session controller created")
	return c, nil
}

// NewWithOptions creates a Controller with functional options.
func NewWithOptions(deps Deps, opts ...Option) (*Controller, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg, deps)
}

// Connect starts connecting to serverID and returns without waiting for the
// outcome. It fails synchronously with ErrSessionBusy while another connect
// or disconnect is in flight, ErrAlreadyConnected when a tunnel exists,
// ErrInvalidInput for a malformed ID and ErrClosed after Close.
func (c *Controller) Connect(serverID string) error {
	if err := validation.ServerID("server_id", serverID); err != nil {
		metrics.RejectedRequests.WithLabelValues("invalid_input").Inc()
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}

	c.admit.Lock()
	defer c.admit.Unlock()

	if err := c.admissible(); err != nil {
		return err
	}
	if phase := c.status.Load().Phase; phase != PhaseDisconnected {
		metrics.RejectedRequests.WithLabelValues("already_connected").Inc()
		return fmt.Errorf("%w: session is %s", apperrors.ErrAlreadyConnected, phase)
	}

	c.inflight.Store(true)
	c.publishBusy()
	if !c.enqueue(task{kind: taskConnect, serverID: serverID}) {
		c.inflight.Store(false)
		return apperrors.ErrSessionClosed
	}
	log.WithField("server_id", serverID).Debug("connect request accepted")
	return nil
}

// Disconnect starts tearing the session down and returns without waiting.
// Disconnecting an idle session is a no-op.
func (c *Controller) Disconnect() error {
	c.admit.Lock()
	defer c.admit.Unlock()

	if err := c.admissible(); err != nil {
		return err
	}
	if c.status.Load().Phase == PhaseDisconnected {
		log.Debug("disconnect requested while disconnected, ignoring")
		return nil
	}

	c.inflight.Store(true)
	c.publishBusy()
	if !c.enqueue(task{kind: taskDisconnect}) {
		c.inflight.Store(false)
		return apperrors.ErrSessionClosed
	}
	log.Debug("disconnect request accepted")
	return nil
}

// admissible must be called with admit held.
func (c *Controller) admissible() error {
	if c.closed {
		metrics.RejectedRequests.WithLabelValues("closed").Inc()
		return apperrors.ErrSessionClosed
	}
	if c.inflight.Load() {
		metrics.RejectedRequests.WithLabelValues("busy").Inc()
		return apperrors.ErrSessionBusy
	}
	return nil
}

// Status returns the latest snapshot. It never blocks on the worker.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return c.status.Load().Phase
}

// Subscribe registers an event handler. Handlers run on the worker, in
// transition order.
func (c *Controller) Subscribe(fn notify.Handler) (cancel func()) {
	return c.notifier.Subscribe(fn)
}

// Config returns the controller configuration (read-only copy).
func (c *Controller) Config() Config {
	cfg := c.config
	cfg.OutOfBandHosts = append([]string(nil), c.config.OutOfBandHosts...)
	return cfg
}

// Done returns a channel that is closed when the worker has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// ObserveBackend receives informational backend state reports. They are
// logged and counted but never change the session phase.
func (c *Controller) ObserveBackend(sc backend.StateChange) {
	metrics.BackendEvents.WithLabelValues(sc.State.String()).Inc()

	current := c.status.Load().TunnelID
	if sc.Err != nil {
		log.WithField("tunnel_id", sc.TunnelID).
			WithField("state", sc.State.String()).
			WithError(sc.Err).
			Warn("backend reported tunnel error")
		return
	}
	if current != "" && sc.TunnelID != current {
		log.WithField("tunnel_id", sc.TunnelID).
			WithField("current", current).
			Debug("backend state change for a retired tunnel")
		return
	}
	log.WithField("tunnel_id", sc.TunnelID).
		WithField("state", sc.State.String()).
		Debug("backend state change")
}

// Shutdown brings an active tunnel down and stops the worker. If ctx
// expires first, in-flight collaborator calls are cancelled.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.admit.Lock()
		c.closed = true
		c.admit.Unlock()

		log.Debug("shutting down session controller")
		c.enqueue(task{kind: taskShutdown})

		select {
		case <-c.done:
		case <-ctx.Done():
			log.WithError(ctx.Err()).Warn("session shutdown timed out, cancelling in-flight work")
			c.cancel()
			<-c.done
			c.closeErr = ctx.Err()
		}
		c.cancel()

		if err := c.notifier.Close(); err != nil {
			log.WithError(err).Warn("failed to close notifier")
		}
		log.Debug("session controller closed")
	})
	return c.closeErr
}

// Close is Shutdown with the configured timeout. Suitable for use with defer.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.ShutdownTimeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// enqueue hands a task to the worker. It reports false once the worker has
// exited.
func (c *Controller) enqueue(t task) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.tasks <- t:
		return true
	case <-c.done:
		return false
	}
}

// sync waits until every task queued before it has been processed.
func (c *Controller) sync() {
	ack := make(chan struct{})
	if !c.enqueue(task{kind: taskSync, done: ack}) {
		return
	}
	select {
	case <-ack:
	case <-c.done:
	}
}

func (c *Controller) run() {
	defer close(c.done)
	log.Debug("session worker started")

	for t := range c.tasks {
		switch t.kind {
		case taskConnect:
			c.requestOpen = true
			c.doConnect(t.serverID)
			c.finishRequest()
		case taskDisconnect:
			c.requestOpen = true
			c.doDisconnect()
			c.finishRequest()
		case taskRefresh:
			c.doRefresh(t.gen)
		case taskSync:
			close(t.done)
		case taskShutdown:
			c.doShutdown()
			log.Debug("session worker stopped")
			return
		}
	}
}

// finishRequest releases admission for a request that ended without a
// final transition, such as a disconnect that found nothing to tear down.
func (c *Controller) finishRequest() {
	if !c.releaseRequest() {
		return
	}
	c.publish()
}

// releaseRequest reopens admission if a request is open. Worker only.
func (c *Controller) releaseRequest() bool {
	if !c.requestOpen {
		return false
	}
	c.requestOpen = false
	c.inflight.Store(false)
	return true
}

// onAlarm runs on the scheduler's goroutine.
func (c *Controller) onAlarm(gen uint64) {
	log.WithField("generation", gen).Debug("refresh alarm fired")
	if !c.enqueue(task{kind: taskRefresh, gen: gen}) {
		log.WithField("generation", gen).Debug("refresh alarm fired after shutdown, ignoring")
	}
}

// publish stores a new status snapshot. Worker only.
func (c *Controller) publish() {
	s := &Status{
		Phase:       c.phase,
		ServerID:    c.serverID,
		Requested:   c.requested,
		ConnectedAt: c.connectedAt,
		LastRefresh: c.lastRefresh,
		Refreshes:   c.refreshes,
		Busy:        c.inflight.Load(),
		Version:     version.Version,
	}
	if c.tunnel != nil {
		s.TunnelID = c.tunnel.id
	}
	if deadline, ok := c.alarm.Deadline(); ok {
		s.NextRefresh = deadline
	}
	c.status.Store(s)
	metrics.SetNextRefresh(s.NextRefresh)
}

// publishBusy marks the current snapshot busy. Called with admit held, so
// it only races the worker's own publish, which wins.
func (c *Controller) publishBusy() {
	old := c.status.Load()
	s := *old
	s.Busy = true
	c.status.CompareAndSwap(old, &s)
}

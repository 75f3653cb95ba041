package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/go-i2p/wgclient/lib/credential"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/metrics"
	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/schedule"
)

// Everything in this file runs on the worker goroutine.

func (c *Controller) doConnect(serverID string) {
	if c.phase != PhaseDisconnected {
		log.WithField("phase", c.phase).Warn("connect task found a live session, dropping")
		return
	}
	metrics.ConnectAttempts.Inc()

	c.requested = serverID
	c.transition(PhaseConnecting, notify.EventConnecting, serverID, nil, "Connecting to "+serverID)

	if err := c.establish(serverID); err != nil {
		c.requested = ""
		metrics.ConnectFailures.WithLabelValues(apperrors.Kind(err)).Inc()
		log.WithField("server_id", serverID).
			WithField("kind", apperrors.Kind(err)).
			WithError(err).
			Warn("connect failed")
		c.transition(PhaseDisconnected, notify.EventConnectionFailed, serverID, err, "Connection to "+serverID+" failed")
		return
	}

	c.requested = ""
	log.WithField("server_id", serverID).
		WithField("tunnel_id", c.tunnel.id).
		Info("session connected")
	c.transition(PhaseConnected, notify.EventConnected, serverID, nil, "Connected to "+serverID)
}

// establish brings a new tunnel up and arms the first refresh. On failure
// nothing is left applied and no alarm is pending.
func (c *Controller) establish(serverID string) error {
	if err := c.scheduler.Check(); err != nil {
		return err
	}

	grant, cfg, err := c.issue(serverID)
	if err != nil {
		return err
	}

	id := uuid.NewString()
	if err := c.backend.Apply(c.ctx, id, cfg, true); err != nil {
		c.rollback(id)
		return err
	}
	metrics.TunnelUp.Set(1)
	c.tunnel = &tunnelHandle{id: id, cfg: cfg}

	if err := c.arm(grant); err != nil {
		c.rollback(id)
		c.tunnel = nil
		return err
	}

	now := c.now()
	c.serverID = serverID
	c.connectedAt = now
	c.lastRefresh = now
	c.refreshes = 0
	return nil
}

func (c *Controller) doRefresh(gen uint64) {
	if !c.alarm.Claim(gen) {
		metrics.StaleAlarms.Inc()
		log.WithField("generation", gen).Debug("stale refresh alarm, ignoring")
		return
	}
	if c.phase != PhaseConnected || c.tunnel == nil {
		metrics.StaleAlarms.Inc()
		log.WithField("phase", c.phase).Warn("refresh alarm claimed outside connected phase, ignoring")
		return
	}

	serverID := c.serverID
	c.transition(PhaseRefreshing, notify.EventRefreshing, serverID, nil, "Refreshing connection to "+serverID)

	err := c.refresh(serverID)
	if err == nil {
		c.lastRefresh = c.now()
		c.refreshes++
		metrics.Refreshes.Inc()
		log.WithField("server_id", serverID).
			WithField("refreshes", c.refreshes).
			Info("session refreshed")
		c.transition(PhaseConnected, notify.EventRefreshed, serverID, nil, "Connection to "+serverID+" refreshed")
		return
	}

	metrics.RefreshFailures.WithLabelValues(apperrors.Kind(err)).Inc()
	log.WithField("server_id", serverID).
		WithField("kind", apperrors.Kind(err)).
		WithError(err).
		Warn("refresh failed, tearing down tunnel")

	if downErr := c.teardown(); downErr != nil {
		err = apperrors.Join(err, downErr)
	}
	c.serverID = ""
	c.transition(PhaseDisconnected, notify.EventRefreshFailed, serverID, err, "Connection to "+serverID+" lost")
}

// refresh re-issues the profile and swaps it into the live tunnel.
func (c *Controller) refresh(serverID string) error {
	grant, cfg, err := c.issue(serverID)
	if err != nil {
		return err
	}
	if err := c.backend.Apply(c.ctx, c.tunnel.id, cfg, true); err != nil {
		return err
	}
	c.tunnel.cfg = cfg
	return c.arm(grant)
}

func (c *Controller) doDisconnect() {
	if c.phase == PhaseDisconnected {
		// A refresh failure got there first.
		log.Debug("disconnect task found session already disconnected")
		return
	}

	c.alarm.Disarm()
	serverID := c.serverID
	c.transition(PhaseDisconnecting, notify.EventDisconnecting, serverID, nil, "Disconnecting from "+serverID)

	err := c.teardown()
	metrics.Disconnects.Inc()
	c.serverID = ""
	if err != nil {
		log.WithField("server_id", serverID).WithError(err).Warn("tunnel teardown reported an error")
	} else {
		log.WithField("server_id", serverID).Info("session disconnected")
	}
	c.transition(PhaseDisconnected, notify.EventDisconnected, serverID, err, "Disconnected from "+serverID)
}

func (c *Controller) doShutdown() {
	if c.phase == PhaseDisconnected {
		return
	}
	log.Info("bringing tunnel down for shutdown")
	c.doDisconnect()
}

// issue requests a profile and builds its tunnel configuration.
func (c *Controller) issue(serverID string) (*credential.Grant, *profile.TunnelConfig, error) {
	grant, err := c.issuer.RequestConnection(c.ctx, serverID)
	if err != nil {
		if apperrors.IsCredential(err) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("requesting connection for %s: %w", serverID, err)
	}
	if grant == nil {
		return nil, nil, fmt.Errorf("%w: issuer returned no grant", apperrors.ErrMalformedProfile)
	}

	p, err := profile.Parse(grant.Profile)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := c.builder.Build(c.ctx, p, c.config.ApplicationID, c.config.OutOfBandHosts)
	if err != nil {
		return nil, nil, err
	}
	return grant, cfg, nil
}

// arm schedules the next refresh from the grant's hint. The hint is the only
// source of refresh timing.
func (c *Controller) arm(grant *credential.Grant) error {
	delay := schedule.RefreshDelay(grant.SecondsUntilRefresh, c.config.MinRefreshDelay)
	gen, err := c.alarm.Arm(delay, c.onAlarm)
	if err != nil {
		return fmt.Errorf("arming refresh: %w", err)
	}
	log.WithField("delay", delay.String()).
		WithField("generation", gen).
		Debug("refresh alarm armed")
	return nil
}

// teardown disarms the alarm and brings the live tunnel down. The handle is
// released even if the backend reports an error.
func (c *Controller) teardown() error {
	c.alarm.Disarm()
	if c.tunnel == nil {
		return nil
	}
	id := c.tunnel.id
	c.tunnel = nil
	metrics.TunnelUp.Set(0)
	return c.backend.Apply(c.ctx, id, nil, false)
}

// rollback removes whatever a failed bring-up may have left behind.
func (c *Controller) rollback(id string) {
	if err := c.backend.Apply(c.ctx, id, nil, false); err != nil {
		log.WithField("tunnel_id", id).WithError(err).Warn("rollback of partial tunnel failed")
	}
	metrics.TunnelUp.Set(0)
}

// transition moves to next, publishes a snapshot and notifies subscribers.
// Reaching Connected or Disconnected completes an open request, so handlers
// of the final event may issue the next one.
func (c *Controller) transition(next Phase, typ notify.EventType, serverID string, err error, msg string) {
	prev := c.phase
	c.phase = next
	if next == PhaseConnected || next == PhaseDisconnected {
		c.releaseRequest()
	}
	c.publish()
	metrics.SetPhase(string(next))

	if violation := c.checkInvariants(); violation != nil {
		log.WithField("phase", next).WithError(violation).Error("session invariant violated")
		if c.invariantHook != nil {
			c.invariantHook(violation)
		}
	}

	log.WithField("from", prev).
		WithField("to", next).
		WithField("event", typ.String()).
		Debug("session state transition")

	ev := notify.Event{
		Type:      typ,
		Phase:     next,
		Previous:  prev,
		ServerID:  serverID,
		Err:       err,
		Message:   msg,
		Timestamp: c.now(),
	}
	if c.tunnel != nil {
		ev.TunnelID = c.tunnel.id
	}
	c.notifier.OnStateChange(ev)
}

var errInvariant = errors.New("session invariant violated")

// checkInvariants verifies the handle, alarm and server ID against the
// phase: a tunnel and server ID exist iff the phase has a tunnel, and an
// alarm is pending iff the phase is Connected.
func (c *Controller) checkInvariants() error {
	if (c.tunnel != nil) != c.phase.HasTunnel() {
		return fmt.Errorf("%w: tunnel handle present=%t in phase %s", errInvariant, c.tunnel != nil, c.phase)
	}
	if (c.serverID != "") != c.phase.HasTunnel() {
		return fmt.Errorf("%w: server id %q in phase %s", errInvariant, c.serverID, c.phase)
	}
	if pending := c.alarm.Pending(); pending != (c.phase == PhaseConnected) {
		return fmt.Errorf("%w: refresh alarm pending=%t in phase %s", errInvariant, pending, c.phase)
	}
	return nil
}

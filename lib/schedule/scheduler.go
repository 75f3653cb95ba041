// Package schedule arms the one-shot alarms that drive proactive credential
// refresh.
//
// A Scheduler is the platform primitive: a wake-capable, fire-once timer with a
// capability check. An Alarm wraps a Scheduler and guarantees at most one
// pending timer per session.
package schedule

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
)

// Timer is a pending one-shot alarm.
type Timer interface {
	// Stop cancels the alarm. It reports whether the call prevented the
	// callback from running.
	Stop() bool
	// Deadline is the wall-clock time the alarm is due.
	Deadline() time.Time
}

// Scheduler arms one-shot alarms.
type Scheduler interface {
	// Check reports whether alarms can currently be scheduled.
	// It returns ErrSchedulingPermissionDenied when a required grant is missing.
	Check() error
	// Schedule arms an alarm that calls fire once, after the given delay.
	Schedule(after time.Duration, fire func()) (Timer, error)
}

// Permission abstracts the platform's exact-alarm grant.
type Permission interface {
	// CanScheduleExact reports whether exact alarms are currently allowed.
	CanScheduleExact() bool
	// RequestExact starts the escalation path (e.g. prompting the user).
	RequestExact() error
}

// Granted is a Permission that is always given.
type Granted struct{}

func (Granted) CanScheduleExact() bool { return true }
func (Granted) RequestExact() error    { return nil }

// WallClockConfig configures a WallClock scheduler.
type WallClockConfig struct {
	// WakeCheckInterval is how often pending alarms compare the wall clock
	// against their deadline. The monotonic clock stops while the host is
	// suspended, so this is what makes an alarm fire promptly after resume.
	WakeCheckInterval time.Duration

	// RequireExact makes Check consult Permission.
	RequireExact bool

	// Permission is the exact alarm grant. Nil means Granted.
	Permission Permission

	// Now reads the wall clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultWallClockConfig returns defaults suitable for a desktop host.
func DefaultWallClockConfig() WallClockConfig {
	return WallClockConfig{
		WakeCheckInterval: 15 * time.Second,
		RequireExact:      false,
		Permission:        Granted{},
	}
}

// WallClock is a Scheduler backed by Go timers plus a wall-clock watchdog.
type WallClock struct {
	config WallClockConfig
}

// NewWallClock creates a WallClock scheduler.
func NewWallClock(cfg WallClockConfig) *WallClock {
	if cfg.WakeCheckInterval <= 0 {
		cfg.WakeCheckInterval = DefaultWallClockConfig().WakeCheckInterval
	}
	if cfg.Permission == nil {
		cfg.Permission = Granted{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &WallClock{config: cfg}
}

// Check implements Scheduler.
func (w *WallClock) Check() error {
	if !w.config.RequireExact || w.config.Permission.CanScheduleExact() {
		return nil
	}

	if err := w.config.Permission.RequestExact(); err != nil {
		log.WithError(err).Warn("exact alarm permission request failed")
	}
	return fmt.Errorf("%w: exact alarms are not allowed", apperrors.ErrSchedulingPermissionDenied)
}

// Schedule implements Scheduler.
func (w *WallClock) Schedule(after time.Duration, fire func()) (Timer, error) {
	if fire == nil {
		return nil, fmt.Errorf("%w: nil alarm callback", apperrors.ErrInvalidInput)
	}
	if err := w.Check(); err != nil {
		return nil, err
	}
	if after < 0 {
		after = 0
	}

	t := &wallTimer{
		deadline: w.config.Now().Add(after),
		stop:     make(chan struct{}),
		fire:     fire,
		now:      w.config.Now,
	}
	go t.run(after, w.config.WakeCheckInterval)

	log.WithField("after", after).
		WithField("deadline", t.deadline.Round(0).Format(time.RFC3339)).
		Debug("alarm scheduled")

	return t, nil
}

const (
	timerPending int32 = iota
	timerFired
	timerStopped
)

type wallTimer struct {
	deadline time.Time
	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once
	fire     func()
	now      func() time.Time
}

func (t *wallTimer) run(after, interval time.Duration) {
	mono := time.NewTimer(after)
	defer mono.Stop()
	watchdog := time.NewTicker(interval)
	defer watchdog.Stop()

	// Round(0) strips the monotonic reading so the comparison uses wall time.
	wallDeadline := t.deadline.Round(0)

	for {
		select {
		case <-t.stop:
			return
		case <-mono.C:
			t.trigger()
			return
		case <-watchdog.C:
			if !t.now().Round(0).Before(wallDeadline) {
				log.Debug("alarm fired by wall clock watchdog")
				t.trigger()
				return
			}
		}
	}
}

func (t *wallTimer) trigger() {
	if t.state.CompareAndSwap(timerPending, timerFired) {
		t.fire()
	}
}

func (t *wallTimer) Stop() bool {
	stopped := t.state.CompareAndSwap(timerPending, timerStopped)
	t.stopOnce.Do(func() { close(t.stop) })
	return stopped
}

func (t *wallTimer) Deadline() time.Time {
	return t.deadline
}

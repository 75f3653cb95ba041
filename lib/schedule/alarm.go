package schedule

import (
	"sync"
	"time"
)

// Alarm is a single-slot refresh alarm. Arming always cancels the previous
// timer first, so at most one timer is pending. Each arm gets a new
// generation; a callback from a superseded or cancelled timer carries a
// generation that Claim rejects.
type Alarm struct {
	mu    sync.Mutex
	sched Scheduler
	gen   uint64
	timer Timer
}

// NewAlarm creates an Alarm on top of s.
func NewAlarm(s Scheduler) *Alarm {
	return &Alarm{sched: s}
}

// Arm cancels any pending timer and schedules fire after the delay. fire
// receives the generation of this arm.
func (a *Alarm) Arm(after time.Duration, fire func(gen uint64)) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.disarmLocked()
	a.gen++
	gen := a.gen

	t, err := a.sched.Schedule(after, func() { fire(gen) })
	if err != nil {
		return 0, err
	}
	a.timer = t
	return gen, nil
}

// Disarm cancels the pending timer, if any. It reports whether one was pending.
func (a *Alarm) Disarm() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.disarmLocked()
}

func (a *Alarm) disarmLocked() bool {
	if a.timer == nil {
		return false
	}
	a.timer.Stop()
	a.timer = nil
	// Invalidate callbacks already in flight from the cancelled timer.
	a.gen++
	return true
}

// Claim consumes the pending timer if gen is the live generation. It is
// called when a fire is delivered; a false return means the fire is stale.
func (a *Alarm) Claim(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer == nil || gen != a.gen {
		return false
	}
	a.timer = nil
	return true
}

// Pending reports whether a timer is armed.
func (a *Alarm) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}

// Deadline returns the pending timer's deadline.
func (a *Alarm) Deadline() (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer == nil {
		return time.Time{}, false
	}
	return a.timer.Deadline(), true
}

// Generation returns the current generation.
func (a *Alarm) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

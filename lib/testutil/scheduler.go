package testutil

import (
	"sync"
	"time"

	"github.com/go-i2p/wgclient/lib/schedule"
)

// ManualScheduler is a schedule.Scheduler whose timers only fire when a
// test says so.
type ManualScheduler struct {
	mu       sync.Mutex
	now      time.Time
	checkErr error
	schedErr error
	timers   []*ManualTimer
	requests int
}

// NewManualScheduler returns a scheduler with its clock at a fixed instant.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// DenyPermission makes Check and Schedule fail with err. Nil restores them.
func (s *ManualScheduler) DenyPermission(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkErr = err
	s.schedErr = err
}

// FailSchedule makes only Schedule fail with err, leaving Check passing.
func (s *ManualScheduler) FailSchedule(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedErr = err
}

// Check implements schedule.Scheduler.
func (s *ManualScheduler) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkErr != nil {
		s.requests++
	}
	return s.checkErr
}

// PermissionRequests counts denied checks, each of which escalates.
func (s *ManualScheduler) PermissionRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Schedule implements schedule.Scheduler.
func (s *ManualScheduler) Schedule(after time.Duration, fire func()) (schedule.Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedErr != nil {
		return nil, s.schedErr
	}
	t := &ManualTimer{after: after, deadline: s.now.Add(after), fire: fire}
	s.timers = append(s.timers, t)
	return t, nil
}

// Timers returns every timer ever scheduled, oldest first.
func (s *ManualScheduler) Timers() []*ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ManualTimer(nil), s.timers...)
}

// Pending returns the timers that are neither stopped nor fired.
func (s *ManualScheduler) Pending() []*ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ManualTimer
	for _, t := range s.timers {
		if t.IsPending() {
			out = append(out, t)
		}
	}
	return out
}

// Latest returns the most recently scheduled timer, or nil.
func (s *ManualScheduler) Latest() *ManualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.timers) == 0 {
		return nil
	}
	return s.timers[len(s.timers)-1]
}

var _ schedule.Scheduler = (*ManualScheduler)(nil)

// ManualTimer is a timer created by ManualScheduler.
type ManualTimer struct {
	mu       sync.Mutex
	after    time.Duration
	deadline time.Time
	fire     func()
	stopped  bool
	fired    bool
}

// After is the delay the timer was armed with.
func (t *ManualTimer) After() time.Duration {
	return t.after
}

// Deadline implements schedule.Timer.
func (t *ManualTimer) Deadline() time.Time {
	return t.deadline
}

// Stop implements schedule.Timer.
func (t *ManualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// IsPending reports whether the timer can still fire on its own.
func (t *ManualTimer) IsPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

// Fire runs the callback if the timer is pending. It reports whether it ran.
func (t *ManualTimer) Fire() bool {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	t.mu.Unlock()
	t.fire()
	return true
}

// ForceFire runs the callback even if the timer was stopped, simulating an
// alarm delivered after it was cancelled.
func (t *ManualTimer) ForceFire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.fire()
}

package testutil

import (
	"sync"

	"github.com/go-i2p/wgclient/lib/notify"
)

// RecordingPresenter is a notify.Presenter that keeps everything it is shown.
type RecordingPresenter struct {
	mu         sync.Mutex
	shown      []notify.Presentation
	retired    int
	ongoing    bool
	presentErr error
}

// FailPresent makes Present return err.
func (p *RecordingPresenter) FailPresent(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.presentErr = err
}

// Present implements notify.Presenter.
func (p *RecordingPresenter) Present(pr notify.Presentation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = append(p.shown, pr)
	p.ongoing = pr.Ongoing
	return p.presentErr
}

// Retire implements notify.Presenter.
func (p *RecordingPresenter) Retire() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retired++
	p.ongoing = false
	return nil
}

// Shown returns every presentation in order.
func (p *RecordingPresenter) Shown() []notify.Presentation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Presentation(nil), p.shown...)
}

// Retired returns how many times the indicator was retired.
func (p *RecordingPresenter) Retired() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retired
}

// Ongoing reports whether the last presentation is still held as ongoing.
func (p *RecordingPresenter) Ongoing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ongoing
}

// EventLog collects notifier events for assertions.
type EventLog struct {
	mu     sync.Mutex
	events []notify.Event
	signal chan struct{}
}

// NewEventLog returns an empty log. Use Record as a notify.Handler.
func NewEventLog() *EventLog {
	return &EventLog{signal: make(chan struct{}, 1)}
}

// Record implements notify.Handler.
func (l *EventLog) Record(ev notify.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []notify.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]notify.Event(nil), l.events...)
}

// Types returns the recorded event types in order.
func (l *EventLog) Types() []notify.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]notify.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

// Count returns how many events of type t were recorded.
func (l *EventLog) Count(t notify.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

// Last returns the most recent event.
func (l *EventLog) Last() (notify.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.events) == 0 {
		return notify.Event{}, false
	}
	return l.events[len(l.events)-1], true
}

// Changed is signalled after each recorded event.
func (l *EventLog) Changed() <-chan struct{} {
	return l.signal
}

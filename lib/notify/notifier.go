package notify

import (
	"fmt"
	"sync"
	"time"
)

// Handler receives events. Handlers run synchronously on the controller's
// worker and must not block or call back into the controller.
type Handler func(Event)

type subscription struct {
	id uint64
	fn Handler
}

// Notifier fans events out to subscribers and drives a Presenter.
type Notifier struct {
	mu        sync.Mutex
	subs      []subscription
	nextID    uint64
	presenter Presenter
	active    bool
	last      Presentation
	closed    bool
}

// NewNotifier creates a notifier. A nil presenter means LogPresenter.
func NewNotifier(p Presenter) *Notifier {
	if p == nil {
		p = LogPresenter{}
	}
	return &Notifier{presenter: p}
}

// Subscribe registers a handler and returns a function that removes it.
// Handlers are called in subscription order.
func (n *Notifier) Subscribe(fn Handler) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed || fn == nil {
		return func() {}
	}

	n.nextID++
	id := n.nextID
	n.subs = append(n.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { n.unsubscribe(id) })
	}
}

func (n *Notifier) unsubscribe(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.subs {
		if s.id == id {
			n.subs = append(n.subs[:i:i], n.subs[i+1:]...)
			return
		}
	}
}

// OnStateChange publishes one transition. It is called exactly once per
// transition, in order, from the controller's worker.
func (n *Notifier) OnStateChange(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	subs := make([]subscription, len(n.subs))
	copy(subs, n.subs)
	n.mu.Unlock()

	entry := log.WithField("event", ev.Type.String()).
		WithField("phase", ev.Phase.String()).
		WithField("server", ev.ServerID)
	if ev.Err != nil {
		entry.WithError(ev.Err).Debug("session event")
	} else {
		entry.Debug("session event")
	}

	for _, s := range subs {
		n.deliver(s, ev)
	}

	n.present(ev)
}

func (n *Notifier) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("subscriber", s.id).
				WithError(fmt.Errorf("panic: %v", r)).
				Error("event subscriber panicked")
		}
	}()
	s.fn(ev)
}

// present updates the foreground indicator. The indicator is held from the
// first non-disconnected phase until the session is disconnected again.
func (n *Notifier) present(ev Event) {
	p, ok := PresentationFor(ev)
	if !ok {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	retire := ev.Phase == PhaseDisconnected
	if !retire && n.active && p == n.last {
		return
	}

	if err := n.presenter.Present(p); err != nil {
		log.WithError(err).Warn("failed to update notification")
	}
	n.last = p

	if retire {
		if n.active {
			if err := n.presenter.Retire(); err != nil {
				log.WithError(err).Warn("failed to retire notification")
			}
		}
		n.active = false
		n.last = Presentation{}
		return
	}
	n.active = true
}

// Active reports whether the in-progress indicator is currently held.
func (n *Notifier) Active() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// SubscriberCount returns the number of registered handlers.
func (n *Notifier) SubscriberCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

// Close drops all subscribers and releases the indicator.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	n.subs = nil

	if n.active {
		n.active = false
		return n.presenter.Retire()
	}
	return nil
}

package session

import (
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/profile"
	"github.com/go-i2p/wgclient/lib/testutil"
)

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	fixture   *testutil.ProfileFixture
	issuer    *testutil.FakeIssuer
	backend   *testutil.FakeBackend
	scheduler *testutil.ManualScheduler
	presenter *testutil.RecordingPresenter
	events    *testutil.EventLog
	ctrl      *Controller

	mu         sync.Mutex
	violations []error
}

func newHarness(t testing.TB, opts ...Option) *harness {
	t.Helper()

	fixture, err := testutil.NewProfileFixture("")
	if err != nil {
		t.Fatalf("NewProfileFixture() error = %v", err)
	}
	return newHarnessWithFixture(t, fixture, opts...)
}

func newHarnessWithFixture(t testing.TB, fixture *testutil.ProfileFixture, opts ...Option) *harness {
	t.Helper()

	h := &harness{
		fixture:   fixture,
		issuer:    testutil.NewFakeIssuer(fixture, 3600),
		backend:   testutil.NewFakeBackend(),
		scheduler: testutil.NewManualScheduler(),
		presenter: &testutil.RecordingPresenter{},
		events:    testutil.NewEventLog(),
	}

	opts = append([]Option{
		WithApplicationID("org.example.browser"),
		WithOutOfBandHosts("auth.example.com"),
	}, opts...)

	ctrl, err := NewWithOptions(Deps{
		Issuer:    h.issuer,
		Backend:   h.backend,
		Scheduler: h.scheduler,
		Builder: &profile.Builder{
			Resolver: testutil.NewStaticResolver(map[string][]string{
				"auth.example.com": {"203.0.113.10"},
			}),
			RouteExclusion: true,
		},
		Notifier: notify.NewNotifier(h.presenter),
		Now:      func() time.Time { return testNow },
	}, opts...)
	if err != nil {
		t.Fatalf("NewWithOptions() error = %v", err)
	}
	ctrl.invariantHook = h.recordViolation
	ctrl.Subscribe(h.events.Record)
	t.Cleanup(func() { ctrl.Close() })

	h.ctrl = ctrl
	return h
}

func (h *harness) recordViolation(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.violations = append(h.violations, err)
}

func (h *harness) Violations() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.violations...)
}

// connect drives a successful connect to serverID.
func (h *harness) connect(t testing.TB, serverID string) {
	t.Helper()
	if err := h.ctrl.Connect(serverID); err != nil {
		t.Fatalf("Connect(%q) error = %v", serverID, err)
	}
	h.ctrl.sync()
	if got := h.ctrl.Phase(); got != PhaseConnected {
		t.Fatalf("phase after connect = %s, want connected", got)
	}
}

// fire delivers the pending refresh alarm and waits for it to be handled.
func (h *harness) fire(t testing.TB) {
	t.Helper()
	timer := h.scheduler.Latest()
	if timer == nil {
		t.Fatal("no refresh timer was ever armed")
	}
	if !timer.Fire() {
		t.Fatal("latest refresh timer was not pending")
	}
	h.ctrl.sync()
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// Package session drives the lifecycle of a single VPN session.
//
// A [Controller] owns the session state machine and every resource tied to
// it: the backend tunnel identity, the refresh alarm and the notifier.
// All transitions run on one worker goroutine, so a user disconnect can never
// race a refresh alarm and no two tunnel operations ever overlap.
//
// # Quick Start
//
//	ctrl, err := session.New(session.Config{
//	    ApplicationID:  "org.example.browser",
//	    OutOfBandHosts: []string{"auth.example.com"},
//	}, session.Deps{
//	    Issuer:    issuer,
//	    Backend:   wg,
//	    Scheduler: schedule.NewWallClock(schedule.DefaultWallClockConfig()),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctrl.Close()
//
//	cancel := ctrl.Subscribe(func(ev notify.Event) {
//	    fmt.Println(ev.Type, ev.ServerID, ev.Err)
//	})
//	defer cancel()
//
//	if err := ctrl.Connect("ca_tor"); err != nil {
//	    log.Fatal(err) // rejected synchronously: busy, already connected, closed
//	}
//
// # Lifecycle
//
// The phases are Disconnected → Connecting → Connected ⇄ Refreshing →
// Disconnecting → Disconnected.
//
//   - [Controller.Connect] and [Controller.Disconnect] enqueue work and
//     return at once; outcomes are delivered as events
//   - a connect or disconnect that is still in flight makes the next one
//     fail with ErrSessionBusy
//   - a refresh is triggered by the alarm armed after each successful
//     connect or refresh; it swaps the tunnel configuration in place
//   - a failed refresh tears the tunnel down and reports EventRefreshFailed
//
// # Status
//
// [Controller.Status] returns a snapshot and never blocks on the worker.
//
// # Thread Safety
//
// All methods on [Controller] are safe for concurrent use. Event handlers
// run on the worker and must not call Close.
package session

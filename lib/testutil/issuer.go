package testutil

import (
	"context"
	"sync"

	"github.com/go-i2p/wgclient/lib/credential"
)

// IssuerResponse is one scripted reply from a FakeIssuer.
type IssuerResponse struct {
	Grant *credential.Grant
	Err   error
}

// FakeIssuer is a scripted credential.Issuer. Queued responses are served
// in order; once the queue is empty the fallback is returned.
type FakeIssuer struct {
	mu       sync.Mutex
	queue    []IssuerResponse
	fallback IssuerResponse
	calls    []string
	gate     chan struct{}
}

// NewFakeIssuer returns an issuer whose fallback is a grant from fixture.
func NewFakeIssuer(fixture *ProfileFixture, secondsUntilRefresh int64) *FakeIssuer {
	return &FakeIssuer{fallback: IssuerResponse{Grant: fixture.Grant(secondsUntilRefresh)}}
}

// Push queues responses.
func (f *FakeIssuer) Push(responses ...IssuerResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, responses...)
}

// PushError queues a failure.
func (f *FakeIssuer) PushError(err error) {
	f.Push(IssuerResponse{Err: err})
}

// SetFallback replaces the response served when the queue is empty.
func (f *FakeIssuer) SetFallback(r IssuerResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallback = r
}

// Hold makes subsequent requests block until Release is called.
func (f *FakeIssuer) Hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate == nil {
		f.gate = make(chan struct{})
	}
}

// Release unblocks held requests.
func (f *FakeIssuer) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

// RequestConnection implements credential.Issuer.
func (f *FakeIssuer) RequestConnection(ctx context.Context, serverID string) (*credential.Grant, error) {
	f.mu.Lock()
	f.calls = append(f.calls, serverID)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.fallback
	if len(f.queue) > 0 {
		r = f.queue[0]
		f.queue = f.queue[1:]
	}
	return r.Grant, r.Err
}

// Calls returns the server IDs requested so far.
func (f *FakeIssuer) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

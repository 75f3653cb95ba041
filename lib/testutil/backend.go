package testutil

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/profile"
)

// ApplyCall records one Backend.Apply invocation.
type ApplyCall struct {
	TunnelID string
	Config   *profile.TunnelConfig
	Up       bool
}

// FakeBackend is an in-memory backend.Backend. It tracks which tunnels are
// up and detects overlapping Apply calls.
type FakeBackend struct {
	mu       sync.Mutex
	calls    []ApplyCall
	up       map[string]*profile.TunnelConfig
	upErrs   []error
	downErrs []error
	inflight int
	overlaps int
}

// NewFakeBackend returns an empty backend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{up: make(map[string]*profile.TunnelConfig)}
}

// FailNextUp makes the next UP apply fail with err.
func (b *FakeBackend) FailNextUp(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.upErrs = append(b.upErrs, err)
}

// FailNextDown makes the next DOWN apply fail with err. The tunnel is still
// removed.
func (b *FakeBackend) FailNextDown(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downErrs = append(b.downErrs, err)
}

// Apply implements backend.Backend.
func (b *FakeBackend) Apply(_ context.Context, tunnelID string, cfg *profile.TunnelConfig, up bool) error {
	b.mu.Lock()
	b.inflight++
	if b.inflight > 1 {
		b.overlaps++
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.inflight--
		b.mu.Unlock()
	}()

	b.mu.Lock()
	defer b.mu.Unlock()

	call := ApplyCall{TunnelID: tunnelID, Up: up}
	if cfg != nil {
		call.Config = cfg.Clone()
	}
	b.calls = append(b.calls, call)

	if !up {
		delete(b.up, tunnelID)
		if len(b.downErrs) > 0 {
			err := b.downErrs[0]
			b.downErrs = b.downErrs[1:]
			return fmt.Errorf("%w: %w", apperrors.ErrBackendApply, err)
		}
		return nil
	}

	if len(b.upErrs) > 0 {
		err := b.upErrs[0]
		b.upErrs = b.upErrs[1:]
		return fmt.Errorf("%w: %w", apperrors.ErrBackendApply, err)
	}
	if cfg == nil {
		return fmt.Errorf("%w: nil configuration", apperrors.ErrBackendApply)
	}
	b.up[tunnelID] = cfg.Clone()
	return nil
}

// Calls returns every Apply call so far.
func (b *FakeBackend) Calls() []ApplyCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ApplyCall(nil), b.calls...)
}

// CountCalls returns how many UP and DOWN applies were made.
func (b *FakeBackend) CountCalls() (ups, downs int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.calls {
		if c.Up {
			ups++
		} else {
			downs++
		}
	}
	return ups, downs
}

// Live returns the number of tunnels currently up.
func (b *FakeBackend) Live() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.up)
}

// Config returns the configuration a live tunnel was last given.
func (b *FakeBackend) Config(tunnelID string) (*profile.TunnelConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cfg, ok := b.up[tunnelID]
	return cfg, ok
}

// Overlaps returns how many Apply calls started while another was running.
func (b *FakeBackend) Overlaps() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.overlaps
}

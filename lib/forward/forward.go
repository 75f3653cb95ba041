// Package forward relays local TCP connections through a userspace tunnel.
//
// A userspace tunnel changes no host routes, so local programs reach the
// exit location through forwards such as 127.0.0.1:8080=example.com:80.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/metrics"
	"github.com/go-i2p/wgclient/lib/validation"
)

// DialTimeout bounds connecting to the target through the tunnel.
const DialTimeout = 10 * time.Second

// Dialer opens connections inside the tunnel.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Rule maps a local listen address to a target reached through the tunnel.
type Rule struct {
	Listen string
	Target string
}

func (r Rule) String() string {
	return r.Listen + "=" + r.Target
}

// ParseRule parses "listen=target", both host:port.
func ParseRule(s string) (Rule, error) {
	listen, target, ok := strings.Cut(s, "=")
	if !ok {
		return Rule{}, fmt.Errorf("%w: forward %q must be listen=target", apperrors.ErrInvalidInput, s)
	}
	r := Rule{Listen: strings.TrimSpace(listen), Target: strings.TrimSpace(target)}
	if err := validation.HostPort("listen", r.Listen); err != nil {
		return Rule{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	if err := validation.HostPort("target", r.Target); err != nil {
		return Rule{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidInput, err)
	}
	return r, nil
}

// Forwarder accepts local connections for one Rule.
type Forwarder struct {
	rule     Rule
	dialer   Dialer
	listener net.Listener
	wg       sync.WaitGroup
}

// Listen binds the rule's local address.
func Listen(rule Rule, d Dialer) (*Forwarder, error) {
	ln, err := net.Listen("tcp", rule.Listen)
	if err != nil {
		return nil, fmt.Errorf("listening for forward %s: %w", rule, err)
	}
	return &Forwarder{rule: rule, dialer: d, listener: ln}, nil
}

// Addr returns the bound local address.
func (f *Forwarder) Addr() net.Addr {
	return f.listener.Addr()
}

// Serve accepts connections until ctx is done or Close is called, then
// waits for open connections to finish. Cancelling ctx also closes them.
func (f *Forwarder) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { f.listener.Close() })
	defer stop()

	log.WithField("listen", f.Addr().String()).
		WithField("target", f.rule.Target).
		Info("forwarding through tunnel")

	for {
		c, err := f.listener.Accept()
		if err != nil {
			f.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting on %s: %w", f.rule.Listen, err)
		}
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.handle(ctx, c)
		}()
	}
}

// Close stops accepting. Open connections are left to finish.
func (f *Forwarder) Close() error {
	return f.listener.Close()
}

func (f *Forwarder) handle(ctx context.Context, local net.Conn) {
	defer local.Close()

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	remote, err := f.dialer.DialContext(dialCtx, "tcp", f.rule.Target)
	cancel()
	if err != nil {
		metrics.ForwardedConnections.WithLabelValues("dial_error").Inc()
		log.WithField("target", f.rule.Target).WithError(err).Warn("forward dial failed")
		return
	}
	defer remote.Close()
	metrics.ForwardedConnections.WithLabelValues("ok").Inc()

	stop := context.AfterFunc(ctx, func() {
		local.Close()
		remote.Close()
	})
	defer stop()

	var g errgroup.Group
	g.Go(func() error { return pipe(remote, local, "out") })
	g.Go(func() error { return pipe(local, remote, "in") })
	if err := g.Wait(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithField("target", f.rule.Target).WithError(err).Debug("forwarded connection ended with error")
	}
}

// pipe copies src to dst and half-closes dst when src is drained.
func pipe(dst, src net.Conn, direction string) error {
	n, err := io.Copy(dst, src)
	metrics.ForwardedBytes.WithLabelValues(direction).Add(float64(n))
	if cw, ok := dst.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	} else {
		dst.Close()
	}
	return err
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/wgclient/lib/backend"
	"github.com/go-i2p/wgclient/lib/config"
	apperrors "github.com/go-i2p/wgclient/lib/errors"
	"github.com/go-i2p/wgclient/lib/forward"
	"github.com/go-i2p/wgclient/lib/metrics"
	"github.com/go-i2p/wgclient/lib/notify"
	"github.com/go-i2p/wgclient/lib/schedule"
	"github.com/go-i2p/wgclient/lib/session"
	"github.com/go-i2p/wgclient/lib/tui"
	"github.com/go-i2p/wgclient/version"
)

func newConnectCommand(a *app) *cobra.Command {
	var forwards []string
	cmd := &cobra.Command{
		Use:   "connect <server>",
		Short: "Connect to an exit location and keep the session alive",
		Long: `Connect to an exit location. The session is refreshed in place before
each profile expires and is torn down on SIGINT or SIGTERM.

A userspace tunnel changes no host routes; use --forward to reach hosts
through it, for example --forward 127.0.0.1:8080=example.com:80.

Send SIGUSR1 to print the current session status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runConnect(cmd, args[0], forwards)
		},
	}
	cmd.Flags().StringArrayVar(&forwards, "forward", nil, "relay listen=target through a userspace tunnel (repeatable)")
	return cmd
}

func (a *app) runConnect(cmd *cobra.Command, serverID string, forwardValues []string) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := knownServer(cfg, serverID); err != nil {
		return err
	}
	rules, err := forwardRules(cfg, forwardValues)
	if err != nil {
		return err
	}
	issuer, err := a.issuer(cfg)
	if err != nil {
		return err
	}

	metrics.RecordStartTime()
	if cfg.Metrics.Enabled {
		srv := startMetrics(cfg.Metrics.Listen)
		defer shutdownMetrics(srv)
	}

	presenter := newPresenter(cfg.Client.ApplicationID)
	if closer, ok := presenter.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	// The listener is installed before the controller exists.
	var ctrl *session.Controller
	wg := backend.NewWireGuard(backend.Config{
		InterfaceName: cfg.Tunnel.Name,
		Userspace:     cfg.Tunnel.Userspace,
		Verbose:       a.verbose,
		Platform:      platformFor(cfg, runtime.GOOS),
		OnStateChange: func(sc backend.StateChange) {
			if ctrl != nil {
				ctrl.ObserveBackend(sc)
			}
		},
	})
	defer wg.Close()

	ctrl, err = session.New(session.Config{
		ApplicationID:   cfg.Client.ApplicationID,
		OutOfBandHosts:  cfg.OutOfBandHosts(),
		MinRefreshDelay: cfg.Refresh.MinDelay,
	}, session.Deps{
		Issuer:  issuer,
		Backend: wg,
		Scheduler: schedule.NewWallClock(schedule.WallClockConfig{
			WakeCheckInterval: cfg.Refresh.WakeCheckInterval,
			RequireExact:      cfg.Refresh.RequireExactAlarm,
		}),
		Builder:  builder(cfg),
		Notifier: notify.NewNotifier(presenter),
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	forwarders, err := listenForwards(rules, wg)
	if err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(signals)

	c := &connection{
		ctrl:        ctrl,
		out:         cmd.OutOrStdout(),
		forwarders:  forwarders,
		stopTimeout: cfg.Credential.RequestTimeout + session.DefaultShutdownTimeout,
	}
	return c.run(cmd.Context(), serverID, signals)
}

// platformFor picks the host networking for kernel tunnels. Userspace
// tunnels and hosts without an iproute2 platform get the default.
func platformFor(cfg *config.Config, goos string) backend.Platform {
	if cfg.Tunnel.Userspace || goos != "linux" {
		return nil
	}
	return backend.NewIPRoute(nil)
}

// forwardRules parses --forward values. Forwards dial through the userspace
// netstack, so a kernel tunnel cannot serve them.
func forwardRules(cfg *config.Config, values []string) ([]forward.Rule, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if !cfg.Tunnel.Userspace {
		return nil, apperrors.Wrap(apperrors.CodeInvalidInput,
			"--forward needs a userspace tunnel (set tunnel.userspace = true)", apperrors.ErrInvalidInput)
	}
	rules := make([]forward.Rule, 0, len(values))
	for _, v := range values {
		r, err := forward.ParseRule(v)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func listenForwards(rules []forward.Rule, d forward.Dialer) ([]*forward.Forwarder, error) {
	forwarders := make([]*forward.Forwarder, 0, len(rules))
	for _, r := range rules {
		f, err := forward.Listen(r, d)
		if err != nil {
			for _, open := range forwarders {
				open.Close()
			}
			return nil, err
		}
		forwarders = append(forwarders, f)
	}
	return forwarders, nil
}

// connection drives one connect command: it prints lifecycle events, serves
// forwards and tears the session down on a terminating signal.
type connection struct {
	ctrl        *session.Controller
	out         io.Writer
	forwarders  []*forward.Forwarder
	stopTimeout time.Duration
}

// run connects to serverID and blocks until the session ends or a
// terminating signal arrives. SIGUSR1 prints the status.
func (c *connection) run(ctx context.Context, serverID string, signals <-chan os.Signal) error {
	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}
	unsubscribe := c.ctrl.Subscribe(func(ev notify.Event) {
		fmt.Fprintln(c.out, tui.Event(ev))
		switch ev.Type {
		case notify.EventConnected:
			fmt.Fprintln(c.out, tui.Status(c.ctrl.Status(), time.Now()))
		case notify.EventConnectionFailed, notify.EventRefreshFailed:
			finish(ev.Err)
		case notify.EventDisconnected:
			finish(nil)
		}
	})
	defer unsubscribe()

	fctx, stopForwards := context.WithCancel(ctx)
	var g errgroup.Group
	for _, f := range c.forwarders {
		g.Go(func() error {
			if err := f.Serve(fctx); err != nil {
				log.WithField("forward", f.Addr().String()).WithError(err).Warn("forward stopped")
			}
			return nil
		})
	}
	defer func() {
		stopForwards()
		for _, f := range c.forwarders {
			f.Close()
		}
		g.Wait()
	}()

	if err := c.ctrl.Connect(serverID); err != nil {
		return err
	}

	for {
		select {
		case sig := <-signals:
			if sig == syscall.SIGUSR1 {
				fmt.Fprintln(c.out, tui.Status(c.ctrl.Status(), time.Now()))
				continue
			}
			log.WithField("signal", sig.String()).Info("received signal, disconnecting")
			return c.shutdown()
		case err := <-finished:
			return err
		case <-ctx.Done():
			log.Info("context cancelled, disconnecting")
			return c.shutdown()
		}
	}
}

// shutdown tears the session down, waiting out a connect still in flight.
func (c *connection) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.stopTimeout)
	defer cancel()
	return c.ctrl.Shutdown(ctx)
}

func newPresenter(appName string) notify.Presenter {
	p, err := notify.NewDBusPresenter(appName)
	if err != nil {
		log.WithError(err).Debug("desktop notifications unavailable, logging instead")
		return notify.LogPresenter{}
	}
	return p
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithField("listen", addr).WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("listen", addr).Info("serving metrics")
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("metrics server shutdown failed")
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wgclient %s\n", version.Full())
		},
	}
}

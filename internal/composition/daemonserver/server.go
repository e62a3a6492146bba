// Package daemonserver composes a runnable daemon out of the dispatcher,
// the domains and a transport. In the default mode the daemon speaks over
// standard streams; with a listen port it binds a TCP listener on loopback
// and every accepted connection gets its own independent daemon with its
// own domain registries and sessions.
package daemonserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"devlink/daemon/internal/config"
	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/domains/app"
	"devlink/daemon/internal/domains/device"
	"devlink/daemon/internal/domains/devtools"
	"devlink/daemon/internal/domains/emulator"
	"devlink/daemon/internal/domains/proxy"
	"devlink/daemon/internal/logging"
	"devlink/daemon/internal/platform/ratelimiter"
	"devlink/daemon/internal/transport"
)

// Options carry the external collaborators: run engines, device drivers,
// emulator and devtools support. Nil members degrade the matching domain
// to descriptive operational errors.
type Options struct {
	Runners   app.RunnerProvider
	Devices   []device.Discoverer
	Packages  device.PackageFactory
	Emulators emulator.Manager
	DevTools  devtools.Launcher
}

// NewDaemon wires one daemon over one byte stream.
func NewDaemon(rwc io.ReadWriteCloser, cfg config.Config, log *slog.Logger, relay *logging.Relay, opts Options) *daemon.Daemon {
	conn := transport.New(rwc, log)
	limiter := ratelimiter.New(cfg.Proxy.TunnelRateBytesPerSec, tunnelBurst(cfg), 10*time.Minute)

	return daemon.New(conn, log, relay, func(d *daemon.Daemon) []daemon.Domain {
		deviceDomain := device.New(conn, log, opts.Devices, opts.Packages)
		var base logging.Logger = relay
		if relay == nil {
			base = logging.SlogLogger{L: log}
		}
		appDomain := app.New(conn, log, app.Options{
			Provider:        opts.Runners,
			Devices:         deviceResolver{deviceDomain},
			Logger:          base,
			RestartDebounce: time.Duration(cfg.App.RestartDebounceMs) * time.Millisecond,
		})
		return []daemon.Domain{
			daemon.NewDaemonDomain(conn, log, d),
			appDomain,
			deviceDomain,
			emulator.New(conn, log, opts.Emulators),
			devtools.New(conn, log, opts.DevTools),
			proxy.New(conn, log, proxy.Options{
				StagingDir: cfg.Proxy.StagingDir,
				Limiter:    limiter,
			}),
		}
	})
}

// Run serves one daemon over standard streams, or a listener when the
// config names a port.
func Run(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) error {
	if cfg.Daemon.ListenPort > 0 {
		return listen(ctx, cfg, log, opts)
	}
	// Standard output is the protocol channel; logs must not be forwarded
	// to it.
	relay := logging.NewRelay(logging.ModeMachine, nil, nil)
	d := NewDaemon(transport.Stdio(), cfg, log, relay, opts)
	return d.Run(ctx)
}

func listen(ctx context.Context, cfg config.Config, log *slog.Logger, opts Options) error {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Daemon.ListenPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info("daemon listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go func(rwc net.Conn) {
			relay := newConnRelay(cfg)
			d := NewDaemon(rwc, cfg, log, relay, opts)
			if err := d.Run(ctx); err != nil {
				log.Error("daemon connection failed", "remote", rwc.RemoteAddr().String(), "err", err)
			}
		}(conn)
	}
}

func newConnRelay(cfg config.Config) *logging.Relay {
	if cfg.Daemon.ForwardLogs {
		return logging.NewRelay(logging.ModeForward, os.Stdout, os.Stderr)
	}
	return logging.NewRelay(logging.ModeMachine, nil, nil)
}

func tunnelBurst(cfg config.Config) int {
	if cfg.Proxy.TunnelRateBurst > 0 {
		return cfg.Proxy.TunnelRateBurst
	}
	return 64 * 1024
}

// deviceResolver narrows the device domain to the lookup the app domain
// needs for launches.
type deviceResolver struct {
	dom *device.Domain
}

func (r deviceResolver) Device(ctx context.Context, id string) (app.TargetDevice, error) {
	dev, err := r.dom.ByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/logging"
	"devlink/daemon/internal/metrics"
	"devlink/daemon/internal/proto"
)

// Session is one running application instance tracked by the domain.
type Session struct {
	ID     string
	Runner Runner
	Logger *logging.AppLogger
}

// Domain is the app domain: the session registry, the launch protocol and
// the coalescing restart scheduler.
type Domain struct {
	*daemon.DomainCore
	provider RunnerProvider
	devices  DeviceResolver
	sched    *Scheduler
	base     logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// Options are the external collaborators of the domain.
type Options struct {
	Provider RunnerProvider
	Devices  DeviceResolver
	Clock    clockwork.Clock
	Logger   logging.Logger

	// RestartDebounce overrides the default debounce window applied when a
	// restart request asks for debouncing without its own duration.
	RestartDebounce time.Duration
}

func New(conn proto.Connection, log *slog.Logger, opts Options) *Domain {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	debounce := opts.RestartDebounce
	if debounce <= 0 {
		debounce = DefaultRestartDebounce
	}
	base := opts.Logger
	if base == nil {
		base = logging.SlogLogger{L: log}
	}
	d := &Domain{
		DomainCore: daemon.NewDomainCore("app", conn, log),
		provider:   opts.Provider,
		devices:    opts.Devices,
		sched:      NewScheduler(clock),
		base:       base,
		debounce:   debounce,
		sessions:   make(map[string]*Session),
	}
	d.Register("start", d.startApp)
	d.Register("restart", d.restart)
	d.Register("stop", d.stop)
	d.Register("detach", d.detach)
	d.Register("callServiceExtension", d.callServiceExtension)
	return d
}

func (d *Domain) startApp(ctx context.Context, args daemon.Args) (any, error) {
	if d.provider == nil || d.devices == nil {
		return nil, fmt.Errorf("no run engine is available")
	}
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	projectDir, err := args.String("projectDirectory")
	if err != nil {
		return nil, err
	}
	entrypoint, err := args.OptionalString("entrypoint")
	if err != nil {
		return nil, err
	}
	route, err := args.OptionalString("route")
	if err != nil {
		return nil, err
	}
	mode, err := args.OptionalString("mode")
	if err != nil {
		return nil, err
	}
	hotReload := true
	if _, present := args["hotReload"]; present {
		if hotReload, err = args.Bool("hotReload"); err != nil {
			return nil, err
		}
	}

	dev, err := d.devices.Device(ctx, deviceID)
	if err != nil {
		return nil, err
	}

	cfg := LaunchConfig{
		DeviceID:         deviceID,
		ProjectDirectory: projectDir,
		Entrypoint:       entrypoint,
		Route:            route,
		Mode:             mode,
		HotReload:        hotReload,
	}
	runner, err := d.selectRunner(dev, cfg)
	if err != nil {
		return nil, err
	}

	// The run owns the process working directory; it is restored
	// unconditionally when the run loop exits.
	prevDir, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	if err := os.Chdir(projectDir); err != nil {
		return nil, fmt.Errorf("cannot enter project directory: %w", err)
	}

	session := &Session{
		ID:     uuid.NewString(),
		Runner: runner,
		Logger: logging.NewAppLogger(d.base),
	}
	session.Logger.Attach(session.ID, func(name string, payload map[string]any) {
		d.SendEvent(name, payload, nil)
	})

	d.mu.Lock()
	d.sessions[session.ID] = session
	d.mu.Unlock()
	metrics.ActiveSessions.Inc()

	launchMode := mode
	if launchMode == "" {
		launchMode = "run"
	}
	start := map[string]any{
		"appId":           session.ID,
		"deviceId":        deviceID,
		"directory":       projectDir,
		"supportsRestart": runner.SupportsRestart(),
		"launchMode":      launchMode,
	}
	d.SendEvent("app.start", start, nil)

	go d.runLoop(ctx, session, prevDir)

	return start, nil
}

func (d *Domain) selectRunner(dev TargetDevice, cfg LaunchConfig) (Runner, error) {
	switch {
	case dev.TargetPlatform() == "web":
		return d.provider.WebRunner(cfg)
	case cfg.HotReload && dev.SupportsHotReload():
		return d.provider.HotRunner(cfg)
	default:
		return d.provider.ColdRunner(cfg)
	}
}

// runLoop drives one session to completion. The registry removal and the
// working-directory restore run no matter how the run ends.
func (d *Domain) runLoop(ctx context.Context, s *Session, prevDir string) {
	defer func() {
		d.removeSession(s.ID)
		if err := os.Chdir(prevDir); err != nil {
			d.Log().Error("failed to restore working directory", "dir", prevDir, "err", err)
		}
	}()

	// Debug info may never resolve (a closed channel with no value is a
	// run without a debug endpoint); app.started must still fire, so the
	// two signals are watched independently.
	runDone := make(chan struct{})
	go func() {
		select {
		case info, ok := <-s.Runner.DebugInfo():
			if !ok {
				return
			}
			payload := map[string]any{
				"appId": s.ID,
				"port":  info.Port,
				"wsUri": info.WSURI,
			}
			if info.BaseURI != "" {
				payload["baseUri"] = info.BaseURI
			}
			d.SendEvent("app.debugPort", payload, nil)
		case <-runDone:
		}
	}()
	go func() {
		select {
		case <-s.Runner.Started():
			d.SendEvent("app.started", map[string]any{"appId": s.ID}, nil)
		case <-runDone:
		}
	}()

	err := s.Runner.Run(ctx)
	close(runDone)

	stop := map[string]any{"appId": s.ID}
	if err != nil {
		stop["error"] = err.Error()
	}
	d.SendEvent("app.stop", stop, nil)
	s.Logger.Close()
}

func (d *Domain) restart(ctx context.Context, args daemon.Args) (any, error) {
	appID, err := args.String("appId")
	if err != nil {
		return nil, err
	}
	fullRestart, err := args.OptionalBool("fullRestart")
	if err != nil {
		return nil, err
	}
	pause, err := args.OptionalBool("pause")
	if err != nil {
		return nil, err
	}
	reason, err := args.OptionalString("reason")
	if err != nil {
		return nil, err
	}
	debounce, err := args.OptionalBool("debounce")
	if err != nil {
		return nil, err
	}
	overrideMs, hasOverride, err := args.OptionalInt("debounceOverride")
	if err != nil {
		return nil, err
	}

	// Unknown sessions fail before any queuing: no timer is armed and the
	// in-progress slot is never touched.
	session, err := d.session(appID)
	if err != nil {
		return nil, err
	}

	kind := OpReload
	if fullRestart {
		kind = OpRestart
	}
	var window time.Duration
	switch {
	case hasOverride:
		window = time.Duration(overrideMs) * time.Millisecond
	case debounce:
		window = d.debounce
	}

	outcome, _ := d.sched.Schedule(kind, window, func() (any, error) {
		res, err := session.Runner.Restart(context.Background(), fullRestart, pause, reason)
		if err != nil {
			return nil, err
		}
		return map[string]any{"code": res.Code, "message": res.Message}, nil
	})
	return outcome.Wait(ctx)
}

func (d *Domain) stop(ctx context.Context, args daemon.Args) (any, error) {
	return d.terminate(ctx, args, func(ctx context.Context, r Runner) error {
		return r.Exit(ctx)
	})
}

func (d *Domain) detach(ctx context.Context, args daemon.Args) (any, error) {
	return d.terminate(ctx, args, func(ctx context.Context, r Runner) error {
		return r.Detach(ctx)
	})
}

// terminate ends a session. A failing exit/detach is reported through the
// session log and as a false result, never as a request error: the session
// is removed either way.
func (d *Domain) terminate(ctx context.Context, args daemon.Args, end func(context.Context, Runner) error) (any, error) {
	appID, err := args.String("appId")
	if err != nil {
		return nil, err
	}
	session, err := d.session(appID)
	if err != nil {
		return nil, err
	}
	if err := end(ctx, session.Runner); err != nil {
		session.Logger.Error(err.Error(), "")
		session.Logger.Close()
		d.removeSession(appID)
		return false, nil
	}
	d.removeSession(appID)
	return true, nil
}

func (d *Domain) callServiceExtension(ctx context.Context, args daemon.Args) (any, error) {
	appID, err := args.String("appId")
	if err != nil {
		return nil, err
	}
	method, err := args.String("methodName")
	if err != nil {
		return nil, err
	}
	params, err := args.Map("params")
	if err != nil {
		return nil, err
	}
	session, err := d.session(appID)
	if err != nil {
		return nil, err
	}

	result, err := session.Runner.CallServiceExtension(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, daemon.Exitf(1, "method not available: %s", method)
	}
	if errVal, ok := result["error"]; ok {
		return nil, daemon.Exitf(1, "%v", errVal)
	}
	return result, nil
}

func (d *Domain) session(appID string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[appID]
	if !ok {
		return nil, fmt.Errorf("app %q not found", appID)
	}
	return s, nil
}

// removeSession drops a session from the registry at most once.
func (d *Domain) removeSession(appID string) {
	d.mu.Lock()
	_, ok := d.sessions[appID]
	delete(d.sessions, appID)
	d.mu.Unlock()
	if ok {
		metrics.ActiveSessions.Dec()
	}
}

// Sessions reports the ids of live sessions, mostly for tests and
// diagnostics.
func (d *Domain) Sessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	return ids
}

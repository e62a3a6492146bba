// Package app implements the application session domain: launching runs,
// the debounced restart/reload scheduler, and session teardown.
package app

import "context"

// DebugInfo is the debug connection of a running application, delivered
// once the run engine resolves it.
type DebugInfo struct {
	Port    int
	WSURI   string
	BaseURI string
}

// RestartResult is the outcome of one restart or reload action.
type RestartResult struct {
	Code    int
	Message string
}

// Runner is the run controller of one application instance. The build and
// hot-reload engines behind it are external; the domain only drives this
// contract.
type Runner interface {
	// Run blocks until the application exits. The error, if any, is folded
	// into the session's app.stop event.
	Run(ctx context.Context) error

	// DebugInfo yields at most one value, then closes.
	DebugInfo() <-chan DebugInfo

	// Started closes once the initial load completes.
	Started() <-chan struct{}

	Restart(ctx context.Context, fullRestart, pause bool, reason string) (RestartResult, error)
	Exit(ctx context.Context) error
	Detach(ctx context.Context) error
	SupportsRestart() bool

	// CallServiceExtension invokes a named extension method against the
	// first view's isolate on the session's device. A nil result means the
	// method is unavailable at the target.
	CallServiceExtension(ctx context.Context, method string, params map[string]any) (map[string]any, error)
}

// LaunchConfig captures one startApp request.
type LaunchConfig struct {
	DeviceID         string
	ProjectDirectory string
	Entrypoint       string
	Route            string
	Mode             string
	HotReload        bool
}

// RunnerProvider constructs the three run strategies. Which one is used
// depends on the target platform and the caller's hot-reload flag.
type RunnerProvider interface {
	WebRunner(cfg LaunchConfig) (Runner, error)
	HotRunner(cfg LaunchConfig) (Runner, error)
	ColdRunner(cfg LaunchConfig) (Runner, error)
}

// TargetDevice is the slice of a device the launch protocol needs.
type TargetDevice interface {
	ID() string
	TargetPlatform() string
	SupportsHotReload() bool
}

// DeviceResolver looks up a launch target by id.
type DeviceResolver interface {
	Device(ctx context.Context, id string) (TargetDevice, error)
}

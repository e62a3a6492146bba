// Package device implements the device domain: discoverer aggregation,
// ordered add/remove events, and the log-reader and application-package
// registries.
package device

import "context"

// Device is the driver contract for one attached device. Driver
// implementations live outside the core.
type Device interface {
	ID() string
	Name() string
	TargetPlatform() string
	SupportsHotReload() bool
	SupportsRuntimeMode(mode string) bool

	// Enrichment queries used to build reportable payloads. Each may take
	// arbitrarily long; the domain keeps event delivery ordered anyway.
	Capabilities(ctx context.Context) (map[string]any, error)
	SDKVersion(ctx context.Context) (string, error)
	EmulatorID(ctx context.Context) (string, error)

	Forward(ctx context.Context, devicePort, hostPort int) (int, error)
	Unforward(ctx context.Context, devicePort, hostPort int) error
	StartApp(ctx context.Context, pkg ApplicationPackage, args map[string]any) (bool, error)
	StopApp(ctx context.Context, pkg ApplicationPackage) (bool, error)
	TakeScreenshot(ctx context.Context, outputPath string) error
	LogReader(ctx context.Context, appID string) (LogReader, error)
}

// Discoverer enumerates devices of one family and reports attach/detach
// while polling.
type Discoverer interface {
	Name() string

	// SupportsPlatform reports whether the discoverer applies to the
	// current host platform.
	SupportsPlatform() bool

	// CanListAnything reports whether the discoverer is poll-capable. Only
	// poll-capable, platform-supporting discoverers are aggregated.
	CanListAnything() bool

	Devices(ctx context.Context) ([]Device, error)

	// DiscoverDevices forces a fresh, non-cached enumeration.
	DiscoverDevices(ctx context.Context) ([]Device, error)

	StartPolling()
	StopPolling()

	Added() <-chan Device
	Removed() <-chan Device

	Diagnostics(ctx context.Context) ([]string, error)
}

// LogReader streams log lines from a device.
type LogReader interface {
	Name() string
	Lines() <-chan string
	Close() error
}

// ApplicationPackage is an opaque handle to an uploadable application.
type ApplicationPackage interface {
	Name() string
}

// PackageFactory builds an application package handle for a prebuilt
// binary; the implementation is external.
type PackageFactory func(ctx context.Context, targetPlatform, binaryPath string) (ApplicationPackage, error)

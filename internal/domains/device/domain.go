package device

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/proto"
)

// Domain aggregates device discoverers and serializes their asynchronous
// add/remove events so the client observes them in production order.
type Domain struct {
	*daemon.DomainCore
	discoverers []Discoverer
	packages    PackageFactory
	chain       *sequencer
	done        chan struct{}
	disposeOnce sync.Once

	mu          sync.Mutex
	logReaders  map[string]*logReaderHandle
	appPackages map[string]ApplicationPackage
	nextHandle  int
}

type logReaderHandle struct {
	reader LogReader
	stop   chan struct{}
}

// New keeps only discoverers that support the host platform and are
// poll-capable; the rest are ignored entirely.
func New(conn proto.Connection, log *slog.Logger, discoverers []Discoverer, packages PackageFactory) *Domain {
	d := &Domain{
		DomainCore:  daemon.NewDomainCore("device", conn, log),
		packages:    packages,
		chain:       newSequencer(),
		done:        make(chan struct{}),
		logReaders:  make(map[string]*logReaderHandle),
		appPackages: make(map[string]ApplicationPackage),
	}
	for _, disc := range discoverers {
		if !disc.SupportsPlatform() || !disc.CanListAnything() {
			continue
		}
		d.discoverers = append(d.discoverers, disc)
		go d.pump(disc)
	}

	d.Register("getDevices", d.getDevices)
	d.Register("discoverDevices", d.discoverDevices)
	d.Register("enable", d.enable)
	d.Register("disable", d.disable)
	d.Register("forward", d.forward)
	d.Register("unforward", d.unforward)
	d.Register("supportsRuntimeMode", d.supportsRuntimeMode)
	d.Register("uploadApplicationPackage", d.uploadApplicationPackage)
	d.Register("startApp", d.startApp)
	d.Register("stopApp", d.stopApp)
	d.Register("takeScreenshot", d.takeScreenshot)
	d.Register("getDiagnostics", d.getDiagnostics)
	d.Register("logReader.start", d.logReaderStart)
	d.Register("logReader.stop", d.logReaderStop)
	return d
}

func (d *Domain) pump(disc Discoverer) {
	for {
		select {
		case dev, ok := <-disc.Added():
			if !ok {
				return
			}
			d.queueDeviceEvent("device.added", dev)
		case dev, ok := <-disc.Removed():
			if !ok {
				return
			}
			d.queueDeviceEvent("device.removed", dev)
		case <-d.done:
			return
		}
	}
}

// queueDeviceEvent chains the event's enrichment and delivery after every
// earlier event. A failure enriching one device is logged and drops only
// that event; later events are unaffected.
func (d *Domain) queueDeviceEvent(name string, dev Device) {
	d.chain.enqueue(func() {
		payload, err := d.describeDevice(context.Background(), dev)
		if err != nil {
			d.Log().Error("failed to describe device", "device", dev.ID(), "err", err)
			return
		}
		d.SendEvent(name, payload, nil)
	})
}

func (d *Domain) describeDevice(ctx context.Context, dev Device) (map[string]any, error) {
	capabilities, err := dev.Capabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("capabilities of %s: %w", dev.ID(), err)
	}
	sdk, err := dev.SDKVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("sdk version of %s: %w", dev.ID(), err)
	}
	emulatorID, err := dev.EmulatorID(ctx)
	if err != nil {
		return nil, fmt.Errorf("emulator id of %s: %w", dev.ID(), err)
	}
	payload := map[string]any{
		"id":           dev.ID(),
		"name":         dev.Name(),
		"platform":     dev.TargetPlatform(),
		"emulator":     emulatorID != "",
		"sdk":          sdk,
		"capabilities": capabilities,
	}
	if emulatorID != "" {
		payload["emulatorId"] = emulatorID
	}
	return payload, nil
}

func (d *Domain) getDevices(ctx context.Context, args daemon.Args) (any, error) {
	return d.listDevices(ctx, func(disc Discoverer) ([]Device, error) {
		return disc.Devices(ctx)
	})
}

func (d *Domain) discoverDevices(ctx context.Context, args daemon.Args) (any, error) {
	return d.listDevices(ctx, func(disc Discoverer) ([]Device, error) {
		return disc.DiscoverDevices(ctx)
	})
}

func (d *Domain) listDevices(ctx context.Context, list func(Discoverer) ([]Device, error)) (any, error) {
	out := make([]map[string]any, 0)
	for _, disc := range d.discoverers {
		devices, err := list(disc)
		if err != nil {
			return nil, err
		}
		for _, dev := range devices {
			payload, err := d.describeDevice(ctx, dev)
			if err != nil {
				return nil, err
			}
			out = append(out, payload)
		}
	}
	return out, nil
}

func (d *Domain) enable(ctx context.Context, args daemon.Args) (any, error) {
	for _, disc := range d.discoverers {
		disc.StartPolling()
	}
	return nil, nil
}

func (d *Domain) disable(ctx context.Context, args daemon.Args) (any, error) {
	for _, disc := range d.discoverers {
		disc.StopPolling()
	}
	return nil, nil
}

func (d *Domain) forward(ctx context.Context, args daemon.Args) (any, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	port, err := args.Int("port")
	if err != nil {
		return nil, err
	}
	hostPort, _, err := args.OptionalInt("hostPort")
	if err != nil {
		return nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	bound, err := dev.Forward(ctx, port, hostPort)
	if err != nil {
		return nil, err
	}
	return map[string]any{"hostPort": bound}, nil
}

func (d *Domain) unforward(ctx context.Context, args daemon.Args) (any, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	port, err := args.Int("port")
	if err != nil {
		return nil, err
	}
	hostPort, err := args.Int("hostPort")
	if err != nil {
		return nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return nil, dev.Unforward(ctx, port, hostPort)
}

func (d *Domain) supportsRuntimeMode(ctx context.Context, args daemon.Args) (any, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	mode, err := args.String("buildMode")
	if err != nil {
		return nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return dev.SupportsRuntimeMode(mode), nil
}

func (d *Domain) uploadApplicationPackage(ctx context.Context, args daemon.Args) (any, error) {
	if d.packages == nil {
		return nil, fmt.Errorf("no application package support is available")
	}
	platform, err := args.String("targetPlatform")
	if err != nil {
		return nil, err
	}
	binaryPath, err := args.String("applicationBinary")
	if err != nil {
		return nil, err
	}
	pkg, err := d.packages(ctx, platform, binaryPath)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	id := d.mintHandleLocked()
	d.appPackages[id] = pkg
	d.mu.Unlock()
	return id, nil
}

func (d *Domain) startApp(ctx context.Context, args daemon.Args) (any, error) {
	dev, pkg, err := d.resolveAppTarget(ctx, args)
	if err != nil {
		return nil, err
	}
	launchArgs, err := args.Map("args")
	if err != nil {
		return nil, err
	}
	ok, err := dev.StartApp(ctx, pkg, launchArgs)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": ok}, nil
}

func (d *Domain) stopApp(ctx context.Context, args daemon.Args) (any, error) {
	dev, pkg, err := d.resolveAppTarget(ctx, args)
	if err != nil {
		return nil, err
	}
	return dev.StopApp(ctx, pkg)
}

func (d *Domain) resolveAppTarget(ctx context.Context, args daemon.Args) (Device, ApplicationPackage, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, nil, err
	}
	packageID, err := args.String("applicationPackageId")
	if err != nil {
		return nil, nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, nil, err
	}
	d.mu.Lock()
	pkg, ok := d.appPackages[packageID]
	d.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("application package %q not found", packageID)
	}
	return dev, pkg, nil
}

func (d *Domain) takeScreenshot(ctx context.Context, args daemon.Args) (any, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	outputPath, err := args.String("outputPath")
	if err != nil {
		return nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if err := dev.TakeScreenshot(ctx, outputPath); err != nil {
		return nil, err
	}
	return outputPath, nil
}

func (d *Domain) getDiagnostics(ctx context.Context, args daemon.Args) (any, error) {
	out := make([]string, 0)
	for _, disc := range d.discoverers {
		diags, err := disc.Diagnostics(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, diags...)
	}
	return out, nil
}

func (d *Domain) logReaderStart(ctx context.Context, args daemon.Args) (any, error) {
	deviceID, err := args.String("deviceId")
	if err != nil {
		return nil, err
	}
	appID, err := args.OptionalString("appId")
	if err != nil {
		return nil, err
	}
	dev, err := d.deviceByID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	reader, err := dev.LogReader(ctx, appID)
	if err != nil {
		return nil, err
	}

	handle := &logReaderHandle{reader: reader, stop: make(chan struct{})}
	d.mu.Lock()
	id := d.mintHandleLocked()
	d.logReaders[id] = handle
	d.mu.Unlock()

	go func() {
		event := "device.logReader.logLines." + id
		for {
			select {
			case line, ok := <-reader.Lines():
				if !ok {
					return
				}
				d.SendEvent(event, []string{line}, nil)
			case <-handle.stop:
				return
			}
		}
	}()

	return map[string]any{"id": id, "name": reader.Name()}, nil
}

func (d *Domain) logReaderStop(ctx context.Context, args daemon.Args) (any, error) {
	id, err := args.String("id")
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	handle, ok := d.logReaders[id]
	delete(d.logReaders, id)
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("log reader %q not found", id)
	}
	close(handle.stop)
	return nil, handle.reader.Close()
}

// ByID finds an attached device by id across all aggregated discoverers.
func (d *Domain) ByID(ctx context.Context, id string) (Device, error) {
	return d.deviceByID(ctx, id)
}

func (d *Domain) deviceByID(ctx context.Context, id string) (Device, error) {
	for _, disc := range d.discoverers {
		devices, err := disc.Devices(ctx)
		if err != nil {
			return nil, err
		}
		for _, dev := range devices {
			if dev.ID() == id {
				return dev, nil
			}
		}
	}
	return nil, fmt.Errorf("device %q not found", id)
}

// mintHandleLocked mints the next registry id; callers hold d.mu.
func (d *Domain) mintHandleLocked() string {
	d.nextHandle++
	return strconv.Itoa(d.nextHandle)
}

// Dispose stops polling, cancels log-reader subscriptions and drops the
// package registry. Safe to call more than once.
func (d *Domain) Dispose() {
	d.disposeOnce.Do(func() {
		close(d.done)
		for _, disc := range d.discoverers {
			disc.StopPolling()
		}
		d.mu.Lock()
		readers := d.logReaders
		d.logReaders = make(map[string]*logReaderHandle)
		d.appPackages = make(map[string]ApplicationPackage)
		d.mu.Unlock()
		for _, handle := range readers {
			close(handle.stop)
			_ = handle.reader.Close()
		}
	})
}

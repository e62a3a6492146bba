package daemon

import (
	"context"
	"log/slog"
	"runtime"

	"devlink/daemon/internal/proto"
)

// DaemonDomain answers the protocol handshake commands and carries the
// shutdown command.
type DaemonDomain struct {
	*DomainCore
	daemon *Daemon
}

func NewDaemonDomain(conn proto.Connection, log *slog.Logger, d *Daemon) *DaemonDomain {
	dom := &DaemonDomain{
		DomainCore: NewDomainCore("daemon", conn, log),
		daemon:     d,
	}
	dom.Register("version", dom.version)
	dom.Register("shutdown", dom.shutdown)
	dom.Register("getSupportedPlatforms", dom.getSupportedPlatforms)
	return dom
}

func (d *DaemonDomain) version(ctx context.Context, args Args) (any, error) {
	return ProtocolVersion, nil
}

func (d *DaemonDomain) shutdown(ctx context.Context, args Args) (any, error) {
	// Shut down from a separate goroutine so the in-flight response for
	// this command is sent before the transport closes.
	go d.daemon.Shutdown(nil)
	return nil, nil
}

func (d *DaemonDomain) getSupportedPlatforms(ctx context.Context, args Args) (any, error) {
	if _, err := d.optionalProjectRoot(args); err != nil {
		return nil, err
	}
	return map[string]any{"platforms": hostPlatforms()}, nil
}

func (d *DaemonDomain) optionalProjectRoot(args Args) (string, error) {
	return args.OptionalString("projectRoot")
}

func hostPlatforms() []string {
	switch runtime.GOOS {
	case "darwin":
		return []string{"macos", "ios", "android", "web"}
	case "windows":
		return []string{"windows", "android", "web"}
	default:
		return []string{"linux", "android", "web"}
	}
}

// Package devtools implements the devtools domain, a thin wrapper that
// starts the developer-tools server on demand.
package devtools

import (
	"context"
	"fmt"
	"log/slog"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/proto"
)

// ServerAddress is where a served devtools instance listens.
type ServerAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Launcher is the external devtools server contract.
type Launcher interface {
	Serve(ctx context.Context) (*ServerAddress, error)
}

type Domain struct {
	*daemon.DomainCore
	launcher Launcher
}

func New(conn proto.Connection, log *slog.Logger, launcher Launcher) *Domain {
	d := &Domain{
		DomainCore: daemon.NewDomainCore("devtools", conn, log),
		launcher:   launcher,
	}
	d.Register("serve", d.serve)
	return d
}

func (d *Domain) serve(ctx context.Context, args daemon.Args) (any, error) {
	if d.launcher == nil {
		return nil, fmt.Errorf("no devtools support is available")
	}
	addr, err := d.launcher.Serve(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"host": addr.Host, "port": addr.Port}, nil
}

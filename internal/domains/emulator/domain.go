// Package emulator implements the emulator domain: enumeration, launch
// and creation wrappers over an external emulator manager.
package emulator

import (
	"context"
	"fmt"
	"log/slog"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/proto"
)

// Emulator describes one launchable emulator.
type Emulator struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	PlatformType string `json:"platformType"`
}

// Manager is the external emulator driver contract.
type Manager interface {
	Emulators(ctx context.Context) ([]Emulator, error)
	Launch(ctx context.Context, id string, coldBoot bool) error
	Create(ctx context.Context, name string) (string, error)
}

type Domain struct {
	*daemon.DomainCore
	manager Manager
}

func New(conn proto.Connection, log *slog.Logger, manager Manager) *Domain {
	d := &Domain{
		DomainCore: daemon.NewDomainCore("emulator", conn, log),
		manager:    manager,
	}
	d.Register("getEmulators", d.getEmulators)
	d.Register("launch", d.launch)
	d.Register("create", d.create)
	return d
}

func (d *Domain) getEmulators(ctx context.Context, args daemon.Args) (any, error) {
	if d.manager == nil {
		return []Emulator{}, nil
	}
	emulators, err := d.manager.Emulators(ctx)
	if err != nil {
		return nil, err
	}
	if emulators == nil {
		emulators = []Emulator{}
	}
	return emulators, nil
}

func (d *Domain) launch(ctx context.Context, args daemon.Args) (any, error) {
	if d.manager == nil {
		return nil, fmt.Errorf("no emulator support is available")
	}
	id, err := args.String("emulatorId")
	if err != nil {
		return nil, err
	}
	coldBoot, err := args.OptionalBool("coldBoot")
	if err != nil {
		return nil, err
	}
	return nil, d.manager.Launch(ctx, id, coldBoot)
}

func (d *Domain) create(ctx context.Context, args daemon.Args) (any, error) {
	if d.manager == nil {
		return map[string]any{"success": false, "error": "no emulator support is available"}, nil
	}
	name, err := args.OptionalString("name")
	if err != nil {
		return nil, err
	}
	created, err := d.manager.Create(ctx, name)
	if err != nil {
		return map[string]any{"success": false, "error": err.Error()}, nil
	}
	return map[string]any{"success": true, "emulatorName": created}, nil
}

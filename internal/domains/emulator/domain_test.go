package emulator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/proto"
)

type nopConn struct{}

func (nopConn) Messages() <-chan proto.Message                  { return nil }
func (nopConn) SendResponse(id any, result any)                 {}
func (nopConn) SendErrorResponse(id any, e proto.ErrorValue)    {}
func (nopConn) SendEvent(name string, payload any, b io.Reader) {}
func (nopConn) Err() error                                      { return nil }
func (nopConn) Close() error                                    { return nil }

func (nopConn) SendRequest(ctx context.Context, method string, params any) (any, error) {
	return nil, errors.New("not supported")
}

type fakeManager struct {
	emulators []Emulator
	launchErr error
	createErr error

	launchedID string
	coldBoot   bool
}

func (m *fakeManager) Emulators(ctx context.Context) ([]Emulator, error) {
	return m.emulators, nil
}

func (m *fakeManager) Launch(ctx context.Context, id string, coldBoot bool) error {
	m.launchedID = id
	m.coldBoot = coldBoot
	return m.launchErr
}

func (m *fakeManager) Create(ctx context.Context, name string) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	if name == "" {
		name = "devlink_emulator"
	}
	return name, nil
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGetEmulatorsWithoutManagerIsEmpty(t *testing.T) {
	d := New(nopConn{}, discardLog(), nil)
	result, err := d.getEmulators(context.Background(), nil)
	if err != nil {
		t.Fatalf("getEmulators failed: %v", err)
	}
	if list := result.([]Emulator); len(list) != 0 {
		t.Fatalf("expected an empty list, got %v", list)
	}
}

func TestGetEmulatorsListsManagerEntries(t *testing.T) {
	mgr := &fakeManager{emulators: []Emulator{
		{ID: "avd-1", Name: "Pixel 8", Category: "mobile", PlatformType: "android"},
	}}
	d := New(nopConn{}, discardLog(), mgr)

	result, err := d.getEmulators(context.Background(), nil)
	if err != nil {
		t.Fatalf("getEmulators failed: %v", err)
	}
	list := result.([]Emulator)
	if len(list) != 1 || list[0].ID != "avd-1" {
		t.Fatalf("unexpected emulators %v", list)
	}
}

func TestLaunchPassesColdBoot(t *testing.T) {
	mgr := &fakeManager{}
	d := New(nopConn{}, discardLog(), mgr)

	_, err := d.launch(context.Background(), daemon.Args{
		"emulatorId": "avd-1",
		"coldBoot":   true,
	})
	if err != nil {
		t.Fatalf("launch failed: %v", err)
	}
	if mgr.launchedID != "avd-1" || !mgr.coldBoot {
		t.Fatalf("launch args lost: id=%q cold=%v", mgr.launchedID, mgr.coldBoot)
	}

	if _, err := d.launch(context.Background(), daemon.Args{}); err == nil {
		t.Fatalf("launch without emulatorId must fail")
	}
}

func TestLaunchWithoutManagerFails(t *testing.T) {
	d := New(nopConn{}, discardLog(), nil)
	if _, err := d.launch(context.Background(), daemon.Args{"emulatorId": "x"}); err == nil {
		t.Fatalf("expected missing emulator support error")
	}
}

func TestCreateReportsOutcomeInsteadOfFailing(t *testing.T) {
	mgr := &fakeManager{}
	d := New(nopConn{}, discardLog(), mgr)

	result, err := d.create(context.Background(), daemon.Args{})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	payload := result.(map[string]any)
	if payload["success"] != true || payload["emulatorName"] != "devlink_emulator" {
		t.Fatalf("unexpected create result %v", payload)
	}

	mgr.createErr = errors.New("sdk missing")
	result, err = d.create(context.Background(), daemon.Args{"name": "custom"})
	if err != nil {
		t.Fatalf("create must not fail the request: %v", err)
	}
	payload = result.(map[string]any)
	if payload["success"] != false || payload["error"] != "sdk missing" {
		t.Fatalf("unexpected failure payload %v", payload)
	}
}

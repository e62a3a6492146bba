package devtools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

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

type fakeLauncher struct {
	addr *ServerAddress
	err  error
}

func (l fakeLauncher) Serve(ctx context.Context) (*ServerAddress, error) {
	return l.addr, l.err
}

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServeReturnsAddress(t *testing.T) {
	d := New(nopConn{}, discardLog(), fakeLauncher{addr: &ServerAddress{Host: "127.0.0.1", Port: 9400}})

	result, err := d.serve(context.Background(), nil)
	if err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	payload := result.(map[string]any)
	if payload["host"] != "127.0.0.1" || payload["port"] != 9400 {
		t.Fatalf("unexpected serve result %v", payload)
	}
}

func TestServeWithoutLauncherFails(t *testing.T) {
	d := New(nopConn{}, discardLog(), nil)
	if _, err := d.serve(context.Background(), nil); err == nil {
		t.Fatalf("expected missing devtools support error")
	}
}

func TestServePropagatesLauncherFailure(t *testing.T) {
	d := New(nopConn{}, discardLog(), fakeLauncher{err: errors.New("port in use")})
	if _, err := d.serve(context.Background(), nil); err == nil {
		t.Fatalf("expected launcher failure to surface")
	}
}

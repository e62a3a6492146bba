package daemonserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"devlink/daemon/internal/config"
	"devlink/daemon/internal/daemon"
	"devlink/daemon/internal/logging"
)

// startWiredDaemon runs a fully composed daemon over an in-memory pipe and
// returns the client end.
func startWiredDaemon(t *testing.T) (net.Conn, <-chan error) {
	t.Helper()
	client, server := net.Pipe()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	relay := logging.NewRelay(logging.ModeMachine, nil, nil)
	d := NewDaemon(server, config.Default(), log, relay, Options{})

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	t.Cleanup(func() { client.Close() })
	return client, done
}

func readFrame(t *testing.T, br *bufio.Reader) map[string]any {
	t.Helper()
	line, err := br.ReadString('\n')
	if err != nil {
		t.Fatalf("reading frame failed: %v", err)
	}
	var f map[string]any
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		t.Fatalf("frame %q is not json: %v", line, err)
	}
	return f
}

func TestComposedDaemonSpeaksTheProtocol(t *testing.T) {
	client, done := startWiredDaemon(t)
	br := bufio.NewReader(client)

	f := readFrame(t, br)
	if f["event"] != "daemon.connected" {
		t.Fatalf("expected daemon.connected handshake, got %v", f)
	}
	params := f["params"].(map[string]any)
	if params["version"] != daemon.ProtocolVersion {
		t.Fatalf("unexpected protocol version %v", params["version"])
	}

	go client.Write([]byte(`{"id":1,"method":"daemon.version"}` + "\n"))
	f = readFrame(t, br)
	if f["id"] != float64(1) || f["result"] != daemon.ProtocolVersion {
		t.Fatalf("unexpected version response %v", f)
	}

	// Every domain must be routable in the composed daemon.
	go client.Write([]byte(`{"id":2,"method":"emulator.getEmulators"}` + "\n"))
	f = readFrame(t, br)
	if f["id"] != float64(2) {
		t.Fatalf("unexpected emulator response %v", f)
	}
	if _, failed := f["error"]; failed {
		t.Fatalf("getEmulators must degrade gracefully without a manager: %v", f)
	}

	go client.Write([]byte(`{"id":3,"method":"device.getDevices"}` + "\n"))
	f = readFrame(t, br)
	if f["id"] != float64(3) {
		t.Fatalf("unexpected device response %v", f)
	}

	go client.Write([]byte(`{"id":4,"method":"app.start","params":{"deviceId":"x","projectDirectory":"/tmp"}}` + "\n"))
	f = readFrame(t, br)
	errField, ok := f["error"].(map[string]any)
	if !ok || errField["message"] != "no run engine is available" {
		t.Fatalf("expected descriptive degradation for app.start, got %v", f)
	}

	go client.Write([]byte(`{"id":5,"method":"daemon.shutdown"}` + "\n"))
	f = readFrame(t, br)
	if f["id"] != float64(5) {
		t.Fatalf("unexpected shutdown response %v", f)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("daemon did not exit after shutdown")
	}
}

func TestListenServesLoopbackConnections(t *testing.T) {
	cfg := config.Default()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen failed: %v", err)
	}
	cfg.Daemon.ListenPort = ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Run(ctx, cfg, log, Options{}) }()

	var client net.Conn
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		client, err = net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Daemon.ListenPort)))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if client == nil {
		t.Fatalf("could not reach the listener: %v", err)
	}
	defer client.Close()

	br := bufio.NewReader(client)
	f := readFrame(t, br)
	if f["event"] != "daemon.connected" {
		t.Fatalf("expected handshake on accepted connection, got %v", f)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean listener stop, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listener did not stop on cancel")
	}
}

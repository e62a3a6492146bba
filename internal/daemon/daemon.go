// Package daemon owns the request dispatcher, the domain framework, and
// the daemon lifecycle. Incoming messages are routed to named domains;
// domains answer with exactly one response per request id and may push
// unsolicited events at any time.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"devlink/daemon/internal/logging"
	"devlink/daemon/internal/proto"
)

// ProtocolVersion is the fixed handshake version reported in
// daemon.connected and daemon.version.
const ProtocolVersion = "0.6.1"

// Daemon routes incoming messages to its registered domains and owns the
// shutdown/exit lifecycle. The domain registry is populated once at
// construction and immutable afterwards.
type Daemon struct {
	conn    proto.Connection
	domains map[string]Domain
	log     *slog.Logger
	relay   *logging.Relay

	mu        sync.Mutex
	accepting bool
	wg        sync.WaitGroup

	exitOnce sync.Once
	exitErr  error
	exitDone chan struct{}
}

// New builds a daemon over conn. build receives the daemon so domains that
// need it (the daemon domain's shutdown command) can hold a reference; the
// registry it returns is fixed for the daemon's lifetime. relay may be
// nil; when set, its messages are bridged into daemon.logMessage events
// the moment the daemon starts, flushing anything logged before the client
// connected.
func New(conn proto.Connection, log *slog.Logger, relay *logging.Relay, build func(*Daemon) []Domain) *Daemon {
	d := &Daemon{
		conn:      conn,
		log:       log,
		relay:     relay,
		accepting: true,
		exitDone:  make(chan struct{}),
	}
	domains := build(d)
	d.domains = make(map[string]Domain, len(domains))
	for _, dom := range domains {
		if _, ok := d.domains[dom.Name()]; ok {
			panic(fmt.Sprintf("domain %s registered twice", dom.Name()))
		}
		d.domains[dom.Name()] = dom
	}
	return d
}

// Run performs the handshake, then consumes messages until the transport
// ends, at which point the daemon shuts down. It returns the exit outcome:
// nil for a normal shutdown or clean close, the causing error otherwise.
func (d *Daemon) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { d.Shutdown(nil) })
	defer stop()

	d.conn.SendEvent("daemon.connected", map[string]any{
		"version": ProtocolVersion,
		"pid":     os.Getpid(),
	}, nil)

	if d.relay != nil {
		cancel := d.relay.Listen(func(m logging.Message) {
			payload := map[string]any{"level": string(m.Level), "message": m.Text}
			if m.StackTrace != "" {
				payload["stackTrace"] = m.StackTrace
			}
			d.conn.SendEvent("daemon.logMessage", payload, nil)
		})
		defer cancel()
	}

	for msg := range d.conn.Messages() {
		if !d.admit() {
			break
		}
		go func(m proto.Message) {
			defer d.wg.Done()
			d.dispatch(ctx, m)
		}(msg)
	}

	d.Shutdown(d.conn.Err())
	return d.Wait()
}

// admit reserves a dispatch slot for one message. The check and the
// WaitGroup increment happen under the same lock Shutdown takes before
// waiting, so a message can never be admitted after the wait started.
func (d *Daemon) admit() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.accepting {
		return false
	}
	d.wg.Add(1)
	return true
}

// dispatch routes one message. Messages without a correlation id are
// logged and dropped; no response is ever sent for them.
func (d *Daemon) dispatch(ctx context.Context, msg proto.Message) {
	if msg.ID == nil {
		d.log.Error("ignored message without an id", "method", msg.Method)
		return
	}

	name, command, ok := strings.Cut(msg.Method, ".")
	dom := d.domains[name]
	if !ok || dom == nil {
		d.conn.SendErrorResponse(msg.ID, proto.ErrorValue{
			Message: fmt.Sprintf("no domain for method: %s", msg.Method),
		})
		return
	}

	dom.HandleCommand(ctx, command, msg.ID, Args(msg.Params), msg.Binary)
}

// Shutdown stops accepting commands, disposes every domain and the
// transport, and resolves the exit outcome exactly once. Disposal order is
// unspecified; domains must not rely on it. A second call is a no-op.
func (d *Daemon) Shutdown(cause error) {
	d.exitOnce.Do(func() {
		d.mu.Lock()
		d.accepting = false
		d.mu.Unlock()
		d.wg.Wait()
		for _, dom := range d.domains {
			dom.Dispose()
		}
		_ = d.conn.Close()
		d.exitErr = cause
		close(d.exitDone)
	})
}

// Wait blocks until the exit outcome resolves and returns it.
func (d *Daemon) Wait() error {
	<-d.exitDone
	return d.exitErr
}

package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"devlink/daemon/internal/metrics"
	"devlink/daemon/internal/proto"
)

// CommandHandler services one plain command.
type CommandHandler func(ctx context.Context, args Args) (any, error)

// BinaryCommandHandler services a command whose frame carries a trailing
// byte payload.
type BinaryCommandHandler func(ctx context.Context, args Args, binary io.Reader) (any, error)

// Domain is a named group of related commands and events. Handlers are
// registered once at construction and never change afterwards.
type Domain interface {
	Name() string

	// HandleCommand services one command end to end: exactly one response
	// or error response is sent for id, regardless of how the handler
	// fails.
	HandleCommand(ctx context.Context, command string, id any, args Args, binary io.Reader)

	// Dispose releases domain resources. It must be idempotent and safe to
	// call in any order relative to other domains.
	Dispose()
}

// DomainCore carries the registration tables and the dispatch-and-respond
// contract shared by every concrete domain. Concrete domains embed it.
type DomainCore struct {
	name           string
	conn           proto.Connection
	log            *slog.Logger
	handlers       map[string]CommandHandler
	binaryHandlers map[string]BinaryCommandHandler
}

func NewDomainCore(name string, conn proto.Connection, log *slog.Logger) *DomainCore {
	return &DomainCore{
		name:           name,
		conn:           conn,
		log:            log.With("domain", name),
		handlers:       make(map[string]CommandHandler),
		binaryHandlers: make(map[string]BinaryCommandHandler),
	}
}

func (c *DomainCore) Name() string { return c.name }

// Register installs a plain handler. Registration happens only during
// construction; a duplicate name is a programming error.
func (c *DomainCore) Register(command string, h CommandHandler) {
	c.checkFresh(command)
	c.handlers[command] = h
}

// RegisterBinary installs a binary-stream handler.
func (c *DomainCore) RegisterBinary(command string, h BinaryCommandHandler) {
	c.checkFresh(command)
	c.binaryHandlers[command] = h
}

func (c *DomainCore) checkFresh(command string) {
	if _, ok := c.handlers[command]; ok {
		panic(fmt.Sprintf("command %s.%s registered twice", c.name, command))
	}
	if _, ok := c.binaryHandlers[command]; ok {
		panic(fmt.Sprintf("command %s.%s registered twice", c.name, command))
	}
}

func (c *DomainCore) HandleCommand(ctx context.Context, command string, id any, args Args, binary io.Reader) {
	result, err := c.invoke(ctx, command, args, binary)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(c.name, "error").Inc()
		c.conn.SendErrorResponse(id, errorValue(err, traceOf(err)))
		return
	}
	metrics.RequestsTotal.WithLabelValues(c.name, "ok").Inc()
	c.conn.SendResponse(id, result)
}

// invoke runs the handler so that both panics and returned errors produce
// exactly one outcome.
func (c *DomainCore) invoke(ctx context.Context, command string, args Args, binary io.Reader) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &tracedError{err: panicValue(r), trace: string(debug.Stack())}
		}
	}()

	if h, ok := c.handlers[command]; ok {
		return h(ctx, args)
	}
	if h, ok := c.binaryHandlers[command]; ok {
		return h(ctx, args, binary)
	}
	return nil, fmt.Errorf("command not understood: %s.%s", c.name, command)
}

// SendEvent pushes an unsolicited event, independent of any request.
func (c *DomainCore) SendEvent(name string, payload any, binary io.Reader) {
	metrics.EventsTotal.WithLabelValues(c.name).Inc()
	c.conn.SendEvent(name, payload, binary)
}

// Conn exposes the connection for sub-requests to the client.
func (c *DomainCore) Conn() proto.Connection { return c.conn }

// Log is the domain-scoped logger.
func (c *DomainCore) Log() *slog.Logger { return c.log }

// Dispose is a default no-op; concrete domains override it when they hold
// resources.
func (c *DomainCore) Dispose() {}

// tracedError pairs a failure with the stack captured at the fault site.
type tracedError struct {
	err   error
	trace string
}

func (e *tracedError) Error() string { return e.err.Error() }
func (e *tracedError) Unwrap() error { return e.err }

func traceOf(err error) string {
	if te, ok := err.(*tracedError); ok {
		return te.trace
	}
	return ""
}

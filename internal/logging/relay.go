package logging

import (
	"fmt"
	"io"
	"sync"
)

// Mode selects where the relay delivers message text, fixed at
// construction.
type Mode int

const (
	// ModeForward re-emits status text on the output stream and routes
	// warnings and errors (with trace) to the error stream for a human
	// operator.
	ModeForward Mode = iota
	// ModeMachine emits nothing to the terminal; messages reach a machine
	// client only through the broadcast channel, which the daemon bridges
	// into daemon.logMessage events.
	ModeMachine
)

// Relay republishes every message to its listeners. Messages produced
// before any listener attaches accumulate in order and are flushed once to
// the first listener; after that the buffer is gone for good.
type Relay struct {
	mode   Mode
	out    io.Writer
	errOut io.Writer

	mu        sync.Mutex
	listeners map[int]func(Message)
	nextID    int
	attached  bool
	buffer    []Message
}

// NewRelay builds a relay in the given mode. out and errOut are only used
// in ModeForward and may be nil otherwise.
func NewRelay(mode Mode, out, errOut io.Writer) *Relay {
	return &Relay{
		mode:      mode,
		out:       out,
		errOut:    errOut,
		listeners: make(map[int]func(Message)),
	}
}

func (r *Relay) Status(text string)  { r.publish(Message{Level: LevelStatus, Text: text}) }
func (r *Relay) Warning(text string) { r.publish(Message{Level: LevelWarning, Text: text}) }
func (r *Relay) Trace(text string)   { r.publish(Message{Level: LevelTrace, Text: text}) }

func (r *Relay) Error(text string, stackTrace string) {
	r.publish(Message{Level: LevelError, Text: text, StackTrace: stackTrace})
}

func (r *Relay) publish(m Message) {
	r.mu.Lock()
	if r.mode == ModeForward {
		r.deliverTerminal(m)
	}
	if !r.attached {
		r.buffer = append(r.buffer, m)
		r.mu.Unlock()
		return
	}
	fns := make([]func(Message), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

func (r *Relay) deliverTerminal(m Message) {
	switch m.Level {
	case LevelError, LevelWarning:
		if r.errOut == nil {
			return
		}
		fmt.Fprintln(r.errOut, m.Text)
		if m.StackTrace != "" {
			fmt.Fprintln(r.errOut, m.StackTrace)
		}
	default:
		if r.out == nil {
			return
		}
		fmt.Fprintln(r.out, m.Text)
	}
}

// Listen attaches a listener and returns its cancel function. The first
// listener receives the buffered backlog in order before anything else;
// the backlog is delivered at most once.
func (r *Relay) Listen(fn func(Message)) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn

	var backlog []Message
	if !r.attached {
		r.attached = true
		backlog = r.buffer
		r.buffer = nil
	}
	r.mu.Unlock()

	for _, m := range backlog {
		fn(m)
	}

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

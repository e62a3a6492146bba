// Package proto defines the wire-facing message model shared by the
// dispatcher and the transport. The transport owns framing; everything in
// this package is framing-agnostic.
package proto

import (
	"context"
	"io"
)

// Message is one decoded client request. ID is the correlation value echoed
// back on the response; it is nil when the client sent none. Binary is
// non-nil only when the frame carried a trailing byte payload.
type Message struct {
	ID     any
	Method string
	Params map[string]any
	Binary io.Reader
}

// ErrorValue is the structured error object paired to a failed request.
type ErrorValue struct {
	Message    string `json:"message"`
	StackTrace string `json:"stackTrace,omitempty"`
}

// Connection is the transport contract the dispatcher consumes. All Send*
// methods are safe for concurrent use.
type Connection interface {
	// Messages yields decoded client requests. The channel closes when the
	// underlying stream ends; Err reports why.
	Messages() <-chan Message

	SendResponse(id any, result any)
	SendErrorResponse(id any, errVal ErrorValue)

	// SendEvent pushes an unsolicited event. binary, when non-nil, is
	// consumed fully before the call returns.
	SendEvent(name string, payload any, binary io.Reader)

	// SendRequest issues a daemon-to-client request and waits for the
	// client's reply.
	SendRequest(ctx context.Context, method string, params any) (any, error)

	// Err reports the terminal stream error after Messages closes. A clean
	// close reports nil.
	Err() error

	Close() error
}

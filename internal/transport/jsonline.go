// Package transport frames the daemon protocol as newline-delimited JSON
// over any byte stream (standard streams or a TCP socket). A frame whose
// binarySize field is positive is followed by exactly that many raw bytes.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"devlink/daemon/internal/proto"
)

type frame struct {
	ID         any            `json:"id,omitempty"`
	Method     string         `json:"method,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
	Event      string         `json:"event,omitempty"`
	Result     any            `json:"result,omitempty"`
	Error      any            `json:"error,omitempty"`
	BinarySize int64          `json:"binarySize,omitempty"`
}

type reply struct {
	result any
	err    error
}

// Conn is a proto.Connection over one byte stream.
type Conn struct {
	rwc  io.ReadWriteCloser
	log  *slog.Logger
	msgs chan proto.Message

	writeMu sync.Mutex
	bw      *bufio.Writer

	pendMu  sync.Mutex
	pending map[string]chan reply
	nextReq atomic.Int64

	// err is set before msgs closes and read only after.
	err error

	closeOnce sync.Once
	closed    chan struct{}
}

func New(rwc io.ReadWriteCloser, log *slog.Logger) *Conn {
	c := &Conn{
		rwc:     rwc,
		log:     log,
		msgs:    make(chan proto.Message, 16),
		bw:      bufio.NewWriter(rwc),
		pending: make(map[string]chan reply),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) Messages() <-chan proto.Message { return c.msgs }

func (c *Conn) readLoop() {
	br := bufio.NewReader(c.rwc)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			var f frame
			if jerr := json.Unmarshal(trimmed, &f); jerr != nil {
				c.log.Error("dropping malformed frame", "err", jerr)
			} else {
				var binary io.Reader
				if f.BinarySize > 0 {
					buf := make([]byte, f.BinarySize)
					if _, rerr := io.ReadFull(br, buf); rerr != nil {
						c.err = streamError(rerr)
						break
					}
					binary = bytes.NewReader(buf)
				}
				c.route(f, binary)
			}
		}
		if err != nil {
			c.err = streamError(err)
			break
		}
	}

	c.failPending(errors.New("connection closed"))
	close(c.msgs)
}

// route hands requests to the dispatcher and replies to their waiting
// sub-request futures.
func (c *Conn) route(f frame, binary io.Reader) {
	if f.Method != "" {
		// The dispatcher may stop draining before the stream ends; a
		// closed connection unblocks the send so readLoop can exit.
		select {
		case c.msgs <- proto.Message{ID: f.ID, Method: f.Method, Params: f.Params, Binary: binary}:
		case <-c.closed:
		}
		return
	}
	if f.ID == nil {
		c.log.Error("dropping frame with neither method nor id")
		return
	}
	key := fmt.Sprint(f.ID)
	c.pendMu.Lock()
	ch, ok := c.pending[key]
	delete(c.pending, key)
	c.pendMu.Unlock()
	if !ok {
		c.log.Error("dropping reply for unknown request", "id", key)
		return
	}
	if f.Error != nil {
		ch <- reply{err: fmt.Errorf("%v", f.Error)}
		return
	}
	ch <- reply{result: f.Result}
}

func (c *Conn) SendResponse(id any, result any) {
	payload := map[string]any{"id": id, "result": result}
	if err := c.writeFrame(payload, nil); err != nil {
		c.log.Error("failed to send response", "err", err)
	}
}

func (c *Conn) SendErrorResponse(id any, errVal proto.ErrorValue) {
	payload := map[string]any{"id": id, "error": errVal}
	if err := c.writeFrame(payload, nil); err != nil {
		c.log.Error("failed to send error response", "err", err)
	}
}

func (c *Conn) SendEvent(name string, eventPayload any, binary io.Reader) {
	payload := map[string]any{"event": name}
	if eventPayload != nil {
		payload["params"] = eventPayload
	}
	var data []byte
	if binary != nil {
		var err error
		if data, err = io.ReadAll(binary); err != nil {
			c.log.Error("failed to read event binary payload", "event", name, "err", err)
			return
		}
		payload["binarySize"] = len(data)
	}
	if err := c.writeFrame(payload, data); err != nil {
		c.log.Error("failed to send event", "event", name, "err", err)
	}
}

func (c *Conn) SendRequest(ctx context.Context, method string, params any) (any, error) {
	id := fmt.Sprintf("daemon.%d", c.nextReq.Add(1))
	ch := make(chan reply, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	payload := map[string]any{"id": id, "method": method}
	if params != nil {
		payload["params"] = params
	}
	if err := c.writeFrame(payload, nil); err != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, err
	}

	select {
	case r := <-ch:
		return r.result, r.err
	case <-ctx.Done():
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *Conn) writeFrame(payload map[string]any, binary []byte) error {
	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.bw.Write(line); err != nil {
		return err
	}
	if err := c.bw.WriteByte('\n'); err != nil {
		return err
	}
	if len(binary) > 0 {
		if _, err := c.bw.Write(binary); err != nil {
			return err
		}
	}
	return c.bw.Flush()
}

func (c *Conn) failPending(err error) {
	c.pendMu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan reply)
	c.pendMu.Unlock()
	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

// Err reports why the stream ended; a clean close reports nil.
func (c *Conn) Err() error {
	return c.err
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rwc.Close()
	})
	return err
}

func streamError(err error) error {
	if err == io.EOF || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

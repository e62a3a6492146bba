package logging

import (
	"strconv"
	"sync"
)

// EventSender delivers a session-scoped protocol event.
type EventSender func(name string, payload map[string]any)

// AppLogger decorates a Logger for one application session. Once attached,
// log output becomes app.log events and progress operations become paired
// app.progress start/finish events keyed by a locally monotonic id. Before
// attach and after close it degrades to the parent logger.
type AppLogger struct {
	parent Logger

	mu             sync.Mutex
	appID          string
	send           EventSender
	closed         bool
	nextProgressID int
}

func NewAppLogger(parent Logger) *AppLogger {
	return &AppLogger{parent: parent}
}

// Attach binds the logger to its session.
func (l *AppLogger) Attach(appID string, send EventSender) {
	l.mu.Lock()
	l.appID = appID
	l.send = send
	l.mu.Unlock()
}

// Close detaches the logger permanently; further output degrades to the
// parent logger.
func (l *AppLogger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *AppLogger) Status(text string)  { l.emit(text, false) }
func (l *AppLogger) Warning(text string) { l.emit(text, true) }
func (l *AppLogger) Trace(text string)   { l.parent.Trace(text) }

func (l *AppLogger) Error(text string, stackTrace string) {
	l.mu.Lock()
	appID, send, ok := l.appID, l.send, l.active()
	l.mu.Unlock()
	if !ok {
		l.parent.Error(text, stackTrace)
		return
	}
	payload := map[string]any{"appId": appID, "log": text, "error": true}
	if stackTrace != "" {
		payload["stackTrace"] = stackTrace
	}
	send("app.log", payload)
}

func (l *AppLogger) emit(text string, isError bool) {
	l.mu.Lock()
	appID, send, ok := l.appID, l.send, l.active()
	l.mu.Unlock()
	if !ok {
		if isError {
			l.parent.Warning(text)
		} else {
			l.parent.Status(text)
		}
		return
	}
	send("app.log", map[string]any{"appId": appID, "log": text, "error": isError})
}

// Progress is a started progress operation; Finish emits the paired
// finished event.
type Progress struct {
	finish func()
}

func (p *Progress) Finish() {
	if p.finish != nil {
		p.finish()
		p.finish = nil
	}
}

// StartProgress begins a progress operation. Invoked before the session is
// attached or after it is closed, it degrades to a plain status message.
func (l *AppLogger) StartProgress(message string) *Progress {
	l.mu.Lock()
	if !l.active() {
		l.mu.Unlock()
		l.parent.Status(message)
		return &Progress{}
	}
	id := strconv.Itoa(l.nextProgressID)
	l.nextProgressID++
	appID, send := l.appID, l.send
	l.mu.Unlock()

	send("app.progress", map[string]any{
		"appId":    appID,
		"id":       id,
		"message":  message,
		"finished": false,
	})
	return &Progress{finish: func() {
		send("app.progress", map[string]any{
			"appId":    appID,
			"id":       id,
			"finished": true,
		})
	}}
}

// active reports whether events may be emitted; callers hold l.mu.
func (l *AppLogger) active() bool {
	return l.send != nil && !l.closed
}

package app

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"devlink/daemon/internal/metrics"
)

// OperationKind names a coalesced action type.
type OperationKind string

const (
	OpReload  OperationKind = "reload"
	OpRestart OperationKind = "restart"
)

// DefaultRestartDebounce is applied when a caller asks for debouncing
// without supplying a duration.
const DefaultRestartDebounce = 50 * time.Millisecond

// Outcome is the shared result of one coalesced execution. Every caller
// that merged into the same pending entry waits on the same Outcome.
type Outcome struct {
	done   chan struct{}
	result any
	err    error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

func (o *Outcome) resolve(result any, err error) {
	o.result = result
	o.err = err
	close(o.done)
}

func (o *Outcome) Wait(ctx context.Context) (any, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type pendingOp struct {
	debounce time.Duration
	timer    clockwork.Timer
	outcome  *Outcome
	run      func() (any, error)
}

// Scheduler debounces and coalesces restart/reload actions. Per kind there
// is at most one pending entry; across the whole process there is a single
// in-progress slot shared by every kind and every session, so no two
// actions ever execute in parallel.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[OperationKind]*pendingOp

	// slot is the global execution right. Scoping it per session would
	// change observable serialization across apps; it stays global.
	slot chan struct{}
}

func NewScheduler(clock clockwork.Clock) *Scheduler {
	return &Scheduler{
		clock:   clock,
		pending: make(map[OperationKind]*pendingOp),
		slot:    make(chan struct{}, 1),
	}
}

// Schedule queues run under kind. If a pending entry of the same kind has
// not fired yet, its debounce timer is reset and the existing Outcome is
// returned; the caller rides that execution instead of getting its own.
// The merged return reports that case.
func (s *Scheduler) Schedule(kind OperationKind, debounce time.Duration, run func() (any, error)) (outcome *Outcome, merged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[kind]; ok {
		p.timer.Reset(p.debounce)
		metrics.RestartMerges.Inc()
		return p.outcome, true
	}

	p := &pendingOp{
		debounce: debounce,
		outcome:  newOutcome(),
		run:      run,
	}
	p.timer = s.clock.AfterFunc(debounce, func() { s.fire(kind, p) })
	s.pending[kind] = p
	return p.outcome, false
}

// fire runs a pending entry once its timer elapses. The entry leaves the
// pending table before any wait on the execution slot, so a later request
// of the same kind starts a fresh entry rather than re-joining one that
// is already past its window. AfterFunc callbacks run on their own
// goroutine for both the real and the fake clock, so blocking here is
// safe.
func (s *Scheduler) fire(kind OperationKind, p *pendingOp) {
	s.mu.Lock()
	if s.pending[kind] != p {
		// A raced timer reset re-armed a fire that already happened.
		s.mu.Unlock()
		return
	}
	delete(s.pending, kind)
	s.mu.Unlock()

	s.slot <- struct{}{}
	result, err := p.run()
	<-s.slot

	p.outcome.resolve(result, err)
}

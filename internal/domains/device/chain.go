package device

import "sync"

// sequencer runs submitted jobs strictly in submission order, one at a
// time. It is the explicit form of chaining each job onto the previous
// one's completion: however long any job takes, later jobs wait for it.
type sequencer struct {
	mu   sync.Mutex
	tail chan struct{}
}

func newSequencer() *sequencer {
	done := make(chan struct{})
	close(done)
	return &sequencer{tail: done}
}

// enqueue schedules fn after every previously enqueued job and returns
// immediately.
func (s *sequencer) enqueue(fn func()) {
	s.mu.Lock()
	prev := s.tail
	done := make(chan struct{})
	s.tail = done
	s.mu.Unlock()

	go func() {
		<-prev
		defer close(done)
		fn()
	}()
}

// drain waits for every job enqueued so far to finish.
func (s *sequencer) drain() {
	s.mu.Lock()
	tail := s.tail
	s.mu.Unlock()
	<-tail
}

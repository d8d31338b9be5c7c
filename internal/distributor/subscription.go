package distributor

import (
	"sync"

	"github.com/simplesurance/mergetrain/internal/event"
)

// Subscription receives the events of a repository.
type Subscription struct {
	repo        event.RepositoryID
	maxBuffered int

	mu sync.Mutex
	ch chan *event.Event
	// pending are events that were withheld because of missing demand.
	pending []*event.Event
	// credit is the number of events that can be sent to ch.
	// credit+len(ch) never exceeds cap(ch), sends to ch never block.
	credit int
	closed bool
}

// C returns the channel events are delivered to.
// It is closed when the subscription is removed.
func (s *Subscription) C() <-chan *event.Event {
	return s.ch
}

func (s *Subscription) Repository() event.RepositoryID {
	return s.repo
}

// Ask signals that the subscriber is ready to receive n more events.
// The demand is limited by the free space in the channel.
func (s *Subscription) Ask(n int) {
	if n <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.credit += n
	if free := cap(s.ch) - len(s.ch); s.credit > free {
		s.credit = free
	}

	s.flush()
}

// Pending returns the number of withheld events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// Credit returns the outstanding demand.
func (s *Subscription) Credit() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.credit
}

func (s *Subscription) offer(ev *event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	if len(s.pending) >= s.maxBuffered {
		return ErrBufferFull
	}

	s.pending = append(s.pending, ev)
	metrics.BufferedAdd(s.repo, 1)

	s.flush()

	return nil
}

// flush sends withheld events as long as demand exists.
// s.mu must be held by the caller.
func (s *Subscription) flush() {
	var sent int

	for s.credit > 0 && len(s.pending) > 0 {
		select {
		case s.ch <- s.pending[0]:
		default:
			// the subscriber never received events that Ask accounted
			// for, can only happen when credit was not capped correctly
			s.credit = 0
			continue
		}

		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.credit--
		sent++
	}

	if sent > 0 {
		metrics.BufferedAdd(s.repo, -sent)
	}
}

// close closes the channel and returns the number of discarded events.
func (s *Subscription) close() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	s.closed = true
	close(s.ch)

	discarded := len(s.pending)
	s.pending = nil
	s.credit = 0
	metrics.BufferedAdd(s.repo, -discarded)

	return discarded
}

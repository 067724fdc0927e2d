package hub

import (
	"sync"

	"github.com/odinmarkets/gateway/internal/model"
)

type queuedFrame struct {
	key model.ChannelKey
	ev  model.Event
}

// Subscriber is the hub's bounded-queue sink for one registered client. A
// session never touches this type directly — it goes through Hub's
// Dequeue/WaitC/CloseInfo methods, so the hub never needs to hold a strong
// reference back to the session.
type Subscriber struct {
	id       SubID
	capacity int

	mu       sync.Mutex
	buf      []queuedFrame
	dropped  int64
	closed   bool
	reason   CloseReason
	attached map[model.ChannelKey]struct{}

	notifyC chan struct{}
}

func newSubscriber(id SubID, capacity int) *Subscriber {
	return &Subscriber{
		id:       id,
		capacity: capacity,
		buf:      make([]queuedFrame, 0, capacity),
		attached: make(map[model.ChannelKey]struct{}),
		notifyC:  make(chan struct{}, 1),
	}
}

func (s *Subscriber) addTopic(key model.ChannelKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached[key] = struct{}{}
}

func (s *Subscriber) removeTopic(key model.ChannelKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attached, key)
}

func (s *Subscriber) topics() []model.ChannelKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ChannelKey, 0, len(s.attached))
	for k := range s.attached {
		out = append(out, k)
	}
	return out
}

func (s *Subscriber) notify() {
	select {
	case s.notifyC <- struct{}{}:
	default:
	}
}

// enqueue attempts a non-blocking push. On overflow it coalesces by
// replacing the most recent buffered frame for the same (topic, kind) in
// place; if no same-topic frame exists to coalesce, it reports overflow so
// the caller closes the subscriber with SlowConsumer.
func (s *Subscriber) enqueue(key model.ChannelKey, ev model.Event) (overflowed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if len(s.buf) < s.capacity {
		s.buf = append(s.buf, queuedFrame{key: key, ev: ev})
		s.notify()
		return false
	}
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].key.Equal(key) {
			s.buf[i] = queuedFrame{key: key, ev: ev}
			s.dropped++
			s.notify()
			return false
		}
	}
	return true
}

func (s *Subscriber) pull() (model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil, false
	}
	item := s.buf[0]
	s.buf = s.buf[1:]
	return item.ev, true
}

func (s *Subscriber) close(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	s.notify()
}

func (s *Subscriber) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Subscriber) closeReason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscriber) dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

package observability

import "sync/atomic"

// subscriberBuffer is the channel depth before a slow subscriber starts
// losing events; chosen generously since a monitor UI tailing the feed only
// needs to keep up on average, not on every burst.
const subscriberBuffer = 64

// Subscribe registers a new fan-out sink and returns its receive channel
// plus an unsubscribe function. The channel is closed when Unsubscribe is
// called; callers must keep draining it until then.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	sub := &sink{ch: make(chan Event, subscriberBuffer)}
	s.subscribers[id] = sub
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub.ch)
		}
		s.subMu.Unlock()
	}
	return sub.ch, unsubscribe
}

// publish delivers ev to every subscriber without blocking: a sink whose
// channel is full has the event dropped and its counter incremented rather
// than stalling the caller.
func (s *Store) publish(ev Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers {
		select {
		case sub.ch <- ev:
		default:
			atomic.AddUint64(&sub.dropped, 1)
		}
	}
}

package store

import "github.com/httpscope/httpscope/pkg/exchange"

// Subscribe registers a consumer for live updates. The returned channel
// immediately receives the full current collection and receives it again
// after every mutation. Every subscriber gets every mutation — this is a
// fan-out broadcast, not a single-slot callback, so attaching a new
// subscriber never detaches earlier ones.
//
// Each subscriber channel holds one pending snapshot; if a subscriber is
// slow, intermediate snapshots are coalesced into the latest one rather
// than blocking mutators. A subscriber therefore always converges on the
// current state and never observes snapshots out of order.
//
// The cancel function deregisters the subscriber and closes its channel.
func (s *Store) Subscribe() (<-chan []*exchange.Record, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan []*exchange.Record, 1)
	key := s.nextSub
	s.nextSub++
	s.subs[key] = ch

	ch <- s.snapshotLocked()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[key]; ok {
			delete(s.subs, key)
			close(sub)
		}
	}
	return ch, cancel
}

// broadcastLocked pushes the current snapshot to every subscriber,
// replacing any snapshot a slow subscriber has not consumed yet. Callers
// hold s.mu.
func (s *Store) broadcastLocked() {
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale pending snapshot, then deliver the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

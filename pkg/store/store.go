// Package store holds the captured exchange records: an append-ordered,
// mutex-guarded collection with read-time filtering and a live fan-out
// broadcast to subscribers.
//
// All mutations are serialized through one lock, so concurrent completions
// from many in-flight requests never interleave. Filtering is a pure
// projection over a snapshot; it never deletes or reorders the underlying
// records.
package store

import (
	"sync"

	"github.com/httpscope/httpscope/pkg/config"
	"github.com/httpscope/httpscope/pkg/exchange"
)

// Store is the single point of truth for captured records, most recent
// first.
type Store struct {
	mu      sync.Mutex
	records []*exchange.Record
	subs    map[int]chan []*exchange.Record
	nextSub int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		subs: make(map[int]chan []*exchange.Record),
	}
}

// Append inserts a completed record at the front and notifies subscribers.
func (s *Store) Append(rec *exchange.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append([]*exchange.Record{rec}, s.records...)
	s.broadcastLocked()
}

// Clear empties the collection and notifies subscribers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.broadcastLocked()
}

// Len returns the number of records held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// All returns a snapshot copy of the collection, most recent first.
func (s *Store) All() []*exchange.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Get returns the record with the given token, or nil.
func (s *Store) Get(id string) *exchange.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

// Visible returns the records whose classification is enabled in the
// filter set, preserving order. Pure and side-effect-free: flipping a
// filter back restores the hidden records unchanged.
func (s *Store) Visible(filters config.Filters) []*exchange.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*exchange.Record, 0, len(s.records))
	for _, rec := range s.records {
		if filters.Enabled(rec.Classification()) {
			out = append(out, rec)
		}
	}
	return out
}

// BodyFiles returns the persisted body file names referenced by every
// record currently held. Used by a full clear to delete the files.
func (s *Store) BodyFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records)*2)
	for _, rec := range s.records {
		out = append(out,
			rec.BodyFileName(exchange.DirectionRequest),
			rec.BodyFileName(exchange.DirectionResponse))
	}
	return out
}

func (s *Store) snapshotLocked() []*exchange.Record {
	out := make([]*exchange.Record, len(s.records))
	copy(out, s.records)
	return out
}

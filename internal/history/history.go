// Package history keeps the bounded decision log and running counters for
// the notification engine. Every record that enters the pipeline terminates
// here exactly once (plus once more for a synthetic grouped record when a
// bundle flushes).
package history

import (
	"sync"
	"time"

	"notifyd/internal/notification"
)

const DefaultCapacity = 1000

// Entry snapshots one decision.
type Entry struct {
	Record      notification.Record      `json:"record"`
	Disposition notification.Disposition `json:"disposition"`
	Delivered   bool                     `json:"delivered"`
	DeliveredAt *time.Time               `json:"delivered_at,omitempty"`

	// Failed marks a delivery attempt the sink rejected. The record is kept
	// rather than silently lost; there is no automatic retry.
	Failed bool `json:"failed,omitempty"`

	// Grouped marks the synthetic record produced by a bundle flush.
	// Grouped entries don't count as submissions.
	Grouped bool `json:"grouped,omitempty"`

	At time.Time `json:"at"`
}

// Counters are the engine's running totals.
type Counters struct {
	Submitted uint64 `json:"submitted"`
	Delivered uint64 `json:"delivered"`
	Bundled   uint64 `json:"bundled"`
	Silenced  uint64 `json:"silenced"`
	Failed    uint64 `json:"failed"`

	ByType map[notification.Type]uint64 `json:"by_type,omitempty"`
}

// Store is a fixed-capacity ring buffer of entries plus counters.
// Safe for concurrent use. Eviction of the oldest entry and insertion of the
// new one happen under one lock acquisition, so readers never observe the
// buffer over capacity.
type Store struct {
	mu   sync.Mutex
	buf  []Entry
	next int // next write position
	full bool

	counters Counters
}

func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{buf: make([]Entry, 0, capacity)}
}

// Append records a decision, evicting the oldest entry once at capacity.
func (s *Store) Append(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) < cap(s.buf) {
		s.buf = append(s.buf, e)
	} else {
		s.buf[s.next] = e
		s.next = (s.next + 1) % cap(s.buf)
		s.full = true
	}

	s.tallyLocked(e)
}

func (s *Store) tallyLocked(e Entry) {
	if !e.Grouped {
		s.counters.Submitted++
		if s.counters.ByType == nil {
			s.counters.ByType = map[notification.Type]uint64{}
		}
		s.counters.ByType[e.Record.Type]++
	}
	switch {
	case e.Failed:
		s.counters.Failed++
	case e.Delivered:
		s.counters.Delivered++
	case e.Disposition == notification.Bundle && !e.Grouped:
		s.counters.Bundled++
	default:
		s.counters.Silenced++
	}
}

// Recent returns up to limit entries, newest first. limit is clamped to the
// current length.
func (s *Store) Recent(limit int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.buf)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	// Newest entry sits just behind the write cursor.
	newest := n - 1
	if s.full {
		newest = (s.next - 1 + n) % n
	}
	for i := 0; i < limit; i++ {
		out = append(out, s.buf[(newest-i+n)%n])
	}
	return out
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Stats returns a copy of the running counters.
func (s *Store) Stats() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters
	if s.counters.ByType != nil {
		c.ByType = make(map[notification.Type]uint64, len(s.counters.ByType))
		for k, v := range s.counters.ByType {
			c.ByType[k] = v
		}
	}
	return c
}

// Snapshot captures the full store state (oldest first) for persistence.
func (s *Store) Snapshot() ([]Entry, Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.buf)
	out := make([]Entry, 0, n)
	start := 0
	if s.full {
		start = s.next
	}
	for i := 0; i < n; i++ {
		out = append(out, s.buf[(start+i)%n])
	}

	c := s.counters
	if s.counters.ByType != nil {
		c.ByType = make(map[notification.Type]uint64, len(s.counters.ByType))
		for k, v := range s.counters.ByType {
			c.ByType[k] = v
		}
	}
	return out, c
}

// Restore replaces the store contents from a snapshot (oldest first).
// Entries beyond capacity are dropped from the oldest end. Counters are
// restored as-is; they are running totals, not derived from the buffer.
func (s *Store) Restore(entries []Entry, counters Counters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	capN := cap(s.buf)
	if len(entries) > capN {
		entries = entries[len(entries)-capN:]
	}
	s.buf = s.buf[:0]
	s.buf = append(s.buf, entries...)
	s.next = 0
	s.full = len(s.buf) == capN && capN > 0
	if s.full {
		s.next = 0
	}
	s.counters = counters
}

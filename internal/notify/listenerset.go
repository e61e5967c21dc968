// Package notify implements the untyped, in-process listener set used by
// storage-channel notifications (spec §4.11): an ordered set of listener
// handles supporting idempotent add, remove, round-robin next (robust to
// removal of the cursor), and broadcast trigger. The set is a sorted
// slice: remove finds its entry by binary search in O(log n), but
// deleting it shifts the tail of the slice, so remove is O(n) overall.
package notify

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Code identifies the kind of event being broadcast.
type Code int

const (
	DataReady Code = iota
	Deletion
	Flush
	Finish
)

// Event is delivered to a Listener's channel on Trigger.
type Event struct {
	Code Code
	Data []byte
}

// eventBuffer bounds how many undelivered events a slow listener can
// accumulate before Trigger starts dropping for it, so one stalled reader
// cannot block the broadcaster.
const eventBuffer = 64

// Listener is a registered handle in a Set. The handle id is stable across
// the listener's lifetime and is what the Set orders by, per the design
// note to key by a stable id rather than a raw pointer.
type Listener struct {
	ID uuid.UUID
	C  chan Event
}

// NewListener allocates a Listener with a fresh handle id.
func NewListener() *Listener {
	return &Listener{
		ID: uuid.New(),
		C:  make(chan Event, eventBuffer),
	}
}

// Set is a sorted-by-handle-id set of listeners with round-robin iteration.
type Set struct {
	mu sync.Mutex

	ids       []uuid.UUID
	listeners map[uuid.UUID]*Listener

	cursorSet bool
	cursor    uuid.UUID
}

// NewSet returns an empty Set.
func NewSet() *Set {
	return &Set{listeners: make(map[uuid.UUID]*Listener)}
}

// Add registers l. It is idempotent: re-adding a Listener already present
// (by ID) is a no-op and reports false.
func (s *Set) Add(l *Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listeners[l.ID]; exists {
		return false
	}

	s.listeners[l.ID] = l

	idx := s.insertionIndex(l.ID)
	s.ids = append(s.ids, uuid.UUID{})
	copy(s.ids[idx+1:], s.ids[idx:])
	s.ids[idx] = l.ID

	return true
}

func (s *Set) insertionIndex(id uuid.UUID) int {
	return sort.Search(len(s.ids), func(i int) bool { return !lessID(s.ids[i], id) })
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Remove unregisters the listener with the given id, if present.
func (s *Set) Remove(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.listeners[id]; !exists {
		return
	}
	delete(s.listeners, id)

	idx := sort.Search(len(s.ids), func(i int) bool { return !lessID(s.ids[i], id) })
	if idx < len(s.ids) && s.ids[idx] == id {
		s.ids = append(s.ids[:idx], s.ids[idx+1:]...)
	}

	if s.cursorSet && s.cursor == id {
		s.cursorSet = false
	}
}

// Len reports the number of registered listeners.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Next returns the next listener in round-robin order. If the previous
// cursor listener was removed, the cursor is re-seeded from the start of
// the set on this call. Next reports false if the set is empty.
func (s *Set) Next() (*Listener, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.ids) == 0 {
		s.cursorSet = false
		return nil, false
	}

	var startIdx int
	if s.cursorSet {
		idx := sort.Search(len(s.ids), func(i int) bool { return !lessID(s.ids[i], s.cursor) })
		if idx < len(s.ids) && s.ids[idx] == s.cursor {
			startIdx = (idx + 1) % len(s.ids)
		}
		// cursor was removed since: re-seed from the start (startIdx==0).
	}

	next := s.ids[startIdx]
	s.cursor = next
	s.cursorSet = true

	return s.listeners[next], true
}

// Trigger broadcasts an event to every registered listener. Delivery is
// non-blocking per listener: a listener whose buffer is full does not
// block the broadcaster and simply misses this event.
func (s *Set) Trigger(code Code, data []byte) {
	s.mu.Lock()
	targets := make([]*Listener, 0, len(s.ids))
	for _, id := range s.ids {
		targets = append(targets, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range targets {
		select {
		case l.C <- Event{Code: code, Data: data}:
		default:
		}
	}
}

// Package reqset implements the bounded request registry described in spec
// §4.5: a map of live RoCs keyed by RequestId, capped at 5000 entries, that
// evicts the least-recently-active entry (delivering it a TooManyRequests
// error) to make room for a new one rather than rejecting the new arrival
// outright.
package reqset

import (
	"sort"
	"sync"
	"time"

	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/swarmerr"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

// Cap is the maximum number of live requests a single connection's
// RequestSet will hold at once.
const Cap = 5000

type entry struct {
	r        *roc.RoC
	lastSeen time.Time
}

// Set is a connection's live-request registry: O(1) get/insert/erase keyed
// by RequestId, with LRU eviction (an O(n) scan for the oldest entry) once
// Cap is reached.
type Set struct {
	mu      sync.Mutex
	entries map[wire.RequestID]*entry

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// New returns an empty Set.
func New() *Set {
	return &Set{
		entries: make(map[wire.RequestID]*entry),
		now:     time.Now,
	}
}

// Get returns the RoC registered under id, if any, and bumps its activity
// timestamp.
func (s *Set) Get(id wire.RequestID) (*roc.RoC, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = s.now()
	return e.r, true
}

// Touch updates id's activity timestamp without returning its RoC, used
// after a successful send as well as a successful receive.
func (s *Set) Touch(id wire.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.lastSeen = s.now()
	}
}

// GetOrCreate returns the RoC registered under id if present; otherwise it
// calls create to build one, registers it, and — if the set is already at
// Cap — evicts the least-recently-active existing entry first, delivering
// it a TooManyRequests error. create is called while the Set's lock is
// held, so it must not itself touch the Set.
func (s *Set) GetOrCreate(id wire.RequestID, create func() *roc.RoC) (r *roc.RoC, created bool) {
	s.mu.Lock()

	if e, ok := s.entries[id]; ok {
		e.lastSeen = s.now()
		s.mu.Unlock()
		return e.r, false
	}

	var evicted *roc.RoC
	if len(s.entries) >= Cap {
		evicted = s.evictOldestLocked()
	}

	newR := create()
	s.entries[id] = &entry{r: newR, lastSeen: s.now()}
	s.mu.Unlock()

	if evicted != nil {
		evicted.ResumeWithError(swarmerr.New(swarmerr.KindTooManyRequests, nil))
	}

	return newR, true
}

func (s *Set) evictOldestLocked() *roc.RoC {
	var oldestID wire.RequestID
	var oldest *entry
	for id, e := range s.entries {
		if oldest == nil || e.lastSeen.Before(oldest.lastSeen) {
			oldest = e
			oldestID = id
		}
	}
	if oldest == nil {
		return nil
	}
	delete(s.entries, oldestID)
	return oldest.r
}

// Remove unregisters id, e.g. from a RoC's terminal-transition exit
// handler.
func (s *Set) Remove(id wire.RequestID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Len reports the number of live requests.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ShutdownAll delivers err to every live RoC and clears the set. Used when
// the owning connection tears down so no RoC is left suspended forever.
func (s *Set) ShutdownAll(err error) {
	s.mu.Lock()
	rocs := make([]*roc.RoC, 0, len(s.entries))
	for _, e := range s.entries {
		rocs = append(rocs, e.r)
	}
	s.entries = make(map[wire.RequestID]*entry)
	s.mu.Unlock()

	for _, r := range rocs {
		r.ResumeWithError(err)
	}
}

// IDs returns the set's current ids in sorted order, for diagnostics.
func (s *Set) IDs() []wire.RequestID {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]wire.RequestID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

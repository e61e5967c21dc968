package dispatch

import (
	"sync"

	"github.com/clusterkit/swarmrpc/internal/histogram"
)

type counter struct {
	started  uint64
	finished uint64
	retired  uint64
}

// Stats tracks per-handler-name start/finish counts, retired-handler
// invocation counts, and (for handlers flagged timing=true) a latency
// histogram in microseconds, per spec §4.6 step 5.
type Stats struct {
	mu      sync.Mutex
	counts  map[string]*counter
	latency map[string]*histogram.ByteCountHistogram
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{
		counts:  make(map[string]*counter),
		latency: make(map[string]*histogram.ByteCountHistogram),
	}
}

func (s *Stats) counterFor(name string) *counter {
	c, ok := s.counts[name]
	if !ok {
		c = &counter{}
		s.counts[name] = c
	}
	return c
}

// Start records a handler invocation beginning.
func (s *Stats) Start(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterFor(name).started++
}

// Finish records a handler invocation completing (successfully or not).
func (s *Stats) Finish(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterFor(name).finished++
}

// Retired records that a handler flagged retired was invoked.
func (s *Stats) Retired(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterFor(name).retired++
}

// ObserveMicros records a handler's wall-clock duration in microseconds
// into that handler's latency histogram.
func (s *Stats) ObserveMicros(name string, micros uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counterFor(name) // so Snapshot lists a name that has only been timed
	h, ok := s.latency[name]
	if !ok {
		h = histogram.New()
		s.latency[name] = h
	}
	h.Observe(micros)
}

// Snapshot is a point-in-time copy of one handler name's counters,
// returned by Stats.Snapshot (a spec_full addition, mirroring §4.2's
// supplemented connection Stats()).
type Snapshot struct {
	Name     string
	Started  uint64
	Finished uint64
	Retired  uint64
	Latency  *histogram.ByteCountHistogram // nil if the handler isn't timed
}

// Snapshot returns a copy of every handler name's counters observed so far.
func (s *Stats) Snapshot() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Snapshot, 0, len(s.counts))
	for name, c := range s.counts {
		snap := Snapshot{Name: name, Started: c.started, Finished: c.finished, Retired: c.retired}
		if h, ok := s.latency[name]; ok {
			hc := *h
			snap.Latency = &hc
		}
		out = append(out, snap)
	}
	return out
}

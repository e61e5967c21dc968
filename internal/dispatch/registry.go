package dispatch

import (
	"sync"

	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

// Handler is materialized per request from a HandlerRegistry entry's
// factory and run once against the request's dispatcher and acquired
// resources.
type Handler interface {
	Handle(d *roc.Dispatcher, res *ResourceAcquirer, initPayload []byte) error
}

type handlerEntry struct {
	Name    string
	New     func() Handler
	Timing  bool
	Retired bool
}

// HandlerRegistry is the immutable (after startup) dispatch table keyed by
// (code, version), per spec §4.6.
type HandlerRegistry struct {
	mu      sync.RWMutex
	entries map[wire.Command]*handlerEntry
	codes   map[uint16]bool
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		entries: make(map[wire.Command]*handlerEntry),
		codes:   make(map[uint16]bool),
	}
}

// Register adds a handler factory for cmd. Registering the same (code,
// version) twice replaces the prior entry — intended for use only during
// startup wiring, before any connection is accepted.
func (r *HandlerRegistry) Register(cmd wire.Command, name string, newHandler func() Handler, timing, retired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[cmd] = &handlerEntry{Name: name, New: newHandler, Timing: timing, Retired: retired}
	r.codes[cmd.Code] = true
}

// lookup applies spec §4.6's ordered policy: unknown code ->
// RequestNotSupported, known code with unsupported version ->
// RequestVersionNotSupported, otherwise RequestSupported with the entry.
func (r *HandlerRegistry) lookup(cmd wire.Command) (*handlerEntry, wire.Status) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.codes[cmd.Code] {
		return nil, wire.RequestNotSupported
	}
	e, ok := r.entries[cmd]
	if !ok {
		return nil, wire.RequestVersionNotSupported
	}
	return e, wire.RequestSupported
}

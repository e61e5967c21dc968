// Package roc implements the request-on-connection task described in spec
// §4.4: one cooperative task per live request, with an EventDispatcher
// exposing send/receive/yield/resume-with as its only suspension
// primitives. The source's stackful fibers become a goroutine per RoC that
// blocks on typed channels at each suspension point; the fiber "token" that
// guarded mismatched resumes becomes, here, the invariant that at most one
// suspension is outstanding per RoC at a time. No token or state check
// enforces it: it holds because the task body runs on a single goroutine,
// strictly sequentially, and Go's channel types already rule out
// delivering the wrong *kind* of resume.
package roc

import (
	"sync"

	"github.com/clusterkit/swarmrpc/internal/wire"
)

// State mirrors the RoC state machine: Fresh -> Running ->
// Suspended{Send|Receive|Yield|User} -> Running -> ... -> Terminated.
type State int32

const (
	StateFresh State = iota
	StateRunning
	StateSuspendedSend
	StateSuspendedReceive
	StateSuspendedYield
	StateSuspendedUser
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRunning:
		return "running"
	case StateSuspendedSend:
		return "suspended:send"
	case StateSuspendedReceive:
		return "suspended:receive"
	case StateSuspendedYield:
		return "suspended:yield"
	case StateSuspendedUser:
		return "suspended:user"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SendProducer is invoked by the connection's sender task when it is this
// RoC's turn to send; it emits the byte slices to frame and write.
type SendProducer func() [][]byte

// Host is what a Connection provides to the RoCs it owns.
type Host interface {
	// EnqueueSend registers id on the connection's FIFO send queue.
	// Re-registering an id already queued is a no-op.
	EnqueueSend(id wire.RequestID)

	// ScheduleYield arranges for resume to be invoked on a later turn of
	// the connection's event loop, used by Dispatcher.Yield.
	ScheduleYield(resume func())
}

type sendResult struct {
	err error
}

type recvResult struct {
	payload []byte
	err     error
}

// RoC is one cooperative task handling a single logical request over one
// connection.
type RoC struct {
	ID   wire.RequestID
	Name string // command name, for diagnostics only (spec_full addition)

	host Host

	mu          sync.Mutex
	st          State
	waitingRecv bool
	producer    SendProducer

	sendResultCh chan sendResult
	recvCh       chan recvResult
	yieldCh      chan struct{}
	userCh       chan int
	abortCh      chan error

	exitOnce sync.Once
	onExit   func(err error)

	// EmplaceBuf holds the handler object materialized for this request,
	// owned by the RoC. Nothing recycles it on exit: a fresh handler is
	// built per request and the old one is left to the garbage collector.
	EmplaceBuf interface{}
}

// New creates a RoC for id, owned by host. onExit is invoked exactly once
// when the RoC's task terminates, with the terminating error (nil on a
// clean handler return).
func New(id wire.RequestID, host Host, onExit func(err error)) *RoC {
	return &RoC{
		ID:   id,
		host: host,
		st:   StateFresh,

		sendResultCh: make(chan sendResult, 1),
		recvCh:       make(chan recvResult, 1),
		yieldCh:      make(chan struct{}, 1),
		userCh:       make(chan int, 1),
		abortCh:      make(chan error, 1),

		onExit: onExit,
	}
}

// State returns the RoC's current state.
func (r *RoC) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st
}

func (r *RoC) setState(s State) {
	r.mu.Lock()
	r.st = s
	r.mu.Unlock()
}

// Run starts fn as the RoC's task goroutine.
func (r *RoC) Run(fn func(d *Dispatcher) error) {
	r.setState(StateRunning)
	go func() {
		d := &Dispatcher{roc: r}
		err := fn(d)
		r.terminate(err)
	}()
}

func (r *RoC) terminate(err error) {
	r.exitOnce.Do(func() {
		r.setState(StateTerminated)
		if r.onExit != nil {
			r.onExit(err)
		}
	})
}

// TakeSendPayload is called by the connection's sender task when it is
// this RoC's turn. It reports false if the RoC is not currently suspended
// awaiting a send turn (e.g. it exited since being queued), in which case
// the caller must silently skip it.
func (r *RoC) TakeSendPayload() (SendProducer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st != StateSuspendedSend {
		return nil, false
	}
	p := r.producer
	r.producer = nil
	return p, true
}

// CompleteSend is called by the sender task after writing (or failing to
// write) the frame produced by TakeSendPayload.
func (r *RoC) CompleteSend(err error) {
	select {
	case r.sendResultCh <- sendResult{err: err}:
	default:
	}
}

// WaitingReceive reports whether the RoC is currently suspended awaiting a
// payload, consulted by the connection's receiver loop.
func (r *RoC) WaitingReceive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waitingRecv
}

// DeliverPayload hands payload to a RoC suspended in Receive.
func (r *RoC) DeliverPayload(payload []byte) {
	select {
	case r.recvCh <- recvResult{payload: payload}:
	default:
	}
}

// ResumeWithCode resumes a RoC suspended via Dispatcher.Await with a
// non-negative user code (timers, external events).
func (r *RoC) ResumeWithCode(code int) {
	select {
	case r.userCh <- code:
	default:
	}
}

// ResumeWithError resumes whichever suspension (if any) is currently
// outstanding with an error — used by shutdown, timeouts, and external
// aborts. The handler must propagate the error and terminate; it must not
// swallow it to keep using the dispatcher.
func (r *RoC) ResumeWithError(err error) {
	select {
	case r.abortCh <- err:
	default:
	}
}

// Package netconn implements the Connection described in spec §4.2: it
// owns the socket, drives the version and auth handshakes, runs the
// sender and receiver loops cooperatively, dispatches inbound request
// frames into a RequestSet, and surfaces shutdown to every live request.
package netconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clusterkit/swarmrpc/internal/auth"
	"github.com/clusterkit/swarmrpc/internal/dispatch"
	"github.com/clusterkit/swarmrpc/internal/reqset"
	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/swarmerr"
	"github.com/clusterkit/swarmrpc/internal/swarmlog"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

// ShutdownReason classifies why a Connection tore down, so the embedder's
// when_closed hook need not inspect the wrapped error chain to log
// sensibly (SPEC_FULL supplemented feature 3).
type ShutdownReason int

const (
	ReasonNone ShutdownReason = iota
	ReasonIO
	ReasonProtocol
	ReasonAuth
	ReasonRequested
)

func (r ShutdownReason) String() string {
	switch r {
	case ReasonIO:
		return "io"
	case ReasonProtocol:
		return "protocol"
	case ReasonAuth:
		return "auth"
	case ReasonRequested:
		return "requested"
	default:
		return "none"
	}
}

// Config wires together everything a Connection needs from its embedder.
type Config struct {
	Conn net.Conn

	LocalVersion byte
	NoDelay      bool

	Store      *auth.Store
	AuthWindow time.Duration

	MaxFrameSize uint32

	Registry *dispatch.HandlerRegistry
	Stats    *dispatch.Stats
	Pool     *dispatch.ContainerPool

	// Now overrides time.Now, for tests.
	Now func() time.Time

	// OnClosed is invoked exactly once when the connection tears down.
	OnClosed func(reason ShutdownReason, err error)
}

// Snapshot is a point-in-time view of a Connection's activity, the
// supplemented Stats() surface (SPEC_FULL feature 1).
type Snapshot struct {
	ClientName       string
	RemoteAddr       string
	RequestsInFlight int
	BytesSent        uint64
	BytesReceived    uint64
	LastActivity     time.Time
}

// Connection drives one accepted socket end-to-end.
type Connection struct {
	conn net.Conn
	cfg  Config
	now  func() time.Time

	w *wire.Writer
	r *wire.Reader

	reqs      *reqset.Set
	sendQueue *sendQueue

	mu         sync.Mutex
	acceptNew  bool
	closed     bool
	reason     ShutdownReason
	termErr    error
	peer       dispatch.PeerInfo
	bytesSent  uint64
	bytesRecv  uint64
	lastActive time.Time

	closeOnce sync.Once
}

// New constructs a Connection ready to Serve.
func New(cfg Config) *Connection {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Connection{
		conn:      cfg.Conn,
		cfg:       cfg,
		now:       now,
		w:         wire.NewWriter(cfg.Conn),
		r:         wire.NewReader(cfg.Conn, cfg.MaxFrameSize),
		reqs:      reqset.New(),
		sendQueue: newSendQueue(),
		acceptNew: true,
	}
}

// Serve runs the startup sequence (socket options, version handshake,
// auth handshake) and then the send/receive loops until the connection
// shuts down. It returns the terminating error, which is never nil:
// shutdown is always driven by some error in this protocol, including the
// synthetic "requested" one (swarmerr.ErrShutdownRequested) that both
// Close(false) and Close(true) use.
func (c *Connection) Serve() error {
	if err := applySocketOptions(c.conn, c.cfg.NoDelay); err != nil {
		c.shutdown(ReasonIO, swarmerr.New(swarmerr.KindIO, err))
		return c.terminalError()
	}

	if err := c.versionHandshake(); err != nil {
		reason := ReasonIO
		if k, ok := swarmerr.KindOf(err); ok && k == swarmerr.KindVersionMismatch {
			reason = ReasonProtocol
		}
		c.shutdown(reason, err)
		return c.terminalError()
	}

	result, err := auth.Handshake(c.conn, c.cfg.Store, c.cfg.AuthWindow, c.now)
	if err != nil {
		c.shutdown(ReasonAuth, err)
		return c.terminalError()
	}

	c.mu.Lock()
	c.peer = dispatch.PeerInfo{ClientName: result.ClientName, RemoteAddr: remoteAddrOf(c.conn)}
	c.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { c.receiveLoop(); return nil })
	g.Go(func() error { c.sendLoop(); return nil })
	g.Wait()

	return c.terminalError()
}

func remoteAddrOf(conn net.Conn) string {
	if conn.RemoteAddr() == nil {
		return ""
	}
	return conn.RemoteAddr().String()
}

func (c *Connection) versionHandshake() error {
	if _, err := c.conn.Write([]byte{c.cfg.LocalVersion}); err != nil {
		return swarmerr.New(swarmerr.KindIO, err)
	}

	var peerVersion [1]byte
	if _, err := io.ReadFull(c.conn, peerVersion[:]); err != nil {
		return swarmerr.New(swarmerr.KindIO, err)
	}

	if peerVersion[0] != c.cfg.LocalVersion {
		return swarmerr.New(swarmerr.KindVersionMismatch,
			fmt.Errorf("netconn: peer protocol version %d != local %d", peerVersion[0], c.cfg.LocalVersion))
	}
	return nil
}

// sendLoop implements §4.2's send loop: await a non-empty send queue, pop
// the front RequestId, ask its RoC for a payload, frame and write it.
func (c *Connection) sendLoop() {
	for {
		id, ok := c.sendQueue.Pop()
		if !ok {
			return
		}
		if !c.sendOne(id) {
			continue
		}
	}
}

// sendOne handles a single popped id. It returns false on a fatal I/O
// error (having already triggered shutdown), true otherwise — including
// when the RoC no longer exists, which is silently skipped per §4.2.
func (c *Connection) sendOne(id wire.RequestID) bool {
	r, exists := c.reqs.Get(id)
	if !exists {
		return true
	}

	producer, waiting := r.TakeSendPayload()
	if !waiting {
		return true
	}

	parts := producer()
	err := c.writeFramed(id, parts)
	r.CompleteSend(err)

	if err != nil {
		c.shutdown(ReasonIO, swarmerr.New(swarmerr.KindIO, err))
		return false
	}

	c.reqs.Touch(id)
	return true
}

func (c *Connection) writeFramed(id wire.RequestID, parts [][]byte) error {
	head := wire.AppendRequestID(nil, id)
	allParts := make([][]byte, 0, len(parts)+1)
	allParts = append(allParts, head)
	allParts = append(allParts, parts...)

	n := len(head)
	for _, p := range parts {
		n += len(p)
	}

	if err := c.w.WriteFrameVec(wire.TypeRequest, allParts); err != nil {
		return err
	}

	c.mu.Lock()
	c.bytesSent += uint64(n)
	c.lastActive = c.now()
	c.mu.Unlock()

	return nil
}

// receiveLoop implements §4.2's receive loop.
func (c *Connection) receiveLoop() {
	for {
		frame, err := c.r.ReadFrame()
		if err != nil {
			reason := ReasonIO
			if errors.Is(err, wire.ErrParity) || errors.Is(err, wire.ErrFrameTooLarge) {
				reason = ReasonProtocol
			}
			c.shutdown(reason, swarmerr.New(kindFor(reason), err))
			return
		}

		if frame.Type != wire.TypeRequest {
			c.shutdown(ReasonProtocol, swarmerr.New(swarmerr.KindProtocolError,
				fmt.Errorf("netconn: unexpected frame type %d on established connection", frame.Type)))
			return
		}

		id, body, ok := wire.SplitRequestID(frame.Payload)
		if !ok {
			c.shutdown(ReasonProtocol, swarmerr.New(swarmerr.KindProtocolError,
				fmt.Errorf("netconn: request payload shorter than RequestId")))
			return
		}

		c.mu.Lock()
		c.bytesRecv += uint64(len(frame.Payload))
		c.lastActive = c.now()
		c.mu.Unlock()

		c.dispatchPayload(id, body)
	}
}

func kindFor(reason ShutdownReason) swarmerr.Kind {
	if reason == ReasonProtocol {
		return swarmerr.KindProtocolError
	}
	return swarmerr.KindIO
}

// isPerRequestError reports whether err is a RoC-exit error that the
// registry already handled entirely at the request level and that must not
// also tear down the connection. TooManyRequests is delivered to a RoC
// evicted to make room under reqset.Cap (spec §4.5) — the eviction itself
// is the connection's way of keeping serving under load, not a failure of
// the connection.
func isPerRequestError(err error) bool {
	k, ok := swarmerr.KindOf(err)
	return ok && k == swarmerr.KindTooManyRequests
}

// reasonFor classifies an error surfacing from a RoC's task exit (dispatch.Entry
// failing to parse a command, a handler returning or panicking with an
// error) so it can drive the same connection-wide teardown as an error
// caught directly in the send/receive loops (spec §4.6 step 1, §7).
func reasonFor(err error) ShutdownReason {
	if k, ok := swarmerr.KindOf(err); ok {
		switch k {
		case swarmerr.KindAuthRejected:
			return ReasonAuth
		case swarmerr.KindIO:
			return ReasonIO
		case swarmerr.KindShutdownRequested:
			return ReasonRequested
		}
	}
	return ReasonProtocol
}

func (c *Connection) dispatchPayload(id wire.RequestID, body []byte) {
	if r, exists := c.reqs.Get(id); exists {
		if r.WaitingReceive() {
			r.DeliverPayload(body)
			c.reqs.Touch(id)
		}
		return
	}

	if !c.acceptingNew() {
		return
	}

	newR, created := c.reqs.GetOrCreate(id, func() *roc.RoC {
		return roc.New(id, c, func(err error) {
			c.reqs.Remove(id)
			if err != nil && !isPerRequestError(err) {
				c.shutdown(reasonFor(err), err)
			}
		})
	})
	if created {
		newR.Run(dispatch.Entry(c.cfg.Registry, c.cfg.Stats, c.cfg.Pool, c.peer))
		newR.DeliverPayload(body)
		c.reqs.Touch(id)
	}
}

func (c *Connection) acceptingNew() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptNew
}

// EnqueueSend implements roc.Host.
func (c *Connection) EnqueueSend(id wire.RequestID) { c.sendQueue.Push(id) }

// ScheduleYield implements roc.Host: resume on the next scheduler turn
// rather than synchronously, so other goroutines on this connection get a
// chance to run first — the Go analogue of "the next reactor turn".
func (c *Connection) ScheduleYield(resume func()) {
	go func() {
		runtime.Gosched()
		resume()
	}()
}

func (c *Connection) shutdown(reason ShutdownReason, err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.acceptNew = false
		c.reason = reason
		c.termErr = err
		c.mu.Unlock()

		swarmlog.Warn("netconn: connection closing, reason=%s client=%s remote=%s: %v",
			reason, c.peer.ClientName, c.peer.RemoteAddr, err)

		c.sendQueue.Close()
		_ = c.conn.Close()
		c.reqs.ShutdownAll(err)

		if c.cfg.OnClosed != nil {
			c.cfg.OnClosed(reason, err)
		}
	})
}

func (c *Connection) terminalError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.termErr
}

// Close tears the connection down. A forced close (graceful=false) resumes
// every live RoC immediately with a shutdown error. A graceful close stops
// accepting new requests, gives whatever is currently queued to send one
// last drain pass, and only then forces the rest closed
// (SPEC_FULL supplemented feature 2).
func (c *Connection) Close(graceful bool) {
	if !graceful {
		c.shutdown(ReasonRequested, swarmerr.ErrShutdownRequested)
		return
	}

	c.mu.Lock()
	c.acceptNew = false
	c.mu.Unlock()

	c.sendQueue.DrainOnce(func(id wire.RequestID) {
		c.sendOne(id)
	})

	c.shutdown(ReasonRequested, swarmerr.ErrShutdownRequested)
}

// Stats returns a point-in-time snapshot of this connection's activity.
func (c *Connection) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ClientName:       c.peer.ClientName,
		RemoteAddr:       c.peer.RemoteAddr,
		RequestsInFlight: c.reqs.Len(),
		BytesSent:        c.bytesSent,
		BytesReceived:    c.bytesRecv,
		LastActivity:     c.lastActive,
	}
}

// Reason reports why the connection shut down, valid after Serve returns.
func (c *Connection) Reason() ShutdownReason {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

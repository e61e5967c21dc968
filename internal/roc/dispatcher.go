package roc

import "github.com/clusterkit/swarmrpc/internal/wire"

// Dispatcher is the EventDispatcher handlers use to suspend and resume:
// send a payload, await a payload, yield a turn, or park awaiting an
// externally-delivered code. Every primitive also races against an
// out-of-band abort (shutdown, timeout) and returns that error instead if
// it wins.
type Dispatcher struct {
	roc *RoC
}

// ID returns the request id this dispatcher's RoC is handling.
func (d *Dispatcher) ID() wire.RequestID { return d.roc.ID }

// SetEmplace stashes the handler object materialized for this request into
// the RoC's emplace buffer slot without the RoC package knowing its
// concrete type. The slot is not reused or recycled when the RoC exits.
func (d *Dispatcher) SetEmplace(v interface{}) { d.roc.EmplaceBuf = v }

// SetName records a diagnostic label (typically the command's handler
// name) in the RoC's Name field. Connection.Stats does not report it.
func (d *Dispatcher) SetName(name string) { d.roc.Name = name }

// Send suspends the calling task until the connection's sender task has
// taken its turn, asked producer for the bytes, and written (or failed to
// write) the frame, as reported through RoC.CompleteSend. Returns the
// error (if any) encountered writing the frame, or an abort error.
func (d *Dispatcher) Send(producer SendProducer) error {
	r := d.roc

	r.mu.Lock()
	r.producer = producer
	r.mu.Unlock()
	r.setState(StateSuspendedSend)

	r.host.EnqueueSend(r.ID)

	select {
	case res := <-r.sendResultCh:
		r.setState(StateRunning)
		return res.err
	case err := <-r.abortCh:
		r.setState(StateRunning)
		return err
	}
}

// Receive suspends the calling task until a payload for this request
// arrives on the connection, or an abort is delivered.
func (d *Dispatcher) Receive() ([]byte, error) {
	r := d.roc

	r.mu.Lock()
	r.waitingRecv = true
	r.mu.Unlock()
	r.setState(StateSuspendedReceive)

	defer func() {
		r.mu.Lock()
		r.waitingRecv = false
		r.mu.Unlock()
	}()

	select {
	case res := <-r.recvCh:
		r.setState(StateRunning)
		return res.payload, res.err
	case err := <-r.abortCh:
		r.setState(StateRunning)
		return nil, err
	}
}

// Yield suspends the calling task until the connection's event loop gives
// it another turn, with no payload exchanged either way.
func (d *Dispatcher) Yield() error {
	r := d.roc
	r.setState(StateSuspendedYield)

	r.host.ScheduleYield(func() {
		select {
		case r.yieldCh <- struct{}{}:
		default:
		}
	})

	select {
	case <-r.yieldCh:
		r.setState(StateRunning)
		return nil
	case err := <-r.abortCh:
		r.setState(StateRunning)
		return err
	}
}

// Await suspends the calling task until the owner resumes it with an
// explicit non-negative user code via RoC.ResumeWithCode — used for
// handler-defined waits (e.g. an external timer) that are neither a send,
// a receive, nor a plain yield.
func (d *Dispatcher) Await() (int, error) {
	r := d.roc
	r.setState(StateSuspendedUser)

	select {
	case code := <-r.userCh:
		r.setState(StateRunning)
		return code, nil
	case err := <-r.abortCh:
		r.setState(StateRunning)
		return 0, err
	}
}

package netconn

import (
	"sync"

	"github.com/clusterkit/swarmrpc/internal/wire"
)

// sendQueue is the connection's ordered FIFO of RequestIds awaiting a
// send turn. Re-registering an id already queued is a no-op, per §4.2.
type sendQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []wire.RequestID
	queued map[wire.RequestID]bool
	closed bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{queued: make(map[wire.RequestID]bool)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push registers id for a send turn unless it is already queued or the
// queue has been closed.
func (q *sendQueue) Push(id wire.RequestID) {
	q.mu.Lock()
	if !q.closed && !q.queued[id] {
		q.queue = append(q.queue, id)
		q.queued[id] = true
		q.cond.Signal()
	}
	q.mu.Unlock()
}

// Pop blocks until the queue is non-empty or closed, then returns the
// front RequestId. ok is false once the queue is closed and drained.
func (q *sendQueue) Pop() (id wire.RequestID, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.queue) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.queue) == 0 {
		return 0, false
	}

	id = q.queue[0]
	q.queue = q.queue[1:]
	delete(q.queued, id)
	return id, true
}

// DrainOnce pops every id currently queued (without waiting for further
// arrivals) and passes each to process, used by a graceful Close to give
// queued RoCs one last send turn before the hard shutdown.
func (q *sendQueue) DrainOnce(process func(wire.RequestID)) {
	q.mu.Lock()
	pending := q.queue
	q.queue = nil
	for _, id := range pending {
		delete(q.queued, id)
	}
	q.mu.Unlock()

	for _, id := range pending {
		process(id)
	}
}

// Close marks the queue closed and wakes any blocked Pop.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

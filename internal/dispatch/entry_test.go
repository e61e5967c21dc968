package dispatch

import (
	"testing"
	"time"

	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/swarmerr"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

type nopHost struct{}

func (nopHost) EnqueueSend(wire.RequestID)  {}
func (nopHost) ScheduleYield(resume func()) { go resume() }

type recordingHandler struct {
	called  chan []byte
	sendErr error
}

func (h *recordingHandler) Handle(d *roc.Dispatcher, res *ResourceAcquirer, initPayload []byte) error {
	h.called <- initPayload
	return d.Send(func() [][]byte { return [][]byte{[]byte("ack")} })
}

func runEntry(t *testing.T, registry *HandlerRegistry, firstPayload []byte) (status byte, sendErr error) {
	t.Helper()

	host := nopHost{}
	r := roc.New(1, host, func(error) {})
	stats := NewStats()
	pool := NewContainerPool()

	r.Run(Entry(registry, stats, pool, PeerInfo{ClientName: "alice", RemoteAddr: "10.0.0.1:9"}))
	r.DeliverPayload(firstPayload)

	producer, ok := r.TakeSendPayload()
	for i := 0; !ok && i < 1000; i++ {
		producer, ok = r.TakeSendPayload()
	}
	if !ok {
		t.Fatal("handler never reached a send turn")
	}
	parts := producer()
	r.CompleteSend(nil)

	return parts[0][0], nil
}

// TestUnsupportedRequestReplies exercises spec §8 scenario 3: an unknown
// command code replies RequestNotSupported and ends that RoC only.
func TestUnsupportedRequestReplies(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(wire.Command{Code: 1, Version: 0}, "known", func() Handler {
		return &recordingHandler{called: make(chan []byte, 1)}
	}, false, false)

	body := wire.AppendCommand(nil, wire.Command{Code: 2, Version: 0})
	status, _ := runEntry(t, registry, body)

	if wire.Status(status) != wire.RequestNotSupported {
		t.Fatalf("status = %d, want RequestNotSupported", status)
	}
}

// TestVersionUnsupportedReplies exercises spec §8 scenario 4: a known code
// at an unregistered version replies RequestVersionNotSupported.
func TestVersionUnsupportedReplies(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(wire.Command{Code: 1, Version: 0}, "known", func() Handler {
		return &recordingHandler{called: make(chan []byte, 1)}
	}, false, false)

	body := wire.AppendCommand(nil, wire.Command{Code: 1, Version: 5})
	status, _ := runEntry(t, registry, body)

	if wire.Status(status) != wire.RequestVersionNotSupported {
		t.Fatalf("status = %d, want RequestVersionNotSupported", status)
	}
}

func TestSupportedRequestRunsHandler(t *testing.T) {
	handler := &recordingHandler{called: make(chan []byte, 1)}
	registry := NewHandlerRegistry()
	registry.Register(wire.Command{Code: 1, Version: 0}, "known", func() Handler { return handler }, true, false)

	body := wire.AppendCommand(nil, wire.Command{Code: 1, Version: 0})
	body = append(body, []byte("init-payload")...)

	host := nopHost{}
	r := roc.New(1, host, func(error) {})
	stats := NewStats()
	pool := NewContainerPool()

	r.Run(Entry(registry, stats, pool, PeerInfo{ClientName: "alice"}))
	r.DeliverPayload(body)

	// First send turn: RequestSupported status.
	var producer roc.SendProducer
	var ok bool
	for i := 0; !ok && i < 1000; i++ {
		producer, ok = r.TakeSendPayload()
	}
	if !ok {
		t.Fatal("never reached first send turn (status reply)")
	}
	statusParts := producer()
	if wire.Status(statusParts[0][0]) != wire.RequestSupported {
		t.Fatalf("status = %d, want RequestSupported", statusParts[0][0])
	}
	r.CompleteSend(nil)

	select {
	case got := <-handler.called:
		if string(got) != "init-payload" {
			t.Fatalf("handler got init payload %q, want init-payload", got)
		}
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	snap := stats.Snapshot()
	if len(snap) != 1 || snap[0].Name != "known" || snap[0].Started != 1 {
		t.Fatalf("stats snapshot = %+v", snap)
	}
}

func TestRetiredHandlerIncrementsCounter(t *testing.T) {
	handler := &recordingHandler{called: make(chan []byte, 1)}
	registry := NewHandlerRegistry()
	registry.Register(wire.Command{Code: 1, Version: 0}, "legacy", func() Handler { return handler }, false, true)

	body := wire.AppendCommand(nil, wire.Command{Code: 1, Version: 0})

	host := nopHost{}
	r := roc.New(1, host, func(error) {})
	stats := NewStats()
	pool := NewContainerPool()

	r.Run(Entry(registry, stats, pool, PeerInfo{ClientName: "bob"}))
	r.DeliverPayload(body)

	var producer roc.SendProducer
	var ok bool
	for i := 0; !ok && i < 1000; i++ {
		producer, ok = r.TakeSendPayload()
	}
	if !ok {
		t.Fatal("never reached the status send turn")
	}
	producer()
	r.CompleteSend(nil)

	// Retired is counted once the status reply has been sent and before the
	// handler runs, so the handler being invoked means the count is in.
	select {
	case <-handler.called:
	case <-time.After(time.Second):
		t.Fatal("handler was never invoked")
	}

	snap := stats.Snapshot()
	if len(snap) != 1 || snap[0].Retired != 1 {
		t.Fatalf("stats snapshot = %+v, want Retired=1", snap)
	}
}

// TestResourceExhaustedWhenPoolSaturated exercises spec §7's
// ResourceExhausted kind: a ContainerPool with no materialization slots
// available fails a would-otherwise-succeed dispatch instead of running the
// handler's factory.
func TestResourceExhaustedWhenPoolSaturated(t *testing.T) {
	registry := NewHandlerRegistry()
	registry.Register(wire.Command{Code: 1, Version: 0}, "known", func() Handler {
		return &recordingHandler{called: make(chan []byte, 1)}
	}, false, false)

	body := wire.AppendCommand(nil, wire.Command{Code: 1, Version: 0})

	host := nopHost{}
	exited := make(chan error, 1)
	r := roc.New(1, host, func(err error) { exited <- err })
	stats := NewStats()
	pool := NewContainerPoolWithLimit(0)

	r.Run(Entry(registry, stats, pool, PeerInfo{ClientName: "alice"}))
	r.DeliverPayload(body)

	// Only send turn: the RequestSupported status reply, written before the
	// handler object is materialized.
	var producer roc.SendProducer
	var ok bool
	for i := 0; !ok && i < 1000; i++ {
		producer, ok = r.TakeSendPayload()
	}
	if !ok {
		t.Fatal("never reached the status send turn")
	}
	producer()
	r.CompleteSend(nil)

	select {
	case err := <-exited:
		if k, ok := swarmerr.KindOf(err); !ok || k != swarmerr.KindResourceExhausted {
			t.Fatalf("exit error = %v, want KindResourceExhausted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the RoC to exit")
	}
}

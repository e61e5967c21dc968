package dispatch

import (
	"fmt"
	"time"

	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/swarmerr"
	"github.com/clusterkit/swarmrpc/internal/swarmlog"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

// PeerInfo identifies the remote side of a connection for dispatch-time
// logging (retired-handler warnings, handler panics).
type PeerInfo struct {
	ClientName string
	RemoteAddr string
}

// Entry returns the RoC task function a Connection runs for every newly
// created RoC: it performs the §4.6 dispatch policy against registry and
// then, for a supported command, runs the materialized handler against a
// ResourceAcquirer drawn from pool.
func Entry(registry *HandlerRegistry, stats *Stats, pool *ContainerPool, peer PeerInfo) func(d *roc.Dispatcher) error {
	return func(d *roc.Dispatcher) error {
		initBody, err := d.Receive()
		if err != nil {
			return err
		}

		cmd, rest, ok := wire.SplitCommand(initBody)
		if !ok {
			return swarmerr.New(swarmerr.KindProtocolError, fmt.Errorf("dispatch: payload shorter than command header"))
		}

		entry, status := registry.lookup(cmd)
		if status != wire.RequestSupported {
			return d.Send(statusProducer(status))
		}

		initCopy := append([]byte(nil), rest...)

		if err := d.Send(statusProducer(wire.RequestSupported)); err != nil {
			return err
		}

		acquirer := pool.NewAcquirer()
		defer acquirer.Close()

		if !pool.tryAcquireMaterializeSlot() {
			return swarmerr.New(swarmerr.KindResourceExhausted,
				fmt.Errorf("dispatch: too many handler objects materializing concurrently"))
		}
		handler := entry.New()
		pool.releaseMaterializeSlot()

		d.SetEmplace(handler)
		d.SetName(entry.Name)

		stats.Start(entry.Name)
		defer stats.Finish(entry.Name)

		if entry.Retired {
			stats.Retired(entry.Name)
			swarmlog.Warn("dispatch: retired handler %q invoked by %s (%s)", entry.Name, peer.ClientName, peer.RemoteAddr)
		}

		start := time.Now()
		herr := runHandler(handler, d, acquirer, initCopy, entry.Name, peer.ClientName)

		if entry.Timing {
			stats.ObserveMicros(entry.Name, uint64(time.Since(start).Microseconds()))
		}

		if herr != nil {
			swarmlog.Error("dispatch: handler %q failed for client %s: %v", entry.Name, peer.ClientName, herr)
		}

		return herr
	}
}

// runHandler invokes handler.Handle, converting a panic into a
// KindHandlerError so one runaway handler cannot take down the
// connection's whole goroutine tree — the Go analogue of spec §4.6's "any
// exception escaping the handler is logged ... and rethrown".
func runHandler(handler Handler, d *roc.Dispatcher, res *ResourceAcquirer, initPayload []byte, name, clientName string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			swarmlog.Error("dispatch: handler %q panicked for client %s: %v", name, clientName, p)
			err = swarmerr.New(swarmerr.KindHandlerError, fmt.Errorf("%v", p))
		}
	}()
	return handler.Handle(d, res, initPayload)
}

func statusProducer(status wire.Status) roc.SendProducer {
	return func() [][]byte {
		return [][]byte{{byte(status)}}
	}
}

// Command swarmnoded is a minimal node process built on swarmrpc: it
// listens on a TCP port, authenticates each incoming connection against a
// credentials file, and dispatches requests to whatever handlers this
// binary has registered.
package main

import (
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clusterkit/swarmrpc/internal/auth"
	"github.com/clusterkit/swarmrpc/internal/dispatch"
	"github.com/clusterkit/swarmrpc/internal/netconn"
	"github.com/clusterkit/swarmrpc/internal/roc"
	"github.com/clusterkit/swarmrpc/internal/swarmlog"
	"github.com/clusterkit/swarmrpc/internal/wire"
)

var (
	f_listen     = flag.String("listen", ":9500", "address to listen on")
	f_creds      = flag.String("creds", "", "path to the credentials file (name:hex-key per line)")
	f_credsMax   = flag.Int64("credsmax", 1<<20, "maximum credentials file size, in bytes")
	f_authWindow = flag.Duration("authwindow", 30*time.Second, "maximum client/node clock skew accepted during the auth handshake")
	f_maxFrame   = flag.Uint("maxframe", 16<<20, "maximum accepted frame payload size, in bytes")
	f_version    = flag.Uint("protoversion", 1, "local protocol version advertised during the version handshake")
	f_nodelay    = flag.Bool("nodelay", true, "disable Nagle's algorithm on accepted connections")
	f_loglevel   = flag.String("level", "info", "log level: debug, info, warn, error")
	f_logfile    = flag.String("logfile", "", "file to log to, in addition to stderr")
	f_logring    = flag.Int("logring", 200, "number of recent log lines to retain for a SIGHUP dump (0 disables)")
)

func levelFromFlag(s string) int {
	switch s {
	case "debug":
		return swarmlog.DEBUG
	case "warn":
		return swarmlog.WARN
	case "error":
		return swarmlog.ERROR
	default:
		return swarmlog.INFO
	}
}

func main() {
	flag.Parse()

	level := levelFromFlag(*f_loglevel)
	swarmlog.AddLogger("stderr", os.Stderr, level, false)
	if *f_logfile != "" {
		f, err := os.OpenFile(*f_logfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			swarmlog.Fatal("cannot open logfile %s: %v", *f_logfile, err)
			os.Exit(1)
		}
		swarmlog.AddLogger("file", f, level, false)
	}
	if *f_logring > 0 {
		ring := swarmlog.AddRingLogger("ring", *f_logring, swarmlog.DEBUG)
		installLogDumpHandler(ring)
	}

	if *f_creds == "" {
		swarmlog.Fatal("-creds is required")
		os.Exit(1)
	}
	store, err := auth.LoadFile(*f_creds, *f_credsMax)
	if err != nil {
		swarmlog.Fatal("loading credentials file %s: %v", *f_creds, err)
		os.Exit(1)
	}

	registry := dispatch.NewHandlerRegistry()
	registerBuiltinHandlers(registry)
	stats := dispatch.NewStats()
	pool := dispatch.NewContainerPool()

	ln, err := net.Listen("tcp", *f_listen)
	if err != nil {
		swarmlog.Fatal("listen on %s: %v", *f_listen, err)
		os.Exit(1)
	}
	swarmlog.Info("swarmnoded: listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			swarmlog.Error("accept: %v", err)
			continue
		}
		go serve(conn, store, registry, stats, pool)
	}
}

func serve(conn net.Conn, store *auth.Store, registry *dispatch.HandlerRegistry, stats *dispatch.Stats, pool *dispatch.ContainerPool) {
	c := netconn.New(netconn.Config{
		Conn:         conn,
		LocalVersion: byte(*f_version),
		NoDelay:      *f_nodelay,
		Store:        store,
		AuthWindow:   *f_authWindow,
		MaxFrameSize: uint32(*f_maxFrame),
		Registry:     registry,
		Stats:        stats,
		Pool:         pool,
		OnClosed: func(reason netconn.ShutdownReason, err error) {
			swarmlog.Info("swarmnoded: connection from %s closed, reason=%s: %v", conn.RemoteAddr(), reason, err)
		},
	})

	if err := c.Serve(); err != nil {
		swarmlog.Debug("swarmnoded: connection from %s ended: %v", conn.RemoteAddr(), err)
	}
}

// pingHandler replies to every request with its own init payload, used to
// verify a deployment end to end before wiring in real command handlers.
type pingHandler struct{}

func (pingHandler) Handle(d *roc.Dispatcher, res *dispatch.ResourceAcquirer, initPayload []byte) error {
	reply := append([]byte(nil), initPayload...)
	return d.Send(func() [][]byte { return [][]byte{reply} })
}

// installLogDumpHandler dumps the last f_logring lines retained by ring to
// stderr on SIGHUP, a cheap way to pull recent history out of a daemon
// without running it under a separate log aggregator.
func installLogDumpHandler(ring *swarmlog.Ring) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		for range sig {
			for _, line := range ring.Dump() {
				os.Stderr.WriteString(line)
			}
		}
	}()
}

func registerBuiltinHandlers(registry *dispatch.HandlerRegistry) {
	registry.Register(
		wire.Command{Code: 1, Version: 0},
		"ping",
		func() dispatch.Handler { return pingHandler{} },
		true,
		false,
	)
}

package netconn

import (
	"net"
	"time"
)

const (
	keepIdle     = 5 * time.Second
	keepInterval = 3 * time.Second
	keepCount    = 3
	synCount     = 1
)

// applySocketOptions applies spec §4.2's startup socket options. Only
// *net.TCPConn supports them; other net.Conn implementations (used in
// tests, pipes) are left untouched.
func applySocketOptions(conn net.Conn, noDelay bool) error {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcp.SetKeepAlive(true); err != nil {
		return err
	}
	if err := tcp.SetKeepAlivePeriod(keepIdle); err != nil {
		return err
	}
	if noDelay {
		if err := tcp.SetNoDelay(true); err != nil {
			return err
		}
	}

	// Best-effort: finer-grained knobs beyond what net.TCPConn exposes.
	_ = applyKeepaliveTuning(tcp, keepIdle, keepInterval, keepCount, synCount)

	return nil
}

//go:build !linux

package netconn

import (
	"net"
	"time"
)

// applyKeepaliveTuning is a no-op off Linux: TCP_KEEPIDLE/TCP_KEEPCNT/
// TCP_KEEPINTVL/TCP_SYNCNT have no portable cross-platform equivalent, and
// the portable net.TCPConn.SetKeepAlive[Period] call applied ahead of this
// one already gives a working keepalive.
func applyKeepaliveTuning(tcp *net.TCPConn, idle, interval time.Duration, count, synCount int) error {
	return nil
}

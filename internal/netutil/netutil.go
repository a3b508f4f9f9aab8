// Package netutil tunes OS socket options unavailable through net.UDPConn,
// grounded on the teacher's internal/socketcan device, which reaches past
// the standard library into golang.org/x/sys/unix for the same reason: the
// knob it needs (here, SO_RCVBUFFORCE) has no portable stdlib surface. Linux
// gets a raw-socket implementation; other platforms fall back to
// net.UDPConn.SetReadBuffer, so callers never need a build tag of their own.
package netutil

import "net"

// SetUDPRecvBuffer requests an OS receive buffer of at least n bytes on
// conn. A non-positive n is a no-op. On Linux it tries SO_RCVBUFFORCE and
// then SO_RCVBUF; elsewhere it calls conn.SetReadBuffer. An error from the
// OS is returned to the caller.
func SetUDPRecvBuffer(conn *net.UDPConn, n int) error {
	if n <= 0 {
		return nil
	}
	return setUDPRecvBuffer(conn, n)
}

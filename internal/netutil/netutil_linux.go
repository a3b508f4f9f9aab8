//go:build linux

package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

func setUDPRecvBuffer(conn *net.UDPConn, n int) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscallconn: %w", err)
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, n)
		if sockErr != nil {
			// SO_RCVBUFFORCE requires CAP_NET_ADMIN; fall back to the
			// unprivileged (kernel-doubled, capped by rmem_max) SO_RCVBUF.
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, n)
		}
	})
	if err != nil {
		return fmt.Errorf("raw control: %w", err)
	}
	if sockErr != nil {
		return fmt.Errorf("setsockopt SO_RCVBUF: %w", sockErr)
	}
	return nil
}

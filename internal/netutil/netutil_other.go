//go:build !linux

package netutil

import "net"

func setUDPRecvBuffer(conn *net.UDPConn, n int) error {
	return conn.SetReadBuffer(n)
}

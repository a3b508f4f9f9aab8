package netutil

import (
	"net"
	"testing"
)

func TestSetUDPRecvBuffer_NoopOnZero(t *testing.T) {
	if err := SetUDPRecvBuffer(nil, 0); err != nil {
		t.Fatalf("expected no-op for n<=0, got %v", err)
	}
}

func TestSetUDPRecvBuffer_Real(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("cannot bind UDP socket in this sandbox: %v", err)
	}
	defer conn.Close()
	if err := SetUDPRecvBuffer(conn, 1<<20); err != nil {
		t.Fatalf("unexpected error tuning recv buffer: %v", err)
	}
}

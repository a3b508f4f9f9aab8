package clientconn

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"speedd/internal/collector"
	"speedd/internal/session"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_PlateBeforeIdentificationIsError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := session.New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observations := make(chan collector.Observation, 1)
	subscriptions := make(chan collector.Subscription, 1)
	go Run(ctx, sess, observations, subscriptions)

	plateFrame := []byte{0x20, 1, 'X', 0, 0, 0, 0}
	go func() { _, _ = client.Write(plateFrame) }()

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		_, _ = client.Read(buf)
		close(done)
	}()
	select {
	case <-done:
		if buf[0] != 0x10 {
			t.Fatalf("expected error tag 0x10, got 0x%x", buf[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error frame")
	}
}

func TestRun_DuplicateHeartbeatIsError(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := session.New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	observations := make(chan collector.Observation, 1)
	subscriptions := make(chan collector.Subscription, 1)
	go Run(ctx, sess, observations, subscriptions)

	heartbeatFrame := []byte{0x40, 0, 0, 0, 0} // interval 0: granted but no ticking task
	go func() {
		_, _ = client.Write(heartbeatFrame)
		time.Sleep(50 * time.Millisecond)
		_, _ = client.Write(heartbeatFrame)
	}()

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		_, _ = client.Read(buf)
		close(done)
	}()
	select {
	case <-done:
		if buf[0] != 0x10 {
			t.Fatalf("expected error tag 0x10 on repeated heartbeat, got 0x%x", buf[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for error frame")
	}
}

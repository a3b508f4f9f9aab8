package session

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"speedd/internal/wire/speedd"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSession_ReaderDecodesFrames(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sess.StartReader(ctx)

	var buf bytes.Buffer
	buf.WriteByte(speedd.TagIAmCamera)
	writeU16 := func(v uint16) {
		buf.WriteByte(byte(v >> 8))
		buf.WriteByte(byte(v))
	}
	writeU16(123)
	writeU16(8)
	writeU16(60)
	go func() { _, _ = client.Write(buf.Bytes()) }()

	select {
	case ev := <-events:
		if ev.Err != nil {
			t.Fatalf("unexpected error: %v", ev.Err)
		}
		if !ev.Frame.IsIAmCamera() || ev.Frame.Camera.Road != 123 {
			t.Fatalf("unexpected frame: %+v", ev.Frame)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestSession_WriterFlushesToSocket(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.StartWriter(ctx)

	sess.SendHeartbeat()

	readBuf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		_, _ = client.Read(readBuf)
		close(done)
	}()
	select {
	case <-done:
		if readBuf[0] != speedd.TagHeartbeat {
			t.Fatalf("expected heartbeat tag, got 0x%x", readBuf[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
	}
}

func TestSession_ReaderReportsEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	sess := New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := sess.StartReader(ctx)

	client.Close()

	select {
	case ev := <-events:
		if ev.Err == nil {
			t.Fatal("expected terminal error on peer close")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for EOF event")
	}
}

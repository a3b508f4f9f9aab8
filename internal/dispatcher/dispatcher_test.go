package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"speedd/internal/collector"
	"speedd/internal/model"
	"speedd/internal/session"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_DeliversSubscribedTicket(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := session.New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.StartWriter(ctx)
	events := sess.StartReader(ctx)

	subscriptions := make(chan collector.Subscription)
	roadQueue := make(chan model.TicketRecord, 1)
	go func() {
		sub := <-subscriptions
		sub.Reply <- roadQueue
	}()

	go Run(ctx, sess, []uint16{123}, events, subscriptions)

	roadQueue <- model.TicketRecord{Plate: "UN1X", Road: 123, Mile1: 8, Timestamp1: 0, Mile2: 9, Timestamp2: 45, Speed: 8000}

	buf := make([]byte, 1)
	done := make(chan struct{})
	go func() {
		_, _ = client.Read(buf)
		close(done)
	}()
	select {
	case <-done:
		if buf[0] != 0x21 {
			t.Fatalf("expected ticket tag 0x21, got 0x%x", buf[0])
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ticket frame")
	}
}

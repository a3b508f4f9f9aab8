package camera

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

func TestRun_ForwardsPlateObservation(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sess := session.New(server, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.StartWriter(ctx)
	events := sess.StartReader(ctx)

	observations := make(chan collector.Observation, 1)
	cam := model.Camera{Road: 123, Mile: 8, Limit: 60}
	go Run(ctx, sess, cam, events, observations)

	plateFrame := []byte{0x20, 4, 'U', 'N', '1', 'X', 0, 0, 0, 45}
	go func() { _, _ = client.Write(plateFrame) }()

	select {
	case o := <-observations:
		if o.Plate != "UN1X" || o.Timestamp != 45 || o.Camera != cam {
			t.Fatalf("unexpected observation: %+v", o)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for observation")
	}
}

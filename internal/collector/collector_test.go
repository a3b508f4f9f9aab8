package collector

import (
	"context"
	"testing"
	"time"

	"speedd/internal/model"
)

func subscribe(t *testing.T, c *Collector, road uint16) <-chan model.TicketRecord {
	t.Helper()
	reply := make(chan (<-chan model.TicketRecord), 1)
	c.Subscriptions <- Subscription{Road: road, Reply: reply}
	select {
	case ch := <-reply:
		return ch
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription reply")
		return nil
	}
}

func recvTicket(t *testing.T, ch <-chan model.TicketRecord) model.TicketRecord {
	t.Helper()
	select {
	case tk := <-ch:
		return tk
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ticket")
		return model.TicketRecord{}
	}
}

func expectNoTicket(t *testing.T, ch <-chan model.TicketRecord) {
	t.Helper()
	select {
	case tk := <-ch:
		t.Fatalf("unexpected ticket: %+v", tk)
	case <-time.After(100 * time.Millisecond):
	}
}

// S1 — Basic violation.
func TestCollector_BasicViolation(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tickets := subscribe(t, c, 123)

	c.Observations <- Observation{Plate: "UN1X", Timestamp: 0, Camera: model.Camera{Road: 123, Mile: 8, Limit: 60}}
	c.Observations <- Observation{Plate: "UN1X", Timestamp: 45, Camera: model.Camera{Road: 123, Mile: 9, Limit: 60}}

	tk := recvTicket(t, tickets)
	want := model.TicketRecord{Plate: "UN1X", Road: 123, Mile1: 8, Timestamp1: 0, Mile2: 9, Timestamp2: 45, Speed: 8000}
	if tk != want {
		t.Fatalf("got %+v, want %+v", tk, want)
	}
	expectNoTicket(t, tickets)
}

// A single observation with no neighbors produces zero tickets.
func TestCollector_SingleObservationNoTicket(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tickets := subscribe(t, c, 1)
	c.Observations <- Observation{Plate: "X", Timestamp: 0, Camera: model.Camera{Road: 1, Mile: 0, Limit: 60}}
	expectNoTicket(t, tickets)
}

// S2 — Day gate: a second violating pair covering the same day is discarded.
func TestCollector_DayGateDiscardsSecondTicket(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tickets := subscribe(t, c, 123)

	c.Observations <- Observation{Plate: "UN1X", Timestamp: 0, Camera: model.Camera{Road: 123, Mile: 8, Limit: 60}}
	c.Observations <- Observation{Plate: "UN1X", Timestamp: 45, Camera: model.Camera{Road: 123, Mile: 9, Limit: 60}}
	first := recvTicket(t, tickets)
	if first.Speed != 8000 {
		t.Fatalf("unexpected first ticket: %+v", first)
	}

	// Another pair of cameras on the same road, same day, also violating.
	c.Observations <- Observation{Plate: "UN1X", Timestamp: 100, Camera: model.Camera{Road: 123, Mile: 20, Limit: 60}}
	c.Observations <- Observation{Plate: "UN1X", Timestamp: 145, Camera: model.Camera{Road: 123, Mile: 21, Limit: 60}}
	expectNoTicket(t, tickets)
}

// Both-neighbor pairs violate: only the earlier pair is dispatched.
func TestCollector_EarlierPairWinsOnInsertBetweenNeighbors(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tickets := subscribe(t, c, 5)

	// mile 0 @ t=0, mile 200 @ t=200 (prev-neighbor pair: 3600mph -> violation)
	c.Observations <- Observation{Plate: "Z", Timestamp: 0, Camera: model.Camera{Road: 5, Mile: 0, Limit: 10}}
	c.Observations <- Observation{Plate: "Z", Timestamp: 200, Camera: model.Camera{Road: 5, Mile: 200, Limit: 10}}
	// Drain the ticket produced by this initial pair (0,0)->(200,200): 3600mph, violation.
	first := recvTicket(t, tickets)
	if first.Timestamp1 != 0 || first.Timestamp2 != 200 {
		t.Fatalf("unexpected setup ticket: %+v", first)
	}

	// Now insert a point between them that also violates against BOTH
	// neighbors; only the earlier (prev,current) pair should dispatch,
	// because it covers day 0 same as the already-ticketed interval... to
	// avoid conflating with the day gate, use a plate with no prior tickets.
	c.Observations <- Observation{Plate: "Y", Timestamp: 0, Camera: model.Camera{Road: 5, Mile: 0, Limit: 10}}
	c.Observations <- Observation{Plate: "Y", Timestamp: 200, Camera: model.Camera{Road: 5, Mile: 0, Limit: 10}}
	c.Observations <- Observation{Plate: "Y", Timestamp: 100, Camera: model.Camera{Road: 5, Mile: 150, Limit: 10}}

	tk := recvTicket(t, tickets)
	if tk.Plate != "Y" || tk.Timestamp1 != 0 || tk.Timestamp2 != 100 {
		t.Fatalf("expected earlier pair to win, got %+v", tk)
	}
	expectNoTicket(t, tickets)
}

// S3 — Late dispatcher: a ticket buffered before any subscriber still
// arrives once a dispatcher subscribes.
func TestCollector_LateDispatcherReceivesBufferedTicket(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	c.Observations <- Observation{Plate: "UN1X", Timestamp: 0, Camera: model.Camera{Road: 123, Mile: 8, Limit: 60}}
	c.Observations <- Observation{Plate: "UN1X", Timestamp: 45, Camera: model.Camera{Road: 123, Mile: 9, Limit: 60}}

	// Give the collector a moment to dispatch into the (not-yet-subscribed) road queue.
	time.Sleep(100 * time.Millisecond)

	tickets := subscribe(t, c, 123)
	tk := recvTicket(t, tickets)
	if tk.Speed != 8000 {
		t.Fatalf("unexpected ticket: %+v", tk)
	}
}

func TestCollector_NoViolationUnderLimit(t *testing.T) {
	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tickets := subscribe(t, c, 9)
	c.Observations <- Observation{Plate: "OK", Timestamp: 0, Camera: model.Camera{Road: 9, Mile: 0, Limit: 60}}
	c.Observations <- Observation{Plate: "OK", Timestamp: 3600, Camera: model.Camera{Road: 9, Mile: 60, Limit: 60}}
	expectNoTicket(t, tickets)
}

func TestSaturatingMulUint16(t *testing.T) {
	if got := saturatingMulUint16(1000, 100); got != 65535 {
		t.Fatalf("expected saturation to 65535, got %d", got)
	}
	if got := saturatingMulUint16(80, 100); got != 8000 {
		t.Fatalf("expected 8000, got %d", got)
	}
}

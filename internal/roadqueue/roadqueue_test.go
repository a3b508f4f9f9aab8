package roadqueue

import (
	"testing"

	"speedd/internal/model"
)

func TestSubscribePublish_DeliversInOrder(t *testing.T) {
	tbl := New()
	ch := tbl.Subscribe(123)
	tbl.Publish(123, model.TicketRecord{Plate: "A", Road: 123})
	tbl.Publish(123, model.TicketRecord{Plate: "B", Road: 123})

	if got := <-ch; got.Plate != "A" {
		t.Fatalf("expected A first, got %q", got.Plate)
	}
	if got := <-ch; got.Plate != "B" {
		t.Fatalf("expected B second, got %q", got.Plate)
	}
}

func TestSubscribe_SameRoadReturnsSameQueue(t *testing.T) {
	tbl := New()
	a := tbl.Subscribe(7)
	b := tbl.Subscribe(7)
	tbl.Publish(7, model.TicketRecord{Plate: "X", Road: 7})
	// a and b are handles on the same underlying channel (repeated
	// Subscribe for one road must not create a second queue), so the
	// single published ticket is visible through either handle.
	got := <-a
	if got.Plate != "X" {
		t.Fatalf("unexpected ticket: %+v", got)
	}
	select {
	case <-b:
		t.Fatal("ticket delivered twice: Subscribe created two independent queues for one road")
	default:
	}
}

func TestSubscribe_DifferentRoadsAreIndependent(t *testing.T) {
	tbl := New()
	road1 := tbl.Subscribe(1)
	road2 := tbl.Subscribe(2)
	tbl.Publish(1, model.TicketRecord{Plate: "ROAD1", Road: 1})
	select {
	case <-road2:
		t.Fatal("road 2's queue should not have received road 1's ticket")
	default:
	}
	if got := <-road1; got.Plate != "ROAD1" {
		t.Fatalf("unexpected ticket: %+v", got)
	}
}

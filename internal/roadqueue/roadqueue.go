// Package roadqueue implements the per-road ticket queue table (§3 "Road
// queue table", §9 "Per-road MPMC queue"). A channel with multiple
// concurrent receivers already delivers each value to exactly one of them —
// that is the work-stealing contract verbatim — so a queue is just a
// buffered chan model.TicketRecord and "subscribing" is handing out the same
// channel value to another goroutine.
//
// Table is touched exclusively from inside the collector's single event
// loop (§5), so unlike the teacher's hub.Hub.clients map it carries no
// mutex.
package roadqueue

import "speedd/internal/model"

// Capacity is the reference bound from §9: "Bounded capacity matters for
// back-pressure; 1024 is the reference."
const Capacity = 1024

// Table is the road -> queue map, created lazily on first use.
type Table struct {
	queues map[uint16]chan model.TicketRecord
}

// New returns an empty table.
func New() *Table {
	return &Table{queues: make(map[uint16]chan model.TicketRecord)}
}

// queue returns the channel for road, creating it (and its backing buffer)
// on first access.
func (t *Table) queue(road uint16) chan model.TicketRecord {
	q, ok := t.queues[road]
	if !ok {
		q = make(chan model.TicketRecord, Capacity)
		t.queues[road] = q
	}
	return q
}

// Subscribe returns a receive-only handle on road's queue. Per §4.5, a
// dispatcher subscribed to multiple roads calls Subscribe once per road and
// fans the resulting channels into a merged stream.
func (t *Table) Subscribe(road uint16) <-chan model.TicketRecord {
	return t.queue(road)
}

// Publish enqueues a ticket for road. It may block if the queue is full,
// which is the intended back-pressure mechanism (§5): a slow/absent
// dispatcher stalls the collector's observation processing.
func (t *Table) Publish(road uint16, ticket model.TicketRecord) {
	t.queue(road) <- ticket
}

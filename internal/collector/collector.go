// Package collector implements the central violation detector (§4.7): the
// single actor that owns every plate's road history, the ticketed-days gate,
// and the road queue table. It is grounded on the teacher's
// transport.AsyncTx — a single goroutine that owns all mutable state and is
// driven by select over one input channel plus ctx.Done() — generalized here
// to select over two input channels (observations, subscriptions).
package collector

import (
	"context"
	"log/slog"
	"sort"

	"speedd/internal/logging"
	"speedd/internal/metrics"
	"speedd/internal/model"
	"speedd/internal/roadqueue"
)

// Observation is one plate sighting routed from a camera connection to the
// collector (§2 "Data flow"): the plate/timestamp pair plus the reporting
// camera's descriptor.
type Observation struct {
	Plate     string
	Timestamp uint32
	Camera    model.Camera
}

// Subscription is a dispatcher's request for a road's ticket queue. Reply
// receives the road's receive-only channel handle.
type Subscription struct {
	Road  uint16
	Reply chan<- (<-chan model.TicketRecord)
}

// Collector is the central violation detector. Construct with New and run
// with Run; all interaction happens over the Observations and Subscriptions
// channels.
type Collector struct {
	Observations  chan Observation
	Subscriptions chan Subscription

	logger *slog.Logger

	// history[plate][road] is a timestamp-sorted slice of sightings.
	// Neighbors-only lookups (§9) use sort.Search for the insertion index;
	// this is the idiomatic Go stand-in for the spec's "ordered mapping".
	history map[string]map[uint16][]model.Observation

	// ticketedDays[plate] is the set of days already covered by a
	// dispatched ticket for that plate (§4.7.2).
	ticketedDays map[string]map[uint32]struct{}

	// limits[road] is the posted limit in speed-hundredths (mph*100),
	// populated on first observation (§4.7 step 1). Widened past uint16
	// because the multiplication itself (unlike the dispatched ticket's
	// speed field) is not specified to saturate.
	limits map[uint16]uint32

	roads *roadqueue.Table
}

// New constructs a Collector whose input channels are buffered (256
// observations, 32 subscriptions); the small buffers keep camera/dispatcher
// tasks from stalling on every single send.
func New() *Collector {
	return &Collector{
		Observations:  make(chan Observation, 256),
		Subscriptions: make(chan Subscription, 32),
		logger:        logging.L().With("component", "collector"),
		history:       make(map[string]map[uint16][]model.Observation),
		ticketedDays:  make(map[string]map[uint32]struct{}),
		limits:        make(map[uint16]uint32),
		roads:         roadqueue.New(),
	}
}

// Run executes the collector's event loop until ctx is cancelled or both
// input channels are closed (§4.7.3: "terminates only when all report and
// subscription senders are closed").
func (c *Collector) Run(ctx context.Context) {
	obs := c.Observations
	subs := c.Subscriptions
	for obs != nil || subs != nil {
		select {
		case o, ok := <-obs:
			if !ok {
				obs = nil
				continue
			}
			c.handleObservation(o)
		case s, ok := <-subs:
			if !ok {
				subs = nil
				continue
			}
			c.handleSubscription(s)
		case <-ctx.Done():
			return
		}
	}
}

// handleSubscription implements §4.7 "On subscription".
func (c *Collector) handleSubscription(s Subscription) {
	ch := c.roads.Subscribe(s.Road)
	select {
	case s.Reply <- ch:
	default:
		// Reply send would block or the caller has already given up;
		// per §4.7 "If the reply send fails (subscriber gave up), log and
		// discard; the queue remains in the table." A buffered Reply of
		// size 1 (as dispatcher.subscribeAll provides) makes this send
		// non-blocking in the success case, so reaching default here means
		// the requester is already gone.
		c.logger.Info("subscription_reply_dropped", "road", s.Road)
	}
	metrics.IncSubscriptions(s.Road)
}

// handleObservation implements §4.7 "On observation", steps 1-7.
func (c *Collector) handleObservation(o Observation) {
	road := o.Camera.Road
	limitHundredths := uint32(o.Camera.Limit) * 100
	c.limits[road] = limitHundredths

	byRoad, ok := c.history[o.Plate]
	if !ok {
		byRoad = make(map[uint16][]model.Observation)
		c.history[o.Plate] = byRoad
	}
	track := byRoad[road]

	idx := sort.Search(len(track), func(i int) bool { return track[i].Timestamp >= o.Timestamp })

	var prev, next *model.Observation
	if idx > 0 {
		prev = &track[idx-1]
	}
	if idx < len(track) && track[idx].Timestamp >= o.Timestamp {
		// track[idx].Timestamp could equal o.Timestamp (degenerate, §9); the
		// spec defines next as "least timestamp greater-or-equal", so this
		// is still `next` even on an exact duplicate insertion point.
		next = &track[idx]
	}

	current := model.Observation{Timestamp: o.Timestamp, Mile: o.Camera.Mile}
	inserted := make([]model.Observation, len(track)+1)
	copy(inserted[:idx], track[:idx])
	inserted[idx] = current
	copy(inserted[idx+1:], track[idx:])
	byRoad[road] = inserted

	metrics.IncObservations(road)

	var candidates []model.TicketRecord
	if prev != nil {
		if t, ok := c.violation(o.Plate, road, limitHundredths, *prev, current); ok {
			candidates = append(candidates, t)
		}
	}
	if next != nil {
		if t, ok := c.violation(o.Plate, road, limitHundredths, current, *next); ok {
			candidates = append(candidates, t)
		}
	}

	for _, t := range candidates {
		if c.dispatchIfUnticketed(t) {
			break
		}
	}
}

// violation implements §4.7.1. a and b need not be ordered by time; the
// earlier of the two becomes (mile1,timestamp1).
func (c *Collector) violation(plate string, road uint16, limitHundredths uint32, a, b model.Observation) (model.TicketRecord, bool) {
	if a.Timestamp == b.Timestamp {
		return model.TicketRecord{}, false
	}
	early, late := a, b
	if late.Timestamp < early.Timestamp {
		early, late = late, early
	}
	dtSeconds := late.Timestamp - early.Timestamp
	dm := int64(late.Mile) - int64(early.Mile)
	if dm < 0 {
		dm = -dm
	}
	// raw_mph = round((Δm/Δt) * 3600), ties away from zero (§4.7.1).
	rawMPH := roundHalfAwayFromZero(dm*3600, int64(dtSeconds))

	speed := saturatingMulUint16(rawMPH, 100)
	if uint32(speed) <= limitHundredths {
		return model.TicketRecord{}, false
	}
	return model.TicketRecord{
		Plate:      plate,
		Road:       road,
		Mile1:      early.Mile,
		Timestamp1: early.Timestamp,
		Mile2:      late.Mile,
		Timestamp2: late.Timestamp,
		Speed:      speed,
	}, true
}

// roundHalfAwayFromZero computes round(num/den) for non-negative num, den>0,
// ties away from zero (§4.7.1 "ties to even or away-from-zero is
// acceptable").
func roundHalfAwayFromZero(num, den int64) int64 {
	return (num + den/2) / den
}

// saturatingMulUint16 computes min(a*b, uint16 max) without overflowing
// int64 math (§4.7.1, §9 "saturating multiplication").
func saturatingMulUint16(a, b int64) uint16 {
	const max = int64(^uint16(0))
	product := a * b
	if product > max || product < 0 {
		return uint16(max)
	}
	return uint16(product)
}

// dispatchIfUnticketed implements §4.7.2: the day gate and dispatch. It
// returns true if the ticket was actually sent (meaning the caller should
// stop trying further candidates from this observation).
func (c *Collector) dispatchIfUnticketed(t model.TicketRecord) bool {
	days := model.Days(t.Timestamp1, t.Timestamp2)
	ticketed, ok := c.ticketedDays[t.Plate]
	if !ok {
		ticketed = make(map[uint32]struct{})
		c.ticketedDays[t.Plate] = ticketed
	}
	for _, d := range days {
		if _, seen := ticketed[d]; seen {
			metrics.IncTicketsDiscarded(t.Road)
			return false
		}
	}
	for _, d := range days {
		ticketed[d] = struct{}{}
	}
	c.roads.Publish(t.Road, t)
	metrics.IncTicketsDispatched(t.Road)
	c.logger.Info("ticket_dispatched", "plate", t.Plate, "road", t.Road, "speed", t.Speed)
	return true
}

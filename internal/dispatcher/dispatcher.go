// Package dispatcher implements the dispatcher client role (§4.5): subscribe
// to one or more roads' ticket queues, fan them into a single merged stream,
// and forward tickets plus heartbeat ticks to the client. The fan-in
// mirrors the teacher's one-goroutine-owns-one-channel's-send-side idiom
// (internal/server/writer.go owns conn writes); here each subscribed road
// gets its own forwarder goroutine feeding a shared merged channel, which is
// the standard Go fan-in shape for "N sources, one sink".
package dispatcher

import (
	"context"

	"speedd/internal/collector"
	"speedd/internal/metrics"
	"speedd/internal/model"
	"speedd/internal/session"
)

// Run subscribes to roads, then serves the connection until it ends.
func Run(ctx context.Context, sess *session.Session, roads []uint16, events <-chan session.FrameEvent, subscriptions chan<- collector.Subscription) {
	metrics.DispatchersConnected.Inc()
	defer metrics.DispatchersConnected.Dec()
	merged := subscribeAll(ctx, sess, roads, subscriptions)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Ticks:
			sess.SendHeartbeat()
		case t, ok := <-merged:
			if !ok {
				continue
			}
			sess.SendTicket(t)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				if !session.IsEOF(ev.Err) {
					metrics.IncMalformed()
					sess.SendError("malformed frame")
				}
				return
			}
			switch {
			case ev.Frame.IsWantHeartbeat():
				sess.GrantHeartbeat(ctx, ev.Frame.Interval)
			default:
				metrics.IncError(metrics.ErrProtocolMisuse)
				sess.SendError("unexpected frame")
			}
		}
	}
}

// subscribeAll requests a receive-endpoint for each road (§4.5 "On
// construction") and fans them into one channel. It waits for each road's
// reply in turn; if ctx is cancelled first, it returns the merged channel
// fed only by the roads whose replies had already arrived.
func subscribeAll(ctx context.Context, sess *session.Session, roads []uint16, subscriptions chan<- collector.Subscription) <-chan model.TicketRecord {
	merged := make(chan model.TicketRecord)
	for _, road := range roads {
		reply := make(chan (<-chan model.TicketRecord), 1)
		select {
		case subscriptions <- collector.Subscription{Road: road, Reply: reply}:
		case <-ctx.Done():
			return merged
		}
		select {
		case ch := <-reply:
			go forward(ctx, ch, merged)
		case <-ctx.Done():
			return merged
		}
	}
	return merged
}

// forward copies tickets from one road's queue into the merged stream until
// ctx is cancelled. Each road's own enqueue order is preserved (§5); order
// across roads is unspecified, satisfied by plain concurrent forwarding.
func forward(ctx context.Context, from <-chan model.TicketRecord, to chan<- model.TicketRecord) {
	for {
		select {
		case t, ok := <-from:
			if !ok {
				return
			}
			select {
			case to <- t:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

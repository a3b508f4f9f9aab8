// Package clientconn implements the pre-identification phase of a SPEEDD
// connection (§4.3): decode frames until the client announces a role, then
// delegate to internal/camera or internal/dispatcher. It is grounded on the
// teacher's per-connection accept/handshake split in internal/server, but
// the SPEEDD handshake is itself part of the framed protocol rather than a
// distinct preamble, so there is no separate handshake.go here.
package clientconn

import (
	"context"

	"speedd/internal/camera"
	"speedd/internal/collector"
	"speedd/internal/dispatcher"
	"speedd/internal/metrics"
	"speedd/internal/model"
	"speedd/internal/session"
)

// Run drives one accepted connection through pre-identification and, once
// identified, the remainder of its lifetime under the chosen role. It
// returns when the connection ends (EOF, a fatal decode error, or ctx
// cancellation).
func Run(ctx context.Context, sess *session.Session, observations chan<- collector.Observation, subscriptions chan<- collector.Subscription) {
	sess.StartWriter(ctx)
	events := sess.StartReader(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Ticks:
			// A heartbeat granted before identification still ticks; §4.3
			// only prescribes WantHeartbeat handling, not what a tick does
			// pre-identification, but §3 "Heartbeat handle" and §4.2 are
			// role-agnostic, so emit the frame here too.
			sess.SendHeartbeat()
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
			case ev.Frame.IsIAmCamera():
				cam := model.Camera{Road: ev.Frame.Camera.Road, Mile: ev.Frame.Camera.Mile, Limit: ev.Frame.Camera.Limit}
				camera.Run(ctx, sess, cam, events, observations)
				return
			case ev.Frame.IsIAmDispatcher():
				dispatcher.Run(ctx, sess, ev.Frame.Roads, events, subscriptions)
				return
			case ev.Frame.IsWantHeartbeat():
				sess.GrantHeartbeat(ctx, ev.Frame.Interval)
			case ev.Frame.IsPlate():
				metrics.IncError(metrics.ErrProtocolMisuse)
				sess.SendError("You are no camera")
			default:
				metrics.IncError(metrics.ErrProtocolMisuse)
				sess.SendError("unexpected frame")
			}
		}
	}
}


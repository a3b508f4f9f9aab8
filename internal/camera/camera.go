// Package camera implements the camera client role (§4.4): forward plate
// observations to the Collector and answer heartbeat ticks, for the
// lifetime of a connection that has identified itself with IAmCamera.
package camera

import (
	"context"

	"speedd/internal/collector"
	"speedd/internal/metrics"
	"speedd/internal/model"
	"speedd/internal/session"
)

// Run consumes events (already started by the caller, per clientconn's
// hand-off) until the connection ends. cam is the identity declared by the
// client's IAmCamera frame.
func Run(ctx context.Context, sess *session.Session, cam model.Camera, events <-chan session.FrameEvent, observations chan<- collector.Observation) {
	metrics.CamerasConnected.Inc()
	defer metrics.CamerasConnected.Dec()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Ticks:
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
			case ev.Frame.IsPlate():
				select {
				case observations <- collector.Observation{Plate: ev.Frame.Plate, Timestamp: ev.Frame.Timestamp, Camera: cam}:
				case <-ctx.Done():
					return
				}
			case ev.Frame.IsWantHeartbeat():
				sess.GrantHeartbeat(ctx, ev.Frame.Interval)
			case ev.Frame.IsIAmCamera(), ev.Frame.IsIAmDispatcher():
				metrics.IncError(metrics.ErrProtocolMisuse)
				sess.SendError("You have already identified yourself")
			default:
				metrics.IncError(metrics.ErrProtocolMisuse)
				sess.SendError("unexpected frame")
			}
		}
	}
}

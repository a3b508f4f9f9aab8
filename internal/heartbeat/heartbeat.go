// Package heartbeat implements the per-client heartbeat task (§4.2): a
// single-use request that, once granted, ticks at a fixed cadence until the
// owning connection goes away.
package heartbeat

import (
	"context"
	"time"
)

// Handle is the one-shot "may this client request a heartbeat" capability
// (§9 "Heartbeat handle as one-shot"): Take consumes it; a second call
// returns false so the caller can reply with the "already specified"
// protocol error.
type Handle struct {
	taken bool
}

// NewHandle returns a fresh, untaken handle.
func NewHandle() *Handle { return &Handle{} }

// Take consumes the handle on its first call and returns true. Subsequent
// calls return false.
func (h *Handle) Take() bool {
	if h.taken {
		return false
	}
	h.taken = true
	return true
}

// Start launches a ticking goroutine that sends on out every d, grounded on
// the teacher's writer.go time.NewTicker+select flush loop. A zero duration
// is rejected by the caller before Start is ever invoked (§4.2 "zero
// duration requests are silently ignored: no task spawned"); Start itself
// assumes d>0.
//
// The task exits only when ctx is done; a send on out that nobody receives
// waits until then. out should be an unbuffered or small-buffered channel
// owned by the per-connection task, and the caller selects on out alongside
// its other event sources. There is no separate "receiver dropped" detection
// beyond ctx cancellation: the owning connection task cancels ctx when it
// exits, which is how "exits when the receiver is dropped" (§4.2) is
// realized without relying on close-after-garbage-collection semantics.
func Start(ctx context.Context, d time.Duration, out chan<- struct{}) {
	go func() {
		t := time.NewTicker(d)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				select {
				case out <- struct{}{}:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Package session owns the per-connection I/O plumbing shared by every
// SPEEDD client role (§4.3-§4.5): a reader goroutine that feeds decoded
// frames (or a terminal error) onto a channel, and a writer goroutine that
// drains an outbound byte-slice channel to the socket. It is grounded on the
// teacher's internal/server reader.go/writer.go split — one goroutine per
// direction, per connection — adapted from CAN-frame batching to SPEEDD's
// one-message-at-a-time framing, since ticket/heartbeat traffic is far
// lower rate than a CAN bus.
package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"speedd/internal/heartbeat"
	"speedd/internal/metrics"
	"speedd/internal/model"
	"speedd/internal/wire/speedd"
)

// FrameEvent is one decoded client frame, or a terminal error that ends the
// connection (io.EOF, a read error, or a malformed-frame decode error).
type FrameEvent struct {
	Frame *speedd.ClientFrame
	Err   error
}

// Session bundles the socket, decoder, outbound writer, and heartbeat
// handle for one accepted SPEEDD connection. It outlives role transitions:
// the same Session moves from clientconn's pre-identification loop into
// whichever of camera.Run / dispatcher.Run the client identifies as (§4.3),
// so a WantHeartbeat granted before identification keeps ticking afterward.
type Session struct {
	Conn   net.Conn
	Logger *slog.Logger

	dec *speedd.Decoder
	out chan []byte

	// HB is the one-shot heartbeat capability for this connection (§4.2).
	HB *heartbeat.Handle
	// Ticks receives one value per heartbeat cadence tick, once a
	// WantHeartbeat request has been granted. Buffered so a heartbeat
	// firing concurrently with a frame being handled never blocks the
	// ticking goroutine on a momentarily-busy role loop.
	Ticks chan struct{}
}

// New constructs a Session around an accepted connection.
func New(conn net.Conn, logger *slog.Logger) *Session {
	return &Session{
		Conn:   conn,
		Logger: logger,
		dec:    &speedd.Decoder{},
		out:    make(chan []byte, 16),
		HB:     heartbeat.NewHandle(),
		Ticks:  make(chan struct{}, 1),
	}
}

// StartWriter launches the goroutine that serializes writes to Conn. It
// exits when ctx is cancelled or the socket write fails.
func (s *Session) StartWriter(ctx context.Context) {
	go func() {
		for {
			select {
			case b := <-s.out:
				if _, err := s.Conn.Write(b); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// StartReader launches the goroutine that reads from Conn, decodes frames
// incrementally (§4.1), and publishes one FrameEvent per decoded frame or
// terminal error. The returned channel is closed after the terminal error
// is sent.
func (s *Session) StartReader(ctx context.Context) <-chan FrameEvent {
	events := make(chan FrameEvent, 1)
	go func() {
		defer close(events)
		buf := make([]byte, 4096)
		for {
			fr, err := s.dec.Decode()
			if err == nil {
				select {
				case events <- FrameEvent{Frame: fr}:
				case <-ctx.Done():
					return
				}
				continue
			}
			if !errors.Is(err, speedd.ErrShortBuffer) {
				// Malformed/unknown-tag frame: fatal per §4.1.
				select {
				case events <- FrameEvent{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			n, rerr := s.Conn.Read(buf)
			if n > 0 {
				s.dec.Write(buf[:n])
			}
			if rerr != nil {
				select {
				case events <- FrameEvent{Err: rerr}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return events
}

// Send best-effort writes b to the connection via the writer goroutine. It
// never blocks the caller for longer than the outbound buffer allows; a
// full buffer (a wedged client) silently drops the message rather than
// stalling the role loop, matching §7's treatment of a slow/gone peer as a
// local, non-fatal condition.
func (s *Session) Send(b []byte) {
	select {
	case s.out <- b:
	default:
		s.Logger.Warn("outbound_buffer_full")
	}
}

// SendError encodes and sends an Error frame (§4.1).
func (s *Session) SendError(msg string) {
	var buf bytes.Buffer
	speedd.EncodeError(&buf, msg)
	s.Send(buf.Bytes())
}

// SendHeartbeat encodes and sends a Heartbeat frame (§4.1).
func (s *Session) SendHeartbeat() {
	var buf bytes.Buffer
	speedd.EncodeHeartbeat(&buf)
	s.Send(buf.Bytes())
	metrics.IncHeartbeats()
}

// SendTicket encodes and sends a Ticket frame (§4.1).
func (s *Session) SendTicket(t model.TicketRecord) {
	var buf bytes.Buffer
	speedd.EncodeTicket(&buf, t.Plate, t.Road, t.Mile1, t.Timestamp1, t.Mile2, t.Timestamp2, t.Speed)
	s.Send(buf.Bytes())
}

// GrantHeartbeat implements §4.2's one-shot grant: the first call with
// deciseconds>0 starts a ticking goroutine feeding s.Ticks; deciseconds==0
// is silently ignored (no task, no error, but the handle is still
// consumed); any call after the first replies with the protocol error.
// Shared verbatim by clientconn, camera, and dispatcher, since a
// WantHeartbeat frame is legal for the connection in any of those states.
func (s *Session) GrantHeartbeat(ctx context.Context, deciseconds uint32) {
	if !s.HB.Take() {
		metrics.IncError(metrics.ErrProtocolMisuse)
		s.SendError("You already specified a heartbeat")
		return
	}
	if deciseconds == 0 {
		return
	}
	heartbeat.Start(ctx, time.Duration(deciseconds)*100*time.Millisecond, s.Ticks)
}

// IsEOF reports whether err represents a clean peer-initiated close, as
// opposed to a decode/protocol error or an unexpected socket failure.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

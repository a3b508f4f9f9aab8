// Package lrcp implements the LRCP session layer (§4.8): a single actor —
// Manager — owns every session's reassembly and retransmission state, fed
// by inbound datagrams and two shared tickers (retransmit, inactivity
// sweep). This is transport.AsyncTx's single-goroutine-owns-all-state shape
// (see internal/collector for the SPEEDD analogue) applied at listener
// granularity rather than per-connection, because LRCP datagrams for every
// session fan in over one net.PacketConn (§9 "additional open question
// resolved": one manager goroutine, not one per session).
package lrcp

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"speedd/internal/logging"
	"speedd/internal/metrics"
	"speedd/internal/wire/lrcp"
)

// maxRawChunk bounds the unescaped payload handed to one outgoing data
// frame. Escaping can at most double a chunk's length, and the frame
// overhead ("/data/<sid>/<pos>/" plus trailing slash) is a few bytes, so
// this keeps the formatted frame comfortably under the 1000-byte reference
// MTU ceiling (§4.8) even in the worst case of an all-backslash payload.
const maxRawChunk = 450

// sessionExpirySweepDivisor controls how often the Manager checks for
// inactive sessions relative to the configured expiry — checking more
// often than the expiry itself keeps the worst-case lateness small without
// a per-session timer.
const sessionExpirySweepDivisor = 4

// Delivery is one contiguous chunk of application bytes delivered upward
// from a session, in order, with no gaps or duplicates (§8 invariant 5).
type Delivery struct {
	Session uint32
	Addr    net.Addr
	Data    []byte
}

type sessionKey struct {
	id   uint32
	addr string
}

type session struct {
	addr     net.Addr
	recvLen  uint32
	sentLen  uint32
	ackedLen uint32
	// pending holds exactly the unacked outbound region [ackedLen, sentLen).
	pending      []byte
	lastActivity time.Time
}

type incomingDatagram struct {
	data []byte
	addr net.Addr
}

type appSendRequest struct {
	id    uint32
	addr  net.Addr
	data  []byte
	reply chan error
}

// Manager is the single actor owning all LRCP session state for one
// net.PacketConn.
type Manager struct {
	conn   net.PacketConn
	logger *slog.Logger

	retransmitEvery time.Duration
	sessionExpiry   time.Duration

	sessions map[sessionKey]*session

	incoming   chan incomingDatagram
	appSends   chan appSendRequest
	deliveries chan Delivery
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithRetransmitInterval overrides the default 3s retransmit cadence (§9).
func WithRetransmitInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.retransmitEvery = d
		}
	}
}

// WithSessionExpiry overrides the default 60s inactivity timeout (§9).
func WithSessionExpiry(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.sessionExpiry = d
		}
	}
}

// WithManagerLogger overrides the default process logger.
func WithManagerLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewManager constructs a Manager around conn. Call ListenAndServe to run
// its datagram reader and event loop.
func NewManager(conn net.PacketConn, opts ...Option) *Manager {
	m := &Manager{
		conn:            conn,
		logger:          logging.L().With("component", "lrcp_manager"),
		retransmitEvery: 3 * time.Second,
		sessionExpiry:   60 * time.Second,
		sessions:        make(map[sessionKey]*session),
		incoming:        make(chan incomingDatagram, 64),
		appSends:        make(chan appSendRequest, 16),
		deliveries:      make(chan Delivery, 64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Deliveries returns the channel of upward-delivered application bytes.
func (m *Manager) Deliveries() <-chan Delivery { return m.deliveries }

// Send enqueues data for sid's unacked region, to be segmented and
// transmitted by the event loop. Returns an error if no session with sid
// exists at addr (the application layer is never expected to send before a
// connect has been observed by the Manager).
func (m *Manager) Send(ctx context.Context, sid uint32, addr net.Addr, data []byte) error {
	reply := make(chan error, 1)
	req := appSendRequest{id: sid, addr: addr, data: data, reply: reply}
	select {
	case m.appSends <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenAndServe runs the datagram reader and the event loop until ctx is
// cancelled or the connection fails permanently.
func (m *Manager) ListenAndServe(ctx context.Context) error {
	readErr := make(chan error, 1)
	go m.readLoop(ctx, readErr)
	runErr := make(chan error, 1)
	go func() { runErr <- m.run(ctx) }()

	select {
	case <-ctx.Done():
		_ = m.conn.Close()
		<-runErr
		return nil
	case err := <-readErr:
		return err
	case err := <-runErr:
		return err
	}
}

func (m *Manager) readLoop(ctx context.Context, errOut chan<- error) {
	buf := make([]byte, 2048)
	for {
		n, addr, err := m.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			errOut <- err
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		select {
		case m.incoming <- incomingDatagram{data: datagram, addr: addr}:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) run(ctx context.Context) error {
	retransmitTicker := time.NewTicker(m.retransmitEvery)
	defer retransmitTicker.Stop()
	sweepTicker := time.NewTicker(m.sessionExpiry / sessionExpirySweepDivisor)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case dg := <-m.incoming:
			m.handleDatagram(dg)
		case req := <-m.appSends:
			m.handleAppSend(req)
		case <-retransmitTicker.C:
			m.retransmitAll()
		case <-sweepTicker.C:
			m.sweepExpired()
		}
	}
}

func (m *Manager) handleDatagram(dg incomingDatagram) {
	fr, err := lrcp.Parse(dg.data)
	if err != nil {
		metrics.IncLRCPMalformed()
		return
	}
	k := sessionKey{id: fr.Session, addr: dg.addr.String()}
	now := nowFunc()

	switch fr.Type {
	case lrcp.Connect:
		sess, ok := m.sessions[k]
		if !ok {
			sess = &session{addr: dg.addr, lastActivity: now}
			m.sessions[k] = sess
			metrics.IncLRCPSessionOpened()
			metrics.SetLRCPSessionsActive(len(m.sessions))
		}
		sess.lastActivity = now
		m.sendAck(dg.addr, fr.Session, sess.recvLen)

	case lrcp.Data:
		sess, ok := m.sessions[k]
		if !ok {
			m.sendClose(dg.addr, fr.Session)
			return
		}
		sess.lastActivity = now
		switch {
		case fr.Pos == sess.recvLen:
			if len(fr.Payload) > 0 {
				sess.recvLen += uint32(len(fr.Payload))
				metrics.AddLRCPBytesIn(len(fr.Payload))
				select {
				case m.deliveries <- Delivery{Session: fr.Session, Addr: dg.addr, Data: fr.Payload}:
				default:
					m.logger.Warn("delivery_buffer_full", "session", fr.Session)
				}
			}
			m.sendAck(dg.addr, fr.Session, sess.recvLen)
		case fr.Pos < sess.recvLen:
			// Duplicate/stale: resynchronize the peer (§4.8).
			m.sendAck(dg.addr, fr.Session, sess.recvLen)
		default:
			// Gap: ignore, no ack.
		}

	case lrcp.Ack:
		sess, ok := m.sessions[k]
		if !ok {
			m.sendClose(dg.addr, fr.Session)
			return
		}
		sess.lastActivity = now
		switch {
		case fr.Len > sess.sentLen:
			m.closeSession(k, sess)
		case fr.Len <= sess.ackedLen:
			// Stale ack: ignore.
		default:
			advanced := fr.Len - sess.ackedLen
			sess.pending = sess.pending[advanced:]
			sess.ackedLen = fr.Len
		}

	case lrcp.Close:
		if sess, ok := m.sessions[k]; ok {
			m.forgetSession(k, sess)
		}
		m.sendClose(dg.addr, fr.Session)
	}
}

func (m *Manager) handleAppSend(req appSendRequest) {
	k := sessionKey{id: req.id, addr: req.addr.String()}
	sess, ok := m.sessions[k]
	if !ok {
		req.reply <- errUnknownSession(req.id)
		return
	}
	sess.pending = append(sess.pending, req.data...)
	sess.sentLen += uint32(len(req.data))
	metrics.AddLRCPBytesOut(len(req.data))
	m.sendPending(req.id, sess)
	req.reply <- nil
}

// sendPending segments sess's unacked region into ≤maxRawChunk-byte data
// frames starting at ackedLen and writes each to the wire.
func (m *Manager) sendPending(sid uint32, sess *session) {
	if len(sess.pending) == 0 {
		return
	}
	pos := sess.ackedLen
	remaining := sess.pending
	for len(remaining) > 0 {
		n := len(remaining)
		if n > maxRawChunk {
			n = maxRawChunk
		}
		chunk := remaining[:n]
		m.writeFrame(sess.addr, lrcp.Frame{Type: lrcp.Data, Session: sid, Pos: pos, Payload: chunk})
		pos += uint32(n)
		remaining = remaining[n:]
	}
}

func (m *Manager) retransmitAll() {
	for sid, sess := range m.sessions {
		if len(sess.pending) > 0 {
			metrics.IncLRCPRetransmit()
			m.sendPending(sid.id, sess)
		}
	}
}

func (m *Manager) sweepExpired() {
	now := nowFunc()
	for k, sess := range m.sessions {
		if now.Sub(sess.lastActivity) >= m.sessionExpiry {
			m.sendClose(sess.addr, k.id)
			m.forgetSession(k, sess)
		}
	}
}

func (m *Manager) closeSession(k sessionKey, sess *session) {
	m.sendClose(sess.addr, k.id)
	m.forgetSession(k, sess)
}

func (m *Manager) forgetSession(k sessionKey, sess *session) {
	delete(m.sessions, k)
	metrics.IncLRCPSessionClosed()
	metrics.SetLRCPSessionsActive(len(m.sessions))
}

func (m *Manager) sendAck(addr net.Addr, sid uint32, length uint32) {
	m.writeFrame(addr, lrcp.Frame{Type: lrcp.Ack, Session: sid, Len: length})
}

func (m *Manager) sendClose(addr net.Addr, sid uint32) {
	m.writeFrame(addr, lrcp.Frame{Type: lrcp.Close, Session: sid})
}

func (m *Manager) writeFrame(addr net.Addr, fr lrcp.Frame) {
	wire := []byte(lrcp.Format(fr))
	if _, err := m.conn.WriteTo(wire, addr); err != nil {
		m.logger.Warn("lrcp_write_error", "error", err)
		metrics.IncError(metrics.ErrUDPWrite)
	}
}

// nowFunc is indirected so tests can observe expiry sweeps deterministically
// without sleeping for the full default timeout.
var nowFunc = time.Now

type errUnknownSession uint32

func (e errUnknownSession) Error() string {
	return "lrcp: no session " + strconv.FormatUint(uint64(e), 10)
}

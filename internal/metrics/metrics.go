// Package metrics exposes Prometheus counters/gauges for SPEEDD and LRCP,
// wrapping github.com/prometheus/client_golang exactly as the teacher's
// internal/metrics package wraps it for the CAN gateway: promauto-registered
// series plus a cheap local-atomic mirror (Snap) for environments that log
// metrics periodically instead of scraping /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"speedd/internal/logging"
)

// Prometheus counters
var (
	ObservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedd_observations_total",
		Help: "Total plate observations processed by the collector, by road.",
	}, []string{"road"})
	TicketsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedd_tickets_dispatched_total",
		Help: "Total tickets dispatched to a road queue, by road.",
	}, []string{"road"})
	TicketsDiscardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedd_tickets_discarded_total",
		Help: "Total candidate tickets discarded by the once-per-day gate, by road.",
	}, []string{"road"})
	SubscriptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speedd_subscriptions_total",
		Help: "Total dispatcher subscriptions accepted, by road.",
	}, []string{"road"})
	CamerasConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speedd_cameras_connected",
		Help: "Current number of connected camera clients.",
	})
	DispatchersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speedd_dispatchers_connected",
		Help: "Current number of connected dispatcher clients.",
	})
	HeartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedd_heartbeats_sent_total",
		Help: "Total heartbeat frames sent to clients.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speedd_malformed_frames_total",
		Help: "Total rejected malformed or unrecognized SPEEDD client frames.",
	})
	LRCPSessionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_sessions_opened_total",
		Help: "Total LRCP sessions allocated.",
	})
	LRCPSessionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_sessions_closed_total",
		Help: "Total LRCP sessions torn down (close or timeout).",
	})
	LRCPSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lrcp_sessions_active",
		Help: "Current number of live LRCP sessions.",
	})
	LRCPRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_retransmits_total",
		Help: "Total LRCP data-frame retransmissions.",
	})
	LRCPBytesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_bytes_in_total",
		Help: "Total application bytes delivered upward by LRCP sessions.",
	})
	LRCPBytesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_bytes_out_total",
		Help: "Total application bytes accepted from the application for LRCP sessions.",
	})
	LRCPMalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lrcp_malformed_frames_total",
		Help: "Total LRCP datagrams dropped for failing to parse.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality), matching
// the teacher's mapErrToMetric approach (internal/server/errors.go).
const (
	ErrTCPAccept      = "tcp_accept"
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
	ErrProtocolMisuse = "protocol_misuse"
	ErrMalformedFrame = "malformed_frame"
	ErrLRCPParse      = "lrcp_parse"
	ErrLRCPAbort      = "lrcp_abort"
	ErrUDPRead        = "udp_read"
	ErrUDPWrite       = "udp_write"
)

// StartHTTP serves Prometheus metrics at /metrics and a /ready probe.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localObservations uint64
	localDispatched   uint64
	localDiscarded    uint64
	localErrors       uint64
	localMalformed    uint64
	localLRCPRetrans  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Observations uint64
	Dispatched   uint64
	Discarded    uint64
	Errors       uint64
	Malformed    uint64
	LRCPRetrans  uint64
}

func Snap() Snapshot {
	return Snapshot{
		Observations: atomic.LoadUint64(&localObservations),
		Dispatched:   atomic.LoadUint64(&localDispatched),
		Discarded:    atomic.LoadUint64(&localDiscarded),
		Errors:       atomic.LoadUint64(&localErrors),
		Malformed:    atomic.LoadUint64(&localMalformed),
		LRCPRetrans:  atomic.LoadUint64(&localLRCPRetrans),
	}
}

func roadLabel(road uint16) string { return strconv.FormatUint(uint64(road), 10) }

// IncObservations records one processed observation for road.
func IncObservations(road uint16) {
	ObservationsTotal.WithLabelValues(roadLabel(road)).Inc()
	atomic.AddUint64(&localObservations, 1)
}

// IncTicketsDispatched records one dispatched ticket for road.
func IncTicketsDispatched(road uint16) {
	TicketsDispatchedTotal.WithLabelValues(roadLabel(road)).Inc()
	atomic.AddUint64(&localDispatched, 1)
}

// IncTicketsDiscarded records one day-gate-discarded candidate for road.
func IncTicketsDiscarded(road uint16) {
	TicketsDiscardedTotal.WithLabelValues(roadLabel(road)).Inc()
	atomic.AddUint64(&localDiscarded, 1)
}

// IncSubscriptions records one accepted dispatcher subscription for road.
func IncSubscriptions(road uint16) {
	SubscriptionsTotal.WithLabelValues(roadLabel(road)).Inc()
}

// IncHeartbeats records one heartbeat frame sent.
func IncHeartbeats() { HeartbeatsSent.Inc() }

// IncMalformed records one rejected SPEEDD client frame.
func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// IncLRCPSessionOpened records one allocated LRCP session.
func IncLRCPSessionOpened() { LRCPSessionsOpened.Inc() }

// IncLRCPSessionClosed records one torn-down LRCP session.
func IncLRCPSessionClosed() { LRCPSessionsClosed.Inc() }

// SetLRCPSessionsActive sets the current live-session gauge.
func SetLRCPSessionsActive(n int) { LRCPSessionsActive.Set(float64(n)) }

// IncLRCPRetransmit records one LRCP data-frame retransmission.
func IncLRCPRetransmit() {
	LRCPRetransmits.Inc()
	atomic.AddUint64(&localLRCPRetrans, 1)
}

// AddLRCPBytesIn adds n delivered application bytes.
func AddLRCPBytesIn(n int) { LRCPBytesIn.Add(float64(n)) }

// AddLRCPBytesOut adds n accepted application bytes.
func AddLRCPBytesOut(n int) { LRCPBytesOut.Add(float64(n)) }

// IncLRCPMalformed records one dropped unparseable LRCP datagram.
func IncLRCPMalformed() { LRCPMalformedFrames.Inc() }

// IncError increments the bounded-cardinality error counter for label.
func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register error label series so the first real error doesn't pay
	// registration latency.
	for _, lbl := range []string{
		ErrTCPAccept, ErrTCPRead, ErrTCPWrite, ErrProtocolMisuse,
		ErrMalformedFrame, ErrLRCPParse, ErrLRCPAbort, ErrUDPRead, ErrUDPWrite,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }

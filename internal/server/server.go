// Package server implements the SPEEDD Server Supervisor (§4.6): it owns
// the Collector and the two shared channels feeding it, accepts TCP
// connections, and spawns one clientconn.Run per connection. Grounded on
// the teacher's internal/server.Server — functional-option construction,
// Serve(ctx)/acceptOnce/Shutdown(ctx) shape, a WaitGroup tracking
// per-connection goroutines — with the CAN hub/codec/backend wiring
// replaced by the Collector and clientconn.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"speedd/internal/clientconn"
	"speedd/internal/collector"
	"speedd/internal/logging"
	"speedd/internal/metrics"
	"speedd/internal/session"
)

// Server owns the TCP listener and the Collector actor.
type Server struct {
	mu   sync.RWMutex
	addr string

	Collector *collector.Collector

	clientReadTO time.Duration
	maxClients   int

	readyOnce sync.Once
	readyCh   chan struct{}
	lastErrMu sync.Mutex
	lastErr   error
	errCh     chan error

	listener net.Listener

	clientsMu sync.RWMutex
	clients   map[net.Conn]struct{}

	wg            sync.WaitGroup
	logger        *slog.Logger
	nextConnID    uint64
	totalAccepted atomic.Uint64
	totalRejected atomic.Uint64
}

const defaultReadDeadline = 0 // SPEEDD connections are long-lived by default; 0 disables the deadline.

// ServerOption configures a Server at construction.
type ServerOption func(*Server)

// New constructs a Server and its Collector (§4.6 "Spawns the Collector
// once at startup"); the Collector's goroutine is started by Serve, which
// also accepts connections.
func New(opts ...ServerOption) *Server {
	s := &Server{
		clientReadTO: defaultReadDeadline,
		readyCh:      make(chan struct{}),
		errCh:        make(chan error, 1),
		clients:      make(map[net.Conn]struct{}),
		logger:       logging.L(),
		Collector:    collector.New(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}
func WithClientReadTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.clientReadTO = d
		}
	}
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve runs the Collector and accepts TCP clients, spawning one
// clientconn.Run goroutine per connection, until ctx is cancelled or the
// listener fails.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.Collector.Run(ctx) }()

	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.listener = ln
	if s.readyCh != nil {
		s.readyOnce.Do(func() { close(s.readyCh) })
	}
	s.logger.Info("tcp_listen", "addr", s.Addr())
	s.logger.Info("ready")
	go func() { <-ctx.Done(); _ = ln.Close() }()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and spawns its per-client task.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok {
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	if s.maxClients > 0 && s.clientCount() >= s.maxClients {
		s.totalRejected.Add(1)
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	s.clientsMu.Unlock()
	connLogger.Info("client_connected")

	connCtx, cancel := context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			_ = conn.Close()
			s.clientsMu.Lock()
			delete(s.clients, conn)
			s.clientsMu.Unlock()
			connLogger.Info("client_disconnected")
		}()
		if s.clientReadTO > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.clientReadTO))
		}
		sess := session.New(conn, connLogger)
		clientconn.Run(connCtx, sess, s.Collector.Observations, s.Collector.Subscriptions)
	}()
	return nil
}

func (s *Server) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Shutdown gracefully closes the listener and every connection, then waits
// for all spawned goroutines (the Collector and every client task) to exit.
// Shutdown does not cancel the context passed to Serve; the Collector exits
// only once that context is cancelled, so callers cancel it before (or
// while) calling Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close()
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "accepted", s.totalAccepted.Load(), "rejected", s.totalRejected.Load())
		return nil
	}
}

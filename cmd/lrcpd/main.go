// Command lrcpd runs the LRCP session layer over UDP (§4.8): a single
// Manager actor tracks every peer's reassembly and retransmission state.
// The application layer that would consume delivered bytes is out of scope
// (§1 Non-goals) — lrcpd logs each delivery at debug level for visibility
// and otherwise just keeps the session protocol honest.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"speedd/internal/config"
	"speedd/internal/discovery"
	"speedd/internal/lrcp"
	"speedd/internal/metrics"
	"speedd/internal/netutil"
)

const mdnsServiceType = "_lrcp._udp"

func main() {
	cfg, showVersion := config.ParseLRCPFlags()
	if showVersion {
		fmt.Printf("lrcpd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.LogMetricsEvery, l, &wg)

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		l.Error("udp_resolve_error", "error", err)
		return
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		l.Error("udp_listen_error", "error", err)
		return
	}
	if cfg.RecvBufBytes > 0 {
		if err := netutil.SetUDPRecvBuffer(conn, cfg.RecvBufBytes); err != nil {
			l.Warn("udp_recv_buffer_tune_failed", "error", err, "requested", cfg.RecvBufBytes)
		}
	}
	l.Info("udp_listen", "addr", conn.LocalAddr().String())

	mgr := lrcp.NewManager(conn,
		lrcp.WithRetransmitInterval(cfg.RetransmitEvery),
		lrcp.WithSessionExpiry(cfg.SessionExpiry),
		lrcp.WithManagerLogger(l),
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case d := <-mgr.Deliveries():
				l.Debug("lrcp_delivery", "session", d.Session, "peer", d.Addr.String(), "bytes", len(d.Data))
			case <-ctx.Done():
				return
			}
		}
	}()

	readyCh := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(readyCh)
		if err := mgr.ListenAndServe(ctx); err != nil {
			l.Error("lrcp_manager_error", "error", err)
			cancel()
		}
	}()

	go func() {
		select {
		case <-readyCh:
		case <-ctx.Done():
			return
		}
		addr := conn.LocalAddr().String()
		portNum := 0
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if i := strings.LastIndex(addr, ":"); i >= 0 {
				if pn, perr := strconv.Atoi(addr[i+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		meta := []string{"version=" + version, "commit=" + commit}
		cleanup, err := discovery.Start(ctx, cfg.MdnsEnable, cfg.MdnsName, mdnsServiceType, portNum, meta)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "port", portNum)
		go func() { <-ctx.Done(); cleanup() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-readyCh:
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	_ = conn.Close()
	wg.Wait()
}

// Command speedd runs the SPEEDD TCP server: camera and dispatcher clients
// connect to one listener, observations flow into the Collector, and
// violations flow back out to subscribed dispatchers (§4).
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
	"speedd/internal/metrics"
	"speedd/internal/server"
)

const mdnsServiceType = "_speedd._tcp"

func main() {
	cfg, showVersion := config.ParseSpeeddFlags()
	if showVersion {
		fmt.Printf("speedd %s (commit %s, built %s)\n", version, commit, date)
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

	srv := server.New(
		server.WithListenAddr(cfg.ListenAddr),
		server.WithLogger(l),
		server.WithMaxClients(cfg.MaxClients),
		server.WithClientReadTimeout(cfg.ClientReadTO),
	)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("tcp_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		select {
		case <-srv.Ready():
		case <-ctx.Done():
			return
		}
		addr := srv.Addr()
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
		case <-srv.Ready():
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
	_ = srv.Shutdown(context.Background())
	wg.Wait()
}

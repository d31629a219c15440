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

	"github.com/izzymg/spellserver/internal/conn"
	"github.com/izzymg/spellserver/internal/metrics"
	"github.com/izzymg/spellserver/internal/netloop"
	"github.com/izzymg/spellserver/internal/sim"
)

// Helper implementations moved to dedicated files: version.go, config.go, logger.go, metrics_logger.go, mdns.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("spellserver %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	incoming := make(chan conn.Incoming, cfg.maxInboundQueue)
	outgoing := make(chan conn.Outgoing, cfg.maxOutboundQueue)

	manager := conn.NewManager(incoming, outgoing, conn.WithPassword(cfg.password), conn.WithLogger(l))
	loop, err := netloop.New(cfg.listenAddr, manager)
	if err != nil {
		l.Error("netloop_init_error", "error", err)
		os.Exit(1)
	}
	l.Info("listening", "addr", loop.Addr())

	scheduler := sim.NewScheduler(incoming, outgoing, cfg.tickRate)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("netloop_error", "error", err)
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			l.Error("scheduler_error", "error", err)
			cancel()
		}
	}()

	if cfg.mdnsEnable {
		go func() {
			_, portStr, err := net.SplitHostPort(loop.Addr())
			var port int
			if err == nil {
				port, _ = strconv.Atoi(portStr)
			}
			if port == 0 {
				if last := strings.LastIndex(loop.Addr(), ":"); last >= 0 {
					port, _ = strconv.Atoi(loop.Addr()[last+1:])
				}
			}
			cleanupMDNS, err := startMDNS(ctx, cfg, port)
			if err != nil {
				l.Warn("mdns_start_failed", "error", err)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "port", port)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
	loop.Close()
	wg.Wait()
}

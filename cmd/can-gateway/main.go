package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/phnahes/can-gateway/internal/busmgr"
	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/gateway"
	"github.com/phnahes/can-gateway/internal/httpapi"
	"github.com/phnahes/can-gateway/internal/metrics"
	"github.com/phnahes/can-gateway/internal/observer"
)

// Helper implementations moved to dedicated files: version.go, config.go,
// logger.go, mdns.go, metrics_logger.go, wiring.go, bus_socketcan_*.go.

const dynamicBlockTickInterval = 200 * time.Millisecond

func main() {
	cfg, showVersion, err := loadConfig()
	if showVersion {
		fmt.Printf("can-gateway %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	l := setupLogger(cfg.LogFormat, cfg.LogLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("gateway_config", "buses", len(cfg.CANBuses), "diff_enabled", cfg.DiffMode.Enabled, "gateway_enabled", cfg.Gateway.Enabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := buildRegistry()
	gwEng := gateway.NewEngine(buildGatewayConfig(cfg.Gateway))
	diffEng := diff.NewEngine(buildDiffConfig(cfg.DiffMode))
	obs := observer.NewHub()

	mgr := busmgr.New()
	if err := openBuses(ctx, cfg, mgr, l); err != nil {
		l.Error("bus_init_error", "error", err)
		return
	}
	defer func() { _ = mgr.Close() }()

	go pipelineLoop(ctx, mgr, reg, diffEng, gwEng, obs, l)

	go func() {
		t := time.NewTicker(dynamicBlockTickInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				gwEng.Tick()
			case <-ctx.Done():
				return
			}
		}
	}()

	startMetricsLogger(ctx, logMetricsEvery, l)

	api := httpapi.New(mgr, reg, buildGatewayConfig(cfg.Gateway), diffEng)
	if cfg.HTTPAddr != "" {
		httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				l.Error("http_api_error", "error", err)
			}
		}()
		defer func() {
			sdCtx, sdCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer sdCancel()
			_ = httpSrv.Shutdown(sdCtx)
		}()
		l.Info("http_api_listening", "addr", cfg.HTTPAddr)
	}

	if cfg.MDNSEnable {
		go func() {
			// mDNS advertises the status API port once it is known; fall
			// back to 0 (best-effort) if http_addr has no fixed port.
			portNum := 0
			if _, p, perr := net.SplitHostPort(cfg.HTTPAddr); perr == nil {
				if n, nerr := strconv.Atoi(p); nerr == nil {
					portNum = n
				}
			} else if lastColon := strings.LastIndex(cfg.HTTPAddr, ":"); lastColon >= 0 {
				if n, nerr := strconv.Atoi(cfg.HTTPAddr[lastColon+1:]); nerr == nil {
					portNum = n
				}
			}
			cleanupMDNS, merr := startMDNS(ctx, cfg, portNum)
			if merr != nil {
				l.Warn("mdns_start_failed", "error", merr)
				return
			}
			l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.MDNSName, "port", portNum)
			go func() { <-ctx.Done(); cleanupMDNS() }()
		}()
	}

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.MetricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
		l.Info("metrics_listening", "addr", cfg.MetricsAddr)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()
}

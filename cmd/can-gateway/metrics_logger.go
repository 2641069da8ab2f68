package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/phnahes/can-gateway/internal/metrics"
)

// startMetricsLogger periodically logs a metrics snapshot, for deployments
// without a Prometheus scraper. A non-positive interval disables it.
func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"serial_rx", snap.SerialRx,
					"socketcan_rx", snap.SocketCANRx,
					"serial_tx", snap.SerialTx,
					"socketcan_tx", snap.SocketCANTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

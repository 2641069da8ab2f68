//go:build linux

package main

import (
	"context"

	"github.com/phnahes/can-gateway/internal/busmgr"
	"github.com/phnahes/can-gateway/internal/socketcan"
)

func openSocketCANBus(ctx context.Context, name, iface string) (busmgr.Bus, error) {
	return socketcan.OpenBus(ctx, name, iface, txQueueSize)
}

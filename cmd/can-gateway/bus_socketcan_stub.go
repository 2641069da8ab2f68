//go:build !linux

package main

import (
	"context"
	"fmt"

	"github.com/phnahes/can-gateway/internal/busmgr"
)

func openSocketCANBus(_ context.Context, name, _ string) (busmgr.Bus, error) {
	return nil, fmt.Errorf("bus %s: socketcan backend requires linux", name)
}

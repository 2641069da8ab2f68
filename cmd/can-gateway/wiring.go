package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/phnahes/can-gateway/internal/bap"
	"github.com/phnahes/can-gateway/internal/busmgr"
	"github.com/phnahes/can-gateway/internal/config"
	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/ftcan"
	"github.com/phnahes/can-gateway/internal/gateway"
	"github.com/phnahes/can-gateway/internal/netcan"
	"github.com/phnahes/can-gateway/internal/obd2"
	"github.com/phnahes/can-gateway/internal/observer"
	"github.com/phnahes/can-gateway/internal/serial"
)

const txQueueSize = 1024 // capacity of each bus's async TX ring

// buildRegistry assembles the decoder registry with every known protocol
// family, ordered by the priorities the decoders declare themselves
// (FTCAN < OBD-II < BAP).
func buildRegistry() *decoder.Registry {
	reg := decoder.NewRegistry()
	reg.Register(ftcan.New())
	reg.Register(obd2.New())
	reg.Register(bap.New(bap.Conservative))
	return reg
}

// buildGatewayConfig translates the YAML routing/blocking surface into the
// engine's runtime Config.
func buildGatewayConfig(cfg config.GatewayConfig) *gateway.Config {
	gc := &gateway.Config{
		Enabled:               cfg.Enabled,
		LoopPreventionEnabled: cfg.LoopPreventionEnabled,
		MaxHops:               cfg.MaxHops,
	}
	for _, r := range cfg.Routes {
		gc.Routes = append(gc.Routes, gateway.Route{
			Source:      r.Source,
			Destination: r.Destination,
			Enabled:     r.Enabled,
		})
	}
	for _, b := range cfg.BlockRules {
		gc.BlockRules = append(gc.BlockRules, gateway.BlockRule{
			CANID:        b.CANID,
			Channel:      b.Channel,
			Enabled:      b.Enabled,
			Destination:  b.Destination,
			BlockDisplay: b.BlockDisplay,
		})
	}
	return gc
}

// buildDiffConfig translates the YAML suppression surface into diff.Config.
func buildDiffConfig(cfg config.DiffConfig) diff.Config {
	return diff.Config{
		Enabled:          cfg.Enabled,
		Mode:             diff.Mode(cfg.Mode),
		MinMessageRate:   cfg.MinMessageRate,
		MinBytesChanged:  cfg.MinBytesChanged,
		TimeWindowMS:     cfg.TimeWindowMS,
		MaxSuppressMS:    cfg.MaxSuppressMS,
		CompareByChannel: cfg.CompareByChannel,
		ByteMask:         cfg.ByteMask,
	}
}

// openBuses opens and registers every enabled bus from cfg against mgr,
// dispatching on backend type. A failure to open one bus is fatal at
// startup — a gateway with a silently-missing channel is worse than one
// that refuses to start.
func openBuses(ctx context.Context, cfg config.Config, mgr *busmgr.Manager, l *slog.Logger) error {
	for _, bc := range cfg.CANBuses {
		if !bc.Enabled {
			l.Info("bus_skipped_disabled", "bus", bc.Name)
			continue
		}
		switch bc.Backend {
		case "socketcan":
			b, err := openSocketCANBus(ctx, bc.Name, bc.Channel)
			if err != nil {
				return fmt.Errorf("bus %s: %w", bc.Name, err)
			}
			mgr.Register(ctx, b)
		case "serial":
			port, err := serial.Open(bc.Channel, bc.Baudrate, 50*time.Millisecond)
			if err != nil {
				return fmt.Errorf("bus %s: open serial %s: %w", bc.Name, bc.Channel, err)
			}
			mgr.Register(ctx, serial.OpenBus(ctx, bc.Name, port, txQueueSize))
		case "netcan":
			b := netcan.OpenBus(ctx, bc.Name, bc.Channel, txQueueSize)
			mgr.Register(ctx, b)
		default:
			return fmt.Errorf("bus %s: unknown backend %q", bc.Name, bc.Backend)
		}
		l.Info("bus_opened", "bus", bc.Name, "backend", bc.Backend, "channel", bc.Channel)
	}
	return nil
}

// pipelineLoop drains the bus manager, runs every frame through the
// decoder registry, the diff engine, and the gateway engine, and fans the
// results out to obs. It owns the single consumer goroutine the bus
// manager's Pull contract expects.
func pipelineLoop(ctx context.Context, mgr *busmgr.Manager, reg *decoder.Registry, diffEng *diff.Engine, gwEng *gateway.Engine, obs *observer.Hub, l *slog.Logger) {
	for {
		batch, err := mgr.Pull(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.Warn("pull_error", "error", err)
			continue
		}
		for _, in := range batch {
			processFrame(ctx, in, mgr, reg, diffEng, gwEng, obs, l)
		}
	}
}

func processFrame(ctx context.Context, in busmgr.Inbound, mgr *busmgr.Manager, reg *decoder.Registry, diffEng *diff.Engine, gwEng *gateway.Engine, obs *observer.Hub, l *slog.Logger) {
	f := in.Frame
	if cfg := gwEng.Config(); cfg == nil || !cfg.ShouldBlockDisplay(f.ID(), in.Bus) {
		obs.NotifyFrame(f)
	}

	results := reg.Decode(f)
	obs.NotifyDecoded(f, results)

	decision := diffEng.Evaluate(f, in.Bus)
	obs.NotifyDiffDecision(f, decision)

	gwDecision := gwEng.Process(f, in.Bus)
	if gwDecision.Forward {
		if err := mgr.Write(ctx, gwDecision.Destination, gwDecision.Frame); err != nil {
			l.Debug("gateway_forward_failed", "destination", gwDecision.Destination, "error", err)
		}
	}
}

// Package netcan adapts the cannelloni TCP bridge (internal/cnl wire codec,
// internal/hub fan-out, internal/server listener) into a busmgr.Bus: a
// "netcan" channel is simultaneously an ordinary bus the gateway core can
// read from and write to, and the Observer's remote fan-out transport for
// any number of TCP peers.
package netcan

import (
	"context"
	"sync"
	"time"

	"github.com/phnahes/can-gateway/internal/cnl"
	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/hub"
	"github.com/phnahes/can-gateway/internal/logging"
	"github.com/phnahes/can-gateway/internal/metrics"
	"github.com/phnahes/can-gateway/internal/server"
)

const shutdownTimeout = 3 * time.Second

// Bus listens on addr for cannelloni-speaking TCP peers. Frames a peer
// sends become this bus's inbound stream (ReadFrame); frames handed to
// WriteFrame are broadcast to every connected peer via the hub, the same
// fan-out the teacher's single-backend server used for its one TCP port.
type Bus struct {
	name string
	hub  *hub.Hub
	srv  *server.Server

	frames chan frame.Frame

	closeOnce sync.Once
	closeErr  error
}

// Option configures OpenBus beyond its required arguments.
type Option func(*server.Server)

// WithMaxClients caps simultaneous peers on this netcan channel.
func WithMaxClients(n int) Option { return Option(server.WithMaxClients(n)) }

// OpenBus starts listening on addr under the given bus name. ctx governs
// the listener and the background accept loop; cancelling it stops the
// server and any blocked ReadFrame.
func OpenBus(ctx context.Context, name, addr string, queueCapacity int, opts ...Option) *Bus {
	b := &Bus{
		name:   name,
		hub:    hub.New(),
		frames: make(chan frame.Frame, queueCapacity),
	}
	b.hub.OutBufSize = queueCapacity

	serverOpts := []server.ServerOption{
		server.WithListenAddr(addr),
		server.WithHub(b.hub),
		server.WithCodec(&cnl.Codec{}),
		server.WithSend(b.receive),
	}
	srv := server.NewServer(serverOpts...)
	for _, o := range opts {
		o(srv)
	}
	b.srv = srv

	go func() {
		if err := b.srv.Serve(ctx); err != nil {
			logging.L().Error("netcan_serve_error", "bus", name, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = b.Close()
	}()
	return b
}

// Addr returns the bound listen address; empty until the listener is ready.
func (b *Bus) Addr() string { return b.srv.Addr() }

// Ready signals once the listener is bound.
func (b *Bus) Ready() <-chan struct{} { return b.srv.Ready() }

// receive is the server's SendFunc: every frame a connected peer transmits
// lands here and is queued as this bus's inbound stream.
func (b *Bus) receive(f frame.Frame) error {
	select {
	case b.frames <- f:
		return nil
	default:
		metrics.IncBusQueueDrop(b.name)
		logging.L().Debug("netcan bus queue full, dropping frame", "bus", b.name, "id", f.ID())
		return nil
	}
}

func (b *Bus) Name() string { return b.name }

func (b *Bus) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

// WriteFrame broadcasts f to every peer currently connected to this
// channel; a peer with a full outbound buffer is dropped or kicked per
// the hub's configured backpressure policy, never blocking the caller.
func (b *Bus) WriteFrame(_ context.Context, f frame.Frame) error {
	b.hub.Broadcast(f)
	return nil
}

func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		b.closeErr = b.srv.Shutdown(ctx)
	})
	return b.closeErr
}

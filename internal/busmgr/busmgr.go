// Package busmgr owns the set of named CAN buses a gateway instance talks
// to: one receive goroutine per bus feeding a bounded, drop-on-overflow
// queue, and a worker that batches frames out of every queue for the
// decode/diff/gateway pipeline.
package busmgr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/logging"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// defaultQueueCapacity and maxBatchPerTick follow the documented sizing for
// a multi-bus gateway servicing several hundred-Hz buses without unbounded
// memory growth under a slow consumer.
const (
	defaultQueueCapacity = 20000
	maxBatchPerTick      = 300
)

// Bus is the minimal transport contract a bus manager drives: a blocking
// read and a best-effort write, both scoped to ctx for shutdown.
type Bus interface {
	Name() string
	ReadFrame(ctx context.Context) (frame.Frame, error)
	WriteFrame(ctx context.Context, f frame.Frame) error
	Close() error
}

// Inbound is one frame pulled off a bus queue, tagged with its origin.
type Inbound struct {
	Bus   string
	Frame frame.Frame
}

type handle struct {
	bus   Bus
	queue chan frame.Frame
}

// Manager runs one receive loop per registered bus and exposes batched
// pulls across all of them to a single consumer (the pipeline worker).
type Manager struct {
	mu      sync.RWMutex
	handles map[string]*handle
	out     chan Inbound
	wg      sync.WaitGroup

	queueCapacity int
	batchSize     int
}

// New returns a Manager with default queue sizing.
func New() *Manager {
	return &Manager{
		handles:       make(map[string]*handle),
		out:           make(chan Inbound, defaultQueueCapacity),
		queueCapacity: defaultQueueCapacity,
		batchSize:     maxBatchPerTick,
	}
}

// Register adds a bus, starting its receive loop and a forwarder that
// drains its queue into the shared output channel Pull reads from.
func (m *Manager) Register(ctx context.Context, b Bus) {
	h := &handle{bus: b, queue: make(chan frame.Frame, m.queueCapacity)}
	m.mu.Lock()
	m.handles[b.Name()] = h
	m.mu.Unlock()

	m.wg.Add(2)
	go m.receiveLoop(ctx, h)
	go m.forwardLoop(ctx, h)
}

func (m *Manager) forwardLoop(ctx context.Context, h *handle) {
	defer m.wg.Done()
	name := h.bus.Name()
	for {
		select {
		case f, ok := <-h.queue:
			if !ok {
				return
			}
			metrics.SetBusQueueDepth(name, len(h.queue))
			select {
			case m.out <- Inbound{Bus: name, Frame: f}:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) receiveLoop(ctx context.Context, h *handle) {
	defer m.wg.Done()
	name := h.bus.Name()
	backoff := 10 * time.Millisecond
	const maxBackoff = 2 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		f, err := h.bus.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.L().Warn("bus read error", "bus", name, "error", err)
			metrics.IncError(metrics.ErrAdapter)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = 10 * time.Millisecond

		select {
		case h.queue <- f:
			metrics.SetBusQueueDepth(name, len(h.queue))
		default:
			metrics.IncBusQueueDrop(name)
			logging.L().Debug("bus queue full, dropping frame", "bus", name, "id", f.ID())
		}
	}
}

// Pull blocks until at least one frame is available across all registered
// buses, then drains up to batchSize total without blocking further — the
// fan-in channel already interleaves buses fairly via Go's select, so a
// single blocking receive plus a non-blocking drain is all batching needs.
func (m *Manager) Pull(ctx context.Context) ([]Inbound, error) {
	select {
	case first := <-m.out:
		batch := []Inbound{first}
		for len(batch) < m.batchSize {
			select {
			case f := <-m.out:
				batch = append(batch, f)
			default:
				return batch, nil
			}
		}
		return batch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Write routes f to the named bus.
func (m *Manager) Write(ctx context.Context, busName string, f frame.Frame) error {
	m.mu.RLock()
	h, ok := m.handles[busName]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("busmgr: unknown bus %q", busName)
	}
	return h.bus.WriteFrame(ctx, f)
}

// Names returns every registered bus name.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.handles))
	for name := range m.handles {
		out = append(out, name)
	}
	return out
}

// Close closes every registered bus and waits for receive loops to exit.
// Callers should cancel the Register context first so ReadFrame unblocks.
func (m *Manager) Close() error {
	m.mu.RLock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	m.wg.Wait()

	var firstErr error
	for _, h := range handles {
		if err := h.bus.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

package busmgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/phnahes/can-gateway/internal/frame"
)

// memBus is an in-memory Bus backed by a channel of frames to read and a
// slice of frames written to it.
type memBus struct {
	name string
	in   chan frame.Frame

	mu     sync.Mutex
	writes []frame.Frame
	closed bool
}

func newMemBus(name string, capacity int) *memBus {
	return &memBus{name: name, in: make(chan frame.Frame, capacity)}
}

func (b *memBus) Name() string { return b.name }

func (b *memBus) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f, ok := <-b.in:
		if !ok {
			<-ctx.Done()
			return frame.Frame{}, ctx.Err()
		}
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (b *memBus) WriteFrame(_ context.Context, f frame.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = append(b.writes, f)
	return nil
}

func (b *memBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *memBus) push(f frame.Frame) { b.in <- f }

func TestManager_PullFansInAcrossBuses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New()
	bus1 := newMemBus("CAN1", 10)
	bus2 := newMemBus("CAN2", 10)
	m.Register(ctx, bus1)
	m.Register(ctx, bus2)

	f1, _ := frame.New(0x1, []byte{1}, false, false)
	f2, _ := frame.New(0x2, []byte{2}, false, false)
	bus1.push(f1)
	bus2.push(f2)

	seen := map[string]bool{}
	deadline := time.Now().Add(2 * time.Second)
	for len(seen) < 2 && time.Now().Before(deadline) {
		batch, err := m.Pull(ctx)
		if err != nil {
			t.Fatalf("Pull error: %v", err)
		}
		for _, in := range batch {
			seen[in.Bus] = true
		}
	}
	if !seen["CAN1"] || !seen["CAN2"] {
		t.Fatalf("expected frames from both buses, got %v", seen)
	}
}

func TestManager_WriteRoutesToNamedBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New()
	bus := newMemBus("CAN1", 4)
	m.Register(ctx, bus)

	f, _ := frame.New(0x10, []byte{9}, false, false)
	if err := m.Write(ctx, "CAN1", f); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	bus.mu.Lock()
	n := len(bus.writes)
	bus.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected 1 write recorded, got %d", n)
	}
}

func TestManager_WriteUnknownBus(t *testing.T) {
	m := New()
	f, _ := frame.New(0x10, []byte{9}, false, false)
	if err := m.Write(context.Background(), "nope", f); err == nil {
		t.Fatal("expected an error writing to an unregistered bus")
	}
}

func TestManager_Names(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := New()
	m.Register(ctx, newMemBus("CAN1", 1))
	m.Register(ctx, newMemBus("CAN2", 1))
	names := m.Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 names, got %v", names)
	}
}

func TestManager_CloseClosesBusesAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := New()
	bus := newMemBus("CAN1", 1)
	m.Register(ctx, bus)
	cancel()
	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	bus.mu.Lock()
	closed := bus.closed
	bus.mu.Unlock()
	if !closed {
		t.Fatal("expected bus to be closed")
	}
}

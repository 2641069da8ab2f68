//go:build linux

package socketcan

import (
	"context"
	"sync"

	"github.com/phnahes/can-gateway/internal/frame"
)

// Bus adapts a Dev (raw CAN socket) to busmgr.Bus: a named, context-aware
// read/write pair. Writes funnel through a TXWriter so a slow adapter can't
// block the caller. unix.Read has no native deadline/cancel support, so
// cancellation is wired through closing the device once — the blocked
// ReadFrame call then returns an error that the bus manager's receive loop
// recognizes as shutdown via ctx.Err().
type Bus struct {
	name string
	dev  Dev
	tx   *TXWriter

	closeOnce sync.Once
	closeErr  error
}

// OpenBus opens iface under the given bus name and starts watching ctx so a
// cancellation unblocks any in-flight ReadFrame.
func OpenBus(ctx context.Context, name, iface string, txQueueSize int) (*Bus, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, err
	}
	b := &Bus{name: name, dev: dev, tx: NewTXWriter(ctx, dev, txQueueSize)}
	go func() {
		<-ctx.Done()
		_ = b.Close()
	}()
	return b, nil
}

func (b *Bus) Name() string { return b.name }

func (b *Bus) ReadFrame(ctx context.Context) (frame.Frame, error) {
	var f frame.Frame
	if err := b.dev.ReadFrame(&f); err != nil {
		if ctx.Err() != nil {
			return frame.Frame{}, ctx.Err()
		}
		return frame.Frame{}, err
	}
	return f, nil
}

func (b *Bus) WriteFrame(_ context.Context, f frame.Frame) error {
	return b.tx.SendFrame(f)
}

func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.tx.Close()
		b.closeErr = b.dev.Close()
	})
	return b.closeErr
}

package serial

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/logging"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// Bus adapts a Lawicel-speaking serial Port to busmgr.Bus: a background
// goroutine drains raw bytes into the Codec's line decoder and feeds
// decoded frames through a bounded channel; writes go through a TXWriter so
// a slow adapter can't block the gateway pipeline.
type Bus struct {
	name  string
	port  Port
	codec Codec
	tx    *TXWriter

	frames chan frame.Frame

	closeOnce sync.Once
	closeErr  error
}

const (
	busReadChunk = 256
	// largeBufferReclaimThreshold is the capacity above which the
	// accumulation buffer is discarded and reallocated once fully drained,
	// so a burst of junk bytes doesn't permanently retain a large backing
	// array.
	largeBufferReclaimThreshold = 16 * 1024
)

var (
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond
	// sleepFn allows tests to intercept backoff sleeps.
	sleepFn = time.Sleep
)

// OpenBus wraps an already-opened Port as a named busmgr.Bus. ctx governs
// the background read loop and the TXWriter; cancel it before calling
// Close so pending operations unwind cleanly.
func OpenBus(ctx context.Context, name string, port Port, queueCapacity int) *Bus {
	b := &Bus{
		name:   name,
		port:   port,
		tx:     NewTXWriter(ctx, port, Codec{}, queueCapacity),
		frames: make(chan frame.Frame, queueCapacity),
	}
	go b.readLoop(ctx)
	return b
}

func (b *Bus) Name() string { return b.name }

func (b *Bus) readLoop(ctx context.Context) {
	var buf bytes.Buffer
	chunk := make([]byte, busReadChunk)
	backoff := rxBackoffMin
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := b.port.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			_ = b.codec.DecodeStream(&buf, func(f frame.Frame) {
				select {
				case b.frames <- f:
				default:
					metrics.IncBusQueueDrop(b.name)
					logging.L().Debug("serial bus queue full, dropping frame", "bus", b.name, "id", f.ID())
				}
			})
			if buf.Len() == 0 && cap(buf.Bytes()) > largeBufferReclaimThreshold {
				buf = bytes.Buffer{}
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				logging.L().Error("serial bus device error, stopping", "bus", b.name, "error", err)
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue
			}
			metrics.IncError(metrics.ErrSerialRead)
			logging.L().Warn("serial bus read error", "bus", b.name, "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

func (b *Bus) ReadFrame(ctx context.Context) (frame.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	case <-ctx.Done():
		return frame.Frame{}, ctx.Err()
	}
}

func (b *Bus) WriteFrame(_ context.Context, f frame.Frame) error {
	return b.tx.SendFrame(f)
}

func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.tx.Close()
		b.closeErr = b.port.Close()
	})
	return b.closeErr
}

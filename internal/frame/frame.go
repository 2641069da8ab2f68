// Package frame defines the canonical CAN frame record shared by every
// channel backend, decoder and the gateway engine.
package frame

import (
	"errors"
	"fmt"
	"strings"
)

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// ErrMalformedFrame is returned by New when the payload exceeds the
// classic-CAN limit of 8 bytes.
var ErrMalformedFrame = errors.New("frame: malformed")

// Action tags the last thing the gateway did to a frame.
type Action int

const (
	ActionNone Action = iota
	ActionBlocked
	ActionModified
	ActionForwarded
	ActionLoopPrevented
)

func (a Action) String() string {
	switch a {
	case ActionBlocked:
		return "blocked"
	case ActionModified:
		return "modified"
	case ActionForwarded:
		return "forwarded"
	case ActionLoopPrevented:
		return "loop_prevented"
	default:
		return "none"
	}
}

// Frame is the canonical CAN frame value object. CANID folds EFF/RTR/ERR
// flags into its upper bits exactly like SocketCAN's struct can_frame; Len is
// the payload length (0..8 for classic CAN) and only Data[:Len] is valid.
//
// Frame is a value object: once constructed it is not mutated. Gateway
// transforms (WithData, WithID, Routed) return a new Frame.
type Frame struct {
	CANID         uint32
	Len           uint8
	Data          [64]byte
	Timestamp     float64 // seconds; set by the channel that received the frame
	Source        string  // channel name that produced or last forwarded this frame
	AlreadyRouted bool    // true once the gateway has forwarded this frame at least once
	Hops          int     // number of times the gateway has forwarded this frame
	GatewayAction Action
}

// New constructs a Frame from an identifier and payload, enforcing the
// classic-CAN DLC limit. extended/rtr fold into CANID's upper bits.
func New(id uint32, data []byte, extended, rtr bool) (Frame, error) {
	if len(data) > 8 {
		return Frame{}, fmt.Errorf("%w: dlc %d exceeds 8", ErrMalformedFrame, len(data))
	}
	canID := id
	if extended {
		canID = (canID & CAN_EFF_MASK) | CAN_EFF_FLAG
	} else {
		canID &= CAN_SFF_MASK
	}
	if rtr {
		canID |= CAN_RTR_FLAG
	}
	var f Frame
	f.CANID = canID
	f.Len = uint8(len(data))
	copy(f.Data[:], data)
	return f, nil
}

// ID returns the arbitration identifier with EFF/RTR/ERR flags masked off.
func (f Frame) ID() uint32 {
	if f.Extended() {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Extended reports whether the frame carries a 29-bit identifier.
func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// RTR reports whether the frame is a remote-transmission request.
func (f Frame) RTR() bool { return f.CANID&CAN_RTR_FLAG != 0 }

// Payload returns the valid slice of Data (read-only use; callers must not
// retain references across mutation of the frame's owner).
func (f Frame) Payload() []byte { return f.Data[:f.Len] }

// CopyShallow returns an independent copy sharing no backing array.
func (f Frame) CopyShallow() Frame {
	g := f
	return g
}

// WithData returns a copy of f with its payload replaced; DLC is updated to
// len(data) and must not exceed 8.
func (f Frame) WithData(data []byte) Frame {
	g := f
	g.Len = uint8(len(data))
	var zero [64]byte
	g.Data = zero
	copy(g.Data[:], data)
	return g
}

// WithID returns a copy of f addressed to a new arbitration ID, preserving
// the Extended/RTR flags already set on f.
func (f Frame) WithID(id uint32) Frame {
	g := f
	flags := g.CANID &^ (CAN_SFF_MASK)
	if g.Extended() {
		g.CANID = (id & CAN_EFF_MASK) | (flags &^ CAN_EFF_MASK) | CAN_EFF_FLAG
	} else {
		g.CANID = (id & CAN_SFF_MASK) | (flags &^ CAN_SFF_MASK)
	}
	return g
}

// Routed returns a copy of f marked as having been forwarded by the gateway
// from source bus, tagged with the given action and with its hop count
// incremented.
func (f Frame) Routed(source string, action Action) Frame {
	g := f
	g.Source = source
	g.AlreadyRouted = true
	g.Hops++
	g.GatewayAction = action
	return g
}

// HexData renders the valid payload bytes as upper-case hex, e.g. "DEADBEEF".
func (f Frame) HexData() string {
	var b strings.Builder
	b.Grow(int(f.Len) * 2)
	for _, c := range f.Payload() {
		fmt.Fprintf(&b, "%02X", c)
	}
	return b.String()
}

// ASCII renders the payload as printable ASCII, substituting '.' for bytes
// outside [0x20, 0x7E].
func (f Frame) ASCII() string {
	var b strings.Builder
	b.Grow(int(f.Len))
	for _, c := range f.Payload() {
		if c >= 0x20 && c <= 0x7E {
			b.WriteByte(c)
		} else {
			b.WriteByte('.')
		}
	}
	return b.String()
}

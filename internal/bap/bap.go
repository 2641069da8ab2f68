// Package bap decodes VAG BAP (bidirectional addressing protocol) frames,
// the multiplexed diagnostic/comfort-bus protocol used by PQ and MQB
// platform vehicles, including its start/continuation reassembly.
package bap

import (
	"sync"

	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/frame"
)

// Mode selects how aggressively the decoder reports partial data.
type Mode int

const (
	// Conservative reports fully reassembled messages and streams superseded
	// by a new start frame.
	Conservative Mode = iota
	// Aggressive also reports start and continuation frames of messages
	// that are still incomplete.
	Aggressive
)

type state int

const (
	stateIdle state = iota
	stateCollecting
)

type stream struct {
	declared int
	buf      []byte
	state    state
}

const maxLiveStreams = 2048

// streamKey identifies one BAP reassembly stream. can_id alone isn't
// enough: two streams can share a numeric id while differing in framing
// (standard vs. extended) or multiplex channel, and must not collide.
type streamKey struct {
	id        uint32
	extended  bool
	mfChannel byte
}

// Decoder implements decoder.Decoder for BAP frames.
type Decoder struct {
	mu      sync.Mutex
	mode    Mode
	enabled bool
	streams map[streamKey]*stream
	order   []streamKey
}

// New returns an enabled BAP decoder in the given mode.
func New(mode Mode) *Decoder {
	return &Decoder{mode: mode, enabled: true, streams: make(map[streamKey]*stream)}
}

func (d *Decoder) Name() string        { return "bap" }
func (d *Decoder) Description() string { return "VAG BAP (bidirectional addressing protocol) decoder" }
func (d *Decoder) Priority() int       { return 30 }
func (d *Decoder) Enabled() bool       { return d.enabled }
func (d *Decoder) SetEnabled(v bool)   { d.enabled = v }

// CanDecode accepts any frame carrying at least one payload byte; BAP rides
// on both 11-bit PQ IDs and 29-bit MQB IDs, so the gate can't narrow by ID
// range alone. The registry's priority ordering keeps this from shadowing
// more specific protocols.
func (d *Decoder) CanDecode(id uint32, data []byte, extended bool) bool {
	return len(data) >= 1
}

// Decode routes the frame through the platform-specific address annotation
// and the shared start/continuation reassembly state machine.
func (d *Decoder) Decode(f frame.Frame) (decoder.Result, error) {
	id := f.ID()
	data := f.Payload()
	ext := f.Extended()

	addr := addressFields(id, ext)

	b0 := data[0]
	switch {
	case b0&0xC0 == 0x80:
		return d.handleStart(id, ext, data, addr), nil
	case b0&0xC0 == 0xC0:
		return d.handleContinuation(id, ext, data, addr), nil
	default:
		return d.handleSingle(data, addr), nil
	}
}

// addressFields annotates a frame with platform-specific address breakdown:
// MQB (29-bit) exposes base_id/lsg/subsystem/endpoint; PQ (11-bit) exposes
// opcode/lsg/fct.
func addressFields(id uint32, extended bool) map[string]any {
	if extended {
		baseID := id & 0x1FFFFFFF
		lsg := (id >> 8) & 0xFF
		subsystem := id & 0xFF
		endpoint := "FSG"
		if subsystem < 0x10 {
			endpoint = "ASG"
		}
		return map[string]any{
			"platform":  "MQB",
			"base_id":   baseID,
			"lsg":       lsg,
			"subsystem": subsystem,
			"endpoint":  endpoint,
		}
	}
	opcode := (id >> 7) & 0x0F
	lsg := (id >> 3) & 0x0F
	fct := id & 0x07
	return map[string]any{
		"platform": "PQ",
		"opcode":   opcode,
		"lsg":      lsg,
		"fct":      fct,
	}
}

func (d *Decoder) handleSingle(data []byte, addr map[string]any) decoder.Result {
	if d.mode != Aggressive {
		return decoder.Result{Success: false}
	}
	values := cloneAddr(addr)
	values["kind"] = "single"
	values["payload"] = append([]byte(nil), data...)
	return decoder.Result{
		Protocol:    "bap",
		Success:     true,
		Confidence:  0.4,
		Values:      values,
		Description: "BAP single-frame candidate",
	}
}

func (d *Decoder) handleStart(id uint32, extended bool, data []byte, addr map[string]any) decoder.Result {
	if len(data) < 2 {
		return decoder.Result{Success: false}
	}
	declared := int(data[1])
	mfChannel := (data[0] >> 4) & 0x03

	var payload []byte
	if len(data) > 4 {
		payload = append([]byte(nil), data[4:]...)
	}

	key := streamKey{id: id, extended: extended, mfChannel: mfChannel}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, had := d.streams[key]
	st := &stream{declared: declared, buf: payload, state: stateCollecting}
	d.streams[key] = st
	if !had {
		d.addOrder(key)
	}

	if had && existing.state == stateCollecting {
		values := cloneAddr(addr)
		values["kind"] = "superseded"
		return decoder.Result{
			Protocol:    "bap",
			Success:     true,
			Confidence:  0.3,
			Values:      values,
			Description: "BAP stream superseded by new start frame",
		}
	}

	if declared > 0 && len(st.buf) >= declared {
		values := cloneAddr(addr)
		values["kind"] = "complete"
		values["declared_length"] = declared
		values["payload"] = st.buf[:declared]
		st.state = stateIdle
		return decoder.Result{
			Protocol:    "bap",
			Success:     true,
			Confidence:  0.95,
			Values:      values,
			Description: "BAP message (single start frame)",
		}
	}

	if d.mode != Aggressive {
		return decoder.Result{Success: false}
	}
	values := cloneAddr(addr)
	values["kind"] = "start"
	values["declared_length"] = declared
	return decoder.Result{
		Protocol:    "bap",
		Success:     true,
		Confidence:  0.6,
		Values:      values,
		Description: "BAP start frame",
	}
}

func (d *Decoder) handleContinuation(id uint32, extended bool, data []byte, addr map[string]any) decoder.Result {
	if len(data) < 1 {
		return decoder.Result{Success: false}
	}
	mfChannel := (data[0] >> 4) & 0x03

	key := streamKey{id: id, extended: extended, mfChannel: mfChannel}

	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.streams[key]
	if !ok || st.state != stateCollecting {
		return decoder.Result{Success: false}
	}

	if len(data) > 1 {
		st.buf = append(st.buf, data[1:]...)
	}

	if st.declared > 0 && len(st.buf) >= st.declared {
		values := cloneAddr(addr)
		values["kind"] = "complete"
		values["declared_length"] = st.declared
		values["payload"] = append([]byte(nil), st.buf[:st.declared]...)
		st.state = stateIdle
		return decoder.Result{
			Protocol:    "bap",
			Success:     true,
			Confidence:  0.95,
			Values:      values,
			Description: "BAP message reassembled",
		}
	}

	if d.mode != Aggressive {
		return decoder.Result{Success: false}
	}
	values := cloneAddr(addr)
	values["kind"] = "continuation"
	values["accumulated"] = len(st.buf)
	return decoder.Result{
		Protocol:    "bap",
		Success:     true,
		Confidence:  0.5,
		Values:      values,
		Description: "BAP continuation frame",
	}
}

func (d *Decoder) addOrder(key streamKey) {
	d.order = append(d.order, key)
	if len(d.order) > maxLiveStreams {
		evict := d.order[0]
		d.order = d.order[1:]
		delete(d.streams, evict)
	}
}

// Reset clears all in-flight reassembly state.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams = make(map[streamKey]*stream)
	d.order = nil
}

func cloneAddr(addr map[string]any) map[string]any {
	out := make(map[string]any, len(addr)+4)
	for k, v := range addr {
		out[k] = v
	}
	return out
}

// Package ftcan decodes FuelTech's FTCAN 2.0 protocol: 29-bit extended CAN
// IDs, segmented multi-frame reassembly, and big-endian measure streams.
package ftcan

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/frame"
)

// DataFieldID tags the payload layout carried in an FTCAN identifier.
type DataFieldID uint8

const (
	DataFieldStandardCAN       DataFieldID = 0x00
	DataFieldStandardCANBridge DataFieldID = 0x01
	DataFieldFTCAN20           DataFieldID = 0x02
	DataFieldFTCAN20Bridge     DataFieldID = 0x03
)

// ProductType enumerates FuelTech's known device classes.
type ProductType uint16

const (
	ProductDeviceSearching  ProductType = 0x0FFF
	ProductGearController   ProductType = 0x0140
	ProductKnockMeter       ProductType = 0x0141
	ProductBoostController2 ProductType = 0x0142
	ProductInjectorDriver   ProductType = 0x0150
	ProductInputExpander    ProductType = 0x023F
	ProductWBO2Nano         ProductType = 0x0240
	ProductWBO2Slim         ProductType = 0x0241
	ProductAlcoholO2        ProductType = 0x0242
	ProductFTSparkA         ProductType = 0x0243
	ProductSwitchpad8       ProductType = 0x0244
	ProductFT500ECU         ProductType = 0x0280
	ProductFT600ECU         ProductType = 0x0281
)

var productNames = map[ProductType]string{
	ProductDeviceSearching:  "DEVICE_SEARCHING",
	ProductGearController:   "GEAR_CONTROLLER",
	ProductKnockMeter:       "KNOCK_METER",
	ProductBoostController2: "BOOST_CONTROLLER_2",
	ProductInjectorDriver:   "INJECTOR_DRIVER",
	ProductInputExpander:    "INPUT_EXPANDER",
	ProductWBO2Nano:         "WBO2_NANO",
	ProductWBO2Slim:         "WBO2_SLIM",
	ProductAlcoholO2:        "ALCOHOL_O2",
	ProductFTSparkA:         "FTSPARK_A",
	ProductSwitchpad8:       "SWITCHPAD_8",
	ProductFT500ECU:         "FT500_ECU",
	ProductFT600ECU:         "FT600_ECU",
}

// ECU reserved product-type range and the "device searching" sentinel.
const (
	ecuRangeLow  = 0x0282
	ecuRangeHigh = 0x02E4
	searchingID  = 0x0FFF
)

// measureInfo describes one compiled-in measure table entry.
type measureInfo struct {
	Name       string
	Unit       string
	Multiplier float64
}

// measureTable mirrors MEASURE_IDS: name, unit, and scale for each data_id.
var measureTable = map[uint16]measureInfo{
	0x0000: {"Unknown", "", 1.0},
	0x0001: {"TPS", "%", 0.1},
	0x0002: {"MAP", "Bar", 0.001},
	0x0003: {"Air Temperature", "°C", 0.1},
	0x0004: {"Engine Temperature", "°C", 0.1},
	0x0005: {"Oil Pressure", "Bar", 0.001},
	0x0006: {"Fuel Pressure", "Bar", 0.001},
	0x0007: {"Water Pressure", "Bar", 0.001},
	0x0008: {"ECU Launch Mode", "", 1.0},
	0x0009: {"ECU Battery Voltage", "V", 0.01},
	0x000A: {"Traction Speed", "Km/h", 1.0},
	0x000B: {"Drag Speed", "Km/h", 1.0},
	0x0011: {"Gear", "", 1.0},
	0x0012: {"Disabled O2", "λ", 0.001},
	0x0013: {"Cylinder 1 O2", "λ", 0.001},
	0x0014: {"Cylinder 2 O2", "λ", 0.001},
	0x0015: {"Cylinder 3 O2", "λ", 0.001},
	0x0016: {"Cylinder 4 O2", "λ", 0.001},
	0x0017: {"Cylinder 5 O2", "λ", 0.001},
	0x0018: {"Cylinder 6 O2", "λ", 0.001},
	0x0019: {"Cylinder 7 O2", "λ", 0.001},
	0x001A: {"Cylinder 8 O2", "λ", 0.001},
	0x0025: {"Left Bank O2", "λ", 0.001},
	0x0026: {"Right Bank O2", "λ", 0.001},
	0x0027: {"Exhaust O2", "λ", 0.001},
	0x0042: {"ECU RPM", "RPM", 1.0},
	0x0043: {"ECU Injection Bank A Time", "ms", 0.01},
	0x0044: {"ECU Injection Bank B Time", "ms", 0.01},
	0x0045: {"ECU Injection Bank A Duty Cycle", "%", 0.1},
	0x0046: {"ECU Injection Bank B Duty Cycle", "%", 0.1},
	0x0047: {"ECU Ignition Advance/Retard", "°", 0.1},
}

// broadcastMessageIDs are the message_id values that carry measure streams,
// listed high to low priority.
var broadcastMessageIDs = map[uint16]bool{0x0FF: true, 0x1FF: true, 0x2FF: true, 0x3FF: true}

// Identification is the decoded 29-bit FTCAN identifier.
type Identification struct {
	ProductID     uint16
	DataFieldID   DataFieldID
	MessageID     uint16
	ProductTypeID uint16
	UniqueID      uint8
	IsResponse    bool
}

// FromCANID decodes the bit layout documented in the protocol spec: bits
// 28..14 product_id, 13..11 data_field_id, 10..0 message_id.
func FromCANID(id uint32) Identification {
	productID := uint16((id >> 14) & 0x7FFF)
	dataFieldID := DataFieldID((id >> 11) & 0x07)
	messageID := uint16(id & 0x7FF)
	return Identification{
		ProductID:     productID,
		DataFieldID:   dataFieldID,
		MessageID:     messageID,
		ProductTypeID: (productID >> 5) & 0x3FF,
		UniqueID:      uint8(productID & 0x1F),
		IsResponse:    messageID&0x400 != 0,
	}
}

// ProductName returns the enumerated name, or an Unknown_0x### fallback.
func (id Identification) ProductName() string {
	if name, ok := productNames[ProductType(id.ProductTypeID)]; ok {
		return name
	}
	return fmt.Sprintf("Unknown_0x%03X", id.ProductTypeID)
}

// isAccepted reports whether product_type_id is in the closed allow-list:
// enumerated products, the reserved ECU range, or the searching sentinel.
func isAccepted(productTypeID uint16) bool {
	if _, ok := productNames[ProductType(productTypeID)]; ok {
		return true
	}
	if productTypeID >= ecuRangeLow && productTypeID <= ecuRangeHigh {
		return true
	}
	return productTypeID == searchingID
}

// Measure is one decoded 4-byte big-endian measure: u16 measure_id, i16 value.
type Measure struct {
	MeasureID uint16
	Value     int16
	DataID    uint16
	IsStatus  bool
}

// RealValue applies the measure table's multiplier; unknown data_ids use 1.0.
func (m Measure) RealValue() float64 {
	info, ok := measureTable[m.DataID]
	if !ok {
		return float64(m.Value)
	}
	return float64(m.Value) * info.Multiplier
}

// Name returns the measure table's name, or Unknown_0x#### for unlisted IDs.
func (m Measure) Name() string {
	if info, ok := measureTable[m.DataID]; ok {
		return info.Name
	}
	return fmt.Sprintf("Unknown_0x%04X", m.DataID)
}

// Unit returns the measure table's unit, empty for unlisted IDs.
func (m Measure) Unit() string {
	if info, ok := measureTable[m.DataID]; ok {
		return info.Unit
	}
	return ""
}

func measureFromBytes(data []byte) Measure {
	measureID := binary.BigEndian.Uint16(data[0:2])
	value := int16(binary.BigEndian.Uint16(data[2:4]))
	return Measure{
		MeasureID: measureID,
		Value:     value,
		DataID:    (measureID >> 1) & 0x7FFF,
		IsStatus:  measureID&0x01 != 0,
	}
}

// decodeMeasures scans data 4 bytes at a time until fewer than 4 remain.
func decodeMeasures(data []byte) []Measure {
	var out []Measure
	for offset := 0; offset+4 <= len(data); offset += 4 {
		out = append(out, measureFromBytes(data[offset:offset+4]))
	}
	return out
}

// segment is one piece of a reassembly-in-progress keyed by CAN ID.
type segment struct {
	number      uint8
	totalLength int // only meaningful on the first segment
	payload     []byte
}

// stream holds the segments collected for one CAN ID, plus the declared
// total length once the first segment has arrived.
type stream struct {
	segments    []segment
	totalLength int
	haveFirst   bool
}

const maxLiveStreams = 4096

// Decoder implements decoder.Decoder for the FTCAN 2.0 protocol.
type Decoder struct {
	mu      sync.Mutex
	streams map[uint32]*stream
	order   []uint32 // FIFO of keys, for the LRU-ish eviction cap
	enabled bool
}

// New returns an enabled FTCAN decoder with empty reassembly state.
func New() *Decoder {
	return &Decoder{streams: make(map[uint32]*stream), enabled: true}
}

func (d *Decoder) Name() string        { return "ftcan" }
func (d *Decoder) Description() string { return "FuelTech FTCAN 2.0 protocol decoder" }
func (d *Decoder) Priority() int       { return 10 }
func (d *Decoder) Enabled() bool       { return d.enabled }
func (d *Decoder) SetEnabled(v bool)   { d.enabled = v }

// CanDecode accepts only extended IDs whose product_type_id is allow-listed.
func (d *Decoder) CanDecode(id uint32, _ []byte, extended bool) bool {
	if !extended || id > frame.CAN_EFF_MASK {
		return false
	}
	ident := FromCANID(id)
	return isAccepted(ident.ProductTypeID)
}

// Decode dispatches on data_field_id: STANDARD_* payloads are taken
// verbatim (with opportunistic measure decoding on broadcast priorities);
// FTCAN_2_0* payloads carry a leading segment number per the reassembly
// state machine in §3 of the protocol description.
func (d *Decoder) Decode(f frame.Frame) (decoder.Result, error) {
	id := f.ID()
	ident := FromCANID(id)
	data := f.Payload()

	base := map[string]any{
		"product_id":      ident.ProductID,
		"product_name":    ident.ProductName(),
		"product_type_id": ident.ProductTypeID,
		"unique_id":       ident.UniqueID,
		"data_field_id":   ident.DataFieldID,
		"message_id":      ident.MessageID,
		"is_response":     ident.IsResponse,
	}

	switch ident.DataFieldID {
	case DataFieldStandardCAN, DataFieldStandardCANBridge:
		var measures []Measure
		if broadcastMessageIDs[ident.MessageID] {
			measures = decodeMeasures(data)
		}
		base["payload"] = data
		base["measures"] = measures
		return decoder.Result{
			Protocol:    "ftcan",
			Success:     true,
			Confidence:  1.0,
			Values:      base,
			Description: fmt.Sprintf("FTCAN standard frame from %s", ident.ProductName()),
			Detail:      measures,
		}, nil
	case DataFieldFTCAN20, DataFieldFTCAN20Bridge:
		return d.decodeSegmented(id, ident, data, base)
	default:
		return decoder.Result{}, fmt.Errorf("ftcan: unknown data_field_id %d", ident.DataFieldID)
	}
}

func (d *Decoder) decodeSegmented(id uint32, ident Identification, data []byte, base map[string]any) (decoder.Result, error) {
	if len(data) == 0 {
		return decoder.Result{}, fmt.Errorf("ftcan: empty data field")
	}
	segNum := data[0]

	if segNum == 0xFF {
		payload := data[1:]
		var measures []Measure
		if broadcastMessageIDs[ident.MessageID] {
			measures = decodeMeasures(payload)
		}
		base["payload"] = payload
		base["measures"] = measures
		base["is_complete"] = true
		return decoder.Result{
			Protocol:    "ftcan",
			Success:     true,
			Confidence:  1.0,
			Values:      base,
			Description: fmt.Sprintf("FTCAN single packet from %s", ident.ProductName()),
			Detail:      measures,
		}, nil
	}

	d.mu.Lock()
	st, ok := d.streams[id]
	if !ok {
		st = &stream{}
		d.addStream(id, st)
	}

	if segNum == 0x00 {
		if len(data) < 3 {
			d.mu.Unlock()
			return decoder.Result{}, fmt.Errorf("ftcan: incomplete first segment")
		}
		totalLength := int(binary.BigEndian.Uint16(data[1:3]) & 0x07FF)
		st.segments = []segment{{number: 0, totalLength: totalLength, payload: append([]byte(nil), data[3:]...)}}
		st.totalLength = totalLength
		st.haveFirst = true
		d.mu.Unlock()
		base["segment_number"] = segNum
		base["total_length"] = totalLength
		base["is_complete"] = false
		return decoder.Result{
			Protocol:    "ftcan",
			Success:     true,
			Confidence:  0.8,
			Values:      base,
			Description: "FTCAN segmented packet, first segment",
		}, nil
	}

	st.segments = append(st.segments, segment{number: segNum, payload: append([]byte(nil), data[1:]...)})
	if !st.haveFirst {
		d.mu.Unlock()
		base["segment_number"] = segNum
		base["is_complete"] = false
		return decoder.Result{
			Protocol:    "ftcan",
			Success:     true,
			Confidence:  0.5,
			Values:      base,
			Description: "FTCAN segmented packet, awaiting first segment",
		}, nil
	}

	payload, complete := tryReassemble(st)
	if !complete {
		d.mu.Unlock()
		base["segment_number"] = segNum
		base["is_complete"] = false
		return decoder.Result{
			Protocol:    "ftcan",
			Success:     true,
			Confidence:  0.6,
			Values:      base,
			Description: "FTCAN segmented packet, reassembly in progress",
		}, nil
	}
	delete(d.streams, id)
	d.mu.Unlock()

	var measures []Measure
	if broadcastMessageIDs[ident.MessageID] {
		measures = decodeMeasures(payload)
	}
	base["payload"] = payload
	base["measures"] = measures
	base["is_complete"] = true
	return decoder.Result{
		Protocol:    "ftcan",
		Success:     true,
		Confidence:  0.95,
		Values:      base,
		Description: fmt.Sprintf("FTCAN reassembled packet from %s", ident.ProductName()),
		Detail:      measures,
	}, nil
}

// tryReassemble concatenates segments 0..N in order and checks the result
// against the declared total length; the buffer persists until it does.
func tryReassemble(st *stream) ([]byte, bool) {
	if !st.haveFirst {
		return nil, false
	}
	bySeg := make(map[uint8][]byte, len(st.segments))
	maxSeg := uint8(0)
	for _, s := range st.segments {
		bySeg[s.number] = s.payload
		if s.number > maxSeg {
			maxSeg = s.number
		}
	}
	var out []byte
	for i := uint8(0); i <= maxSeg; i++ {
		chunk, ok := bySeg[i]
		if !ok {
			return nil, false
		}
		out = append(out, chunk...)
	}
	if len(out) != st.totalLength {
		return nil, false
	}
	return out, true
}

// addStream inserts a new stream, evicting the oldest once the live-stream
// cap is exceeded (must be called with d.mu held).
func (d *Decoder) addStream(id uint32, st *stream) {
	d.streams[id] = st
	d.order = append(d.order, id)
	if len(d.order) > maxLiveStreams {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.streams, oldest)
	}
}

// Reset clears all in-flight reassembly buffers.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams = make(map[uint32]*stream)
	d.order = nil
}

// ExpectedBaudrate returns FTCAN's documented link speed in bits/sec. It is
// informational; the decoder does not enforce it.
func ExpectedBaudrate() int { return 1000000 }

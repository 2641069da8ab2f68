// Package obd2 decodes OBD-II over ISO-TP (ISO 15765-4): PCI framing for
// 11-bit CAN IDs and Mode 01 PID value formulas.
package obd2

import (
	"fmt"

	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/frame"
)

const (
	broadcastID  = 0x7DF
	requestLow   = 0x7E0
	requestHigh  = 0x7E7
	responseLow  = 0x7E8
	responseHigh = 0x7EF
)

// PCI (protocol control information) nibble values at byte 0 of an ISO-TP frame.
const (
	pciSingleFrame       = 0
	pciFirstFrame        = 1
	pciConsecutiveFrame  = 2
	pciFlowControlFrame  = 3
)

var flowControlNames = map[byte]string{0: "CTS", 1: "Wait", 2: "Overflow"}

// Decoder implements decoder.Decoder for OBD-II/ISO-TP frames. It is
// stateless for single frames; per §9's known limitation it tags first/
// consecutive frames without reassembling a multi-frame application payload.
type Decoder struct {
	enabled bool
}

// New returns an enabled OBD-II decoder.
func New() *Decoder { return &Decoder{enabled: true} }

func (d *Decoder) Name() string        { return "obd2" }
func (d *Decoder) Description() string { return "OBD-II over ISO-TP (ISO 15765-4) decoder" }
func (d *Decoder) Priority() int       { return 20 }
func (d *Decoder) Enabled() bool       { return d.enabled }
func (d *Decoder) SetEnabled(v bool)   { d.enabled = v }

// CanDecode accepts the standard 11-bit functional/request/response range,
// and 29-bit IDs whose upper field is 0x18DA* or 0x18DB*.
func (d *Decoder) CanDecode(id uint32, data []byte, extended bool) bool {
	if len(data) < 2 {
		return false
	}
	if extended {
		upper := id & 0x1FFF0000
		return upper == 0x18DA0000 || upper == 0x18DB0000
	}
	return id == broadcastID || (id >= requestLow && id <= requestHigh) || (id >= responseLow && id <= responseHigh)
}

// Decode dispatches 11-bit frames through PCI/service/PID parsing and
// 29-bit frames through the address-field annotation path.
func (d *Decoder) Decode(f frame.Frame) (decoder.Result, error) {
	id := f.ID()
	data := f.Payload()
	if len(data) < 2 {
		return decoder.Result{}, fmt.Errorf("obd2: frame too short (%d bytes)", len(data))
	}
	if f.Extended() {
		return decode29bit(id), nil
	}
	return decode11bit(id, data)
}

func decode29bit(id uint32) decoder.Result {
	priority := (id >> 26) & 0x07
	target := (id >> 8) & 0xFF
	source := id & 0xFF
	values := map[string]any{
		"type":     "29bit",
		"priority": priority,
		"target":   target,
		"source":   source,
	}
	return decoder.Result{
		Protocol:    "obd2",
		Success:     true,
		Confidence:  0.6,
		Values:      values,
		Description: fmt.Sprintf("29-bit OBD-II: %02X -> %02X", source, target),
	}
}

func decode11bit(id uint32, data []byte) (decoder.Result, error) {
	pci := data[0] >> 4
	length := data[0] & 0x0F

	switch pci {
	case pciSingleFrame:
		return decodeSingleFrame(id, data, length)
	case pciFirstFrame:
		totalLength := (uint16(data[0]&0x0F) << 8) | uint16(data[1])
		return decoder.Result{
			Protocol:   "obd2",
			Success:    true,
			Confidence: 0.7,
			Values: map[string]any{
				"type":         "first_frame",
				"total_length": totalLength,
			},
			Description: fmt.Sprintf("First Frame (total: %d bytes)", totalLength),
		}, nil
	case pciConsecutiveFrame:
		sequence := data[0] & 0x0F
		return decoder.Result{
			Protocol:   "obd2",
			Success:    true,
			Confidence: 0.7,
			Values: map[string]any{
				"type":     "consecutive_frame",
				"sequence": sequence,
			},
			Description: fmt.Sprintf("Consecutive Frame #%d", sequence),
		}, nil
	case pciFlowControlFrame:
		status := data[0] & 0x0F
		name, ok := flowControlNames[status]
		if !ok {
			name = "Unknown"
		}
		return decoder.Result{
			Protocol:   "obd2",
			Success:    true,
			Confidence: 0.7,
			Values: map[string]any{
				"type":   "flow_control",
				"status": status,
			},
			Description: fmt.Sprintf("Flow Control: %s", name),
		}, nil
	default:
		return decoder.Result{}, fmt.Errorf("obd2: invalid PCI nibble %d", pci)
	}
}

func decodeSingleFrame(id uint32, data []byte, length byte) (decoder.Result, error) {
	if length < 1 || len(data) < int(length)+1 {
		return decoder.Result{}, fmt.Errorf("obd2: invalid frame length %d", length)
	}
	service := data[1]
	isResponse := id >= responseLow && id <= responseHigh

	values := map[string]any{}
	var description string

	if isResponse {
		actual := service
		if service >= 0x40 {
			actual = service - 0x40
		}
		values["type"] = "response"
		values["service"] = actual
		name := serviceName(actual)

		if actual == 0x01 && length >= 2 {
			pid := data[2]
			pidName := pidDisplayName(pid)
			values["pid"] = pid
			values["pid_name"] = pidName
			if length >= 3 {
				valueData := data[3 : 3+int(length)-2]
				pidValue := decodePIDValue(pid, valueData)
				values["value"] = pidValue
				description = fmt.Sprintf("Response: %s - %s", name, pidName)
			} else {
				description = fmt.Sprintf("Response: %s - %s", name, pidName)
			}
		} else {
			description = fmt.Sprintf("Response: %s", name)
		}
	} else {
		values["type"] = "request"
		values["service"] = service
		name := serviceName(service)
		if service == 0x01 && length >= 2 {
			pid := data[2]
			pidName := pidDisplayName(pid)
			values["pid"] = pid
			values["pid_name"] = pidName
			description = fmt.Sprintf("Request: %s - %s", name, pidName)
		} else {
			description = fmt.Sprintf("Request: %s", name)
		}
	}

	return decoder.Result{
		Protocol:    "obd2",
		Success:     true,
		Confidence:  0.9,
		Values:      values,
		Description: description,
	}, nil
}

func pidDisplayName(pid byte) string {
	if info, ok := pidTable[pid]; ok {
		return info.Name
	}
	return fmt.Sprintf("Unknown PID 0x%02X", pid)
}

// decodePIDValue applies the PID table's formula to raw value bytes. It
// returns nil (no value) for PIDs lacking enough bytes or an unknown type,
// rather than failing the whole decode.
func decodePIDValue(pid byte, data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	info, ok := pidTable[pid]
	if !ok {
		return nil
	}
	switch info.Type {
	case "direct":
		return map[string]any{"value": data[0], "unit": info.Unit}
	case "percent":
		return map[string]any{"value": float64(data[0]) * 100 / 255, "unit": "%"}
	case "temp_offset":
		return map[string]any{"value": int(data[0]) - 40, "unit": "°C"}
	case "rpm":
		if len(data) < 2 {
			return nil
		}
		rpm := float64(uint16(data[0])<<8|uint16(data[1])) / 4
		return map[string]any{"value": rpm, "unit": "RPM"}
	case "uint16":
		if len(data) < 2 {
			return nil
		}
		v := uint16(data[0])<<8 | uint16(data[1])
		return map[string]any{"value": v, "unit": info.Unit}
	case "voltage":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1])) / 1000
		return map[string]any{"value": v, "unit": "V"}
	case "fuel_pressure":
		return map[string]any{"value": int(data[0]) * 3, "unit": "kPa"}
	case "fuel_rail_rel":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1])) * 0.079
		return map[string]any{"value": v, "unit": "kPa"}
	case "fuel_rail_abs":
		if len(data) < 2 {
			return nil
		}
		v := int(uint16(data[0])<<8|uint16(data[1])) * 10
		return map[string]any{"value": v, "unit": "kPa"}
	case "maf":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1])) / 100
		return map[string]any{"value": v, "unit": "g/s"}
	case "fuel_rate":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1])) / 20
		return map[string]any{"value": v, "unit": "L/h"}
	case "timing":
		v := float64(data[0])/2 - 64
		return map[string]any{"value": v, "unit": "° before TDC"}
	case "fuel_trim":
		v := float64(data[0])*100/128 - 100
		return map[string]any{"value": v, "unit": "%"}
	case "o2_voltage":
		if len(data) < 2 {
			return nil
		}
		voltage := float64(data[0]) / 200
		out := map[string]any{"voltage": voltage, "unit": "V"}
		if data[1] != 0xFF {
			out["stft"] = float64(data[1])*100/128 - 100
		}
		return out
	case "o2_lambda":
		if len(data) < 4 {
			return nil
		}
		lambda := float64(uint16(data[0])<<8|uint16(data[1])) * 2 / 65536
		voltage := float64(uint16(data[2])<<8|uint16(data[3])) * 8 / 65536
		return map[string]any{"lambda": lambda, "voltage": voltage}
	case "o2_lambda_current":
		if len(data) < 4 {
			return nil
		}
		lambda := float64(uint16(data[0])<<8|uint16(data[1])) * 2 / 65536
		current := float64(uint16(data[2])<<8|uint16(data[3]))/256 - 128
		return map[string]any{"lambda": lambda, "current_ma": current}
	case "commanded_lambda":
		if len(data) < 2 {
			return nil
		}
		lambda := float64(uint16(data[0])<<8|uint16(data[1])) * 2 / 65536
		return map[string]any{"lambda": lambda}
	case "absolute_load":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1])) * 100 / 255
		return map[string]any{"value": v, "unit": "%"}
	case "injection_timing":
		if len(data) < 2 {
			return nil
		}
		v := float64(uint16(data[0])<<8|uint16(data[1]))/128 - 210
		return map[string]any{"value": v, "unit": "°"}
	case "torque":
		return map[string]any{"value": int(data[0]) - 125, "unit": "%"}
	case "fuel_type":
		name, ok := fuelTypeNames[data[0]]
		if !ok {
			name = fmt.Sprintf("Unknown (%d)", data[0])
		}
		return map[string]any{"value": name}
	case "bitfield":
		supported := supportedPIDs(pid, data)
		return map[string]any{"supported_pids": supported}
	default:
		return nil
	}
}

// Package capture reads and writes the JSON capture file format shared by
// the tracer, monitor, transmit list, gateway, FTCAN analyzer, and VAG BAP
// tooling — one envelope shape discriminated by file_type.
package capture

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/phnahes/can-gateway/internal/frame"
)

// FileType discriminates the capture's intended consumer. Loaders reject a
// file whose FileType isn't in their accepted set with ErrWrongFileType.
type FileType string

const (
	FileTypeTracer        FileType = "tracer"
	FileTypeMonitor       FileType = "monitor"
	FileTypeTransmit      FileType = "transmit"
	FileTypeGateway       FileType = "gateway"
	FileTypeFTCANAnalyzer FileType = "ftcan_analyzer"
	FileTypeVAGBAPCapture FileType = "vag_bap_capture"
)

// ErrWrongFileType is returned by Load when the file's file_type isn't
// among the caller's accepted set.
var ErrWrongFileType = fmt.Errorf("capture: unexpected file_type")

// Record is the canonical on-disk frame serialization.
type Record struct {
	Timestamp        float64 `json:"timestamp"`
	CANID            uint32  `json:"can_id"`
	DLC              uint8   `json:"dlc"`
	Data             string  `json:"data"` // hex-encoded
	Comment          string  `json:"comment,omitempty"`
	Period           int     `json:"period,omitempty"`
	Count            int     `json:"count,omitempty"`
	Source           string  `json:"source,omitempty"`
	IsExtended       bool    `json:"is_extended"`
	IsRTR            bool    `json:"is_rtr"`
	GatewayProcessed bool    `json:"gateway_processed,omitempty"`
	GatewayAction    string  `json:"gateway_action,omitempty"`
}

// FromFrame builds a Record from a runtime frame.Frame, comment/period/
// count being capture-format-only metadata with no frame.Frame equivalent.
func FromFrame(f frame.Frame, comment string, period, count int) Record {
	return Record{
		Timestamp:        f.Timestamp,
		CANID:            f.ID(),
		DLC:              f.Len,
		Data:             hex.EncodeToString(f.Payload()),
		Comment:          comment,
		Period:           period,
		Count:            count,
		Source:           f.Source,
		IsExtended:       f.Extended(),
		IsRTR:            f.RTR(),
		GatewayProcessed: f.AlreadyRouted,
		GatewayAction:    f.GatewayAction.String(),
	}
}

// Frame reconstructs a frame.Frame from the record, discarding the
// capture-only metadata (Comment/Period/Count/GatewayAction string).
func (r Record) Frame() (frame.Frame, error) {
	data, err := hex.DecodeString(r.Data)
	if err != nil {
		return frame.Frame{}, fmt.Errorf("%w: bad hex data: %v", frame.ErrMalformedFrame, err)
	}
	f, err := frame.New(r.CANID, data, r.IsExtended, r.IsRTR)
	if err != nil {
		return frame.Frame{}, err
	}
	f.Timestamp = r.Timestamp
	f.Source = r.Source
	f.AlreadyRouted = r.GatewayProcessed
	return f, nil
}

// File is the complete capture envelope.
type File struct {
	FileType     FileType `json:"file_type"`
	Version      int      `json:"version"`
	CreatedAt    string   `json:"created_at"`
	Messages     []Record `json:"messages,omitempty"`
	Reassembled  []Record `json:"reassembled,omitempty"`
	Raw          []Record `json:"raw,omitempty"`
}

// Records returns whichever populated array the file carries (messages,
// reassembled, or raw — in that preference order).
func (f File) Records() []Record {
	switch {
	case len(f.Messages) > 0:
		return f.Messages
	case len(f.Reassembled) > 0:
		return f.Reassembled
	default:
		return f.Raw
	}
}

// Load reads path and validates its file_type is one of accepted. An empty
// accepted set skips the check.
func Load(path string, accepted ...FileType) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("capture: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("capture: parse %s: %w", path, err)
	}
	if len(accepted) > 0 && !contains(accepted, f.FileType) {
		return File{}, fmt.Errorf("%w: got %q, want one of %v", ErrWrongFileType, f.FileType, accepted)
	}
	return f, nil
}

func contains(set []FileType, v FileType) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Save writes f to path as indented JSON.
func Save(path string, f File) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("capture: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("capture: write %s: %w", path, err)
	}
	return nil
}

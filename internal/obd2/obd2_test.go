package obd2

import (
	"testing"

	"github.com/phnahes/can-gateway/internal/frame"
)

// TestDecode_RPMResponse covers S1: 11-bit 0x7E8, service 0x01 PID 0x0C.
func TestDecode_RPMResponse(t *testing.T) {
	d := New()
	f, err := frame.New(0x7E8, []byte{0x04, 0x41, 0x0C, 0x1A, 0xF8, 0x00, 0x00, 0x00}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.CanDecode(f.ID(), f.Payload(), f.Extended()) {
		t.Fatal("expected CanDecode to accept 0x7E8")
	}
	res, err := d.Decode(f)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if res.Values["pid_name"] != "Engine RPM" {
		t.Fatalf("pid_name = %v, want Engine RPM", res.Values["pid_name"])
	}
	value, ok := res.Values["value"].(map[string]any)
	if !ok {
		t.Fatalf("value not a map: %#v", res.Values["value"])
	}
	rpm, ok := value["value"].(float64)
	if !ok {
		t.Fatalf("rpm not float64: %#v", value["value"])
	}
	if rpm != 1726 {
		t.Fatalf("rpm = %v, want 1726", rpm)
	}
}

// TestDecode_SupportedPIDs covers S2: bitfield 0xBE3FA813 over base 0x00.
func TestDecode_SupportedPIDs(t *testing.T) {
	d := New()
	f, err := frame.New(0x7E8, []byte{0x06, 0x41, 0x00, 0xBE, 0x3F, 0xA8, 0x13}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Decode(f)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	value := res.Values["value"].(map[string]any)
	pids := value["supported_pids"].([]byte)

	want := []byte{0x01, 0x03, 0x04, 0x05, 0x06, 0x07, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F, 0x10, 0x11, 0x13, 0x15, 0x1C, 0x1F, 0x20}
	if len(pids) != len(want) {
		t.Fatalf("got %d pids %02X, want %d %02X", len(pids), pids, len(want), want)
	}
	for i := range want {
		if pids[i] != want[i] {
			t.Fatalf("pid[%d] = 0x%02X, want 0x%02X (full: %02X)", i, pids[i], want[i], pids)
		}
	}
}

func TestCanDecode_RejectsUnrelatedID(t *testing.T) {
	d := New()
	if d.CanDecode(0x100, []byte{0x01, 0x02}, false) {
		t.Fatal("expected CanDecode to reject an unrelated 11-bit ID")
	}
}

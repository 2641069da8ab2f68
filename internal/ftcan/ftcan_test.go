package ftcan

import (
	"testing"

	"github.com/phnahes/can-gateway/internal/frame"
)

// buildID packs product_type_id/unique_id/data_field_id/message_id into an
// FTCAN 29-bit identifier using the same layout FromCANID decodes.
func buildID(productTypeID uint16, uniqueID uint8, dataFieldID DataFieldID, messageID uint16) uint32 {
	productID := (uint32(productTypeID) << 5) | uint32(uniqueID)
	return (productID&0x7FFF)<<14 | (uint32(dataFieldID)&0x07)<<11 | (uint32(messageID) & 0x7FF)
}

func TestFromCANID_RoundTrip(t *testing.T) {
	id := buildID(uint16(ProductFT500ECU), 3, DataFieldFTCAN20, 0x1FF)
	ident := FromCANID(id)
	if ident.ProductTypeID != uint16(ProductFT500ECU) {
		t.Fatalf("ProductTypeID = 0x%X, want 0x%X", ident.ProductTypeID, ProductFT500ECU)
	}
	if ident.DataFieldID != DataFieldFTCAN20 {
		t.Fatalf("DataFieldID = %v, want FTCAN20", ident.DataFieldID)
	}
	if ident.MessageID != 0x1FF {
		t.Fatalf("MessageID = 0x%X, want 0x1FF", ident.MessageID)
	}
	if ident.ProductName() != "FT500_ECU" {
		t.Fatalf("ProductName() = %q, want FT500_ECU", ident.ProductName())
	}
}

// TestDecode_SinglePacketMeasure covers S3: single-packet (segNum=0xFF) on
// message_id=0x1FF (a broadcast priority), carrying one measure with
// measure_id=0x0084 -> data_id=0x0042 (ECU RPM), value=0x0DAC=3500.
func TestDecode_SinglePacketMeasure(t *testing.T) {
	d := New()
	id := buildID(uint16(ProductFT500ECU), 0, DataFieldFTCAN20, 0x1FF)
	payload := []byte{0xFF, 0x00, 0x84, 0x0D, 0xAC}
	f, err := frame.New(id, payload, true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !d.CanDecode(f.ID(), f.Payload(), f.Extended()) {
		t.Fatal("expected CanDecode to accept FT500 FTCAN2.0 frame")
	}
	res, err := d.Decode(f)
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if res.Values["is_complete"] != true {
		t.Fatalf("is_complete = %v, want true", res.Values["is_complete"])
	}
	measures, ok := res.Detail.([]Measure)
	if !ok {
		t.Fatalf("Detail not []Measure: %#v", res.Detail)
	}
	if len(measures) != 1 {
		t.Fatalf("expected 1 measure, got %d", len(measures))
	}
	m := measures[0]
	if m.DataID != 0x0042 {
		t.Fatalf("DataID = 0x%04X, want 0x0042", m.DataID)
	}
	if m.IsStatus {
		t.Fatal("expected IsStatus=false")
	}
	if m.RealValue() != 3500 {
		t.Fatalf("RealValue() = %v, want 3500", m.RealValue())
	}
	if m.Name() != "ECU RPM" {
		t.Fatalf("Name() = %q, want ECU RPM", m.Name())
	}
}

// TestDecode_SegmentedReassembly covers S4: a first segment declaring
// total_length=40, followed by consecutive segments until 40 bytes
// accumulate.
func TestDecode_SegmentedReassembly(t *testing.T) {
	d := New()
	id := buildID(uint16(ProductFT500ECU), 0, DataFieldFTCAN20, 0x1FF)

	first := []byte{0x00, 0x00, 0x28, 1, 2, 3, 4, 5}
	f0, err := frame.New(id, first, true, false)
	if err != nil {
		t.Fatal(err)
	}
	res0, err := d.Decode(f0)
	if err != nil {
		t.Fatalf("first segment Decode error: %v", err)
	}
	if res0.Values["is_complete"] != false {
		t.Fatalf("first segment is_complete = %v, want false", res0.Values["is_complete"])
	}
	if res0.Values["total_length"] != 40 {
		t.Fatalf("total_length = %v, want 40", res0.Values["total_length"])
	}

	// 5 bytes already buffered; need 35 more, 7 bytes per continuation -> 5 segments.
	var lastRes interface{}
	accumulated := 5
	segNum := uint8(1)
	for accumulated < 40 {
		chunk := make([]byte, 0, 8)
		chunk = append(chunk, segNum)
		remaining := 40 - accumulated
		n := 7
		if remaining < n {
			n = remaining
		}
		for i := 0; i < n; i++ {
			chunk = append(chunk, byte(accumulated+i))
		}
		fn, err := frame.New(id, chunk, true, false)
		if err != nil {
			t.Fatal(err)
		}
		res, err := d.Decode(fn)
		if err != nil {
			t.Fatalf("segment %d Decode error: %v", segNum, err)
		}
		accumulated += n
		segNum++
		lastRes = res.Values["is_complete"]
		if accumulated < 40 && lastRes != false {
			t.Fatalf("segment %d: is_complete = %v before reaching total length", segNum, lastRes)
		}
	}
	if lastRes != true {
		t.Fatalf("final is_complete = %v, want true", lastRes)
	}
}

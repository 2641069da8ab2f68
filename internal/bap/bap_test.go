package bap

import (
	"bytes"
	"testing"

	"github.com/phnahes/can-gateway/internal/frame"
)

// TestDecode_MQBReassembly covers S5: a start frame declaring length 12
// followed by continuations on the same mf_channel supplying the remaining
// 8 bytes.
func TestDecode_MQBReassembly(t *testing.T) {
	d := New(Conservative)
	const id = 0x17333310

	start := []byte{0x80, 0x0C, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04}
	f0, err := frame.New(id, start, true, false)
	if err != nil {
		t.Fatal(err)
	}
	res0, err := d.Decode(f0)
	if err != nil {
		t.Fatalf("start Decode error: %v", err)
	}
	if res0.Success {
		t.Fatalf("expected no emission on incomplete start frame in conservative mode, got %#v", res0.Values)
	}

	cont1 := []byte{0xC0, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B}
	fc, err := frame.New(id, cont1, true, false)
	if err != nil {
		t.Fatal(err)
	}
	resc, err := d.Decode(fc)
	if err != nil {
		t.Fatalf("first continuation Decode error: %v", err)
	}
	if resc.Success {
		t.Fatalf("expected no emission with 11 of 12 bytes collected in conservative mode, got %#v", resc.Values)
	}

	cont2 := []byte{0xC0, 0x0C}
	f1, err := frame.New(id, cont2, true, false)
	if err != nil {
		t.Fatal(err)
	}
	res1, err := d.Decode(f1)
	if err != nil {
		t.Fatalf("continuation Decode error: %v", err)
	}
	if !res1.Success {
		t.Fatal("expected a completed-message emission on the continuation frame")
	}
	if res1.Values["kind"] != "complete" {
		t.Fatalf("kind = %v, want complete", res1.Values["kind"])
	}
	if res1.Values["declared_length"] != 12 {
		t.Fatalf("declared_length = %v, want 12", res1.Values["declared_length"])
	}
	payload, ok := res1.Values["payload"].([]byte)
	if !ok {
		t.Fatalf("payload not []byte: %#v", res1.Values["payload"])
	}
	want := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C}
	if !bytes.Equal(payload, want) {
		t.Fatalf("payload = %02X, want %02X", payload, want)
	}
	if res1.Values["endpoint"] != "FSG" {
		t.Fatalf("endpoint = %v, want FSG", res1.Values["endpoint"])
	}
}

func TestDecode_ContinuationWithoutStartIsIgnored(t *testing.T) {
	d := New(Conservative)
	f, err := frame.New(0x17333310, []byte{0xC0, 0x01, 0x02}, true, false)
	if err != nil {
		t.Fatal(err)
	}
	res, err := d.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Fatal("expected continuation with no matching start to be dropped")
	}
}

func TestDecode_StartSupersedesInFlightStream(t *testing.T) {
	d := New(Conservative)
	const id = 0x17333310

	f0, _ := frame.New(id, []byte{0x80, 0x20, 0x00, 0x00, 1, 2, 3, 4}, true, false)
	if _, err := d.Decode(f0); err != nil {
		t.Fatal(err)
	}

	f1, _ := frame.New(id, []byte{0x80, 0x20, 0x00, 0x00, 5, 6, 7, 8}, true, false)
	res, err := d.Decode(f1)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Values["kind"] != "superseded" {
		t.Fatalf("expected superseded emission, got %#v", res.Values)
	}
}

// TestDecode_DistinctMFChannelsDoNotCollide covers two BAP streams sharing
// a can_id but distinguished by mf_channel: interleaving their frames must
// not supersede one with the other.
func TestDecode_DistinctMFChannelsDoNotCollide(t *testing.T) {
	d := New(Conservative)
	const id = 0x17333310

	// mf_channel 0 (bits [5:4] of byte0 = 00): start declares length 8.
	startA, _ := frame.New(id, []byte{0x80, 0x08, 0x00, 0x00, 1, 2, 3, 4}, true, false)
	if _, err := d.Decode(startA); err != nil {
		t.Fatal(err)
	}

	// mf_channel 1 (bits [5:4] of byte0 = 01): a different start on the
	// same can_id must not be reported as superseding channel 0's stream.
	startB, _ := frame.New(id, []byte{0x90, 0x08, 0x00, 0x00, 5, 6, 7, 8}, true, false)
	resB, err := d.Decode(startB)
	if err != nil {
		t.Fatal(err)
	}
	if resB.Success && resB.Values["kind"] == "superseded" {
		t.Fatalf("distinct mf_channel start wrongly reported as superseding another channel: %#v", resB.Values)
	}

	// Completing channel 0's stream must still reassemble channel 0's own
	// bytes, not channel 1's.
	contA, _ := frame.New(id, []byte{0xC0, 5, 6, 7, 8}, true, false)
	resA, err := d.Decode(contA)
	if err != nil {
		t.Fatal(err)
	}
	if !resA.Success || resA.Values["kind"] != "complete" {
		t.Fatalf("expected channel 0 to complete independently, got %#v", resA.Values)
	}
	payload, _ := resA.Values["payload"].([]byte)
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(payload, want) {
		t.Fatalf("channel 0 payload = %02X, want %02X (must not mix with channel 1)", payload, want)
	}
}

func TestMFChannel_UsesCorrectBitFormula(t *testing.T) {
	d := New(Conservative)
	const id = 0x17333310

	// byte0 = 0xA0 -> start bits 10, mf_channel bits (>>4)&0x3 = 0x2.
	// Under the old (wrong) data[0]&0x3F formula this would yield 0x20,
	// not matching a continuation's own (correct) channel computation.
	start, _ := frame.New(id, []byte{0xA0, 0x04, 0x00, 0x00, 1, 2}, true, false)
	if _, err := d.Decode(start); err != nil {
		t.Fatal(err)
	}
	// byte0 = 0xE0 -> continuation bits 11, mf_channel (>>4)&0x3 = 0x2,
	// matching the start frame's channel.
	cont, _ := frame.New(id, []byte{0xE0, 3, 4}, true, false)
	res, err := d.Decode(cont)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Values["kind"] != "complete" {
		t.Fatalf("expected matching mf_channel (0x2 from both 0xA0 and 0xE0) to reassemble, got %#v", res.Values)
	}
}

func TestAddressFields_PQPlatform(t *testing.T) {
	addr := addressFields(0x2A5, false)
	if addr["platform"] != "PQ" {
		t.Fatalf("platform = %v, want PQ", addr["platform"])
	}
}

package gateway

import (
	"testing"

	"github.com/phnahes/can-gateway/internal/frame"
)

// TestProcess_LoopPrevention covers S6: CAN1->CAN2 and CAN2->CAN1 routes
// with loop prevention enabled. A frame injected on CAN1 forwards once;
// when that same (now already-routed) frame arrives back on CAN2's
// receive path, it is dropped as loop_prevented instead of forwarding
// again to CAN1.
func TestProcess_LoopPrevention(t *testing.T) {
	cfg := &Config{
		Enabled:               true,
		LoopPreventionEnabled: true,
		MaxHops:               1,
		Routes: []Route{
			{Source: "CAN1", Destination: "CAN2", Enabled: true},
			{Source: "CAN2", Destination: "CAN1", Enabled: true},
		},
	}
	e := NewEngine(cfg)

	f, err := frame.New(0x123, []byte{1, 2, 3}, false, false)
	if err != nil {
		t.Fatal(err)
	}

	d1 := e.Process(f, "CAN1")
	if !d1.Forward {
		t.Fatal("expected frame to forward on first pass")
	}
	if d1.Destination != "CAN2" {
		t.Fatalf("Destination = %q, want CAN2", d1.Destination)
	}
	if d1.Action != frame.ActionForwarded {
		t.Fatalf("Action = %v, want ActionForwarded", d1.Action)
	}
	if !d1.Frame.AlreadyRouted {
		t.Fatal("expected AlreadyRouted=true on the forwarded frame")
	}

	d2 := e.Process(d1.Frame, "CAN2")
	if d2.Forward {
		t.Fatal("expected the already-routed frame to be dropped, not forwarded again")
	}
	if d2.Action != frame.ActionLoopPrevented {
		t.Fatalf("Action = %v, want ActionLoopPrevented", d2.Action)
	}
}

// TestProcess_MaxHopsGreaterThanOneAllowsMultipleReroutes covers the case
// the earlier "block on any re-route" bug hid: with max_hops=2 a frame
// must survive a second re-route and only be loop-prevented on the third.
func TestProcess_MaxHopsGreaterThanOneAllowsMultipleReroutes(t *testing.T) {
	cfg := &Config{
		Enabled:               true,
		LoopPreventionEnabled: true,
		MaxHops:               2,
		Routes: []Route{
			{Source: "CAN1", Destination: "CAN2", Enabled: true},
			{Source: "CAN2", Destination: "CAN3", Enabled: true},
			{Source: "CAN3", Destination: "CAN1", Enabled: true},
		},
	}
	e := NewEngine(cfg)
	f, _ := frame.New(0x123, []byte{1, 2, 3}, false, false)

	d1 := e.Process(f, "CAN1")
	if !d1.Forward || d1.Frame.Hops != 1 {
		t.Fatalf("expected first hop to forward with Hops=1, got %#v", d1)
	}

	d2 := e.Process(d1.Frame, "CAN2")
	if !d2.Forward || d2.Frame.Hops != 2 {
		t.Fatalf("expected second hop (within max_hops=2) to still forward with Hops=2, got %#v", d2)
	}

	d3 := e.Process(d2.Frame, "CAN3")
	if d3.Forward {
		t.Fatal("expected the third hop to be loop-prevented once hop count reaches max_hops")
	}
	if d3.Action != frame.ActionLoopPrevented {
		t.Fatalf("Action = %v, want ActionLoopPrevented", d3.Action)
	}
}

func TestProcess_NoRouteMeansNoForward(t *testing.T) {
	cfg := &Config{Enabled: true, Routes: []Route{{Source: "CAN1", Destination: "CAN2", Enabled: true}}}
	e := NewEngine(cfg)
	f, _ := frame.New(0x10, []byte{1}, false, false)
	d := e.Process(f, "CAN3")
	if d.Forward {
		t.Fatal("expected no forward when source has no enabled route")
	}
}

func TestProcess_BlockRuleDropsFrame(t *testing.T) {
	cfg := &Config{
		Enabled: true,
		Routes:  []Route{{Source: "CAN1", Destination: "CAN2", Enabled: true}},
		BlockRules: []BlockRule{
			{CANID: 0x200, Channel: "CAN1", Enabled: true},
		},
	}
	e := NewEngine(cfg)
	f, _ := frame.New(0x200, []byte{1}, false, false)
	d := e.Process(f, "CAN1")
	if d.Forward || d.Action != frame.ActionBlocked {
		t.Fatalf("expected blocked decision, got %#v", d)
	}
}

func TestProcess_ModifyRuleRewritesIDAndBytes(t *testing.T) {
	newID := uint32(0x300)
	cfg := &Config{
		Enabled: true,
		Routes:  []Route{{Source: "CAN1", Destination: "CAN2", Enabled: true}},
		ModifyRules: []ModifyRule{
			{
				CANID:    0x200,
				Channel:  "CAN1",
				Enabled:  true,
				NewID:    &newID,
				DataMask: [8]bool{0: true, 1: true},
				NewData:  [8]byte{0: 0xAA, 1: 0xBB},
			},
		},
	}
	e := NewEngine(cfg)
	f, _ := frame.New(0x200, []byte{1, 2, 3}, false, false)
	d := e.Process(f, "CAN1")
	if !d.Forward || d.Action != frame.ActionModified {
		t.Fatalf("expected modified+forward decision, got %#v", d)
	}
	if d.Frame.ID() != 0x300 {
		t.Fatalf("ID = 0x%X, want 0x300", d.Frame.ID())
	}
	got := d.Frame.Payload()
	want := []byte{0xAA, 0xBB, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload = %v, want %v", got, want)
		}
	}
}

func TestDynamicBlock_Tick_Wraps(t *testing.T) {
	db := &DynamicBlock{IDFrom: 0x10, IDTo: 0x12, Channel: "CAN1", Enabled: true}
	cfg := &Config{Enabled: true, DynamicBlocks: []*DynamicBlock{db}}
	e := NewEngine(cfg)

	if got := db.Current(); got != 0x10 {
		t.Fatalf("Current() = 0x%X, want 0x10", got)
	}
	e.Tick()
	if got := db.Current(); got != 0x11 {
		t.Fatalf("after 1 tick, Current() = 0x%X, want 0x11", got)
	}
	e.Tick()
	e.Tick()
	if got := db.Current(); got != 0x10 {
		t.Fatalf("after wrap, Current() = 0x%X, want 0x10", got)
	}
}

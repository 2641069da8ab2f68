package frame

import "testing"

func TestRouted_IncrementsHopsAndMarksRouted(t *testing.T) {
	f, err := New(0x123, []byte{1, 2, 3}, false, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.Hops != 0 || f.AlreadyRouted {
		t.Fatalf("expected a fresh frame to have Hops=0 and AlreadyRouted=false, got %#v", f)
	}

	g := f.Routed("CAN1", ActionForwarded)
	if !g.AlreadyRouted {
		t.Fatal("expected AlreadyRouted=true after Routed")
	}
	if g.Hops != 1 {
		t.Fatalf("Hops = %d, want 1", g.Hops)
	}
	if g.Source != "CAN1" {
		t.Fatalf("Source = %q, want CAN1", g.Source)
	}
	if g.GatewayAction != ActionForwarded {
		t.Fatalf("GatewayAction = %v, want ActionForwarded", g.GatewayAction)
	}

	h := g.Routed("CAN2", ActionForwarded)
	if h.Hops != 2 {
		t.Fatalf("Hops = %d, want 2 after a second Routed call", h.Hops)
	}
	if f.Hops != 0 {
		t.Fatalf("original frame must be unmodified by Routed, got Hops=%d", f.Hops)
	}
}

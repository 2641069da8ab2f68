package observer

import (
	"testing"

	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/frame"
)

func TestHub_FansOutToAllSinks(t *testing.T) {
	h := NewHub()
	var calls []string
	h.Register(Sink{OnFrame: func(frame.Frame) { calls = append(calls, "a") }})
	h.Register(Sink{OnFrame: func(frame.Frame) { calls = append(calls, "b") }})
	h.Register(Sink{}) // all-nil sink should be skipped silently

	f, _ := frame.New(0x1, []byte{1}, false, false)
	h.NotifyFrame(f)

	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("expected both sinks called in registration order, got %v", calls)
	}
}

func TestHub_PanickingSinkDoesNotStopOthers(t *testing.T) {
	h := NewHub()
	var secondCalled bool
	h.Register(Sink{OnFrame: func(frame.Frame) { panic("boom") }})
	h.Register(Sink{OnFrame: func(frame.Frame) { secondCalled = true }})

	f, _ := frame.New(0x1, []byte{1}, false, false)
	h.NotifyFrame(f)

	if !secondCalled {
		t.Fatal("expected the second sink to run despite the first panicking")
	}
}

func TestHub_NotifyDecodedAndDiffDecision(t *testing.T) {
	h := NewHub()
	var gotResults []decoder.Result
	var gotDecision diff.Decision
	h.Register(Sink{
		OnDecoded:      func(_ frame.Frame, results []decoder.Result) { gotResults = results },
		OnDiffDecision: func(_ frame.Frame, d diff.Decision) { gotDecision = d },
	})

	f, _ := frame.New(0x1, []byte{1}, false, false)
	results := []decoder.Result{{Protocol: "ftcan", Success: true}}
	h.NotifyDecoded(f, results)
	h.NotifyDiffDecision(f, diff.Decision{Display: true, Reason: "first"})

	if len(gotResults) != 1 || gotResults[0].Protocol != "ftcan" {
		t.Fatalf("unexpected decoded results: %#v", gotResults)
	}
	if !gotDecision.Display || gotDecision.Reason != "first" {
		t.Fatalf("unexpected diff decision: %#v", gotDecision)
	}
}

func TestHub_Notify(t *testing.T) {
	h := NewHub()
	var gotText string
	var gotMS int
	h.Register(Sink{OnNotify: func(text string, durationMS int) { gotText, gotMS = text, durationMS }})
	h.Notify("wrong file type", 3000)
	if gotText != "wrong file type" || gotMS != 3000 {
		t.Fatalf("got (%q, %d)", gotText, gotMS)
	}
}

// Package observer is the push-only notification surface the gateway core
// hands events to: frame arrival, decode results, diff decisions, and
// free-text notices. Every callback is best-effort — a nil or slow
// subscriber never back-pressures the pipeline that's calling it.
package observer

import (
	"github.com/phnahes/can-gateway/internal/decoder"
	"github.com/phnahes/can-gateway/internal/diff"
	"github.com/phnahes/can-gateway/internal/frame"
)

// Sink collects the callbacks a subscriber wants. Any field left nil is
// simply skipped; the Hub's Notify* methods invoke whichever hooks are non-nil.
type Sink struct {
	OnFrame        func(f frame.Frame)
	OnDecoded      func(f frame.Frame, results []decoder.Result)
	OnDiffDecision func(f frame.Frame, d diff.Decision)
	OnNotify       func(text string, durationMS int)
}

// Hub fans events out to every registered Sink without blocking on any of
// them: each dispatch runs synchronously in the caller's goroutine (sinks
// are expected to be cheap — e.g. appending to a ring buffer or sending on
// a buffered channel with its own drop policy) but a panicking sink is
// isolated from its siblings.
type Hub struct {
	sinks []Sink
}

// NewHub returns an empty Hub.
func NewHub() *Hub { return &Hub{} }

// Register adds s to the fan-out set.
func (h *Hub) Register(s Sink) { h.sinks = append(h.sinks, s) }

// NotifyFrame fans out a raw frame arrival.
func (h *Hub) NotifyFrame(f frame.Frame) {
	for _, s := range h.sinks {
		if s.OnFrame != nil {
			h.safe(func() { s.OnFrame(f) })
		}
	}
}

// NotifyDecoded fans out decode results for a frame. An empty results
// slice (UnknownProtocol — no decoder claimed the frame) is still
// delivered so subscribers can track decode coverage.
func (h *Hub) NotifyDecoded(f frame.Frame, results []decoder.Result) {
	for _, s := range h.sinks {
		if s.OnDecoded != nil {
			h.safe(func() { s.OnDecoded(f, results) })
		}
	}
}

// NotifyDiffDecision fans out a diff engine decision for a frame.
func (h *Hub) NotifyDiffDecision(f frame.Frame, d diff.Decision) {
	for _, s := range h.sinks {
		if s.OnDiffDecision != nil {
			h.safe(func() { s.OnDiffDecision(f, d) })
		}
	}
}

// Notify fans out a free-text notice (e.g. WrongFileType, config reload).
func (h *Hub) Notify(text string, durationMS int) {
	for _, s := range h.sinks {
		if s.OnNotify != nil {
			h.safe(func() { s.OnNotify(text, durationMS) })
		}
	}
}

// safe isolates one sink's panic from the rest of the fan-out and from the
// caller's pipeline goroutine.
func (h *Hub) safe(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

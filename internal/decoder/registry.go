// Package decoder hosts the priority-ordered decoder registry that the bus
// manager dispatches frames through on their way to the diff engine.
package decoder

import (
	"sort"
	"sync"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/logging"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// Result is the decoded-protocol record a Decoder hands back to the
// registry. Values is a heterogeneous, semantic key/value map; Detail may
// carry a protocol-specific sub-structure (e.g. *ftcan.Measure) for callers
// that want more than the flattened map.
type Result struct {
	Protocol    string
	Success     bool
	Confidence  float64
	Values      map[string]any
	Description string
	Detail      any
}

// Decoder is the capability interface every protocol decoder implements.
// CanDecode must be cheap: it is the fast-path gate the registry runs before
// paying for a full Decode call.
type Decoder interface {
	Name() string
	Description() string
	Priority() int
	Enabled() bool
	CanDecode(id uint32, data []byte, extended bool) bool
	Decode(f frame.Frame) (Result, error)
}

// Stats accumulates per-decoder counters. SuccessRate and AvgConfidence are
// derived on read rather than tracked incrementally.
type Stats struct {
	Decoded         uint64
	Failed          uint64
	TotalConfidence float64
}

// SuccessRate returns decoded/(decoded+failed), or 0 if the decoder never ran.
func (s Stats) SuccessRate() float64 {
	total := s.Decoded + s.Failed
	if total == 0 {
		return 0
	}
	return float64(s.Decoded) / float64(total)
}

// AvgConfidence returns the mean confidence across successful decodes.
func (s Stats) AvgConfidence() float64 {
	if s.Decoded == 0 {
		return 0
	}
	return s.TotalConfidence / float64(s.Decoded)
}

// Registry holds decoders sorted by ascending priority (lower value first)
// and owns their statistics; decoders hold no back-reference to it.
type Registry struct {
	mu       sync.RWMutex
	decoders []Decoder
	stats    map[string]*Stats
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{stats: make(map[string]*Stats)}
}

// Register inserts d, keeping decoders sorted by Priority ascending.
func (r *Registry) Register(d Decoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders = append(r.decoders, d)
	sort.SliceStable(r.decoders, func(i, j int) bool {
		return r.decoders[i].Priority() < r.decoders[j].Priority()
	})
	if _, ok := r.stats[d.Name()]; !ok {
		r.stats[d.Name()] = &Stats{}
	}
}

// Decode runs f through every enabled decoder whose CanDecode gate matches,
// in priority order, collecting all positive results. A decoder that panics
// or returns an error is counted as failed and never aborts the dispatch
// loop; the panic is recovered so one broken decoder cannot take down the
// worker goroutine servicing it.
func (r *Registry) Decode(f frame.Frame) []Result {
	r.mu.RLock()
	decoders := make([]Decoder, len(r.decoders))
	copy(decoders, r.decoders)
	r.mu.RUnlock()

	id := f.ID()
	ext := f.Extended()
	data := f.Payload()

	var results []Result
	for _, d := range decoders {
		if !d.Enabled() {
			continue
		}
		if !d.CanDecode(id, data, ext) {
			continue
		}
		res, err := r.safeDecode(d, f)
		if err != nil {
			r.recordFailed(d.Name())
			logging.L().Debug("decode_failed", "decoder", d.Name(), "id", id, "error", err)
			metrics.IncError(metrics.ErrDecodeFailed)
			continue
		}
		if !res.Success {
			r.recordFailed(d.Name())
			continue
		}
		r.recordDecoded(d.Name(), res.Confidence)
		results = append(results, res)
	}
	return results
}

func (r *Registry) safeDecode(d Decoder, f frame.Frame) (res Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError{d.Name(), rec}
		}
	}()
	return d.Decode(f)
}

type panicError struct {
	decoder string
	value   any
}

func (p panicError) Error() string { return "decoder panic" }

func (r *Registry) recordDecoded(name string, confidence float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[name]
	if s == nil {
		s = &Stats{}
		r.stats[name] = s
	}
	s.Decoded++
	s.TotalConfidence += confidence
	metrics.IncDecoded(name)
}

func (r *Registry) recordFailed(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[name]
	if s == nil {
		s = &Stats{}
		r.stats[name] = s
	}
	s.Failed++
	metrics.IncDecodeFailed(name)
}

// StatsFor returns a snapshot of the named decoder's statistics.
func (r *Registry) StatsFor(name string) Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.stats[name]; ok {
		return *s
	}
	return Stats{}
}

// AllStats returns a snapshot of every decoder's statistics, keyed by name.
func (r *Registry) AllStats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.stats))
	for k, v := range r.stats {
		out[k] = *v
	}
	return out
}

// Reset zeroes every decoder's statistics; O(decoders).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name := range r.stats {
		r.stats[name] = &Stats{}
	}
}

// Decoders returns a snapshot of the registered decoders in priority order.
func (r *Registry) Decoders() []Decoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Decoder, len(r.decoders))
	copy(out, r.decoders)
	return out
}

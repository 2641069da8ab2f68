// Package diff implements the per-ID/per-channel repeat-suppression and
// delta-highlight engine used by live monitor views: it decides whether a
// given frame is worth displaying, separate from whether it gets decoded
// or forwarded.
package diff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/logging"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// Mode selects how the engine treats repeated frames.
type Mode string

const (
	ModeFilter    Mode = "filter"    // hide repeats, no highlight
	ModeHighlight Mode = "highlight" // always show, annotate deltas
	ModeBoth      Mode = "both"      // hide repeats and annotate deltas
)

// Config tunes the suppression/highlight behavior. Zero value is not
// usable directly; use NewConfig for sane defaults.
type Config struct {
	Enabled          bool
	Mode             Mode
	MinMessageRate   float64// msgs/s; filtering only applies above this
	MinBytesChanged  int
	TimeWindowMS     int // sliding window for per-key rate
	MaxSuppressMS    int // heartbeat: force a show at least this often
	CompareByChannel bool
	ByteMask         string // "all" or "0-3,5,7"
}

// NewConfig returns the engine's documented defaults.
func NewConfig() Config {
	return Config{
		Enabled:          false,
		Mode:             ModeFilter,
		MinMessageRate:   10.0,
		MinBytesChanged:  1,
		TimeWindowMS:     500,
		MaxSuppressMS:    1000,
		CompareByChannel: true,
		ByteMask:         "all",
	}
}

// key identifies a diff tracking bucket: (CAN ID, source) when
// CompareByChannel is set, else (CAN ID) alone.
type key struct {
	id     uint32
	source string
	byChan bool
}

func (k key) String() string {
	if k.byChan {
		return fmt.Sprintf("%d/%s", k.id, k.source)
	}
	return fmt.Sprintf("%d", k.id)
}

type stat struct {
	messageCount      uint64
	lastTimestamp     float64
	messageRate       float64
	bytesChangedCount uint64
	totalBytesChanged uint64
	displayCount      uint64
	hiddenCount       uint64
}

// Decision is the outcome of Evaluate: whether to display the frame, the
// computed rate, byte-delta counts against both the last displayed frame
// and the baseline snapshot, and the reason the decision was made.
type Decision struct {
	Display                     bool
	Key                         string
	RateMPS                     float64
	BytesChangedVsLastDisplayed int
	BytesChangedVsSnapshot      int
	ChangedIndicesVsSnapshot    []int
	Reason                      string
}

// Engine tracks last-seen/last-displayed/snapshot state per key and
// evaluates each incoming frame against the configured mode.
type Engine struct {
	mu sync.Mutex

	config Config

	lastSeen        map[key]frame.Frame
	lastDisplayed   map[key]frame.Frame
	snapshot        map[key]frame.Frame
	lastDisplayedTS map[key]float64
	rateWindows     map[key][]float64
	stats           map[key]*stat

	byteIndices      map[int]bool
	byteIndicesAll   bool
	byteMaskCacheKey string

	totalReceived uint64
	totalDisplayed uint64
	totalHidden    uint64
}

// NewEngine returns an Engine using cfg.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		config:          cfg,
		lastSeen:        make(map[key]frame.Frame),
		lastDisplayed:   make(map[key]frame.Frame),
		snapshot:        make(map[key]frame.Frame),
		lastDisplayedTS: make(map[key]float64),
		rateWindows:     make(map[key][]float64),
		stats:           make(map[key]*stat),
	}
	logging.L().Info("diff engine initialized",
		"enabled", cfg.Enabled, "min_rate", cfg.MinMessageRate,
		"min_bytes", cfg.MinBytesChanged, "window_ms", cfg.TimeWindowMS,
		"max_suppress_ms", cfg.MaxSuppressMS)
	return e
}

func (e *Engine) keyFor(id uint32, source string) key {
	if e.config.CompareByChannel {
		return key{id: id, source: source, byChan: true}
	}
	return key{id: id}
}

// byteIndexSet parses and caches ByteMask; returns (nil, true) for "all".
func (e *Engine) byteIndexSet() (map[int]bool, bool) {
	if e.config.ByteMask == "all" || e.config.ByteMask == "" {
		return nil, true
	}
	if e.byteMaskCacheKey == e.config.ByteMask {
		if e.byteIndicesAll {
			return nil, true
		}
		return e.byteIndices, false
	}

	indices, err := parseByteMask(e.config.ByteMask)
	e.byteMaskCacheKey = e.config.ByteMask
	if err != nil {
		logging.L().Warn("invalid byte mask, falling back to all", "mask", e.config.ByteMask, "error", err)
		e.byteIndices = nil
		e.byteIndicesAll = true
		return nil, true
	}
	e.byteIndices = indices
	e.byteIndicesAll = false
	return indices, false
}

func parseByteMask(mask string) (map[int]bool, error) {
	indices := make(map[int]bool)
	for _, part := range strings.Split(mask, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			bounds := strings.SplitN(part, "-", 2)
			if len(bounds) != 2 {
				return nil, fmt.Errorf("malformed range %q", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, err
			}
			end, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
			if err != nil {
				return nil, err
			}
			if end < start {
				start, end = end, start
			}
			for i := start; i <= end; i++ {
				indices[i] = true
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		indices[v] = true
	}
	return indices, nil
}

// bytesChanged compares a's and b's payloads, honoring the configured byte
// mask, and returns the changed count and changed indices.
func (e *Engine) bytesChanged(a, b frame.Frame) (int, []int) {
	indices, all := e.byteIndexSet()
	da, db := a.Payload(), b.Payload()
	maxLen := len(da)
	if len(db) > maxLen {
		maxLen = len(db)
	}
	var changed int
	var idxs []int
	for i := 0; i < maxLen; i++ {
		if !all && !indices[i] {
			continue
		}
		var b1, b2 byte
		if i < len(da) {
			b1 = da[i]
		}
		if i < len(db) {
			b2 = db[i]
		}
		if b1 != b2 {
			changed++
			idxs = append(idxs, i)
		}
	}
	return changed, idxs
}

func (e *Engine) updateRate(k key, timestamp float64) float64 {
	windowMS := e.config.TimeWindowMS
	if windowMS < 50 {
		windowMS = 50
	}
	windowS := float64(windowMS) / 1000.0
	dq := e.rateWindows[k]
	dq = append(dq, timestamp)
	cutoff := timestamp - windowS
	start := 0
	for start < len(dq) && dq[start] < cutoff {
		start++
	}
	dq = dq[start:]
	e.rateWindows[k] = dq
	if windowS <= 0 {
		return 0
	}
	return float64(len(dq)) / windowS
}

// Evaluate decides whether f should be displayed, updating all tracking
// state (last-seen, snapshot baseline, rate window, per-key stats) as a
// side effect.
func (e *Engine) Evaluate(f frame.Frame, source string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.keyFor(f.ID(), source)

	e.lastSeen[k] = f
	if _, ok := e.snapshot[k]; !ok {
		e.snapshot[k] = f
	}

	if !e.config.Enabled {
		return Decision{Display: true, Key: k.String(), Reason: "disabled"}
	}

	mode := e.config.Mode
	if mode != ModeFilter && mode != ModeHighlight && mode != ModeBoth {
		mode = ModeFilter
	}

	e.totalReceived++
	st := e.statFor(k)
	st.messageCount++
	st.lastTimestamp = f.Timestamp
	rate := e.updateRate(k, f.Timestamp)
	st.messageRate = rate

	snap := e.snapshot[k]
	bytesChangedSnap, changedIdxsSnap := e.bytesChanged(f, snap)

	if mode == ModeHighlight {
		var bytesChangedLast int
		if last, ok := e.lastDisplayed[k]; ok {
			bytesChangedLast, _ = e.bytesChanged(f, last)
		} else {
			bytesChangedLast = bytesChangedSnap
		}
		e.display(k, f, st)
		return Decision{true, k.String(), rate, bytesChangedLast, bytesChangedSnap, changedIdxsSnap, "highlight"}
	}

	if _, ok := e.lastDisplayed[k]; !ok {
		e.display(k, f, st)
		return Decision{true, k.String(), rate, bytesChangedSnap, bytesChangedSnap, changedIdxsSnap, "first"}
	}

	lastDisp := e.lastDisplayed[k]
	bytesChangedLast, _ := e.bytesChanged(f, lastDisp)

	if rate < e.config.MinMessageRate {
		e.display(k, f, st)
		return Decision{true, k.String(), rate, bytesChangedLast, bytesChangedSnap, changedIdxsSnap, "low_rate"}
	}

	if bytesChangedLast >= e.config.MinBytesChanged {
		e.display(k, f, st)
		st.bytesChangedCount++
		st.totalBytesChanged += uint64(bytesChangedLast)
		return Decision{true, k.String(), rate, bytesChangedLast, bytesChangedSnap, changedIdxsSnap, "delta"}
	}

	maxSuppressMS := e.config.MaxSuppressMS
	if maxSuppressMS < 0 {
		maxSuppressMS = 0
	}
	lastTS, ok := e.lastDisplayedTS[k]
	if !ok {
		lastTS = f.Timestamp
	}
	if maxSuppressMS > 0 && (f.Timestamp-lastTS)*1000.0 >= float64(maxSuppressMS) {
		e.display(k, f, st)
		return Decision{true, k.String(), rate, bytesChangedLast, bytesChangedSnap, changedIdxsSnap, "heartbeat"}
	}

	e.totalHidden++
	st.hiddenCount++
	metrics.IncDiffDecision("suppressed")
	return Decision{false, k.String(), rate, bytesChangedLast, bytesChangedSnap, changedIdxsSnap, "suppressed"}
}

func (e *Engine) display(k key, f frame.Frame, st *stat) {
	e.lastDisplayed[k] = f
	e.lastDisplayedTS[k] = f.Timestamp
	e.totalDisplayed++
	st.displayCount++
	metrics.IncDiffDecision("displayed")
}

func (e *Engine) statFor(k key) *stat {
	st, ok := e.stats[k]
	if !ok {
		st = &stat{}
		e.stats[k] = st
	}
	return st
}

// TakeSnapshot captures the current last-seen frame as the delta baseline
// for every tracked key (or only the given ones).
func (e *Engine) TakeSnapshot(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if keys == nil {
		for k, f := range e.lastSeen {
			e.snapshot[k] = f
		}
		return
	}
	wanted := make(map[string]bool, len(keys))
	for _, s := range keys {
		wanted[s] = true
	}
	for k, f := range e.lastSeen {
		if wanted[k.String()] {
			e.snapshot[k] = f
		}
	}
}

// FormatDelta renders a frame's payload as hex octets with changed bytes
// bracketed, e.g. "01 [FF] 03".
func FormatDelta(f frame.Frame, changedIndices []int) string {
	changed := make(map[int]bool, len(changedIndices))
	for _, i := range changedIndices {
		changed[i] = true
	}
	data := f.Payload()
	parts := make([]string, len(data))
	for i, b := range data {
		hx := fmt.Sprintf("%02X", b)
		if changed[i] {
			hx = "[" + hx + "]"
		}
		parts[i] = hx
	}
	return strings.Join(parts, " ")
}

// Stats is the aggregate, module-wide suppression summary.
type Stats struct {
	TotalReceived  uint64
	TotalDisplayed uint64
	TotalHidden    uint64
	HiddenPercent  float64
	UniqueIDs      int
	Enabled        bool
}

// Statistics returns the aggregate suppression summary.
func (e *Engine) Statistics() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	var hiddenPercent float64
	if e.totalReceived > 0 {
		hiddenPercent = float64(e.totalHidden) / float64(e.totalReceived) * 100
	}
	return Stats{
		TotalReceived:  e.totalReceived,
		TotalDisplayed: e.totalDisplayed,
		TotalHidden:    e.totalHidden,
		HiddenPercent:  hiddenPercent,
		UniqueIDs:      len(e.lastSeen),
		Enabled:        e.config.Enabled,
	}
}

// IDStats is the per-key breakdown returned by IDStatistics.
type IDStats struct {
	MessageCount      uint64
	MessageRate       float64
	BytesChangedCount uint64
	TotalBytesChanged uint64
	AvgBytesChanged   float64
	DisplayCount      uint64
	HiddenCount       uint64
}

// IDStatistics returns the per-(id[,source]) breakdown, or false if the key
// has never been seen.
func (e *Engine) IDStatistics(id uint32, source string) (IDStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	k := e.keyFor(id, source)
	st, ok := e.stats[k]
	if !ok {
		return IDStats{}, false
	}
	var avg float64
	if st.bytesChangedCount > 0 {
		avg = float64(st.totalBytesChanged) / float64(st.bytesChangedCount)
	}
	return IDStats{
		MessageCount:      st.messageCount,
		MessageRate:       st.messageRate,
		BytesChangedCount: st.bytesChangedCount,
		TotalBytesChanged: st.totalBytesChanged,
		AvgBytesChanged:   avg,
		DisplayCount:      st.displayCount,
		HiddenCount:       st.hiddenCount,
	}, true
}

// Reset clears all tracked state and statistics.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastSeen = make(map[key]frame.Frame)
	e.lastDisplayed = make(map[key]frame.Frame)
	e.snapshot = make(map[key]frame.Frame)
	e.lastDisplayedTS = make(map[key]float64)
	e.rateWindows = make(map[key][]float64)
	e.stats = make(map[key]*stat)
	e.totalReceived, e.totalDisplayed, e.totalHidden = 0, 0, 0
	e.byteIndices, e.byteIndicesAll, e.byteMaskCacheKey = nil, false, ""
	logging.L().Info("diff engine reset")
}

// UpdateConfig swaps in a new configuration and invalidates cached state
// that depends on it (the parsed byte mask).
func (e *Engine) UpdateConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	e.byteIndices, e.byteIndicesAll, e.byteMaskCacheKey = nil, false, ""
	logging.L().Info("diff engine config updated", "enabled", cfg.Enabled)
}

// Keys returns every tracked key, sorted, for deterministic iteration (e.g.
// when rendering a status page).
func (e *Engine) Keys() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.lastSeen))
	for k := range e.lastSeen {
		out = append(out, k.String())
	}
	sort.Strings(out)
	return out
}

// Package gateway implements the cross-bus forwarding engine: routes,
// static/dynamic blocking, and byte-level modification, with loop
// prevention for frames that have already passed through once.
package gateway

import (
	"sync"
	"time"

	"github.com/phnahes/can-gateway/internal/frame"
	"github.com/phnahes/can-gateway/internal/metrics"
)

// Route forwards frames arriving on Source to Destination.
type Route struct {
	Source      string
	Destination string
	Enabled     bool
}

// BlockRule drops a specific (CAN ID, source channel) pair, optionally
// scoped to one destination and optionally hiding the frame from display.
type BlockRule struct {
	CANID         uint32
	Channel       string
	Enabled       bool
	Destination   string // empty means "all destinations"
	BlockDisplay  bool
}

func (r BlockRule) matches(id uint32, source, target string) bool {
	if !r.Enabled || r.CANID != id || r.Channel != source {
		return false
	}
	if r.Destination != "" && target != "" {
		return r.Destination == target
	}
	return true
}

// DynamicBlock blocks one ID at a time out of [IDFrom, IDTo], advancing to
// the next ID on each Engine.Tick call. Period is not consulted by the
// engine: the advance rate is however often the caller runs Tick.
type DynamicBlock struct {
	IDFrom, IDTo uint32
	Channel      string
	Period       time.Duration
	Enabled      bool

	mu        sync.Mutex
	currentID uint32
	started   bool
}

// Current returns the ID currently being blocked, initializing to IDFrom on
// first call.
func (d *DynamicBlock) Current() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		d.currentID = d.IDFrom
		d.started = true
	}
	return d.currentID
}

// Advance moves to the next blocked ID, wrapping back to IDFrom past IDTo.
func (d *DynamicBlock) Advance() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		d.currentID = d.IDFrom
		d.started = true
	}
	d.currentID++
	if d.currentID > d.IDTo {
		d.currentID = d.IDFrom
	}
}

// ModifyRule rewrites the CAN ID and/or selected data bytes of matching
// frames. DataMask/NewData index byte positions 0..7.
type ModifyRule struct {
	CANID       uint32
	Channel     string
	Enabled     bool
	Destination string
	NewID       *uint32
	DataMask    [8]bool
	NewData     [8]byte
}

func (r ModifyRule) matches(id uint32, source, target string) bool {
	if !r.Enabled || r.CANID != id || r.Channel != source {
		return false
	}
	if r.Destination != "" && target != "" {
		return r.Destination == target
	}
	return true
}

// Apply returns a copy of f with this rule's modifications applied.
func (r ModifyRule) Apply(f frame.Frame) frame.Frame {
	data := f.Payload()
	out := make([]byte, len(data))
	copy(out, data)
	for i, mod := range r.DataMask {
		if mod && i < len(out) {
			out[i] = r.NewData[i]
		}
	}
	result := f.WithData(out)
	if r.NewID != nil {
		result = result.WithID(*r.NewID)
	}
	return result
}

// Config is the complete gateway ruleset: routing, blocking, and
// modification, plus loop-prevention controls.
type Config struct {
	Routes               []Route
	BlockRules           []BlockRule
	DynamicBlocks        []*DynamicBlock
	ModifyRules          []ModifyRule
	Enabled              bool
	LoopPreventionEnabled bool
	MaxHops              int
}

// DestinationFor returns the enabled route's destination for source, and
// whether one exists.
func (c *Config) DestinationFor(source string) (string, bool) {
	for _, r := range c.Routes {
		if r.Enabled && r.Source == source {
			return r.Destination, true
		}
	}
	return "", false
}

func (c *Config) shouldBlock(id uint32, source, target string) bool {
	for _, r := range c.BlockRules {
		if r.matches(id, source, target) {
			return true
		}
	}
	for _, d := range c.DynamicBlocks {
		if d.Enabled && d.Channel == source && id == d.Current() {
			return true
		}
	}
	return false
}

// ShouldBlockDisplay reports whether a frame should be hidden from the
// live/UI feed regardless of whether it is forwarded.
func (c *Config) ShouldBlockDisplay(id uint32, source string) bool {
	for _, r := range c.BlockRules {
		if r.Enabled && r.BlockDisplay && r.CANID == id && r.Channel == source && r.Destination == "" {
			return true
		}
	}
	for _, d := range c.DynamicBlocks {
		if d.Enabled && d.Channel == source && id == d.Current() {
			return true
		}
	}
	return false
}

func (c *Config) modifyRuleFor(id uint32, source, target string) (ModifyRule, bool) {
	for _, r := range c.ModifyRules {
		if r.matches(id, source, target) {
			return r, true
		}
	}
	return ModifyRule{}, false
}

// Decision is the outcome of running a frame through Process: whether it
// forwards, to where, the (possibly modified) frame, and the action taken.
type Decision struct {
	Forward     bool
	Destination string
	Frame       frame.Frame
	Action      frame.Action
}

// Engine runs frames through a Config's pipeline: loop check, route
// resolution, destination block, modification, forward. Display blocking
// is answered separately by Config.ShouldBlockDisplay. Safe for concurrent use; Config is read-heavy and not mutated
// by Process itself (dynamic block advance is driven externally by Tick).
type Engine struct {
	mu     sync.RWMutex
	config *Config
}

// NewEngine wraps cfg in an Engine. A nil cfg behaves as fully disabled.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Engine{config: cfg}
}

// SetConfig atomically swaps the active configuration.
func (e *Engine) SetConfig(cfg *Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
}

func (e *Engine) cfg() *Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Config returns the engine's active configuration, for callers that need
// to consult it directly (e.g. ShouldBlockDisplay) outside of Process.
func (e *Engine) Config() *Config {
	return e.cfg()
}

// Process runs f (arrived on source) through the gateway pipeline:
//  1. loop check: AlreadyRouted frames are dropped once hop count reaches MaxHops
//  2. display block: not evaluated here and not recorded on the Decision;
//     callers consult Config.ShouldBlockDisplay for the live feed
//  3. route resolution: no enabled route from source means no forward
//  4. destination block: static/dynamic rules scoped to source+destination
//  5. modification: ID/data rewrite rules scoped to source+destination
//  6. forward: mark the frame routed and hand back the decision
func (e *Engine) Process(f frame.Frame, source string) Decision {
	cfg := e.cfg()
	if cfg == nil || !cfg.Enabled {
		return Decision{Action: frame.ActionNone}
	}

	id := f.ID()

	if cfg.LoopPreventionEnabled && f.AlreadyRouted && f.Hops >= cfg.MaxHops {
		metrics.IncGatewayAction("loop_prevented")
		return Decision{Action: frame.ActionLoopPrevented}
	}

	destination, hasRoute := cfg.DestinationFor(source)
	if !hasRoute {
		return Decision{Action: frame.ActionNone}
	}

	if cfg.shouldBlock(id, source, destination) {
		metrics.IncGatewayAction("blocked")
		return Decision{Action: frame.ActionBlocked}
	}

	out := f
	action := frame.ActionForwarded
	if rule, ok := cfg.modifyRuleFor(id, source, destination); ok {
		out = rule.Apply(out)
		action = frame.ActionModified
	}

	out = out.Routed(source, action)
	metrics.IncGatewayAction(action.String())

	return Decision{
		Forward:     true,
		Destination: destination,
		Frame:       out,
		Action:      action,
	}
}

// Tick advances every enabled dynamic block by one ID step on each call,
// whatever the block's Period; cmd/can-gateway calls it every 200ms.
func (e *Engine) Tick() {
	cfg := e.cfg()
	if cfg == nil {
		return
	}
	for _, d := range cfg.DynamicBlocks {
		if d.Enabled {
			d.Advance()
		}
	}
}

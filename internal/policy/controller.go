package policy

import (
	"fmt"
	"time"

	"github.com/pointerops/mouselayer/internal/model"
)

type layerState struct {
	accumulated int
	active      bool
}

// Controller routes motion samples and key activity to per-layer activation
// state and emits assertion commands on the sink. It is not internally
// locked: every entry point must be called from a single serialized context
// (the daemon event loop), which also delivers the scheduler's fired
// callbacks.
type Controller struct {
	cfg      Config
	sink     Sink
	sched    Scheduler
	excluded map[uint16]struct{}

	// lastKeyAt is the most recent qualifying key press. The zero value
	// means no qualifying key has been observed yet, which always permits
	// activation.
	lastKeyAt time.Time
	layers    []layerState
}

func New(cfg Config, sink Sink, sched Scheduler) (*Controller, error) {
	if len(cfg.Layers) == 0 {
		return nil, fmt.Errorf("policy: at least one layer required")
	}
	if len(cfg.Layers) > MaxLayers {
		return nil, fmt.Errorf("policy: %d layers exceeds maximum of %d", len(cfg.Layers), MaxLayers)
	}
	if cfg.RequirePriorIdle < 0 {
		return nil, fmt.Errorf("policy: require_prior_idle must not be negative")
	}
	for i, rule := range cfg.Layers {
		if rule.ActivationThreshold <= 0 {
			return nil, fmt.Errorf("policy: layer %d: activation threshold must be positive", i)
		}
		if rule.Timeout < 0 {
			return nil, fmt.Errorf("policy: layer %d: timeout must not be negative", i)
		}
	}
	if sink == nil {
		return nil, fmt.Errorf("policy: sink required")
	}
	if sched == nil {
		return nil, fmt.Errorf("policy: scheduler required")
	}
	excluded := make(map[uint16]struct{}, len(cfg.ExcludedPositions))
	for _, pos := range cfg.ExcludedPositions {
		excluded[pos] = struct{}{}
	}
	return &Controller{
		cfg:      cfg,
		sink:     sink,
		sched:    sched,
		excluded: excluded,
		layers:   make([]layerState, len(cfg.Layers)),
	}, nil
}

// HandleMotion applies one coalesced displacement sample to the given layer.
// Out-of-range layer ids are absorbed silently: the event-delivery side may
// misroute and the hot path stays free of error propagation.
func (c *Controller) HandleMotion(layer, dx, dy int, now time.Time) {
	if layer < 0 || layer >= len(c.layers) {
		return
	}
	rule := c.cfg.Layers[layer]
	st := &c.layers[layer]

	if st.active {
		// Motion while asserted never re-accumulates; it only extends
		// the deactivation window.
		if rule.Timeout > 0 {
			c.sched.Schedule(layer, rule.Timeout)
		}
		return
	}

	if !c.permitsActivation(now) {
		// Not yet eligible to activate at all; the sample is dropped,
		// not banked.
		return
	}

	st.accumulated += EstimateDistance(dx, dy)
	if st.accumulated < rule.ActivationThreshold {
		return
	}
	st.accumulated = 0
	st.active = true
	c.sink.Activate(layer)
	if rule.Timeout > 0 {
		c.sched.Schedule(layer, rule.Timeout)
	}
}

// HandleKey observes one key transition. Releases are ignored. A press on an
// excluded position is fully inert: it neither resets the idle gate nor
// cancels active layers. Any other press does both.
func (c *Controller) HandleKey(position uint16, pressed bool, now time.Time) {
	if !pressed {
		return
	}
	if _, ok := c.excluded[position]; ok {
		return
	}
	c.lastKeyAt = now
	for i := range c.layers {
		st := &c.layers[i]
		if !st.active {
			continue
		}
		st.active = false
		st.accumulated = 0
		c.sched.Cancel(i)
		c.sink.Deactivate(i, model.EndKey)
	}
}

// HandleTimerFired is the scheduler's inbound callback. A fire for a layer
// that already left the active state (key press won the race, or the id is
// out of range) is a defined no-op and must not double-deactivate.
func (c *Controller) HandleTimerFired(layer int) {
	if layer < 0 || layer >= len(c.layers) {
		return
	}
	st := &c.layers[layer]
	if !st.active {
		return
	}
	st.active = false
	st.accumulated = 0
	c.sink.Deactivate(layer, model.EndTimeout)
}

// ForceIdle deactivates every active layer with the given reason, cancelling
// outstanding timers. Used by the daemon on shutdown.
func (c *Controller) ForceIdle(reason model.EndReason) {
	for i := range c.layers {
		st := &c.layers[i]
		if !st.active {
			continue
		}
		st.active = false
		st.accumulated = 0
		c.sched.Cancel(i)
		c.sink.Deactivate(i, reason)
	}
}

// Snapshot returns a copy of the per-layer state for the status API. Must be
// called from the same serialized context as the handlers.
func (c *Controller) Snapshot() []LayerStatus {
	out := make([]LayerStatus, len(c.layers))
	for i := range c.layers {
		out[i] = LayerStatus{
			Layer:       i,
			Rule:        c.cfg.Layers[i],
			Active:      c.layers[i].active,
			Accumulated: c.layers[i].accumulated,
		}
	}
	return out
}

// LastKeyAt reports the idle gate's most recent qualifying key press. Zero
// when none has been observed.
func (c *Controller) LastKeyAt() time.Time {
	return c.lastKeyAt
}

func (c *Controller) permitsActivation(now time.Time) bool {
	if c.cfg.RequirePriorIdle == 0 {
		return true
	}
	if c.lastKeyAt.IsZero() {
		return true
	}
	return now.Sub(c.lastKeyAt) >= c.cfg.RequirePriorIdle
}

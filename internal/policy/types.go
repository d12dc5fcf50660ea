package policy

import (
	"time"

	"github.com/pointerops/mouselayer/internal/model"
)

// MaxLayers bounds the fixed per-controller layer table. Configurations
// requesting more must fail construction, never truncate.
const MaxLayers = 16

// Sink receives layer assertion commands. Calls happen inline on the
// controller's serialization point and must not block.
type Sink interface {
	Activate(layer int)
	Deactivate(layer int, reason model.EndReason)
}

// Scheduler owns the per-layer deactivation timers. Schedule re-arms an
// already-pending timer; Cancel is a no-op when nothing is pending. A timer
// that fires anyway after Cancel is absorbed by the controller's staleness
// guard, so cancellation only needs to be best-effort.
type Scheduler interface {
	Schedule(layer int, d time.Duration)
	Cancel(layer int)
}

// LayerRule is the immutable per-layer policy: how much accumulated motion
// asserts the layer, and how long it stays asserted without further motion.
// A zero Timeout means the layer never deactivates by timer.
type LayerRule struct {
	Name                string
	ActivationThreshold int
	Timeout             time.Duration
}

// Config is the immutable controller configuration.
type Config struct {
	RequirePriorIdle  time.Duration
	ExcludedPositions []uint16
	Layers            []LayerRule
}

// LayerStatus is a read-only view of one layer's state for the status API.
type LayerStatus struct {
	Layer       int
	Rule        LayerRule
	Active      bool
	Accumulated int
}

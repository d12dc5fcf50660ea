package model

import "time"

// EndReason is the normalized cause persisted for a finished layer activation.
type EndReason string

const (
	EndTimeout  EndReason = "timeout"
	EndKey      EndReason = "key"
	EndShutdown EndReason = "shutdown"
)

// Activation is one temporary-layer session: from threshold crossing to
// deactivation. EndedAt is nil while the layer is still asserted.
type Activation struct {
	ActivationID string
	LayerID      int
	LayerName    string
	StartedAt    time.Time
	EndedAt      *time.Time
	EndReason    EndReason
}

// Motion is one coalesced two-axis displacement sample, already routed to the
// layer its source device is bound to. DX/DY carry the most recent value per
// axis observed within a single device frame.
type Motion struct {
	Layer int
	DX    int
	DY    int
	At    time.Time
}

// Key is a key transition from anywhere on the keyboard. Position is the
// evdev key code; Pressed is false for releases.
type Key struct {
	Position uint16
	Pressed  bool
	At       time.Time
}

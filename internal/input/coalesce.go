package input

import (
	"time"

	evdev "github.com/holoplot/go-evdev"

	"github.com/pointerops/mouselayer/internal/model"
)

// frameCoalescer folds a device's event stream into one displacement sample
// per sync frame. Relative events within a frame keep the most recent value
// per axis; the pair is flushed as a single Motion at SYN_REPORT so a
// diagonal move is estimated once, not as two axis-aligned moves.
type frameCoalescer struct {
	layer     int
	pendingDX int
	pendingDY int
}

// observe consumes one raw event and reports a flushed Motion at frame
// boundaries. ok is false while a frame is still open or when the frame
// carried no displacement.
func (f *frameCoalescer) observe(ev *evdev.InputEvent, at time.Time) (model.Motion, bool) {
	switch ev.Type {
	case evdev.EV_REL:
		switch ev.Code {
		case evdev.REL_X:
			f.pendingDX = int(ev.Value)
		case evdev.REL_Y:
			f.pendingDY = int(ev.Value)
		}
	case evdev.EV_SYN:
		if ev.Code != evdev.SYN_REPORT {
			return model.Motion{}, false
		}
		dx, dy := f.pendingDX, f.pendingDY
		f.pendingDX = 0
		f.pendingDY = 0
		if dx == 0 && dy == 0 {
			return model.Motion{}, false
		}
		return model.Motion{Layer: f.layer, DX: dx, DY: dy, At: at}, true
	}
	return model.Motion{}, false
}

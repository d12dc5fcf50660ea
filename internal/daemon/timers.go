package daemon

import (
	"context"
	"sync"
	"time"
)

// timerFire identifies one expiry: which layer, and which arm produced it.
// The generation lets the event loop tell a live fire from one that was
// already queued when the window was re-armed or cancelled.
type timerFire struct {
	layer int
	gen   uint64
}

// timerHub implements policy.Scheduler over a fixed table of per-layer
// timers. Fired tokens are delivered into the daemon loop's timer channel,
// so expiry is observed on the same serialization point as motion and key
// events. Every Schedule and Cancel bumps the layer's generation; a fire
// carrying an older generation is stale and must be dropped by the loop.
type timerHub struct {
	ctx    context.Context
	fired  chan<- timerFire
	mu     sync.Mutex
	timers []*time.Timer
	gens   []uint64
}

func newTimerHub(ctx context.Context, layers int, fired chan<- timerFire) *timerHub {
	return &timerHub{
		ctx:    ctx,
		fired:  fired,
		timers: make([]*time.Timer, layers),
		gens:   make([]uint64, layers),
	}
}

func (h *timerHub) Schedule(layer int, d time.Duration) {
	if layer < 0 || layer >= len(h.timers) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if t := h.timers[layer]; t != nil {
		t.Stop()
	}
	h.gens[layer]++
	gen := h.gens[layer]
	h.timers[layer] = time.AfterFunc(d, func() {
		select {
		case h.fired <- timerFire{layer: layer, gen: gen}:
		case <-h.ctx.Done():
		}
	})
}

func (h *timerHub) Cancel(layer int) {
	if layer < 0 || layer >= len(h.timers) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gens[layer]++
	if t := h.timers[layer]; t != nil {
		t.Stop()
		h.timers[layer] = nil
	}
}

// current reports whether the fire came from the layer's most recent arm.
func (h *timerHub) current(f timerFire) bool {
	if f.layer < 0 || f.layer >= len(h.timers) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gens[f.layer] == f.gen
}

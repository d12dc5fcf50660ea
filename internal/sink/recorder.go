package sink

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/pointerops/mouselayer/internal/db"
	"github.com/pointerops/mouselayer/internal/model"
	"github.com/pointerops/mouselayer/internal/policy"
)

// Recorder decorates a sink with activation-history persistence. Store
// failures are logged and never reach the policy path.
type Recorder struct {
	next       policy.Sink
	store      *db.Store
	ctx        context.Context
	layerNames []string
	open       []string // activation id per layer, "" when idle
}

func NewRecorder(ctx context.Context, next policy.Sink, store *db.Store, layerNames []string) *Recorder {
	return &Recorder{
		next:       next,
		store:      store,
		ctx:        ctx,
		layerNames: layerNames,
		open:       make([]string, len(layerNames)),
	}
}

const storeWriteTimeout = 2 * time.Second

// writeCtx detaches from the daemon's signal context: the deactivation row
// written on the shutdown path must still reach the store after the signal
// context is cancelled.
func (r *Recorder) writeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.ctx), storeWriteTimeout)
}

func (r *Recorder) Activate(layer int) {
	if layer >= 0 && layer < len(r.open) {
		id := uuid.NewString()
		ctx, cancel := r.writeCtx()
		defer cancel()
		err := r.store.InsertActivation(ctx, model.Activation{
			ActivationID: id,
			LayerID:      layer,
			LayerName:    r.layerNames[layer],
			StartedAt:    time.Now().UTC(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "mouselayerd: record activation: %v\n", err)
		} else {
			r.open[layer] = id
		}
	}
	r.next.Activate(layer)
}

func (r *Recorder) Deactivate(layer int, reason model.EndReason) {
	if layer >= 0 && layer < len(r.open) && r.open[layer] != "" {
		ctx, cancel := r.writeCtx()
		defer cancel()
		err := r.store.FinishActivation(ctx, r.open[layer], time.Now().UTC(), reason)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mouselayerd: record deactivation: %v\n", err)
		}
		r.open[layer] = ""
	}
	r.next.Deactivate(layer, reason)
}

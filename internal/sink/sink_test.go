package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pointerops/mouselayer/internal/model"
	"github.com/pointerops/mouselayer/internal/testutil"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs [][]string
	err  error
	done chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string{name}, args...))
	r.mu.Unlock()
	if r.done != nil {
		r.done <- struct{}{}
	}
	return nil, r.err
}

func TestExecRunsConfiguredCommandsInOrder(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 4)}
	e := NewExecWithRunner([]LayerCommands{
		{Name: "mouse", Activate: []string{"keyd", "on"}, Deactivate: []string{"keyd", "off"}},
	}, time.Second, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	e.Activate(0)
	e.Deactivate(0, model.EndTimeout)

	for i := 0; i < 2; i++ {
		select {
		case <-runner.done:
		case <-time.After(2 * time.Second):
			t.Fatalf("command %d never ran", i)
		}
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 2 {
		t.Fatalf("expected 2 runs, got %v", runner.runs)
	}
	if runner.runs[0][1] != "on" || runner.runs[1][1] != "off" {
		t.Fatalf("commands ran out of order: %v", runner.runs)
	}
}

func TestExecSkipsEmptyCommandsAndBadLayers(t *testing.T) {
	runner := &recordingRunner{}
	e := NewExecWithRunner([]LayerCommands{{Name: "mouse"}}, time.Second, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	e.Activate(0)                       // no command configured
	e.Activate(5)                       // out of range
	e.Activate(-1)                      // out of range
	e.Deactivate(7, model.EndKey)       // out of range
	e.Deactivate(-2, model.EndShutdown) // out of range on the inline path
	time.Sleep(50 * time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 0 {
		t.Fatalf("expected no runs, got %v", runner.runs)
	}
}

func TestExecSwallowsCommandFailure(t *testing.T) {
	runner := &recordingRunner{err: errors.New("exit 1"), done: make(chan struct{}, 1)}
	e := NewExecWithRunner([]LayerCommands{
		{Name: "mouse", Activate: []string{"false"}},
	}, time.Second, runner)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)

	e.Activate(0)
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("command never ran")
	}
}

func TestExecRunsShutdownDeactivateAfterCancel(t *testing.T) {
	runner := &recordingRunner{}
	e := NewExecWithRunner([]LayerCommands{
		{Name: "mouse", Activate: []string{"keyd", "on"}, Deactivate: []string{"keyd", "off"}},
	}, time.Second, runner)
	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	// Signal arrived: the workers are exiting with this context.
	cancel()

	// The shutdown path runs inline on a detached context, so the command
	// has executed by the time Deactivate returns.
	e.Deactivate(0, model.EndShutdown)
	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.runs) != 1 || runner.runs[0][1] != "off" {
		t.Fatalf("shutdown deactivate command did not run: %v", runner.runs)
	}
}

func TestExecFlushesQueuedCommandsOnCancel(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 4)}
	e := NewExecWithRunner([]LayerCommands{
		{Name: "mouse", Activate: []string{"keyd", "on"}},
	}, time.Second, runner)

	// Queue before any worker exists, then start with an already-cancelled
	// context: the worker must flush the backlog on its way out.
	e.Activate(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e.Start(ctx)

	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("queued command was dropped on shutdown")
	}
}

type nopSink struct{}

func (nopSink) Activate(int) {}

func (nopSink) Deactivate(int, model.EndReason) {}

func TestRecorderPersistsActivationLifecycle(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	r := NewRecorder(ctx, nopSink{}, store, []string{"mouse", "scroll"})

	r.Activate(1)
	rows, err := store.ListRecentActivations(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].LayerID != 1 || rows[0].LayerName != "scroll" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if rows[0].EndedAt != nil {
		t.Fatalf("activation should still be open")
	}

	r.Deactivate(1, model.EndKey)
	rows, err = store.ListRecentActivations(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if rows[0].EndedAt == nil || rows[0].EndReason != model.EndKey {
		t.Fatalf("expected closed row with key reason, got %+v", rows[0])
	}

	// Deactivate with no open row is harmless.
	r.Deactivate(1, model.EndKey)
	r.Deactivate(0, model.EndTimeout)
}

func TestRecorderPersistsShutdownAfterContextCancel(t *testing.T) {
	store, ctx := testutil.NewStore(t)
	signalCtx, cancel := context.WithCancel(ctx)
	r := NewRecorder(signalCtx, nopSink{}, store, []string{"mouse"})

	r.Activate(0)

	// The signal context is already cancelled when the event loop deactivates
	// remaining layers on its way out; the store write must still land.
	cancel()
	r.Deactivate(0, model.EndShutdown)

	rows, err := store.ListRecentActivations(ctx, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || rows[0].EndedAt == nil || rows[0].EndReason != model.EndShutdown {
		t.Fatalf("expected closed row with shutdown reason, got %+v", rows)
	}
}

package sink

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/pointerops/mouselayer/internal/model"
)

const commandQueueDepth = 8

// Runner abstracts command execution for tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}

// LayerCommands binds a layer id to the argv commands run on assertion edges.
// Either command may be empty.
type LayerCommands struct {
	Name       string
	Activate   []string
	Deactivate []string
}

// Exec asserts layers by running external commands (keyd/kanata/hyprctl or
// whatever the deployment maps layers to). Commands for one layer run in
// order on a per-layer worker so the controller's hot path never blocks on a
// slow child process. Failures are logged and swallowed: the policy has no
// user-visible failure surface past construction.
type Exec struct {
	layers  []LayerCommands
	timeout time.Duration
	runner  Runner
	queues  []chan []string
}

func NewExec(layers []LayerCommands, timeout time.Duration) *Exec {
	return NewExecWithRunner(layers, timeout, OSRunner{})
}

func NewExecWithRunner(layers []LayerCommands, timeout time.Duration, runner Runner) *Exec {
	e := &Exec{
		layers:  layers,
		timeout: timeout,
		runner:  runner,
		queues:  make([]chan []string, len(layers)),
	}
	for i := range e.queues {
		e.queues[i] = make(chan []string, commandQueueDepth)
	}
	return e
}

// Start launches the per-layer workers. When ctx ends they flush whatever
// was already queued on a detached context before exiting, so a command
// accepted just before shutdown is not silently dropped.
func (e *Exec) Start(ctx context.Context) {
	// Commands run detached from ctx: each is already bounded by the
	// command timeout, and a dequeued command should finish even when the
	// daemon is stopping.
	base := context.WithoutCancel(ctx)
	for i := range e.queues {
		queue := e.queues[i]
		name := e.layers[i].Name
		go func() {
			for {
				select {
				case <-ctx.Done():
					e.flush(base, name, queue)
					return
				case command := <-queue:
					e.run(base, name, command)
				}
			}
		}()
	}
}

func (e *Exec) flush(ctx context.Context, name string, queue chan []string) {
	for {
		select {
		case command := <-queue:
			e.run(ctx, name, command)
		default:
			return
		}
	}
}

func (e *Exec) Activate(layer int) {
	if layer < 0 || layer >= len(e.layers) {
		return
	}
	e.enqueue(layer, e.layers[layer].Activate)
}

func (e *Exec) Deactivate(layer int, reason model.EndReason) {
	if layer < 0 || layer >= len(e.layers) {
		return
	}
	command := e.layers[layer].Deactivate
	if reason == model.EndShutdown {
		// The daemon is exiting and the workers exit with it. Run the
		// command inline on a detached context so the external layer is
		// not left asserted; the caller is the event loop on its way out,
		// so blocking here is fine.
		if len(command) == 0 {
			return
		}
		e.run(context.Background(), e.layers[layer].Name, command)
		return
	}
	e.enqueue(layer, command)
}

func (e *Exec) enqueue(layer int, command []string) {
	if len(command) == 0 {
		return
	}
	select {
	case e.queues[layer] <- command:
	default:
		fmt.Fprintf(os.Stderr, "mouselayerd: layer %s: command queue full, dropping %v\n", e.layers[layer].Name, command)
	}
}

func (e *Exec) run(ctx context.Context, name string, command []string) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	out, err := e.runner.Run(runCtx, command[0], command[1:]...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mouselayerd: layer %s: %v failed: %v (%s)\n", name, command, err, string(out))
	}
}

package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/pointerops/mouselayer/internal/appclient"
)

type Runner struct {
	client *appclient.Client
	out    io.Writer
	errOut io.Writer
}

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	return NewRunnerWithClient(appclient.New(socketPath), out, errOut)
}

func NewRunnerWithClient(client *appclient.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{client: client, out: out, errOut: errOut}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	socketPath, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if socketPath != "" {
		r.client = appclient.New(socketPath)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "health":
		return r.runHealth(ctx)
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "activations":
		return r.runActivations(ctx, rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func (r *Runner) runHealth(ctx context.Context) int {
	health, err := r.client.Health(ctx)
	if err != nil {
		return r.fail(err)
	}
	_, _ = fmt.Fprintln(r.out, health.Status)
	return 0
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(r.errOut)
	asJSON := fs.Bool("json", false, "print the raw JSON envelope")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	status, err := r.client.Status(ctx)
	if err != nil {
		return r.fail(err)
	}
	if *asJSON {
		return r.printJSON(status)
	}
	if status.LastKeyAt != nil {
		_, _ = fmt.Fprintf(r.out, "last key press: %s\n", *status.LastKeyAt)
	}
	if status.RequirePriorIdleMS > 0 {
		_, _ = fmt.Fprintf(r.out, "require prior idle: %dms\n", status.RequirePriorIdleMS)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LAYER\tNAME\tTHRESHOLD\tTIMEOUT\tSTATE\tACCUMULATED")
	for _, layer := range status.Layers {
		state := "idle"
		if layer.Active {
			state = "active"
		}
		timeout := "-"
		if layer.TimeoutMS > 0 {
			timeout = fmt.Sprintf("%dms", layer.TimeoutMS)
		}
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\n",
			layer.Layer, layer.Name, layer.ActivationThreshold, timeout, state, layer.Accumulated)
	}
	_ = tw.Flush()
	return 0
}

func (r *Runner) runActivations(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("activations", flag.ContinueOnError)
	fs.SetOutput(r.errOut)
	limit := fs.Int("n", 20, "number of recent activations")
	asJSON := fs.Bool("json", false, "print the raw JSON envelope")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	envelope, err := r.client.Activations(ctx, *limit)
	if err != nil {
		return r.fail(err)
	}
	if *asJSON {
		return r.printJSON(envelope)
	}
	tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "LAYER\tSTARTED\tENDED\tREASON")
	for _, a := range envelope.Activations {
		ended := "-"
		if a.EndedAt != nil {
			ended = *a.EndedAt
		}
		reason := a.EndReason
		if reason == "" {
			reason = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.LayerName, a.StartedAt, ended, reason)
	}
	_ = tw.Flush()
	return 0
}

func (r *Runner) printJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return r.fail(err)
	}
	return 0
}

func (r *Runner) fail(err error) int {
	if reqErr, ok := err.(*appclient.RequestError); ok && reqErr.StatusCode == http.StatusServiceUnavailable {
		_, _ = fmt.Fprintf(r.errOut, "error: daemon unavailable: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, `usage: mouselayer [--socket PATH] <command>

commands:
  health               check daemon liveness
  status [-json]       show per-layer activation state
  activations [-n N] [-json]
                       list recent layer activations`)
}

func parseGlobalArgs(args []string) (socketPath string, rest []string, err error) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--socket":
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("--socket requires a path")
			}
			socketPath = args[i+1]
			i++
		case strings.HasPrefix(arg, "--socket="):
			socketPath = strings.TrimPrefix(arg, "--socket=")
		default:
			rest = append(rest, arg)
		}
	}
	return socketPath, rest, nil
}

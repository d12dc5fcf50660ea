package main

import (
	"context"
	"os"

	"github.com/pointerops/mouselayer/internal/cli"
	"github.com/pointerops/mouselayer/internal/config"
)

func main() {
	cfg := config.DefaultConfig()
	r := cli.NewRunner(cfg.SocketPath, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), os.Args[1:]))
}

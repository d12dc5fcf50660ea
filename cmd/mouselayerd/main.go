package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pointerops/mouselayer/internal/config"
	"github.com/pointerops/mouselayer/internal/daemon"
	"github.com/pointerops/mouselayer/internal/db"
	"github.com/pointerops/mouselayer/internal/input"
	"github.com/pointerops/mouselayer/internal/model"
	"github.com/pointerops/mouselayer/internal/sink"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML config path")
		socketPath = flag.String("socket", "", "UDS path for mouselayerd (overrides config)")
		dbPath     = flag.String("db", "", "SQLite path (overrides config)")
	)
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		cfg = loaded
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		fatal(err)
	}
	defer store.Close() //nolint:errcheck

	if err := db.ApplyMigrations(ctx, store.DB()); err != nil {
		fatal(err)
	}

	// Rows left open by a crash never get a timer or key event again; close
	// them before recording anything new.
	if n, err := store.FinishOpenActivations(ctx, time.Now().UTC(), model.EndShutdown); err != nil {
		fatal(err)
	} else if n > 0 {
		logErr("startup sweep", fmt.Errorf("closed %d stale activations", n))
	}

	layerNames := make([]string, len(cfg.Layers))
	commands := make([]sink.LayerCommands, len(cfg.Layers))
	for i, layer := range cfg.Layers {
		layerNames[i] = layer.Name
		commands[i] = sink.LayerCommands{
			Name:       layer.Name,
			Activate:   layer.ActivateCommand,
			Deactivate: layer.DeactivateCommand,
		}
	}
	exec := sink.NewExec(commands, cfg.CommandTimeout)
	exec.Start(ctx)
	recorder := sink.NewRecorder(ctx, exec, store, layerNames)

	srv, err := daemon.NewServer(ctx, cfg, store, recorder)
	if err != nil {
		fatal(err)
	}

	if err := startPointerReaders(ctx, cfg, srv.MotionCh()); err != nil {
		fatal(err)
	}
	if err := startKeyboardReaders(ctx, cfg, srv.KeyCh()); err != nil {
		fatal(err)
	}
	startRetentionLoop(ctx, store, cfg)

	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fatal(err)
	}
}

func startPointerReaders(ctx context.Context, cfg config.Config, out chan<- model.Motion) error {
	discovered := ""
	for i, layer := range cfg.Layers {
		path := layer.PointerDevice
		if path == "" {
			if discovered == "" {
				found, err := input.FindPointerPath()
				if err != nil {
					return fmt.Errorf("layer %s: %w", layer.Name, err)
				}
				discovered = found
			}
			path = discovered
		}
		reader, err := input.OpenPointer(path, i)
		if err != nil {
			return err
		}
		name := layer.Name
		go func() {
			if err := reader.Run(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				logErr(fmt.Sprintf("pointer stream for layer %s", name), err)
			}
		}()
	}
	return nil
}

func startKeyboardReaders(ctx context.Context, cfg config.Config, out chan<- model.Key) error {
	paths := cfg.KeyboardDevices
	if len(paths) == 0 {
		found, err := input.FindKeyboardPaths()
		if err != nil {
			return err
		}
		paths = found
	}
	for _, path := range paths {
		path := path
		reader, err := input.OpenKeyboard(path)
		if err != nil {
			return err
		}
		go func() {
			if err := reader.Run(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				logErr(fmt.Sprintf("keyboard stream %s", path), err)
			}
		}()
	}
	return nil
}

func startRetentionLoop(ctx context.Context, store *db.Store, cfg config.Config) {
	retention := cfg.Retention()
	if retention <= 0 {
		return
	}
	run := func() {
		cutoff := time.Now().UTC().Add(-retention)
		if _, err := store.PurgeActivationsBefore(ctx, cutoff); err != nil {
			logErr("retention purge", err)
		}
	}

	run()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				run()
			}
		}
	}()
}

func logErr(scope string, err error) {
	_, _ = fmt.Fprintf(os.Stderr, "mouselayerd: %s: %v\n", scope, err)
}

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "mouselayerd: %v\n", err)
	os.Exit(1)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pointerops/mouselayer/internal/policy"
)

// LayerConfig declares one temporary layer: the motion rule that asserts it
// and the commands run when it turns on and off.
type LayerConfig struct {
	Name                string   `toml:"name"`
	ActivationThreshold int      `toml:"activation_threshold"`
	TimeoutMS           int      `toml:"timeout_ms"`
	PointerDevice       string   `toml:"pointer_device"`
	ActivateCommand     []string `toml:"activate_command"`
	DeactivateCommand   []string `toml:"deactivate_command"`
}

type Config struct {
	SocketPath         string        `toml:"socket_path"`
	DBPath             string        `toml:"db_path"`
	KeyboardDevices    []string      `toml:"keyboard_devices"`
	RequirePriorIdleMS int           `toml:"require_prior_idle_ms"`
	ExcludedPositions  []uint16      `toml:"excluded_positions"`
	RetentionDays      int           `toml:"retention_days"`
	CommandTimeout     time.Duration `toml:"-"`
	CommandTimeoutMS   int           `toml:"command_timeout_ms"`
	Layers             []LayerConfig `toml:"layers"`
}

func DefaultConfig() Config {
	return Config{
		SocketPath:       defaultSocketPath(),
		DBPath:           defaultDBPath(),
		RetentionDays:    14,
		CommandTimeout:   5 * time.Second,
		CommandTimeoutMS: 5000,
	}
}

// Load overlays the TOML file at path onto the defaults and validates the
// result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.CommandTimeoutMS > 0 {
		cfg.CommandTimeout = time.Duration(cfg.CommandTimeoutMS) * time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Layers) == 0 {
		return fmt.Errorf("config: at least one [[layers]] entry required")
	}
	if len(c.Layers) > policy.MaxLayers {
		return fmt.Errorf("config: %d layers exceeds maximum of %d", len(c.Layers), policy.MaxLayers)
	}
	seen := map[string]struct{}{}
	for i, layer := range c.Layers {
		if layer.Name == "" {
			return fmt.Errorf("config: layer %d: name required", i)
		}
		if _, dup := seen[layer.Name]; dup {
			return fmt.Errorf("config: duplicate layer name %q", layer.Name)
		}
		seen[layer.Name] = struct{}{}
		if layer.ActivationThreshold <= 0 {
			return fmt.Errorf("config: layer %q: activation_threshold must be positive", layer.Name)
		}
		if layer.TimeoutMS < 0 {
			return fmt.Errorf("config: layer %q: timeout_ms must not be negative", layer.Name)
		}
	}
	if c.RequirePriorIdleMS < 0 {
		return fmt.Errorf("config: require_prior_idle_ms must not be negative")
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("config: retention_days must not be negative")
	}
	return nil
}

// PolicyConfig converts the file-level configuration into the controller's
// immutable construction config.
func (c Config) PolicyConfig() policy.Config {
	rules := make([]policy.LayerRule, len(c.Layers))
	for i, layer := range c.Layers {
		rules[i] = policy.LayerRule{
			Name:                layer.Name,
			ActivationThreshold: layer.ActivationThreshold,
			Timeout:             time.Duration(layer.TimeoutMS) * time.Millisecond,
		}
	}
	return policy.Config{
		RequirePriorIdle:  time.Duration(c.RequirePriorIdleMS) * time.Millisecond,
		ExcludedPositions: append([]uint16(nil), c.ExcludedPositions...),
		Layers:            rules,
	}
}

// Retention is the activation-history keep window; zero disables purging.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "mouselayer", "mouselayerd.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mouselayerd.sock"
	}
	return filepath.Join(home, ".local", "state", "mouselayer", "mouselayerd.sock")
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "mouselayer.db"
	}
	return filepath.Join(home, ".local", "state", "mouselayer", "history.db")
}

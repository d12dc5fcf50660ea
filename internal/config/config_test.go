package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
require_prior_idle_ms = 500
excluded_positions = [58, 100]

[[layers]]
name = "mouse"
activation_threshold = 120
timeout_ms = 450
pointer_device = "/dev/input/event5"
activate_command = ["keyd", "layer", "mouse", "on"]
deactivate_command = ["keyd", "layer", "mouse", "off"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, cfg.RequirePriorIdleMS)
	assert.Equal(t, []uint16{58, 100}, cfg.ExcludedPositions)
	require.Len(t, cfg.Layers, 1)
	assert.Equal(t, "mouse", cfg.Layers[0].Name)
	assert.Equal(t, 120, cfg.Layers[0].ActivationThreshold)
	assert.NotEmpty(t, cfg.SocketPath, "defaults must survive the overlay")
	assert.NotEmpty(t, cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.CommandTimeout)
	assert.Equal(t, 14*24*time.Hour, cfg.Retention())
}

func TestLoadCommandTimeoutOverride(t *testing.T) {
	path := writeConfig(t, `
command_timeout_ms = 750

[[layers]]
name = "mouse"
activation_threshold = 100
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.CommandTimeout)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no layers", `socket_path = "/tmp/x.sock"`},
		{"zero threshold", `
[[layers]]
name = "mouse"
activation_threshold = 0
`},
		{"negative timeout", `
[[layers]]
name = "mouse"
activation_threshold = 10
timeout_ms = -1
`},
		{"missing name", `
[[layers]]
activation_threshold = 10
`},
		{"duplicate name", `
[[layers]]
name = "mouse"
activation_threshold = 10

[[layers]]
name = "mouse"
activation_threshold = 20
`},
		{"negative prior idle", `
require_prior_idle_ms = -5

[[layers]]
name = "mouse"
activation_threshold = 10
`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestValidateLayerCountBound(t *testing.T) {
	body := ""
	for i := 0; i < 17; i++ {
		body += "\n[[layers]]\nname = \"l" + string(rune('a'+i)) + "\"\nactivation_threshold = 10\n"
	}
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestPolicyConfigConversion(t *testing.T) {
	cfg := Config{
		RequirePriorIdleMS: 500,
		ExcludedPositions:  []uint16{1, 2},
		Layers: []LayerConfig{
			{Name: "mouse", ActivationThreshold: 120, TimeoutMS: 450},
			{Name: "scroll", ActivationThreshold: 60},
		},
	}
	pc := cfg.PolicyConfig()
	assert.Equal(t, 500*time.Millisecond, pc.RequirePriorIdle)
	assert.Equal(t, []uint16{1, 2}, pc.ExcludedPositions)
	require.Len(t, pc.Layers, 2)
	assert.Equal(t, 450*time.Millisecond, pc.Layers[0].Timeout)
	assert.Equal(t, time.Duration(0), pc.Layers[1].Timeout)
	assert.Equal(t, 60, pc.Layers[1].ActivationThreshold)
}

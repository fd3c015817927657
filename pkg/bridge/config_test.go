// ABOUTME: Tests for bridge config defaults, validation and YAML persistence
package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	assert.Equal(t, DefaultConfig(), Config{}.WithDefaults())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown transport", func(c *Config) { c.Transport.Kind = "carrier-pigeon" }},
		{"tiny frame", func(c *Config) { c.Transport.FrameSize = 16 }},
		{"min above max", func(c *Config) { c.Buffer.MinBytes = c.Buffer.MaxBytes + 1 }},
		{"min below two frames", func(c *Config) { c.Buffer.MinBytes = c.Transport.FrameSize }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	cfg := DefaultConfig()
	cfg.Transport.Kind = TransportOto
	cfg.Layout.DSDBigEndian = true
	cfg.Transition.Topology = transition.TopologyStrict
	cfg.Buffer.DSDDuration *= 2

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("transport:\n  kind: smoke-signal\n"), 0o644))
	_, err = LoadConfig(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

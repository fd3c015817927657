// ABOUTME: Bridge configuration with YAML loading and defaults
// ABOUTME: Buffer sizing, DSD wire layout, transport selection and transition tuning
package bridge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/guard"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/ringbuffer"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
)

// Transport kinds understood by the command line
const (
	TransportWebsocket = "websocket"
	TransportOto       = "oto"
	TransportNull      = "null"
)

// ErrInvalidConfig is returned by Validate
var ErrInvalidConfig = errors.New("invalid bridge config")

// TransportConfig selects and tunes the audio target connection
type TransportConfig struct {
	Kind         string        `yaml:"kind"`
	URL          string        `yaml:"url"`
	FrameSize    int           `yaml:"frame_size"` // bytes per transport frame including header
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// BufferConfig sizes the ring per format
type BufferConfig struct {
	MinBytes    int           `yaml:"min_bytes"`
	MaxBytes    int           `yaml:"max_bytes"`
	PCMDuration time.Duration `yaml:"pcm_duration"`
	DSDDuration time.Duration `yaml:"dsd_duration"`
	PCMPrefill  time.Duration `yaml:"pcm_prefill"`
	DSDPrefill  time.Duration `yaml:"dsd_prefill"`
}

// Config is supplied once at startup
type Config struct {
	Transport    TransportConfig   `yaml:"transport"`
	Buffer       BufferConfig      `yaml:"buffer"`
	Layout       ringbuffer.Layout `yaml:"layout"`
	MaxDrainWait time.Duration     `yaml:"max_drain_wait"`
	Transition   transition.Config `yaml:"transition"`
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Kind:         TransportWebsocket,
			URL:          "ws://localhost:8928/stream",
			FrameSize:    1773,
			WriteTimeout: 2 * time.Second,
		},
		Buffer: BufferConfig{
			MinBytes:    64 * 1024,
			MaxBytes:    16 * 1024 * 1024,
			PCMDuration: 500 * time.Millisecond,
			DSDDuration: 300 * time.Millisecond,
			PCMPrefill:  100 * time.Millisecond,
			DSDPrefill:  50 * time.Millisecond,
		},
		MaxDrainWait: guard.DefaultMaxDrainWait,
		Transition:   transition.DefaultConfig(),
	}
}

// WithDefaults fills zero fields from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Transport.Kind == "" {
		c.Transport.Kind = d.Transport.Kind
	}
	if c.Transport.URL == "" {
		c.Transport.URL = d.Transport.URL
	}
	if c.Transport.FrameSize <= 0 {
		c.Transport.FrameSize = d.Transport.FrameSize
	}
	if c.Transport.WriteTimeout <= 0 {
		c.Transport.WriteTimeout = d.Transport.WriteTimeout
	}
	if c.Buffer.MinBytes <= 0 {
		c.Buffer.MinBytes = d.Buffer.MinBytes
	}
	if c.Buffer.MaxBytes <= 0 {
		c.Buffer.MaxBytes = d.Buffer.MaxBytes
	}
	if c.Buffer.PCMDuration <= 0 {
		c.Buffer.PCMDuration = d.Buffer.PCMDuration
	}
	if c.Buffer.DSDDuration <= 0 {
		c.Buffer.DSDDuration = d.Buffer.DSDDuration
	}
	if c.Buffer.PCMPrefill <= 0 {
		c.Buffer.PCMPrefill = d.Buffer.PCMPrefill
	}
	if c.Buffer.DSDPrefill <= 0 {
		c.Buffer.DSDPrefill = d.Buffer.DSDPrefill
	}
	if c.MaxDrainWait <= 0 {
		c.MaxDrainWait = d.MaxDrainWait
	}
	c.Transition = c.Transition.WithDefaults()
	return c
}

// Validate checks a config after defaults are applied
func (c Config) Validate() error {
	switch c.Transport.Kind {
	case TransportWebsocket, TransportOto, TransportNull:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}
	if c.Transport.FrameSize < 64 {
		return fmt.Errorf("%w: frame size %d below 64 bytes", ErrInvalidConfig, c.Transport.FrameSize)
	}
	if c.Buffer.MinBytes > c.Buffer.MaxBytes {
		return fmt.Errorf("%w: buffer min %d exceeds max %d", ErrInvalidConfig, c.Buffer.MinBytes, c.Buffer.MaxBytes)
	}
	if c.Buffer.MinBytes < 2*c.Transport.FrameSize {
		return fmt.Errorf("%w: buffer min %d holds fewer than two frames", ErrInvalidConfig, c.Buffer.MinBytes)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ABOUTME: Tuning constants for chunk sizing, warmup and silence flushes
// ABOUTME: Empirically chosen defaults, overridable from the bridge configuration
package pacing

import "time"

// Config holds the pacing constants. Zero fields fall back to defaults.
type Config struct {
	DSDChunkTarget time.Duration `yaml:"dsd_chunk_target"`
	PCMChunkTarget time.Duration `yaml:"pcm_chunk_target"`
	DSDFrameUnit   int           `yaml:"dsd_frame_unit"`
	PCMFrameUnit   int           `yaml:"pcm_frame_unit"`

	DSDWarmupBase time.Duration `yaml:"dsd_warmup_base"`
	PCMWarmup     time.Duration `yaml:"pcm_warmup"`

	DSDSilenceBase    int `yaml:"dsd_silence_base"`
	PCMSilenceBuffers int `yaml:"pcm_silence_buffers"`

	DrainTimeoutBase      time.Duration `yaml:"drain_timeout_base"`
	DrainTimeoutPerBuffer time.Duration `yaml:"drain_timeout_per_buffer"`
}

// DefaultConfig returns the tuned defaults
func DefaultConfig() Config {
	return Config{
		DSDChunkTarget:        12 * time.Millisecond,
		PCMChunkTarget:        10 * time.Millisecond,
		DSDFrameUnit:          256,
		PCMFrameUnit:          16,
		DSDWarmupBase:         50 * time.Millisecond,
		PCMWarmup:             30 * time.Millisecond,
		DSDSilenceBase:        8,
		PCMSilenceBuffers:     4,
		DrainTimeoutBase:      200 * time.Millisecond,
		DrainTimeoutPerBuffer: 10 * time.Millisecond,
	}
}

// WithDefaults fills zero fields from DefaultConfig
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DSDChunkTarget <= 0 {
		c.DSDChunkTarget = d.DSDChunkTarget
	}
	if c.PCMChunkTarget <= 0 {
		c.PCMChunkTarget = d.PCMChunkTarget
	}
	if c.DSDFrameUnit <= 0 {
		c.DSDFrameUnit = d.DSDFrameUnit
	}
	if c.PCMFrameUnit <= 0 {
		c.PCMFrameUnit = d.PCMFrameUnit
	}
	if c.DSDWarmupBase <= 0 {
		c.DSDWarmupBase = d.DSDWarmupBase
	}
	if c.PCMWarmup <= 0 {
		c.PCMWarmup = d.PCMWarmup
	}
	if c.DSDSilenceBase <= 0 {
		c.DSDSilenceBase = d.DSDSilenceBase
	}
	if c.PCMSilenceBuffers <= 0 {
		c.PCMSilenceBuffers = d.PCMSilenceBuffers
	}
	if c.DrainTimeoutBase <= 0 {
		c.DrainTimeoutBase = d.DrainTimeoutBase
	}
	if c.DrainTimeoutPerBuffer <= 0 {
		c.DrainTimeoutPerBuffer = d.DrainTimeoutPerBuffer
	}
	return c
}

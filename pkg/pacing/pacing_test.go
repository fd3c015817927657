// ABOUTME: Tests for chunk sizing, warmup scheduling and silence sizing
// ABOUTME: Pins the worked examples for DSD64 and DSD256 warmup buffer counts
package pacing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

func TestChunkFrames(t *testing.T) {
	c := DefaultConfig()
	tests := []struct {
		name   string
		format audio.Format
		frames int
	}{
		{"cd", audio.PCM(44100, 16, 2), 448},
		{"48k", audio.PCM(48000, 24, 2), 480},
		{"192k", audio.PCM(192000, 32, 2), 1920},
		{"8k", audio.PCM(8000, 16, 1), 80},
		{"dsd64", audio.DSD(audio.DSD64Rate, 2), 33792},
		{"dsd256", audio.DSD(4*audio.DSD64Rate, 2), 135424},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := c.ChunkFrames(tt.format)
			assert.Equal(t, tt.frames, frames)
			if tt.format.IsDSD() {
				assert.Zero(t, frames%256)
				assert.Zero(t, (frames/8)%4, "whole wire words per plane")
			} else {
				assert.Zero(t, frames%16)
			}
		})
	}
}

func TestChunkBytes(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, 448*2*2, c.ChunkBytes(audio.PCM(44100, 16, 2)))
	assert.Equal(t, 480*4*2, c.ChunkBytes(audio.PCM(48000, 24, 2)))
	assert.Equal(t, 33792/8, c.ChunkBytes(audio.DSD(audio.DSD64Rate, 2)))
}

func TestChunkFramesNeverBelowUnit(t *testing.T) {
	c := Config{PCMChunkTarget: time.Microsecond}
	assert.Equal(t, 16, c.ChunkFrames(audio.PCM(8000, 16, 2)))
}

func TestCycleTime(t *testing.T) {
	// 1764 payload bytes at DSD64 stereo (705600 B/s) last 2.5ms
	assert.Equal(t, 2500*time.Microsecond, CycleTime(1764+9, 9, 705600))
	assert.Zero(t, CycleTime(9, 9, 705600))
	assert.Zero(t, CycleTime(100, 0, 0))
}

func TestFramePayloadWholeWireFrames(t *testing.T) {
	assert.Equal(t, 1760, FramePayload(1773, 9, 8), "DSD stereo words")
	assert.Equal(t, 1764, FramePayload(1773, 9, 6), "24-bit stereo")
	assert.Equal(t, 1764, FramePayload(1773, 9, 0))
	assert.Equal(t, 1768, FramePayload(1773, 0, 8))

	// pacing on the rounded payload keeps DSD64 stereo at real time
	cycle := CycleTime(FramePayload(1773, 9, 8), 0, 705600)
	assert.Equal(t, 2494331*time.Nanosecond, cycle)
	assert.Less(t, cycle, CycleTime(1773, 9, 705600))
}

func TestWarmupBuffers(t *testing.T) {
	tests := []struct {
		name    string
		target  time.Duration
		payload int
		bps     int
		want    int
	}{
		{"dsd64", 50 * time.Millisecond, 1764, 705600, 20},
		{"dsd256", 50 * time.Millisecond, 1764, 2822400, 80},
		{"dsd64 half frames", 50 * time.Millisecond, 882, 705600, 40},
		{"rounds up", 51 * time.Millisecond, 1764, 705600, 21},
		{"zero target", 0, 1764, 705600, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WarmupBuffers(tt.target, tt.payload+9, 9, tt.bps))
		})
	}
}

func TestWarmupTargetScalesWithDSDRate(t *testing.T) {
	c := DefaultConfig()
	base := c.WarmupTarget(audio.DSD(audio.DSD64Rate, 2))
	assert.Equal(t, c.DSDWarmupBase, base)
	assert.Equal(t, 2*base, c.WarmupTarget(audio.DSD(2*audio.DSD64Rate, 2)))
	assert.Equal(t, 4*base, c.WarmupTarget(audio.DSD(4*audio.DSD64Rate, 2)))
	assert.Equal(t, 8*base, c.WarmupTarget(audio.DSD(8*audio.DSD64Rate48k, 2)))
	assert.Equal(t, c.PCMWarmup, c.WarmupTarget(audio.PCM(96000, 24, 2)))
}

func TestConfigWarmupBuffers(t *testing.T) {
	c := Config{DSDWarmupBase: 50 * time.Millisecond}
	dsd64 := audio.DSD(audio.DSD64Rate, 2)
	assert.Equal(t, 20, c.WarmupBuffers(dsd64, 1764+9, 9))
	// DSD256 doubles the target twice and quadruples the rate
	assert.Equal(t, 320, c.WarmupBuffers(audio.DSD(4*audio.DSD64Rate, 2), 1764+9, 9))
}

func TestSilenceBuffersAndDrainTimeout(t *testing.T) {
	c := Config{
		DSDSilenceBase:        8,
		PCMSilenceBuffers:     3,
		DrainTimeoutBase:      100 * time.Millisecond,
		DrainTimeoutPerBuffer: 5 * time.Millisecond,
	}
	assert.Equal(t, 8, c.SilenceBuffers(audio.DSD(audio.DSD64Rate, 2)))
	assert.Equal(t, 32, c.SilenceBuffers(audio.DSD(4*audio.DSD64Rate, 2)))
	assert.Equal(t, 3, c.SilenceBuffers(audio.PCM(44100, 16, 2)))
	assert.Equal(t, 140*time.Millisecond, c.DrainTimeout(8))
	assert.Equal(t, 100*time.Millisecond, c.DrainTimeout(0))
}

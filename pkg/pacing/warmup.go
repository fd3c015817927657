// ABOUTME: Stabilization scheduling after a transport open
// ABOUTME: Converts warmup durations to pull-cycle counts for a given frame size
package pacing

import (
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// CycleTime is how long one transport frame of payload lasts at the given rate
func CycleTime(frameSize, headerSize, bytesPerSecond int) time.Duration {
	payload := frameSize - headerSize
	if payload <= 0 || bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(payload) * int64(time.Second) / int64(bytesPerSecond))
}

// FramePayload is the audio one transport frame carries, truncated to whole
// wire frames of wireFrame bytes
func FramePayload(frameSize, headerSize, wireFrame int) int {
	payload := frameSize - headerSize
	if wireFrame > 0 && payload > 0 {
		payload -= payload % wireFrame
	}
	return payload
}

// WarmupTarget is the silence lead-in after opening. DSD starts from the
// DSD64 base and doubles per rate step.
func (c Config) WarmupTarget(f audio.Format) time.Duration {
	c = c.WithDefaults()
	if f.IsDSD() {
		step := f.DSDStep()
		if step < 1 {
			step = 1
		}
		return c.DSDWarmupBase * time.Duration(step)
	}
	return c.PCMWarmup
}

// WarmupBuffers returns ceil(target / cycle time) in whole transport frames
func WarmupBuffers(target time.Duration, frameSize, headerSize, bytesPerSecond int) int {
	payload := int64(frameSize - headerSize)
	if payload <= 0 || bytesPerSecond <= 0 || target <= 0 {
		return 0
	}
	num := target.Microseconds() * int64(bytesPerSecond)
	den := payload * 1_000_000
	return int((num + den - 1) / den)
}

// WarmupBuffers is WarmupBuffers for the format's target and wire rate
func (c Config) WarmupBuffers(f audio.Format, frameSize, headerSize int) int {
	return WarmupBuffers(c.WarmupTarget(f), frameSize, headerSize, f.BytesPerSecond())
}

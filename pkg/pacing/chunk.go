// ABOUTME: Chunk sizing policy for producer reads
// ABOUTME: Picks frames per push from a time target, rounded to the format's frame unit
package pacing

import (
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

func framesFor(target time.Duration, rate int) int {
	return int(int64(rate) * target.Microseconds() / 1_000_000)
}

func roundToUnit(frames, unit int) int {
	frames = (frames + unit/2) / unit * unit
	if frames < unit {
		return unit
	}
	return frames
}

// ChunkFrames returns the number of frames the producer should read and push
// per call. DSD frames are single bits per channel.
func (c Config) ChunkFrames(f audio.Format) int {
	c = c.WithDefaults()
	if f.IsDSD() {
		return roundToUnit(framesFor(c.DSDChunkTarget, f.SampleRate), c.DSDFrameUnit)
	}
	return roundToUnit(framesFor(c.PCMChunkTarget, f.SampleRate), c.PCMFrameUnit)
}

// ChunkBytes returns the input bytes per push: interleaved PCM bytes, or the
// bytes of one DSD plane.
func (c Config) ChunkBytes(f audio.Format) int {
	frames := c.ChunkFrames(f)
	if f.IsDSD() {
		return frames / 8
	}
	return frames * f.InputBytesPerSample() * f.Channels
}

// ABOUTME: Tests for the streaming linear resampler
package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityRateDelaysOneFrame(t *testing.T) {
	r := New(48000, 48000, 1)
	out := r.Resample([]int32{10, 20, 30}, nil)
	// the first output is the carried (silent) frame
	assert.Equal(t, []int32{0, 10, 20}, out)
	out = r.Resample([]int32{40}, out[:0])
	assert.Equal(t, []int32{30}, out)
}

func TestUpsampleDoubles(t *testing.T) {
	r := New(24000, 48000, 2)
	out := r.Resample([]int32{100, -100, 200, -200}, nil)
	assert.Equal(t, []int32{0, 0, 50, -50, 100, -100, 150, -150}, out)
}

func TestChunkingMatchesSingleCall(t *testing.T) {
	input := make([]int32, 440*2)
	for i := range input {
		input[i] = int32(i * 1000)
	}

	whole := New(44100, 48000, 2).Resample(input, nil)

	r := New(44100, 48000, 2)
	var chunked []int32
	for off := 0; off < len(input); off += 2 * 37 {
		end := off + 2*37
		if end > len(input) {
			end = len(input)
		}
		chunked = r.Resample(input[off:end], chunked)
	}
	assert.Equal(t, len(whole), len(chunked))
	for i := range whole {
		assert.InDelta(t, whole[i], chunked[i], 1)
	}
}

func TestOutputLengthTracksRatio(t *testing.T) {
	r := New(44100, 48000, 2)
	total := 0
	for i := 0; i < 100; i++ {
		total += len(r.Resample(make([]int32, 441*2), nil)) / 2
	}
	assert.InDelta(t, 48000, total, 2)
	assert.Equal(t, 441, r.InputFramesFor(480))
}

// ABOUTME: Streaming linear resampler for monitor playback
// ABOUTME: Carries the last input frame across calls so chunk boundaries stay continuous
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	step       float64 // input frames advanced per output frame
	position   float64 // fractional position; 0 is the carried frame
	lastSample []int32 // one sample per channel
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	r := &Resampler{channels: channels, lastSample: make([]int32, channels)}
	r.SetRates(inputRate, outputRate)
	return r
}

// SetRates changes the conversion ratio and resets the stream position
func (r *Resampler) SetRates(inputRate, outputRate int) {
	r.inputRate = inputRate
	r.outputRate = outputRate
	r.step = float64(inputRate) / float64(outputRate)
	r.Reset()
}

// Resample converts interleaved input samples and appends the interpolated
// output to out. Every input frame is consumed.
func (r *Resampler) Resample(input []int32, out []int32) []int32 {
	ch := r.channels
	frames := len(input) / ch
	if frames == 0 {
		return out
	}

	// index 0 is the carried frame, index k+1 is input frame k
	at := func(i, c int) int32 {
		if i == 0 {
			return r.lastSample[c]
		}
		return input[(i-1)*ch+c]
	}

	for {
		i := int(r.position)
		if i+1 > frames {
			break
		}
		frac := r.position - float64(i)
		for c := 0; c < ch; c++ {
			s1, s2 := at(i, c), at(i+1, c)
			out = append(out, int32(float64(s1)*(1-frac)+float64(s2)*frac))
		}
		r.position += r.step
	}

	r.position -= float64(frames)
	copy(r.lastSample, input[(frames-1)*ch:frames*ch])
	return out
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	for i := range r.lastSample {
		r.lastSample[i] = 0
	}
}

// InputFramesFor returns how many input frames produce about outputFrames
func (r *Resampler) InputFramesFor(outputFrames int) int {
	n := int(float64(outputFrames)*r.step + 0.5)
	if n < 1 {
		n = 1
	}
	return n
}

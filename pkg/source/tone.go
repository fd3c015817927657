// ABOUTME: Generated test sources: a PCM sine tone and a sigma-delta DSD tone
// ABOUTME: Used for bring-up without media files and by tests
package source

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

const toneAmplitude = 0.5

// oscillator is a rotating phasor; cheaper than math.Sin per sample
type oscillator struct {
	re, im     float64
	stepRe     float64
	stepIm     float64
	renormTick int
}

func newOscillator(freq float64, rate int) oscillator {
	w := 2 * math.Pi * freq / float64(rate)
	return oscillator{re: 1, stepRe: math.Cos(w), stepIm: math.Sin(w)}
}

func (o *oscillator) next() float64 {
	v := o.im
	o.re, o.im = o.re*o.stepRe-o.im*o.stepIm, o.re*o.stepIm+o.im*o.stepRe
	o.renormTick++
	if o.renormTick == 4096 {
		o.renormTick = 0
		m := math.Hypot(o.re, o.im)
		o.re /= m
		o.im /= m
	}
	return v
}

func framesFor(d time.Duration, rate int) int64 {
	if d <= 0 {
		return -1
	}
	return int64(d.Seconds() * float64(rate))
}

// Tone is a PCM sine generator
type Tone struct {
	format    audio.Format
	osc       oscillator
	remaining int64 // frames left, negative for endless
	meta      Metadata
}

// NewTone creates a sine at freq Hz lasting duration, or endless when
// duration is zero.
func NewTone(f audio.Format, freq float64, duration time.Duration) (*Tone, error) {
	if f.IsDSD() {
		return nil, fmt.Errorf("%w: PCM tone requested with %s", audio.ErrUnsupportedFormat, f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.Codec = "tone"
	return &Tone{
		format:    f,
		osc:       newOscillator(freq, f.SampleRate),
		remaining: framesFor(duration, f.SampleRate),
		meta: Metadata{
			Title:    fmt.Sprintf("Test Tone %gHz", freq),
			Artist:   "resonate-bridge",
			Album:    f.String(),
			Duration: duration,
		},
	}, nil
}

// OpenTone parses "<hz>[@<rate>[/<bits>]]", defaulting to 440Hz CD audio
func OpenTone(arg string) (Source, error) {
	freq, rate, bits := 440.0, 44100, 16
	hz, rest, _ := strings.Cut(arg, "@")
	if hz != "" {
		v, err := strconv.ParseFloat(hz, 64)
		if err != nil {
			return nil, fmt.Errorf("tone frequency %q: %w", hz, err)
		}
		freq = v
	}
	if rest != "" {
		r, b, hasBits := strings.Cut(rest, "/")
		v, err := strconv.Atoi(r)
		if err != nil {
			return nil, fmt.Errorf("tone rate %q: %w", r, err)
		}
		rate = v
		if hasBits {
			if bits, err = strconv.Atoi(b); err != nil {
				return nil, fmt.Errorf("tone bit depth %q: %w", b, err)
			}
		}
	}
	return NewTone(audio.PCM(rate, bits, 2), freq, 0)
}

func (t *Tone) Format() audio.Format { return t.format }
func (t *Tone) Metadata() Metadata   { return t.meta }
func (t *Tone) Close() error         { return nil }

func (t *Tone) Read(blk *audio.Block, frames int) (int, error) {
	if t.remaining == 0 {
		blk.Data = blk.Data[:0]
		return 0, io.EOF
	}
	if t.remaining > 0 && int64(frames) > t.remaining {
		frames = int(t.remaining)
	}

	data := pcmData(blk, t.format, frames)
	var scale float64
	switch t.format.BitDepth {
	case 16:
		scale = 32767
	case 24:
		scale = audio.Max24Bit
	default:
		scale = math.MaxInt32
	}
	width := t.format.InputBytesPerSample()
	ch := t.format.Channels

	for i := 0; i < frames; i++ {
		v := int32(t.osc.next() * toneAmplitude * scale)
		for c := 0; c < ch; c++ {
			putSample(data[(i*ch+c)*width:], t.format.BitDepth, v)
		}
	}

	if t.remaining > 0 {
		t.remaining -= int64(frames)
	}
	if t.remaining == 0 {
		return frames, io.EOF
	}
	return frames, nil
}

// DSDTone is a first-order sigma-delta modulated sine, MSB-first. A zero
// frequency produces the DSD idle pattern.
type DSDTone struct {
	format    audio.Format
	freq      float64
	osc       oscillator
	integ     []float64
	last      []float64
	remaining int64 // bits per channel left, negative for endless
	meta      Metadata
}

// NewDSDTone creates a DSD tone generator
func NewDSDTone(f audio.Format, freq float64, duration time.Duration) (*DSDTone, error) {
	if !f.IsDSD() {
		return nil, fmt.Errorf("%w: DSD tone requested with %s", audio.ErrUnsupportedFormat, f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	f.DSDLSBFirst = false
	f.Codec = "dsd-tone"
	title := "DSD Idle"
	if freq > 0 {
		title = fmt.Sprintf("DSD Tone %gHz", freq)
	}
	return &DSDTone{
		format:    f,
		freq:      freq,
		osc:       newOscillator(freq, f.SampleRate),
		integ:     make([]float64, f.Channels),
		last:      make([]float64, f.Channels),
		remaining: framesFor(duration, f.SampleRate),
		meta: Metadata{
			Title:    title,
			Artist:   "resonate-bridge",
			Album:    f.String(),
			Duration: duration,
		},
	}, nil
}

// OpenDSDTone parses "<multiplier>[@48k][,<hz>]", e.g. "128" or "64@48k,1000"
func OpenDSDTone(arg string) (Source, error) {
	rateArg, hz, hasHz := strings.Cut(arg, ",")
	multArg, family, _ := strings.Cut(rateArg, "@")
	mult := 64
	if multArg != "" {
		v, err := strconv.Atoi(multArg)
		if err != nil {
			return nil, fmt.Errorf("dsd multiplier %q: %w", multArg, err)
		}
		mult = v
	}
	base := 44100
	if family == "48k" {
		base = 48000
	}
	freq := 1000.0
	if hasHz {
		v, err := strconv.ParseFloat(hz, 64)
		if err != nil {
			return nil, fmt.Errorf("dsd tone frequency %q: %w", hz, err)
		}
		freq = v
	}
	return NewDSDTone(audio.DSD(mult*base, 2), freq, 0)
}

func (t *DSDTone) Format() audio.Format { return t.format }
func (t *DSDTone) Metadata() Metadata   { return t.meta }
func (t *DSDTone) Close() error         { return nil }

func (t *DSDTone) Read(blk *audio.Block, frames int) (int, error) {
	if t.remaining == 0 {
		trimPlanes(blk, 0)
		return 0, io.EOF
	}
	if t.remaining > 0 && int64(frames) > t.remaining {
		frames = int(t.remaining)
	}
	n := frames / 8
	planes := dsdPlanes(blk, t.format.Channels, n)

	if t.freq <= 0 {
		for _, p := range planes {
			for i := range p {
				p[i] = audio.DSDSilenceMSB
			}
		}
	} else {
		for i := 0; i < n; i++ {
			var bytes [audio.MaxChannels]byte
			for bit := 7; bit >= 0; bit-- {
				x := t.osc.next() * toneAmplitude
				for c := range planes {
					t.integ[c] += x - t.last[c]
					if t.integ[c] >= 0 {
						bytes[c] |= 1 << bit
						t.last[c] = 1
					} else {
						t.last[c] = -1
					}
				}
			}
			for c, p := range planes {
				p[i] = bytes[c]
			}
		}
	}

	frames = n * 8
	if t.remaining > 0 {
		t.remaining -= int64(frames)
		if t.remaining < 8 {
			t.remaining = 0
		}
	}
	if t.remaining == 0 {
		return frames, io.EOF
	}
	return frames, nil
}

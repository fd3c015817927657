// ABOUTME: Pull adapter turning bridge wire PCM into the device's S16LE stereo stream
// ABOUTME: Decodes wire slots, maps channels to stereo and resamples to the device rate
package monitor

import (
	"encoding/binary"
	"sync"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio/resample"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

const deviceChannels = 2

// reader is the io.Reader the audio device pulls from. Reads never block:
// when the bridge has nothing ready the device gets silence.
type reader struct {
	mu      sync.Mutex
	puller  transport.Puller
	format  audio.Format
	active  bool
	payload int

	rs     *resample.Resampler
	wire   []byte
	stereo []int32
	out    []int32 // resampled stereo samples not yet read
}

func newReader(frameSize int) *reader {
	return &reader{
		wire: make([]byte, frameSize),
		rs:   resample.New(48000, 48000, deviceChannels),
	}
}

func (r *reader) configure(f audio.Format, deviceRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.format = f
	r.payload = len(r.wire) - len(r.wire)%f.WireFrameBytes()
	r.rs.SetRates(f.SampleRate, deviceRate)
	r.out = r.out[:0]
	r.active = true
}

func (r *reader) stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.out = r.out[:0]
}

func (r *reader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / (2 * deviceChannels)
	if frames == 0 {
		return 0, nil
	}
	want := frames * deviceChannels
	if !r.active || r.puller == nil {
		clear(p[:want*2])
		return want * 2, nil
	}

	for len(r.out) < want {
		n := r.puller.Pull(r.wire[:r.payload])
		if n == 0 {
			break
		}
		r.stereo = decodeStereo(r.stereo[:0], r.wire[:n], r.format)
		r.out = r.rs.Resample(r.stereo, r.out)
	}

	// an underrun leaves have short of want; the rest of p is silence
	have := min(len(r.out), want)
	for i := 0; i < have; i++ {
		binary.LittleEndian.PutUint16(p[2*i:], uint16(int16(r.out[i]>>16)))
	}
	clear(p[2*have : 2*want])
	r.out = r.out[:copy(r.out, r.out[have:])]
	return want * 2, nil
}

// decodeStereo converts wire PCM into full-scale int32 stereo samples.
// Mono is duplicated; channels beyond the first two are dropped.
func decodeStereo(dst []int32, wire []byte, f audio.Format) []int32 {
	width := f.WireBytesPerSample()
	ch := f.Channels
	frame := width * ch
	for off := 0; off+frame <= len(wire); off += frame {
		left := sampleAt(wire[off:], width)
		right := left
		if ch > 1 {
			right = sampleAt(wire[off+width:], width)
		}
		dst = append(dst, left, right)
	}
	return dst
}

func sampleAt(b []byte, width int) int32 {
	if width == 3 {
		return int32(uint32(b[0])<<8 | uint32(b[1])<<16 | uint32(b[2])<<24)
	}
	return int32(binary.LittleEndian.Uint32(b))
}

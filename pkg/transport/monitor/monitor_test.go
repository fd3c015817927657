// ABOUTME: Tests for the monitor's pull adapter and format checks
// ABOUTME: Exercised without an audio device
package monitor

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// rampPuller serves widened 16-bit stereo frames counting up from 1
type rampPuller struct {
	next  int16
	limit int // frames left to serve
	pulls int
}

func (p *rampPuller) Pull(dst []byte) int {
	p.pulls++
	n := 0
	for n+8 <= len(dst) && p.limit > 0 {
		p.next++
		v := uint32(uint16(p.next)) << 16
		binary.LittleEndian.PutUint32(dst[n:], v)
		binary.LittleEndian.PutUint32(dst[n+4:], v)
		n += 8
		p.limit--
	}
	return n
}

func TestReaderPassesThroughAtDeviceRate(t *testing.T) {
	r := newReader(64)
	puller := &rampPuller{limit: 100}
	r.puller = puller
	r.configure(audio.PCM(48000, 16, 2), 48000)

	p := make([]byte, 4*10)
	n, err := r.Read(p)
	require.NoError(t, err)
	require.Equal(t, 40, n)

	for i := 0; i < 10; i++ {
		left := int16(binary.LittleEndian.Uint16(p[4*i:]))
		right := int16(binary.LittleEndian.Uint16(p[4*i+2:]))
		// one carried frame of silence leads the stream
		assert.Equal(t, int16(i), left)
		assert.Equal(t, left, right)
	}
}

func TestReaderFillsUnderrunWithSilence(t *testing.T) {
	r := newReader(64)
	r.puller = &rampPuller{}
	r.configure(audio.PCM(44100, 16, 2), 48000)

	p := make([]byte, 4*32)
	for i := range p {
		p[i] = 0xFF
	}
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, len(p), n)
	assert.Equal(t, make([]byte, len(p)), p)
}

func TestReaderUnderrunDoesNotAllocate(t *testing.T) {
	r := newReader(64)
	r.puller = &rampPuller{}
	r.configure(audio.PCM(48000, 16, 2), 48000)

	p := make([]byte, 4*256)
	allocs := testing.AllocsPerRun(100, func() {
		_, _ = r.Read(p)
	})
	assert.Zero(t, allocs)
	assert.Equal(t, make([]byte, len(p)), p)
}

func TestReaderPartialUnderrunPadsTail(t *testing.T) {
	r := newReader(64)
	r.puller = &rampPuller{limit: 4}
	r.configure(audio.PCM(48000, 16, 2), 48000)

	p := make([]byte, 4*16)
	for i := range p {
		p[i] = 0xFF
	}
	n, err := r.Read(p)
	require.NoError(t, err)
	require.Equal(t, len(p), n)
	// the carried silence frame and three served frames; the fourth is
	// held back as the resampler's carry
	for i := 0; i < 4; i++ {
		assert.Equal(t, int16(i), int16(binary.LittleEndian.Uint16(p[4*i:])))
	}
	assert.Equal(t, make([]byte, 4*12), p[4*4:])
}

func TestReaderInactiveIsSilent(t *testing.T) {
	r := newReader(64)
	puller := &rampPuller{limit: 100}
	r.puller = puller
	p := []byte{1, 2, 3, 4, 5}
	n, err := r.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 0, 5}, p)
	assert.Zero(t, puller.pulls)
}

func TestDecodeStereo(t *testing.T) {
	// packed 24-bit mono: 0x123456 becomes MSB-justified and duplicated
	got := decodeStereo(nil, []byte{0x56, 0x34, 0x12}, audio.PCM(48000, 24, 1))
	assert.Equal(t, []int32{0x12345600, 0x12345600}, got)

	// 32-bit slots, four channels: only the first two survive
	wire := make([]byte, 16)
	for c := 0; c < 4; c++ {
		binary.LittleEndian.PutUint32(wire[4*c:], uint32(c+1))
	}
	got = decodeStereo(nil, wire, audio.PCM(48000, 32, 4))
	assert.Equal(t, []int32{1, 2}, got)
}

func TestMonitorRejectsDSD(t *testing.T) {
	m := New(Config{})
	err := m.Open(context.Background(), audio.DSD(audio.DSD64Rate, 2))
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
	assert.Equal(t, 0, m.HeaderSize())
	assert.Equal(t, 4096, m.FrameSize())
}

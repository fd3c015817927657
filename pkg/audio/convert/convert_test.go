// ABOUTME: Tests for sample layout converters
// ABOUTME: Covers 24-bit alignment detection, packing, 16-bit widening and DSD interleave
package convert

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func slots(values ...uint32) []byte {
	out := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func TestDetect24(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		want Alignment
	}{
		{"lsb aligned", slots(0x00123456, 0x00FFFFFE), AlignLSB},
		{"msb aligned", slots(0x12345600, 0xFFFFFE00), AlignMSB},
		{"all zero", slots(0, 0, 0, 0), AlignUnknown},
		{"empty", nil, AlignUnknown},
		{"lsb after msb-looking samples", slots(0x12345600, 0x00000001), AlignLSB},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect24(tt.src))
		})
	}
}

func TestDetect24OnlyInspectsLeadingSamples(t *testing.T) {
	values := make([]uint32, DetectSamples+1)
	for i := range values[:DetectSamples] {
		values[i] = 0x00010000 << 8 // MSB-looking
	}
	values[DetectSamples] = 0x00000001
	assert.Equal(t, AlignMSB, Detect24(slots(values...)))
}

func TestPack24(t *testing.T) {
	dst := make([]byte, 6)

	n := Pack24(dst, slots(0x00563412, 0x00ABCDEF), AlignLSB)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0xEF, 0xCD, 0xAB}, dst)

	n = Pack24(dst, slots(0x56341200, 0xABCDEF00), AlignMSB)
	require.Equal(t, 2, n)
	assert.Equal(t, []byte{0x12, 0x34, 0x56, 0xEF, 0xCD, 0xAB}, dst)

	// unknown packs from the low bytes
	n = Pack24(dst, slots(0, 0), AlignUnknown)
	require.Equal(t, 2, n)
	assert.Equal(t, make([]byte, 6), dst)
}

func TestPack24LimitedByDestination(t *testing.T) {
	dst := make([]byte, 5)
	assert.Equal(t, 1, Pack24(dst, slots(1, 2, 3), AlignLSB))
}

func TestWiden16(t *testing.T) {
	src := make([]byte, 6)
	binary.LittleEndian.PutUint16(src[0:], uint16(0x1234))
	binary.LittleEndian.PutUint16(src[2:], uint16(0x8000))
	binary.LittleEndian.PutUint16(src[4:], uint16(0xFFFF))

	dst := make([]byte, 12)
	require.Equal(t, 3, Widen16(dst, src))
	assert.Equal(t, uint32(0x12340000), binary.LittleEndian.Uint32(dst[0:]))
	assert.Equal(t, uint32(0x80000000), binary.LittleEndian.Uint32(dst[4:]))
	assert.Equal(t, int32(-1<<16), int32(binary.LittleEndian.Uint32(dst[8:])))
}

func TestInterleaveDSD(t *testing.T) {
	left := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	right := []byte{0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17, 0x18}
	planes := [][]byte{left, right}

	t.Run("plain", func(t *testing.T) {
		dst := make([]byte, 16)
		require.Equal(t, 2, InterleaveDSD(dst, planes, 0, false, false))
		assert.Equal(t, []byte{
			0x01, 0x02, 0x03, 0x04, 0x11, 0x12, 0x13, 0x14,
			0x05, 0x06, 0x07, 0x08, 0x15, 0x16, 0x17, 0x18,
		}, dst)
	})

	t.Run("offset", func(t *testing.T) {
		dst := make([]byte, 16)
		require.Equal(t, 1, InterleaveDSD(dst, planes, 4, false, false))
		assert.Equal(t, []byte{0x05, 0x06, 0x07, 0x08, 0x15, 0x16, 0x17, 0x18}, dst[:8])
	})

	t.Run("swap", func(t *testing.T) {
		dst := make([]byte, 8)
		require.Equal(t, 1, InterleaveDSD(dst, planes, 0, false, true))
		assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01, 0x14, 0x13, 0x12, 0x11}, dst)
	})

	t.Run("reverse", func(t *testing.T) {
		dst := make([]byte, 8)
		require.Equal(t, 1, InterleaveDSD(dst, planes, 0, true, false))
		assert.Equal(t, []byte{0x80, 0x40, 0xC0, 0x20, 0x88, 0x48, 0xC8, 0x28}, dst)
	})

	t.Run("partial word ignored", func(t *testing.T) {
		dst := make([]byte, 16)
		short := [][]byte{left[:6], right[:6]}
		assert.Equal(t, 1, InterleaveDSD(dst, short, 0, false, false))
	})

	t.Run("destination bound", func(t *testing.T) {
		dst := make([]byte, 12)
		assert.Equal(t, 1, InterleaveDSD(dst, planes, 0, false, false))
	})
}

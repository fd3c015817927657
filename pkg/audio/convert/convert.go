// ABOUTME: Sample layout converters used on the bridge push path
// ABOUTME: Packs 24-bit slots, widens 16-bit samples and interleaves planar DSD
package convert

import "encoding/binary"

// Alignment records where 24 significant bits sit inside a 32-bit slot
type Alignment int32

const (
	AlignUnknown Alignment = iota
	AlignLSB               // bytes 0-2 carry the sample
	AlignMSB               // bytes 1-3 carry the sample
)

func (a Alignment) String() string {
	switch a {
	case AlignLSB:
		return "lsb"
	case AlignMSB:
		return "msb"
	default:
		return "unknown"
	}
}

// DetectSamples is the number of leading samples inspected by Detect24
const DetectSamples = 32

var bitReverse = buildBitReverse()

func buildBitReverse() [256]byte {
	var t [256]byte
	for i := range t {
		var r byte
		for bit := 0; bit < 8; bit++ {
			if i&(1<<bit) != 0 {
				r |= 1 << (7 - bit)
			}
		}
		t[i] = r
	}
	return t
}

// Detect24 inspects up to DetectSamples 32-bit slots. Any non-zero low byte
// means the sample is LSB-aligned; otherwise any non-zero slot means
// MSB-aligned. All-zero input stays unknown.
func Detect24(src []byte) Alignment {
	n := len(src) / 4
	if n > DetectSamples {
		n = DetectSamples
	}
	nonZero := false
	for i := 0; i < n; i++ {
		s := src[i*4 : i*4+4]
		if s[0] != 0 {
			return AlignLSB
		}
		if s[1]|s[2]|s[3] != 0 {
			nonZero = true
		}
	}
	if nonZero {
		return AlignMSB
	}
	return AlignUnknown
}

// Pack24 packs whole 32-bit slots of src into 3-byte samples in dst and
// returns the number of samples converted. Unknown alignment packs bytes 0-2.
func Pack24(dst, src []byte, align Alignment) int {
	n := len(src) / 4
	if m := len(dst) / 3; m < n {
		n = m
	}
	off := 0
	if align == AlignMSB {
		off = 1
	}
	for i := 0; i < n; i++ {
		s := src[i*4+off:]
		d := dst[i*3:]
		d[0], d[1], d[2] = s[0], s[1], s[2]
	}
	return n
}

// Widen16 widens S16LE samples of src into MSB-justified 32-bit slots in dst
// and returns the number of samples converted.
func Widen16(dst, src []byte) int {
	n := len(src) / 2
	if m := len(dst) / 4; m < n {
		n = m
	}
	for i := 0; i < n; i++ {
		v := uint32(binary.LittleEndian.Uint16(src[i*2:])) << 16
		binary.LittleEndian.PutUint32(dst[i*4:], v)
	}
	return n
}

// InterleaveDSD interleaves planar DSD into 4-byte words per channel
// (L0 R0 L1 R1 ...) starting at byte offset from in every plane. reverse flips
// the bit order of each byte, swap writes each word big-endian. It returns the
// number of words per channel written.
func InterleaveDSD(dst []byte, planes [][]byte, from int, reverse, swap bool) int {
	channels := len(planes)
	if channels == 0 {
		return 0
	}
	words := (len(planes[0]) - from) / 4
	for _, p := range planes[1:] {
		if w := (len(p) - from) / 4; w < words {
			words = w
		}
	}
	if m := len(dst) / (4 * channels); m < words {
		words = m
	}
	if words <= 0 {
		return 0
	}

	o := 0
	for w := 0; w < words; w++ {
		base := from + w*4
		for _, p := range planes {
			b0, b1, b2, b3 := p[base], p[base+1], p[base+2], p[base+3]
			if reverse {
				b0, b1, b2, b3 = bitReverse[b0], bitReverse[b1], bitReverse[b2], bitReverse[b3]
			}
			if swap {
				b0, b1, b2, b3 = b3, b2, b1, b0
			}
			dst[o], dst[o+1], dst[o+2], dst[o+3] = b0, b1, b2, b3
			o += 4
		}
	}
	return words
}

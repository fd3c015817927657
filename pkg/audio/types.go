// ABOUTME: Audio type definitions
// ABOUTME: Defines stream formats, wire sizes and format-tagged sample blocks
package audio

import (
	"errors"
	"fmt"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23

	// DSD64 bit rates per channel for both clock families
	DSD64Rate       = 2822400 // 64 x 44.1kHz
	DSD64Rate48k    = 3072000 // 64 x 48kHz
	dsdBaseMultiple = 64

	// MaxChannels bounds the channel count accepted by Validate
	MaxChannels = 8

	// DSD idle pattern, MSB-first and LSB-first variants
	DSDSilenceMSB = 0x69
	DSDSilenceLSB = 0x96
)

// ErrUnsupportedFormat is returned for formats the bridge cannot carry
var ErrUnsupportedFormat = errors.New("unsupported format")

// Kind distinguishes linear PCM from 1-bit DSD streams
type Kind int

const (
	KindPCM Kind = iota
	KindDSD
)

func (k Kind) String() string {
	switch k {
	case KindPCM:
		return "PCM"
	case KindDSD:
		return "DSD"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Format describes audio stream format
type Format struct {
	Kind       Kind
	SampleRate int // PCM: frames per second; DSD: bits per second per channel
	Channels   int
	BitDepth   int // PCM: 16, 24 or 32; DSD: 1

	// DSDLSBFirst marks planar DSD input whose bytes carry the oldest bit in
	// the least significant position (DSF files).
	DSDLSBFirst bool

	Codec string // informational, e.g. "flac", "dsf"
}

// PCM returns a PCM format
func PCM(sampleRate, bitDepth, channels int) Format {
	return Format{Kind: KindPCM, SampleRate: sampleRate, BitDepth: bitDepth, Channels: channels, Codec: "pcm"}
}

// DSD returns a DSD format at the given bit rate
func DSD(sampleRate, channels int) Format {
	return Format{Kind: KindDSD, SampleRate: sampleRate, BitDepth: 1, Channels: channels, Codec: "dsd"}
}

// IsZero reports whether no format has been set
func (f Format) IsZero() bool {
	return f.SampleRate == 0 && f.Channels == 0
}

// IsDSD reports whether the format carries 1-bit samples
func (f Format) IsDSD() bool {
	return f.Kind == KindDSD
}

// Equal compares the stream-relevant fields; Codec is ignored
func (f Format) Equal(o Format) bool {
	return f.Kind == o.Kind &&
		f.SampleRate == o.SampleRate &&
		f.Channels == o.Channels &&
		f.BitDepth == o.BitDepth &&
		f.DSDLSBFirst == o.DSDLSBFirst
}

// ClockFamily returns 44100 or 48000 for the base clock the rate derives
// from, or 0 when it derives from neither.
func (f Format) ClockFamily() int {
	switch {
	case f.SampleRate <= 0:
		return 0
	case f.SampleRate%44100 == 0:
		return 44100
	case f.SampleRate%48000 == 0:
		return 48000
	default:
		return 0
	}
}

// DSDMultiplier returns 64, 128, 256, ... for DSD formats and 0 otherwise
func (f Format) DSDMultiplier() int {
	if !f.IsDSD() {
		return 0
	}
	family := f.ClockFamily()
	if family == 0 {
		return 0
	}
	return f.SampleRate / family
}

// DSDStep returns the rate relative to DSD64 (1 for DSD64, 4 for DSD256)
func (f Format) DSDStep() int {
	return f.DSDMultiplier() / dsdBaseMultiple
}

// InputBytesPerSample is the per-sample size of PCM blocks handed to the
// bridge. 24-bit samples travel in 32-bit slots.
func (f Format) InputBytesPerSample() int {
	switch f.BitDepth {
	case 16:
		return 2
	case 24, 32:
		return 4
	default:
		return 0
	}
}

// WireBytesPerSample is the per-sample size on the transport. 16-bit is
// widened to 32-bit slots, 24-bit is packed.
func (f Format) WireBytesPerSample() int {
	switch f.BitDepth {
	case 16, 32:
		return 4
	case 24:
		return 3
	default:
		return 0
	}
}

// WireFrameBytes is the smallest whole unit on the transport: one PCM frame,
// or one 32-bit word per channel for DSD.
func (f Format) WireFrameBytes() int {
	if f.IsDSD() {
		return 4 * f.Channels
	}
	return f.WireBytesPerSample() * f.Channels
}

// BytesPerSecond returns the wire data rate
func (f Format) BytesPerSecond() int {
	if f.IsDSD() {
		return f.SampleRate / 8 * f.Channels
	}
	return f.SampleRate * f.Channels * f.WireBytesPerSample()
}

// SilenceByte returns the idle byte for the wire layout
func (f Format) SilenceByte(lsbFirst bool) byte {
	if !f.IsDSD() {
		return 0
	}
	if lsbFirst {
		return DSDSilenceLSB
	}
	return DSDSilenceMSB
}

// Validate fails for formats the bridge cannot carry
func (f Format) Validate() error {
	if f.Channels < 1 || f.Channels > MaxChannels {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, f.Channels)
	}
	switch f.Kind {
	case KindPCM:
		if f.InputBytesPerSample() == 0 {
			return fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, f.BitDepth)
		}
		if f.SampleRate < 8000 || f.SampleRate > 768000 {
			return fmt.Errorf("%w: PCM rate %dHz", ErrUnsupportedFormat, f.SampleRate)
		}
	case KindDSD:
		if f.BitDepth != 1 {
			return fmt.Errorf("%w: DSD bit depth %d", ErrUnsupportedFormat, f.BitDepth)
		}
		switch f.DSDMultiplier() {
		case 64, 128, 256, 512:
		default:
			return fmt.Errorf("%w: DSD rate %dHz", ErrUnsupportedFormat, f.SampleRate)
		}
	default:
		return fmt.Errorf("%w: kind %v", ErrUnsupportedFormat, f.Kind)
	}
	return nil
}

// Name returns a short label such as "DSD128" or "PCM"
func (f Format) Name() string {
	if m := f.DSDMultiplier(); m != 0 {
		return fmt.Sprintf("DSD%d", m)
	}
	return f.Kind.String()
}

func (f Format) String() string {
	if f.IsZero() {
		return "<none>"
	}
	if f.IsDSD() {
		return fmt.Sprintf("%s %dHz/%dch", f.Name(), f.SampleRate, f.Channels)
	}
	return fmt.Sprintf("PCM %dHz/%dbit/%dch", f.SampleRate, f.BitDepth, f.Channels)
}

// Block is a format-tagged chunk of decoded audio handed to the bridge.
//
// PCM blocks carry interleaved little-endian samples in Data: S16LE for
// 16-bit, 32-bit slots for 24-bit and 32-bit. DSD blocks carry one byte plane
// per channel in Planes, all of equal length.
type Block struct {
	Data   []byte
	Planes [][]byte
}

// Frames returns the number of whole frames in the block
func (b Block) Frames(f Format) int {
	if f.IsDSD() {
		if len(b.Planes) == 0 {
			return 0
		}
		return len(b.Planes[0]) * 8
	}
	frameBytes := f.InputBytesPerSample() * f.Channels
	if frameBytes == 0 {
		return 0
	}
	return len(b.Data) / frameBytes
}

// Skip returns the block with the first frames removed. DSD offsets are
// truncated to whole bytes and the shifted plane windows are written into
// planes, which must hold one entry per channel.
func (b Block) Skip(f Format, frames int, planes [][]byte) Block {
	if f.IsDSD() {
		off := frames / 8
		planes = planes[:len(b.Planes)]
		for i, p := range b.Planes {
			if off > len(p) {
				off = len(p)
			}
			planes[i] = p[off:]
		}
		return Block{Planes: planes}
	}
	off := frames * f.InputBytesPerSample() * f.Channels
	if off > len(b.Data) {
		off = len(b.Data)
	}
	return Block{Data: b.Data[off:]}
}

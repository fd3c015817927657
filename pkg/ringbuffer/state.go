// ABOUTME: Format state shared by the ring buffer producer and consumer
// ABOUTME: Independent atomic fields, written only while a writer guard is held
package ringbuffer

import (
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio/convert"
)

// Layout describes how the wire expects DSD words
type Layout struct {
	DSDLSBFirst  bool `yaml:"dsd_lsb_first"`  // wire bit order within each byte
	DSDBigEndian bool `yaml:"dsd_big_endian"` // wire byte order within each 32-bit word
}

// FormatState is the configured stream layout
type FormatState struct {
	channels    atomic.Int32
	bitDepth    atomic.Int32
	inBytes     atomic.Int32
	wireBytes   atomic.Int32
	sampleRate  atomic.Int64
	dsd         atomic.Bool
	lsbFirst    atomic.Bool
	dsdReverse  atomic.Bool
	dsdSwap     atomic.Bool
	silenceByte atomic.Uint32
	align       atomic.Int32
}

func (s *FormatState) store(f audio.Format, l Layout) {
	s.channels.Store(int32(f.Channels))
	s.bitDepth.Store(int32(f.BitDepth))
	s.inBytes.Store(int32(f.InputBytesPerSample()))
	s.wireBytes.Store(int32(f.WireBytesPerSample()))
	s.sampleRate.Store(int64(f.SampleRate))
	s.dsd.Store(f.IsDSD())
	s.lsbFirst.Store(f.DSDLSBFirst)
	s.dsdReverse.Store(f.IsDSD() && f.DSDLSBFirst != l.DSDLSBFirst)
	s.dsdSwap.Store(f.IsDSD() && l.DSDBigEndian)
	s.silenceByte.Store(uint32(f.SilenceByte(l.DSDLSBFirst)))
	s.align.Store(int32(convert.AlignUnknown))
}

// Format returns a snapshot of the configured format
func (s *FormatState) Format() audio.Format {
	f := audio.Format{
		Kind:        audio.KindPCM,
		SampleRate:  int(s.sampleRate.Load()),
		Channels:    int(s.channels.Load()),
		BitDepth:    int(s.bitDepth.Load()),
		DSDLSBFirst: s.lsbFirst.Load(),
	}
	if s.dsd.Load() {
		f.Kind = audio.KindDSD
	}
	return f
}

// Alignment returns the latched 24-bit alignment
func (s *FormatState) Alignment() convert.Alignment {
	return convert.Alignment(s.align.Load())
}

// BitReverse reports whether DSD bytes are bit-reversed on the way in
func (s *FormatState) BitReverse() bool {
	return s.dsdReverse.Load()
}

// ByteSwap reports whether DSD words are written big-endian
func (s *FormatState) ByteSwap() bool {
	return s.dsdSwap.Load()
}

// WireFrameBytes is the size of one whole wire frame, zero when unconfigured
func (s *FormatState) WireFrameBytes() int {
	ch := int(s.channels.Load())
	if s.dsd.Load() {
		return 4 * ch
	}
	return int(s.wireBytes.Load()) * ch
}

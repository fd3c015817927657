// ABOUTME: WAV file source
// ABOUTME: Decodes integer PCM WAV files with go-audio/wav into bridge blocks
package source

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

const wavFormatPCM = 1

// WAV decodes an integer PCM WAV file
type WAV struct {
	file    *os.File
	decoder *wav.Decoder
	format  audio.Format
	bits    int
	buf     *goaudio.IntBuffer
	meta    Metadata
}

// NewWAV opens a WAV file
func NewWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is not a valid WAV file", ErrUnsupportedSource, path)
	}
	if d.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, fmt.Errorf("%w: WAV format tag %d", audio.ErrUnsupportedFormat, d.WavAudioFormat)
	}
	if err := d.FwdToPCM(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to locate WAV data: %w", err)
	}

	bits := int(d.BitDepth)
	format := audio.PCM(int(d.SampleRate), containerDepth(bits), int(d.NumChans))
	format.Codec = "wav"
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}

	md := Metadata{Title: titleFromPath(path), Artist: "Unknown Artist", Album: "Unknown Album"}
	if dur, err := d.Duration(); err == nil {
		md.Duration = dur
	}

	return &WAV{
		file:    f,
		decoder: d,
		format:  format,
		bits:    bits,
		buf:     &goaudio.IntBuffer{Format: d.Format(), SourceBitDepth: bits},
		meta:    md,
	}, nil
}

func (s *WAV) Format() audio.Format { return s.format }
func (s *WAV) Metadata() Metadata   { return s.meta }
func (s *WAV) Close() error         { return s.file.Close() }

func (s *WAV) Read(blk *audio.Block, frames int) (int, error) {
	ch := s.format.Channels
	want := frames * ch
	if cap(s.buf.Data) < want {
		s.buf.Data = make([]int, want)
	}
	s.buf.Data = s.buf.Data[:want]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("wav decode: %w", err)
	}
	got := n / ch

	data := pcmData(blk, s.format, got)
	width := s.format.InputBytesPerSample()
	depth := s.format.BitDepth
	shift := uint(depth - s.bits)
	for i, v := range s.buf.Data[:got*ch] {
		if s.bits == 8 {
			v -= 128 // 8-bit WAV samples are unsigned
		}
		putSample(data[i*width:], depth, int32(v)<<shift)
	}

	if got == 0 || errors.Is(err, io.EOF) {
		return got, io.EOF
	}
	return got, nil
}

// ABOUTME: Ogg Vorbis file source
// ABOUTME: Decodes float samples with oggvorbis and quantizes to 32-bit PCM slots
package source

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/jfreymuth/oggvorbis"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// Vorbis decodes an Ogg Vorbis file
type Vorbis struct {
	file    *os.File
	decoder *oggvorbis.Reader
	format  audio.Format
	samples []float32
	meta    Metadata
}

// NewVorbis opens an Ogg Vorbis file
func NewVorbis(path string) (*Vorbis, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Ogg file: %w", err)
	}
	dec, err := oggvorbis.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode Ogg Vorbis: %w", err)
	}

	format := audio.PCM(dec.SampleRate(), 32, dec.Channels())
	format.Codec = "vorbis"
	if err := format.Validate(); err != nil {
		f.Close()
		return nil, err
	}

	md := Metadata{Title: titleFromPath(path), Artist: "Unknown Artist", Album: "Unknown Album"}
	if n := dec.Length(); n > 0 {
		md.Duration = time.Duration(n * int64(time.Second) / int64(dec.SampleRate()))
	}
	return &Vorbis{file: f, decoder: dec, format: format, meta: md}, nil
}

func (s *Vorbis) Format() audio.Format { return s.format }
func (s *Vorbis) Metadata() Metadata   { return s.meta }
func (s *Vorbis) Close() error         { return s.file.Close() }

func (s *Vorbis) Read(blk *audio.Block, frames int) (int, error) {
	ch := s.format.Channels
	want := frames * ch
	if cap(s.samples) < want {
		s.samples = make([]float32, want)
	}
	s.samples = s.samples[:want]

	total := 0
	var err error
	for total < want && err == nil {
		var n int
		n, err = s.decoder.Read(s.samples[total:])
		total += n
		if n == 0 && err == nil {
			break
		}
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("vorbis decode: %w", err)
	}

	got := total / ch
	data := pcmData(blk, s.format, got)
	for i, v := range s.samples[:got*ch] {
		putSample(data[i*4:], 32, quantize32(v))
	}
	if errors.Is(err, io.EOF) {
		return got, io.EOF
	}
	return got, nil
}

func quantize32(v float32) int32 {
	switch {
	case v >= 1:
		return math.MaxInt32
	case v <= -1:
		return math.MinInt32
	default:
		return int32(float64(v) * math.MaxInt32)
	}
}

// ABOUTME: FLAC file source
// ABOUTME: Decodes with mewkiz/flac into 16-bit or 32-bit-slot PCM blocks, tags from Vorbis comments
package source

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// FLAC decodes a FLAC file frame by frame
type FLAC struct {
	stream *flac.Stream
	format audio.Format
	shift  uint // left shift from the stream depth to the container depth
	meta   Metadata

	pending *frame.Frame
	offset  int // next unread sample index in pending
}

// NewFLAC opens a FLAC file and reads its metadata blocks
func NewFLAC(path string) (*FLAC, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	bits := int(info.BitsPerSample)
	depth := containerDepth(bits)
	f := audio.PCM(int(info.SampleRate), depth, int(info.NChannels))
	f.Codec = "flac"
	if err := f.Validate(); err != nil {
		stream.Close()
		return nil, err
	}

	md := Metadata{Title: titleFromPath(path), Artist: "Unknown Artist", Album: "Unknown Album"}
	if info.NSamples > 0 && info.SampleRate > 0 {
		md.Duration = time.Duration(info.NSamples * uint64(time.Second) / uint64(info.SampleRate))
	}
	for _, block := range stream.Blocks {
		vc, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range vc.Tags {
			switch strings.ToUpper(tag[0]) {
			case "TITLE":
				md.Title = tag[1]
			case "ARTIST":
				md.Artist = tag[1]
			case "ALBUM":
				md.Album = tag[1]
			}
		}
	}

	return &FLAC{stream: stream, format: f, shift: uint(depth - bits), meta: md}, nil
}

func (s *FLAC) Format() audio.Format { return s.format }
func (s *FLAC) Metadata() Metadata   { return s.meta }
func (s *FLAC) Close() error         { return s.stream.Close() }

func (s *FLAC) Read(blk *audio.Block, frames int) (int, error) {
	data := pcmData(blk, s.format, frames)
	width := s.format.InputBytesPerSample()
	ch := s.format.Channels
	depth := s.format.BitDepth

	got := 0
	for got < frames {
		if s.pending == nil || s.offset >= int(s.pending.BlockSize) {
			fr, err := s.stream.ParseNext()
			if errors.Is(err, io.EOF) {
				trimPCM(blk, s.format, got)
				return got, io.EOF
			}
			if err != nil {
				trimPCM(blk, s.format, got)
				return got, fmt.Errorf("flac decode: %w", err)
			}
			s.pending, s.offset = fr, 0
		}

		n := int(s.pending.BlockSize) - s.offset
		if n > frames-got {
			n = frames - got
		}
		for i := 0; i < n; i++ {
			for c := 0; c < ch; c++ {
				v := s.pending.Subframes[c].Samples[s.offset+i] << s.shift
				putSample(data[((got+i)*ch+c)*width:], depth, v)
			}
		}
		s.offset += n
		got += n
	}
	return got, nil
}

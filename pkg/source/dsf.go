// ABOUTME: DSF (DSD stream file) source
// ABOUTME: Parses the DSD/fmt/data chunks and de-blocks channel data into planes
package source

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// dsfBlockSize is the per-channel block size the DSF format fixes
const dsfBlockSize = 4096

type dsfHeader struct {
	ID         [4]byte
	Size       uint64
	FileSize   uint64
	MetaOffset uint64
}

type dsfFormat struct {
	ID            [4]byte
	Size          uint64
	Version       uint32
	FormatID      uint32
	ChannelType   uint32
	Channels      uint32
	SampleRate    uint32
	BitsPerSample uint32
	SampleCount   uint64
	BlockSize     uint32
	Reserved      uint32
}

type dsfData struct {
	ID   [4]byte
	Size uint64
}

// DSF reads raw DSD from a DSF file. Channel data is stored in fixed-size
// blocks per channel, interleaved by block.
type DSF struct {
	file      *os.File
	r         *bufio.Reader
	format    audio.Format
	blockSize int
	remaining int64 // bytes per channel left to deliver

	group  []byte // one block per channel
	offset int    // read offset inside each block of group
	filled int    // valid bytes per block in group
	meta   Metadata
}

// NewDSF opens a DSF file
func NewDSF(path string) (*DSF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DSF file: %w", err)
	}
	s, err := newDSF(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func newDSF(f *os.File, path string) (*DSF, error) {
	r := bufio.NewReaderSize(f, 64*1024)

	var hdr dsfHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read DSF header: %w", err)
	}
	if string(hdr.ID[:]) != "DSD " {
		return nil, fmt.Errorf("%w: %s is not a DSF file", ErrUnsupportedSource, path)
	}

	var fm dsfFormat
	if err := binary.Read(r, binary.LittleEndian, &fm); err != nil {
		return nil, fmt.Errorf("read DSF fmt chunk: %w", err)
	}
	if string(fm.ID[:]) != "fmt " || fm.FormatID != 0 {
		return nil, fmt.Errorf("%w: DSF format id %d", audio.ErrUnsupportedFormat, fm.FormatID)
	}
	if fm.BlockSize == 0 || fm.BlockSize%4 != 0 || fm.BlockSize > dsfBlockSize {
		return nil, fmt.Errorf("%w: DSF block size %d", ErrUnsupportedSource, fm.BlockSize)
	}
	// skip any fmt extension
	if extra := int64(fm.Size) - 52; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return nil, fmt.Errorf("skip DSF fmt chunk: %w", err)
		}
	}

	var data dsfData
	if err := binary.Read(r, binary.LittleEndian, &data); err != nil {
		return nil, fmt.Errorf("read DSF data chunk: %w", err)
	}
	if string(data.ID[:]) != "data" {
		return nil, fmt.Errorf("%w: missing DSF data chunk", ErrUnsupportedSource)
	}

	format := audio.DSD(int(fm.SampleRate), int(fm.Channels))
	format.DSDLSBFirst = fm.BitsPerSample == 1
	format.Codec = "dsf"
	if err := format.Validate(); err != nil {
		return nil, err
	}

	md := Metadata{Title: titleFromPath(path), Artist: "Unknown Artist", Album: "Unknown Album"}
	if fm.SampleRate > 0 {
		md.Duration = time.Duration(fm.SampleCount * uint64(time.Second) / uint64(fm.SampleRate))
	}

	return &DSF{
		file:      f,
		r:         r,
		format:    format,
		blockSize: int(fm.BlockSize),
		remaining: int64(fm.SampleCount / 8),
		group:     make([]byte, int(fm.BlockSize)*int(fm.Channels)),
		meta:      md,
	}, nil
}

func (s *DSF) Format() audio.Format { return s.format }
func (s *DSF) Metadata() Metadata   { return s.meta }
func (s *DSF) Close() error         { return s.file.Close() }

func (s *DSF) nextGroup() error {
	if _, err := io.ReadFull(s.r, s.group); err != nil {
		return err
	}
	s.offset = 0
	s.filled = s.blockSize
	return nil
}

func (s *DSF) Read(blk *audio.Block, frames int) (int, error) {
	want := frames / 8
	if int64(want) > s.remaining {
		want = int(s.remaining)
	}
	planes := dsdPlanes(blk, s.format.Channels, want)

	got := 0
	for got < want {
		if s.offset >= s.filled {
			if err := s.nextGroup(); err != nil {
				trimPlanes(blk, got)
				s.remaining = 0
				if err == io.EOF || err == io.ErrUnexpectedEOF {
					return got * 8, io.EOF
				}
				return got * 8, fmt.Errorf("dsf read: %w", err)
			}
		}
		n := s.filled - s.offset
		if n > want-got {
			n = want - got
		}
		for c, p := range planes {
			base := c*s.blockSize + s.offset
			copy(p[got:got+n], s.group[base:base+n])
		}
		s.offset += n
		got += n
	}

	s.remaining -= int64(got)
	if s.remaining == 0 {
		return got * 8, io.EOF
	}
	return got * 8, nil
}

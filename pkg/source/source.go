// ABOUTME: Audio source abstraction feeding the bridge producer
// ABOUTME: Opens files, HTTP streams and generators by extension or scheme
package source

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// ErrUnsupportedSource is returned for paths no source can decode
var ErrUnsupportedSource = errors.New("unsupported audio source")

// Metadata describes a track
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

// Source provides decoded audio in the bridge's block layout
type Source interface {
	// Format is fixed for the life of the source
	Format() audio.Format
	// Read fills blk with up to frames frames, reusing blk's buffers, and
	// returns the frames read. It returns io.EOF once exhausted, possibly
	// together with a final partial read.
	Read(blk *audio.Block, frames int) (int, error)
	Metadata() Metadata
	Close() error
}

// Open creates a source for a file path or HTTP URL. The pseudo paths
// "tone:<hz>" and "dsd:<multiplier>" select the generators.
func Open(pathOrURL string) (Source, error) {
	switch {
	case pathOrURL == "" || strings.HasPrefix(pathOrURL, "tone:"):
		return OpenTone(strings.TrimPrefix(pathOrURL, "tone:"))
	case strings.HasPrefix(pathOrURL, "dsd:"):
		return OpenDSDTone(strings.TrimPrefix(pathOrURL, "dsd:"))
	case strings.HasPrefix(pathOrURL, "http://"), strings.HasPrefix(pathOrURL, "https://"):
		return NewHTTPMP3(pathOrURL)
	}

	if _, err := os.Stat(pathOrURL); err != nil {
		return nil, fmt.Errorf("audio file %s: %w", pathOrURL, err)
	}

	switch ext := strings.ToLower(filepath.Ext(pathOrURL)); ext {
	case ".mp3":
		return NewMP3File(pathOrURL)
	case ".flac":
		return NewFLAC(pathOrURL)
	case ".wav", ".wave":
		return NewWAV(pathOrURL)
	case ".ogg", ".oga":
		return NewVorbis(pathOrURL)
	case ".dsf":
		return NewDSF(pathOrURL)
	default:
		return nil, fmt.Errorf("%w: %s (supported: .mp3, .flac, .wav, .ogg, .dsf)", ErrUnsupportedSource, ext)
	}
}

func titleFromPath(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// pcmData sizes blk.Data for frames of f, reusing its capacity
func pcmData(blk *audio.Block, f audio.Format, frames int) []byte {
	n := frames * f.InputBytesPerSample() * f.Channels
	if cap(blk.Data) < n {
		blk.Data = make([]byte, n)
	}
	blk.Data = blk.Data[:n]
	blk.Planes = nil
	return blk.Data
}

// dsdPlanes sizes blk.Planes to channels planes of n bytes each
func dsdPlanes(blk *audio.Block, channels, n int) [][]byte {
	if cap(blk.Planes) < channels {
		blk.Planes = make([][]byte, channels)
	}
	blk.Planes = blk.Planes[:channels]
	for i := range blk.Planes {
		if cap(blk.Planes[i]) < n {
			blk.Planes[i] = make([]byte, n)
		}
		blk.Planes[i] = blk.Planes[i][:n]
	}
	blk.Data = nil
	return blk.Planes
}

// trimPCM shortens blk.Data to the frames actually produced
func trimPCM(blk *audio.Block, f audio.Format, frames int) {
	blk.Data = blk.Data[:frames*f.InputBytesPerSample()*f.Channels]
}

func trimPlanes(blk *audio.Block, n int) {
	for i := range blk.Planes {
		blk.Planes[i] = blk.Planes[i][:n]
	}
}

// putSample writes v into out using the block layout for bitDepth: S16LE
// for 16-bit, a little-endian 32-bit slot otherwise.
func putSample(out []byte, bitDepth int, v int32) {
	if bitDepth == 16 {
		out[0] = byte(v)
		out[1] = byte(v >> 8)
		return
	}
	out[0] = byte(v)
	out[1] = byte(v >> 8)
	out[2] = byte(v >> 16)
	out[3] = byte(v >> 24)
}

// containerDepth maps a decoder bit depth to the nearest block layout depth
func containerDepth(bits int) int {
	switch {
	case bits <= 16:
		return 16
	case bits <= 24:
		return 24
	default:
		return 32
	}
}

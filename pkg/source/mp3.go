// ABOUTME: MP3 sources for local files and HTTP streams
// ABOUTME: Decodes with go-mp3 to 16-bit stereo PCM blocks
package source

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hajimehoshi/go-mp3"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// MP3 decodes an MP3 stream. go-mp3 always yields S16LE stereo.
type MP3 struct {
	body    io.Closer
	decoder *mp3.Decoder
	format  audio.Format
	meta    Metadata
}

func newMP3(body io.ReadCloser, meta Metadata) (*MP3, error) {
	decoder, err := mp3.NewDecoder(body)
	if err != nil {
		body.Close()
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}
	f := audio.PCM(decoder.SampleRate(), 16, 2)
	f.Codec = "mp3"
	if n := decoder.Length(); n > 0 {
		meta.Duration = time.Duration(n / 4 * int64(time.Second) / int64(decoder.SampleRate()))
	}
	return &MP3{body: body, decoder: decoder, format: f, meta: meta}, nil
}

// NewMP3File opens an MP3 file
func NewMP3File(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	return newMP3(f, Metadata{Title: titleFromPath(path), Artist: "Unknown Artist", Album: "Unknown Album"})
}

// NewHTTPMP3 streams MP3 from an HTTP URL
func NewHTTPMP3(url string) (*MP3, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d", url, resp.StatusCode)
	}
	meta := Metadata{Title: url, Artist: "Internet Radio", Album: "Live Stream"}
	if name := resp.Header.Get("icy-name"); name != "" {
		meta.Title = name
	}
	return newMP3(resp.Body, meta)
}

func (s *MP3) Format() audio.Format { return s.format }
func (s *MP3) Metadata() Metadata   { return s.meta }
func (s *MP3) Close() error         { return s.body.Close() }

func (s *MP3) Read(blk *audio.Block, frames int) (int, error) {
	data := pcmData(blk, s.format, frames)
	n, err := io.ReadFull(s.decoder, data)
	got := n / 4
	trimPCM(blk, s.format, got)
	switch err {
	case nil:
		return got, nil
	case io.ErrUnexpectedEOF, io.EOF:
		return got, io.EOF
	default:
		return got, fmt.Errorf("mp3 decode: %w", err)
	}
}

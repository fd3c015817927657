// ABOUTME: Binary audio frame header encoding
// ABOUTME: One type byte followed by a big-endian frame sequence number
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the binary frame header (type byte + sequence)
	HeaderSize = 1 + 8

	// AudioFrameType marks frames carrying wire audio
	AudioFrameType = 4
)

var (
	// ErrShortFrame is returned for frames smaller than the header
	ErrShortFrame = errors.New("binary frame shorter than header")
	// ErrFrameType is returned for frames of an unknown type
	ErrFrameType = errors.New("unknown binary frame type")
)

// PutHeader writes an audio frame header for seq into dst
func PutHeader(dst []byte, seq uint64) {
	dst[0] = AudioFrameType
	binary.BigEndian.PutUint64(dst[1:HeaderSize], seq)
}

// ParseFrame splits an audio frame into its sequence number and payload
func ParseFrame(data []byte) (uint64, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}
	if data[0] != AudioFrameType {
		return 0, nil, fmt.Errorf("%w: %d", ErrFrameType, data[0])
	}
	return binary.BigEndian.Uint64(data[1:HeaderSize]), data[HeaderSize:], nil
}

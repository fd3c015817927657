// ABOUTME: Bridge protocol message type definitions
// ABOUTME: JSON control messages exchanged between a bridge and its audio target
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// Version is the protocol revision sent in hello messages
const Version = 1

// Message types
const (
	TypeBridgeHello  = "bridge/hello"
	TypeTargetHello  = "target/hello"
	TypeStreamStart  = "stream/start"
	TypeStreamReopen = "stream/reopen"
	TypeStreamEnd    = "stream/end"
)

// Message is the top-level wrapper for all control messages
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a message of the given type
func NewMessage(typ string, payload any) (Message, error) {
	msg := Message{Type: typ}
	if payload == nil {
		return msg, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	msg.Payload = data
	return msg, nil
}

// Decode unmarshals the payload into v
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", m.Type, err)
	}
	return nil
}

// DeviceInfo contains device identification
type DeviceInfo struct {
	ProductName     string `json:"product_name"`
	Manufacturer    string `json:"manufacturer"`
	SoftwareVersion string `json:"software_version"`
}

// BridgeHello is sent by the bridge to open a session
type BridgeHello struct {
	BridgeID   string      `json:"bridge_id"`
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	DeviceInfo *DeviceInfo `json:"device_info,omitempty"`
}

// TargetHello is the target's reply to bridge/hello
type TargetHello struct {
	TargetID         string        `json:"target_id"`
	Name             string        `json:"name"`
	Version          int           `json:"version"`
	SupportedFormats []AudioFormat `json:"supported_formats,omitempty"`
	// Topology is "tolerant" or "strict"
	Topology string `json:"topology,omitempty"`
}

// AudioFormat describes the audio carried in binary frames
type AudioFormat struct {
	Kind       string `json:"kind"` // "pcm" or "dsd"
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	BitDepth   int    `json:"bit_depth"`
	// SampleBytes is the size of one sample slot on the wire
	SampleBytes int `json:"sample_bytes"`

	DSDLSBFirst  bool `json:"dsd_lsb_first,omitempty"`
	DSDBigEndian bool `json:"dsd_big_endian,omitempty"`
}

// FromFormat describes f as carried on the wire. DSD word layout flags are
// left for the sender to fill from its configuration.
func FromFormat(f audio.Format) AudioFormat {
	af := AudioFormat{
		Kind:        "pcm",
		Codec:       f.Codec,
		SampleRate:  f.SampleRate,
		Channels:    f.Channels,
		BitDepth:    f.BitDepth,
		SampleBytes: f.WireBytesPerSample(),
	}
	if f.IsDSD() {
		af.Kind = "dsd"
		af.SampleBytes = 4
	}
	return af
}

// Format converts back to an audio format
func (a AudioFormat) Format() audio.Format {
	if a.Kind == "dsd" {
		f := audio.DSD(a.SampleRate, a.Channels)
		f.Codec = a.Codec
		return f
	}
	f := audio.PCM(a.SampleRate, a.BitDepth, a.Channels)
	if a.Codec != "" {
		f.Codec = a.Codec
	}
	return f
}

// FrameBytes is the size of one whole wire frame
func (a AudioFormat) FrameBytes() int {
	return a.SampleBytes * a.Channels
}

func (a AudioFormat) String() string {
	return a.Format().String()
}

// StreamStart announces a stream. It is also the payload of stream/reopen.
type StreamStart struct {
	BridgeID   string      `json:"bridge_id"`
	Format     AudioFormat `json:"format"`
	FrameSize  int         `json:"frame_size"`
	HeaderSize int         `json:"header_size"`
	// Sequence is the number of the first frame of the stream
	Sequence uint64 `json:"sequence"`
}

// StreamEnd closes a stream
type StreamEnd struct {
	Reason string `json:"reason"` // "close", "shutdown"
	Frames uint64 `json:"frames"` // frames sent in the stream
}

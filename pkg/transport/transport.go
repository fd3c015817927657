// ABOUTME: Pull-driven transport contract used by the bridge
// ABOUTME: Transports own a connection lifecycle and pull wire bytes on their own cadence
package transport

import (
	"context"
	"errors"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
)

// ErrNotOpen is returned by operations that need an open connection
var ErrNotOpen = errors.New("transport not open")

// Puller is the consumer side of the bridge. Pull must be cheap and never
// block; it returns the number of bytes written into dst, zero on underrun.
type Puller interface {
	Pull(dst []byte) int
}

// Transport delivers pulled bytes to an audio target
type Transport interface {
	// Attach sets the source of wire bytes. Called once before Open.
	Attach(p Puller)
	// Open connects for the given format and starts pulling
	Open(ctx context.Context, format audio.Format) error
	// Reopen switches format without a full disconnect
	Reopen(ctx context.Context, format audio.Format) error
	// Close stops pulling and disconnects
	Close(ctx context.Context) error
	// RequestSilence asks for n more frames to be pulled before a close
	RequestSilence(n int)
	// FrameSize is the size of one pulled frame including its header
	FrameSize() int
	// HeaderSize is the per-frame overhead that carries no audio
	HeaderSize() int
}

// PayloadSize returns the audio bytes carried per frame
func PayloadSize(t Transport) int {
	return t.FrameSize() - t.HeaderSize()
}

// ABOUTME: Paced sink transport that pulls at the stream's real-time rate and discards the bytes
// ABOUTME: Lets the bridge run headless for soak runs and metrics without a target
package null

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/pacing"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// DefaultFrameSize matches the websocket transport's default frame
const DefaultFrameSize = 1773

// Transport pulls FrameSize bytes every cycle and drops them
type Transport struct {
	frameSize int
	puller    transport.Puller

	mu     sync.Mutex
	format audio.Format
	stop   chan struct{}
	done   chan struct{}

	pulled atomic.Uint64
	cycles atomic.Uint64
}

var _ transport.Transport = (*Transport)(nil)

// New creates a null transport, frameSize <= 0 selects DefaultFrameSize
func New(frameSize int) *Transport {
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	return &Transport{frameSize: frameSize}
}

func (t *Transport) Attach(p transport.Puller) { t.puller = p }
func (t *Transport) FrameSize() int            { return t.frameSize }
func (t *Transport) HeaderSize() int           { return 0 }
func (t *Transport) RequestSilence(int)        {}

// Pulled returns the audio bytes consumed so far
func (t *Transport) Pulled() uint64 { return t.pulled.Load() }

// Cycles returns the number of pull cycles run so far
func (t *Transport) Cycles() uint64 { return t.cycles.Load() }

func (t *Transport) Open(ctx context.Context, f audio.Format) error {
	if t.puller == nil {
		return fmt.Errorf("open null transport: no puller attached")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	return t.startLocked(ctx, f)
}

func (t *Transport) Reopen(ctx context.Context, f audio.Format) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop == nil {
		return transport.ErrNotOpen
	}
	t.stopLocked()
	return t.startLocked(ctx, f)
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
	logger.Debugf(ctx, "null transport closed after %d cycles", t.cycles.Load())
	return nil
}

func (t *Transport) startLocked(ctx context.Context, f audio.Format) error {
	payload := pacing.FramePayload(t.frameSize, 0, f.WireFrameBytes())
	cycle := pacing.CycleTime(payload, 0, f.BytesPerSecond())
	if cycle <= 0 || payload <= 0 {
		return fmt.Errorf("frame size %d cannot carry %s", t.frameSize, f)
	}
	t.format = f
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	logger.Debugf(ctx, "null transport pulling %d bytes every %s for %s", payload, cycle, f)
	go t.pump(cycle, make([]byte, payload), t.stop, t.done)
	return nil
}

func (t *Transport) stopLocked() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *Transport) pump(cycle time.Duration, buf []byte, stop, done chan struct{}) {
	defer close(done)
	tick := time.NewTicker(cycle)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		n := t.puller.Pull(buf)
		t.pulled.Add(uint64(n))
		t.cycles.Add(1)
	}
}

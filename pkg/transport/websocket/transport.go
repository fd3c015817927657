// ABOUTME: Websocket transport pulling wire audio from the bridge on a fixed cadence
// ABOUTME: Sends fixed-size framed audio and stream control messages to a target
package websocket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/pacing"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/ringbuffer"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// Config configures the transport
type Config struct {
	URL          string
	FrameSize    int // bytes per frame including the header
	WriteTimeout time.Duration
	Layout       ringbuffer.Layout
	Hello        protocol.BridgeHello
}

// Transport streams bridge output to a websocket target. A pump goroutine
// pulls one frame per cycle time; cycles the bridge cannot fill carry
// silence.
type Transport struct {
	cfg    Config
	puller transport.Puller

	mu     sync.Mutex // lifecycle
	conn   *protocol.Conn
	target protocol.TargetHello
	format audio.Format
	stop   chan struct{}
	done   chan struct{}
	err    error // first pump error, reported by the next lifecycle call

	seq           atomic.Uint64
	streamFrames  atomic.Uint64
	silenceFrames atomic.Uint64
	pending       atomic.Int64 // silence frames requested before close
	frame         []byte
}

var (
	_ transport.Transport         = (*Transport)(nil)
	_ transition.TopologyReporter = (*Transport)(nil)
)

// New creates a transport
func New(cfg Config) *Transport {
	return &Transport{
		cfg:   cfg,
		frame: make([]byte, cfg.FrameSize),
	}
}

// Attach sets the puller. A puller that identifies itself with ID fills in
// an empty hello BridgeID.
func (t *Transport) Attach(p transport.Puller) {
	t.puller = p
	if id, ok := p.(interface{ ID() string }); ok && t.cfg.Hello.BridgeID == "" {
		t.cfg.Hello.BridgeID = id.ID()
	}
}

func (t *Transport) FrameSize() int  { return t.cfg.FrameSize }
func (t *Transport) HeaderSize() int { return protocol.HeaderSize }

func (t *Transport) RequestSilence(n int) {
	t.pending.Add(int64(n))
}

// Target returns the hello of the connected target
func (t *Transport) Target() protocol.TargetHello {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.target
}

// TargetTopology reports the topology announced by the connected target
func (t *Transport) TargetTopology() (transition.Topology, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil || t.target.Topology == "" {
		return transition.TopologyTolerant, false
	}
	topology, err := transition.ParseTopology(t.target.Topology)
	return topology, err == nil
}

// FramesSent returns frames sent since the last open
func (t *Transport) FramesSent() uint64 {
	return t.streamFrames.Load()
}

func (t *Transport) Open(ctx context.Context, f audio.Format) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return fmt.Errorf("open %s: already connected", t.cfg.URL)
	}

	conn, target, err := protocol.Dial(ctx, t.cfg.URL, t.cfg.Hello, t.cfg.WriteTimeout)
	if err != nil {
		return err
	}
	t.conn = conn
	t.target = target
	t.err = nil
	t.streamFrames.Store(0)
	logger.Infof(ctx, "connected to target %s (%s)", target.Name, t.cfg.URL)

	if err := t.announce(protocol.TypeStreamStart, f); err != nil {
		t.conn.Close()
		t.conn = nil
		return err
	}
	t.startPump(ctx, f)
	return nil
}

func (t *Transport) Reopen(ctx context.Context, f audio.Format) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return transport.ErrNotOpen
	}
	t.stopPump()
	if t.err != nil {
		return fmt.Errorf("stream failed before reopen: %w", t.err)
	}
	if err := t.announce(protocol.TypeStreamReopen, f); err != nil {
		return err
	}
	t.startPump(ctx, f)
	return nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	t.drainSilence(ctx)
	t.stopPump()

	var result *multierror.Error
	if t.err != nil {
		result = multierror.Append(result, t.err)
	}
	end := protocol.StreamEnd{Reason: "close", Frames: t.streamFrames.Load()}
	if err := t.conn.Send(protocol.TypeStreamEnd, end); err != nil {
		result = multierror.Append(result, fmt.Errorf("send %s: %w", protocol.TypeStreamEnd, err))
	}
	if err := t.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
	}
	t.conn = nil
	t.err = nil
	t.pending.Store(0)
	logger.Debugf(ctx, "stream closed after %d frames (%d silent)", end.Frames, t.silenceFrames.Load())
	return result.ErrorOrNil()
}

func (t *Transport) announce(typ string, f audio.Format) error {
	af := protocol.FromFormat(f)
	if f.IsDSD() {
		af.DSDLSBFirst = t.cfg.Layout.DSDLSBFirst
		af.DSDBigEndian = t.cfg.Layout.DSDBigEndian
	}
	start := protocol.StreamStart{
		BridgeID:   t.cfg.Hello.BridgeID,
		Format:     af,
		FrameSize:  t.cfg.FrameSize,
		HeaderSize: protocol.HeaderSize,
		Sequence:   t.seq.Load(),
	}
	if err := t.conn.Send(typ, start); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	t.format = f
	return nil
}

// drainSilence lets the pump run until requested silence frames are sent,
// bounded by their play time plus a cycle of slack.
func (t *Transport) drainSilence(ctx context.Context) {
	n := t.pending.Load()
	if n <= 0 || t.stop == nil {
		return
	}
	payload := pacing.FramePayload(t.cfg.FrameSize, protocol.HeaderSize, t.format.WireFrameBytes())
	cycle := pacing.CycleTime(payload, 0, t.format.BytesPerSecond())
	timeout := time.NewTimer(time.Duration(n+2) * cycle)
	defer timeout.Stop()
	tick := time.NewTicker(cycle)
	defer tick.Stop()
	for t.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-timeout.C:
			logger.Warnf(ctx, "closing with %d silence frames unsent", t.pending.Load())
			return
		case <-t.done:
			return
		case <-tick.C:
		}
	}
}

func (t *Transport) startPump(ctx context.Context, f audio.Format) {
	payload := pacing.FramePayload(t.cfg.FrameSize, protocol.HeaderSize, f.WireFrameBytes())
	cycle := pacing.CycleTime(payload, 0, f.BytesPerSecond())
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	go t.pump(logger.CtxWithLogger(context.Background(), logger.FromCtx(ctx)), t.conn, f, cycle, payload, t.stop, t.done)
}

func (t *Transport) stopPump() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	<-t.done
	t.stop, t.done = nil, nil
}

func (t *Transport) pump(ctx context.Context, conn *protocol.Conn, f audio.Format, cycle time.Duration, payload int, stop, done chan struct{}) {
	defer close(done)
	if cycle <= 0 || payload <= 0 {
		t.fail(fmt.Errorf("frame size %d cannot carry %s", t.cfg.FrameSize, f))
		return
	}
	silence := f.SilenceByte(t.cfg.Layout.DSDLSBFirst)
	frame := t.frame[:protocol.HeaderSize+payload]
	body := frame[protocol.HeaderSize:]

	tick := time.NewTicker(cycle)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}

		n := t.puller.Pull(body)
		if n < len(body) {
			fill(body[n:], silence)
			if n == 0 {
				t.silenceFrames.Add(1)
			}
		}
		protocol.PutHeader(frame, t.seq.Add(1)-1)
		if err := conn.SendFrame(frame); err != nil {
			t.fail(fmt.Errorf("send frame: %w", err))
			logger.Errorf(ctx, "stream to %s stopped: %v", t.cfg.URL, err)
			return
		}
		t.streamFrames.Add(1)
		if t.pending.Load() > 0 {
			t.pending.Add(-1)
		}
	}
}

func (t *Transport) fail(err error) {
	if t.err == nil {
		t.err = err
	}
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

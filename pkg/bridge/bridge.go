// ABOUTME: Bridge ties the ring buffer, access guards and transition controller together
// ABOUTME: Push is the producer entry, Pull the transport entry, SetFormat the control entry
package bridge

import (
	"context"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/guard"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/ringbuffer"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// Stats is a point-in-time view of the bridge
type Stats struct {
	ID        string
	State     transition.State
	Format    audio.Format
	Buffered  int
	Capacity  int
	Prefilled bool

	FramesPushed uint64
	BytesPulled  uint64
	Pulls        uint64
	Underruns    uint64

	QuickResumes   uint64
	BoundedReopens uint64
	FullReopens    uint64
	LastPlan       *transition.Plan
}

// Bridge hands audio from a decoder goroutine to a pull-driven transport
type Bridge struct {
	id        uuid.UUID
	cfg       Config
	transport transport.Transport

	counters     *guard.Counters
	producerGate *guard.Counters
	ring         *ringbuffer.Buffer
	controller   *transition.Controller
	metrics      *Metrics

	pauseMu    sync.Mutex
	pauseGuard guard.WriterGuard

	primed atomic.Bool
	// prefill is the gate threshold: basePrefill plus any warmup silence
	// queued while the gate was closed.
	prefill     atomic.Int64
	basePrefill atomic.Int64

	framesPushed atomic.Uint64
	bytesPulled  atomic.Uint64
	pulls        atomic.Uint64
	underruns    atomic.Uint64
	transitions  [3]atomic.Uint64
	lastPlan     atomic.Pointer[transition.Plan]
}

// New creates a bridge and attaches it to t as the puller
func New(cfg Config, t transport.Transport, opts ...transition.Option) *Bridge {
	cfg = cfg.WithDefaults()
	b := &Bridge{
		id:           uuid.New(),
		cfg:          cfg,
		transport:    t,
		counters:     guard.NewCounters(cfg.MaxDrainWait),
		producerGate: guard.NewCounters(cfg.MaxDrainWait),
	}
	b.ring = ringbuffer.New(b.counters)
	b.controller = transition.New(cfg.Transition, pipeline{b}, t, opts...)
	b.metrics = newMetrics(b)
	t.Attach(b)
	return b
}

// ID identifies this bridge in stream control messages
func (b *Bridge) ID() string {
	return b.id.String()
}

// Config returns the effective configuration
func (b *Bridge) Config() Config {
	return b.cfg
}

// Metrics returns the bridge's metric collectors
func (b *Bridge) Metrics() *Metrics {
	return b.metrics
}

// Push hands a decoded block to the ring and returns the frames accepted.
// It returns zero while the producer is paused or the ring is being
// reconfigured, and a short count when the ring is nearly full.
func (b *Bridge) Push(blk audio.Block) int {
	gate := b.producerGate.EnterReader()
	defer gate.Release()
	if !gate.Active() {
		return 0
	}
	g := b.counters.EnterReader()
	defer g.Release()
	if !g.Active() {
		return 0
	}
	n := b.ring.Push(blk)
	b.framesPushed.Add(uint64(n))
	return n
}

// Pull fills dst with whole wire frames and returns the bytes written.
// It never blocks; zero means nothing is ready this cycle.
func (b *Bridge) Pull(dst []byte) int {
	g := b.counters.EnterReader()
	defer g.Release()
	b.pulls.Add(1)
	if !g.Active() {
		return 0
	}

	frame := b.ring.State().WireFrameBytes()
	if frame == 0 {
		return 0
	}
	avail := b.ring.Available()
	if !b.primed.Load() {
		if avail < int(b.prefill.Load()) {
			return 0
		}
		b.primed.Store(true)
	}

	want := len(dst) - len(dst)%frame
	n := want
	if avail < n {
		n = avail - avail%frame
	}
	if n < want {
		b.underruns.Add(1)
	}
	if n == 0 {
		return 0
	}
	n = b.ring.Pop(dst[:n])
	b.bytesPulled.Add(uint64(n))
	return n
}

// SetFormat moves the stream to f. Calls are serialized; a newer call
// supersedes one still in flight.
func (b *Bridge) SetFormat(ctx context.Context, f audio.Format, opts ...transition.RequestOption) (transition.Plan, error) {
	plan, err := b.controller.Request(ctx, f, opts...)
	if err != nil {
		return plan, err
	}
	if int(plan.Action) < len(b.transitions) {
		b.transitions[plan.Action].Add(1)
	}
	b.lastPlan.Store(&plan)
	b.metrics.observeTransition(plan)
	return plan, nil
}

// Format returns the format currently streaming, zero when closed
func (b *Bridge) Format() audio.Format {
	return b.controller.Format()
}

// State returns the transition state
func (b *Bridge) State() transition.State {
	return b.controller.State()
}

// ChunkFrames returns the preferred decode block size for f
func (b *Bridge) ChunkFrames(f audio.Format) int {
	return b.cfg.Transition.Pacing.ChunkFrames(f)
}

// Buffered returns the bytes waiting in the ring
func (b *Bridge) Buffered() int {
	return b.ring.Available()
}

// Stats returns a snapshot of counters and state
func (b *Bridge) Stats() Stats {
	return Stats{
		ID:             b.ID(),
		State:          b.controller.State(),
		Format:         b.controller.Format(),
		Buffered:       b.ring.Available(),
		Capacity:       b.ring.Capacity(),
		Prefilled:      b.primed.Load(),
		FramesPushed:   b.framesPushed.Load(),
		BytesPulled:    b.bytesPulled.Load(),
		Pulls:          b.pulls.Load(),
		Underruns:      b.underruns.Load(),
		QuickResumes:   b.transitions[transition.QuickResume].Load(),
		BoundedReopens: b.transitions[transition.BoundedReopen].Load(),
		FullReopens:    b.transitions[transition.FullReopen].Load(),
		LastPlan:       b.lastPlan.Load(),
	}
}

// Close flushes silence through an open connection and closes it
func (b *Bridge) Close(ctx context.Context) error {
	err := b.controller.Stop(ctx)
	b.resumeProducer()
	if err != nil {
		return fmt.Errorf("close bridge: %w", err)
	}
	return nil
}

// capacityFor sizes the ring for f as a power of two. The size is rounded
// up from the format's target duration and down again when that would
// exceed MaxBytes.
func (b *Bridge) capacityFor(f audio.Format) int {
	d := b.cfg.Buffer.PCMDuration
	if f.IsDSD() {
		d = b.cfg.Buffer.DSDDuration
	}
	n := bytesFor(f, d)
	if n < b.cfg.Buffer.MinBytes {
		n = b.cfg.Buffer.MinBytes
	}
	size := 1
	if n > 1 {
		size = 1 << bits.Len(uint(n-1))
	}
	if size > b.cfg.Buffer.MaxBytes {
		size = 1 << (bits.Len(uint(b.cfg.Buffer.MaxBytes)) - 1)
	}
	return size
}

// prefillFor returns the bytes that must be buffered before the first pull
// after a reconfiguration, at most half the ring.
func (b *Bridge) prefillFor(f audio.Format, capacity int) int {
	d := b.cfg.Buffer.PCMPrefill
	if f.IsDSD() {
		d = b.cfg.Buffer.DSDPrefill
	}
	n := bytesFor(f, d)
	if n > capacity/2 {
		n = capacity / 2
	}
	if frame := f.WireFrameBytes(); frame > 0 {
		n -= n % frame
	}
	return n
}

// raisePrefill adds n to the gate threshold, keeping at least a quarter of
// the ring free for the producer.
func (b *Bridge) raisePrefill(n int) {
	limit := int64(b.ring.Capacity() - b.ring.Capacity()/4)
	v := b.prefill.Load() + int64(n)
	if v > limit {
		v = limit
	}
	b.prefill.Store(v)
}

func bytesFor(f audio.Format, d time.Duration) int {
	return int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
}

func (b *Bridge) pauseProducer(ctx context.Context) error {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()
	if b.pauseGuard.Held() {
		return nil
	}
	g, err := b.producerGate.EnterWriter(ctx)
	if err != nil {
		return err
	}
	b.pauseGuard = g
	return nil
}

func (b *Bridge) resumeProducer() {
	b.pauseMu.Lock()
	defer b.pauseMu.Unlock()
	b.pauseGuard.Release()
}

// pipeline is the controller's view of the bridge
type pipeline struct {
	b *Bridge
}

func (p pipeline) PauseProducer(ctx context.Context) error {
	return p.b.pauseProducer(ctx)
}

func (p pipeline) ResumeProducer() {
	p.b.resumeProducer()
}

func (p pipeline) Reconfigure(ctx context.Context, f audio.Format) error {
	b := p.b
	g, err := b.counters.EnterWriter(ctx)
	if err != nil {
		return fmt.Errorf("enter reconfiguration: %w", err)
	}
	defer g.Release()

	capacity := b.capacityFor(f)
	if err := b.ring.Resize(capacity); err != nil {
		return err
	}
	if err := b.ring.Configure(f, b.cfg.Layout); err != nil {
		return err
	}
	prefill := int64(b.prefillFor(f, b.ring.Capacity()))
	b.basePrefill.Store(prefill)
	b.prefill.Store(prefill)
	b.primed.Store(false)
	logger.Debugf(ctx, "ring configured for %s: %d bytes, prefill %d", f, b.ring.Capacity(), b.prefill.Load())
	return nil
}

func (p pipeline) Reset(ctx context.Context) error {
	b := p.b
	g, err := b.counters.EnterWriter(ctx)
	if err != nil {
		return fmt.Errorf("enter reset: %w", err)
	}
	defer g.Release()
	if err := b.ring.Clear(); err != nil {
		return err
	}
	b.prefill.Store(b.basePrefill.Load())
	b.primed.Store(false)
	return nil
}

// InjectSilence rounds n up to whole wire frames so a caller counting down
// a byte budget always reaches zero. Silence queued while the prefill gate is
// closed raises the gate by the same amount, so it opens on real audio.
func (p pipeline) InjectSilence(n int) int {
	if n <= 0 {
		return 0
	}
	g := p.b.counters.EnterReader()
	defer g.Release()
	if !g.Active() {
		return 0
	}
	if frame := p.b.ring.State().WireFrameBytes(); frame > 0 {
		if r := n % frame; r != 0 {
			n += frame - r
		}
	}
	queued := p.b.ring.WriteSilence(n)
	if queued > 0 && !p.b.primed.Load() {
		p.b.raisePrefill(queued)
	}
	return queued
}

func (p pipeline) ForceStart() {
	p.b.primed.Store(true)
}

func (p pipeline) Buffered() int {
	return p.b.ring.Available()
}

func (p pipeline) Pulls() uint64 {
	return p.b.pulls.Load()
}

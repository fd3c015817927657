// ABOUTME: Transition controller executing format changes against a pipeline and transport
// ABOUTME: Silence flush, close, delay, reconfigure, reopen and warmup, one transition at a time
package transition

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// Pipeline is the buffer side a transition drives
type Pipeline interface {
	// PauseProducer makes pushes return zero and waits for an in-flight push
	PauseProducer(ctx context.Context) error
	ResumeProducer()
	// Reconfigure resizes and configures the ring for f under the writer guard
	Reconfigure(ctx context.Context, f audio.Format) error
	// Reset drops buffered audio under the writer guard
	Reset(ctx context.Context) error
	// InjectSilence queues up to n bytes of silence and returns bytes queued
	InjectSilence(n int) int
	// ForceStart releases the prefill gate
	ForceStart()
	Buffered() int
	Pulls() uint64
}

// Option configures a Controller
type Option func(*Controller)

// WithStateHook registers a callback invoked on every state change
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithPlanHook registers a callback invoked once per executed plan
func WithPlanHook(fn func(Plan)) Option {
	return func(c *Controller) { c.onPlan = fn }
}

// RequestOption modifies a single request
type RequestOption func(*requestOptions)

type requestOptions struct {
	discard bool
}

// Discard drops audio still buffered for the current track before the
// silence flush, for abandoning a track mid-play.
func Discard() RequestOption {
	return func(o *requestOptions) { o.discard = true }
}

// Controller serializes format transitions. A newer request cancels the
// one in flight and runs once the older has unwound.
type Controller struct {
	cfg       Config
	pipeline  Pipeline
	transport transport.Transport
	onState   func(State)
	onPlan    func(Plan)

	state     atomic.Int32
	published atomic.Pointer[audio.Format]

	mu      sync.Mutex // held for the duration of a transition
	current audio.Format
	open    bool

	pendingMu sync.Mutex
	cancel    context.CancelFunc
	gen       uint64
}

// New creates a controller
func New(cfg Config, p Pipeline, t transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		cfg:       cfg.WithDefaults(),
		pipeline:  p,
		transport: t,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
	if c.onState != nil {
		c.onState(s)
	}
}

// Format returns the format of the open connection, zero when closed
func (c *Controller) Format() audio.Format {
	if f := c.published.Load(); f != nil {
		return *f
	}
	return audio.Format{}
}

func (c *Controller) markClosed() {
	c.open = false
	c.published.Store(nil)
}

func (c *Controller) supersede(cancel context.CancelFunc) uint64 {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	c.cancel = cancel
	return c.gen
}

func (c *Controller) finish(id uint64) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if c.gen == id {
		c.cancel = nil
	}
}

// Request moves the stream to format next. Unsupported formats fail before
// anything is touched. On a transport error the state is left at Idle and
// the error is returned without retrying.
func (c *Controller) Request(ctx context.Context, next audio.Format, opts ...RequestOption) (Plan, error) {
	if err := next.Validate(); err != nil {
		return Plan{}, fmt.Errorf("transition to %s: %w", next, err)
	}
	var ro requestOptions
	for _, opt := range opts {
		opt(&ro)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := c.supersede(cancel)
	defer c.finish(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Plan{}, fmt.Errorf("transition to %s superseded: %w", next, err)
	}

	plan, err := c.execute(ctx, next, ro)
	if err != nil {
		logger.Errorf(ctx, "transition %s failed: %v", plan, err)
		c.setState(Idle)
		return plan, err
	}
	return plan, nil
}

func (c *Controller) execute(ctx context.Context, next audio.Format, ro requestOptions) (Plan, error) {
	var prev audio.Format
	if c.open {
		prev = c.current
	}
	plan := NewPlan(c.planConfig(), prev, next, c.transport.FrameSize(), c.transport.HeaderSize())
	logger.Debugf(ctx, "transition plan: %s", plan)
	if c.onPlan != nil {
		c.onPlan(plan)
	}

	if err := c.pipeline.PauseProducer(ctx); err != nil {
		return plan, fmt.Errorf("pause producer: %w", err)
	}

	if plan.Action == QuickResume {
		if err := c.pipeline.Reset(ctx); err != nil {
			return plan, fmt.Errorf("reset buffer: %w", err)
		}
		c.pipeline.ResumeProducer()
		c.setState(Streaming)
		return plan, nil
	}

	if c.open && ro.discard {
		if err := c.pipeline.Reset(ctx); err != nil {
			return plan, fmt.Errorf("discard buffered audio: %w", err)
		}
	}
	if plan.SilenceBuffers > 0 {
		c.flushSilence(ctx, plan)
		if err := ctx.Err(); err != nil {
			return plan, err
		}
	}

	if plan.FullClose {
		c.setState(Closing)
		err := c.transport.Close(ctx)
		c.markClosed()
		if err != nil {
			return plan, fmt.Errorf("close transport: %w", err)
		}
		c.setState(Delay)
		if err := sleepCtx(ctx, plan.ReopenDelay); err != nil {
			return plan, err
		}
	}

	if err := c.pipeline.Reconfigure(ctx, next); err != nil {
		return plan, fmt.Errorf("reconfigure for %s: %w", next, err)
	}

	c.setState(Reopening)
	if err := c.connect(ctx, next); err != nil {
		return plan, err
	}
	c.current = next
	c.published.Store(&next)

	c.setState(Stabilizing)
	if err := c.stabilize(ctx, plan); err != nil {
		return plan, err
	}
	c.setState(Streaming)
	logger.Infof(ctx, "streaming %s", next)
	return plan, nil
}

// planConfig promotes the configured topology to strict when the connected
// target reports itself strict
func (c *Controller) planConfig() Config {
	cfg := c.cfg
	if r, ok := c.transport.(TopologyReporter); ok && c.open {
		if t, known := r.TargetTopology(); known && t == TopologyStrict {
			cfg.Topology = TopologyStrict
		}
	}
	return cfg
}

func (c *Controller) connect(ctx context.Context, next audio.Format) error {
	if !c.open {
		if err := c.transport.Open(ctx, next); err != nil {
			return fmt.Errorf("open transport for %s: %w", next, err)
		}
		c.open = true
		return nil
	}

	err := c.transport.Reopen(ctx, next)
	if err == nil {
		return nil
	}
	result := multierror.Append(nil, fmt.Errorf("reopen transport for %s: %w", next, err))
	if cerr := c.transport.Close(ctx); cerr != nil {
		result = multierror.Append(result, fmt.Errorf("close after failed reopen: %w", cerr))
	}
	c.markClosed()
	return result.ErrorOrNil()
}

// flushSilence pushes silence through the still-open connection and waits,
// bounded, for the ring to drain. It never fails: a timeout or cancellation
// lets the caller proceed to close.
func (c *Controller) flushSilence(ctx context.Context, plan Plan) {
	c.setState(SilenceFlush)
	c.pipeline.ForceStart()

	payload := transport.PayloadSize(c.transport)
	remaining := plan.SilenceBuffers * payload
	remaining -= c.pipeline.InjectSilence(remaining)
	c.transport.RequestSilence(plan.SilenceBuffers)

	wait := plan.DrainTimeout
	if bps := plan.From.BytesPerSecond(); bps > 0 {
		// audio still queued ahead of the silence plays out first
		wait += time.Duration(int64(c.pipeline.Buffered()) * int64(time.Second) / int64(bps))
	}
	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	tick := time.NewTicker(c.cfg.DrainPollInterval)
	defer tick.Stop()

	for {
		if remaining > 0 {
			remaining -= c.pipeline.InjectSilence(remaining)
		}
		if remaining <= 0 && c.pipeline.Buffered() == 0 {
			logger.Debugf(ctx, "silence flush drained (%d buffers)", plan.SilenceBuffers)
			return
		}
		select {
		case <-ctx.Done():
			logger.Debugf(ctx, "silence flush interrupted: %v", ctx.Err())
			return
		case <-timeout.C:
			logger.Warnf(ctx, "silence flush did not drain within %s, %s still buffered",
				wait, humanize.IBytes(uint64(c.pipeline.Buffered())))
			return
		case <-tick.C:
		}
	}
}

// stabilize queues warmup silence, resumes the producer and waits for the
// transport to pull the warmup buffers.
func (c *Controller) stabilize(ctx context.Context, plan Plan) error {
	if err := sleepCtx(ctx, plan.PostOpenDelay); err != nil {
		return err
	}
	warmup := plan.WarmupBuffers * transport.PayloadSize(c.transport)
	queued := c.pipeline.InjectSilence(warmup)
	start := c.pipeline.Pulls()
	c.pipeline.ResumeProducer()
	logger.Debugf(ctx, "warmup: %d buffers, %s of silence queued", plan.WarmupBuffers, humanize.IBytes(uint64(queued)))

	if plan.WarmupBuffers == 0 {
		return nil
	}
	wait := plan.WarmupTarget + c.cfg.StabilizeSlack
	timeout := time.NewTimer(wait)
	defer timeout.Stop()
	tick := time.NewTicker(c.cfg.DrainPollInterval)
	defer tick.Stop()

	for c.pipeline.Pulls()-start < uint64(plan.WarmupBuffers) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			logger.Warnf(ctx, "warmup saw %d of %d pull cycles within %s",
				c.pipeline.Pulls()-start, plan.WarmupBuffers, wait)
			return nil
		case <-tick.C:
		}
	}
	return nil
}

// Stop flushes silence through the open connection and closes it
func (c *Controller) Stop(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	id := c.supersede(cancel)
	defer c.finish(id)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		c.setState(Idle)
		return nil
	}

	if err := c.pipeline.PauseProducer(ctx); err != nil {
		logger.Warnf(ctx, "pause producer before stop: %v", err)
	}
	n := c.cfg.Pacing.SilenceBuffers(c.current)
	c.flushSilence(ctx, Plan{
		Action:         FullReopen,
		From:           c.current,
		SilenceBuffers: n,
		DrainTimeout:   c.cfg.Pacing.DrainTimeout(n),
	})

	c.setState(Closing)
	err := c.transport.Close(ctx)
	c.markClosed()
	c.setState(Idle)
	if err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ABOUTME: Scriptable in-memory transport for deterministic bridge tests
// ABOUTME: Records lifecycle calls and pulls one frame per Cycle or on a ticker
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// Call is one recorded lifecycle operation
type Call struct {
	Op     string // open, reopen, close, silence
	Format audio.Format
	N      int
}

// Option configures a Fake
type Option func(*Fake)

// WithAutoPull starts a pull goroutine on Open that cycles every interval
func WithAutoPull(interval time.Duration) Option {
	return func(f *Fake) { f.interval = interval }
}

// Fake implements transport.Transport
type Fake struct {
	frameSize  int
	headerSize int
	interval   time.Duration

	mu        sync.Mutex
	calls     []Call
	format    audio.Format
	open      bool
	openErr   error
	reopenErr error
	closeErr  error
	stop      chan struct{}
	done      chan struct{}

	puller transport.Puller
	pullMu sync.Mutex
	buf    []byte
	pulled atomic.Uint64
	cycles atomic.Uint64
}

var _ transport.Transport = (*Fake)(nil)

// New creates a fake with the given frame geometry
func New(frameSize, headerSize int, opts ...Option) *Fake {
	f := &Fake{
		frameSize:  frameSize,
		headerSize: headerSize,
		buf:        make([]byte, frameSize-headerSize),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FailOpen makes the next Open calls return err
func (f *Fake) FailOpen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

// FailReopen makes the next Reopen calls return err
func (f *Fake) FailReopen(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reopenErr = err
}

// FailClose makes the next Close calls return err
func (f *Fake) FailClose(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeErr = err
}

func (f *Fake) record(c Call) {
	f.calls = append(f.calls, c)
}

func (f *Fake) Attach(p transport.Puller) {
	f.pullMu.Lock()
	defer f.pullMu.Unlock()
	f.puller = p
}

func (f *Fake) Open(ctx context.Context, format audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "open", Format: format})
	if f.openErr != nil {
		return f.openErr
	}
	f.format = format
	f.open = true
	if f.interval > 0 && f.stop == nil {
		f.stop = make(chan struct{})
		f.done = make(chan struct{})
		go f.pump(f.stop, f.done)
	}
	return nil
}

func (f *Fake) Reopen(ctx context.Context, format audio.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "reopen", Format: format})
	if f.reopenErr != nil {
		return f.reopenErr
	}
	f.format = format
	return nil
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	stop, done := f.stop, f.done
	f.stop, f.done = nil, nil
	f.record(Call{Op: "close", Format: f.format})
	f.open = false
	err := f.closeErr
	f.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return err
}

func (f *Fake) RequestSilence(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(Call{Op: "silence", N: n})
}

func (f *Fake) FrameSize() int  { return f.frameSize }
func (f *Fake) HeaderSize() int { return f.headerSize }

func (f *Fake) pump(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(f.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			f.Cycle()
		}
	}
}

// Cycle pulls one frame of payload, rounded down to whole wire frames of the
// open format, and returns the bytes the puller produced.
func (f *Fake) Cycle() int {
	f.mu.Lock()
	wire := f.format.WireFrameBytes()
	f.mu.Unlock()

	f.pullMu.Lock()
	defer f.pullMu.Unlock()
	if f.puller == nil {
		return 0
	}
	size := len(f.buf)
	if wire > 0 {
		size -= size % wire
	}
	n := f.puller.Pull(f.buf[:size])
	f.cycles.Add(1)
	f.pulled.Add(uint64(n))
	return n
}

// Calls returns a copy of the recorded calls
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Ops returns the recorded operation names in order
func (f *Fake) Ops() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ops := make([]string, len(f.calls))
	for i, c := range f.calls {
		ops[i] = c.Op
	}
	return ops
}

// IsOpen reports whether the fake is connected
func (f *Fake) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Format returns the format of the last successful open or reopen
func (f *Fake) Format() audio.Format {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.format
}

// Pulled returns the total bytes pulled
func (f *Fake) Pulled() uint64 { return f.pulled.Load() }

// Cycles returns the number of pull cycles run
func (f *Fake) Cycles() uint64 { return f.cycles.Load() }

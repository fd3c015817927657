// ABOUTME: Reader/writer access protocol between the real-time consumer and reconfiguration
// ABOUTME: Readers never block; writers raise a flag and wait, bounded, for readers to leave
package guard

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

const (
	// DefaultMaxDrainWait bounds how long a writer waits for readers to leave
	DefaultMaxDrainWait = 250 * time.Millisecond

	spinIterations = 64
	yieldInterval  = 50 * time.Microsecond
)

// ErrReadersStuck is returned when readers do not leave within the drain bound
var ErrReadersStuck = errors.New("readers did not drain")

// Counters holds the shared state of one access domain: the number of
// readers inside and whether a writer has asked them to stay out.
type Counters struct {
	readers       atomic.Int32
	reconfiguring atomic.Bool

	// one token; holding it makes a writer the only writer
	writerSlot   chan struct{}
	maxDrainWait time.Duration
}

// NewCounters creates counters whose writers wait at most maxDrainWait for
// readers to drain. Zero selects DefaultMaxDrainWait.
func NewCounters(maxDrainWait time.Duration) *Counters {
	if maxDrainWait <= 0 {
		maxDrainWait = DefaultMaxDrainWait
	}
	return &Counters{
		writerSlot:   make(chan struct{}, 1),
		maxDrainWait: maxDrainWait,
	}
}

// Readers returns the number of readers currently inside
func (c *Counters) Readers() int {
	return int(c.readers.Load())
}

// Reconfiguring reports whether a writer holds the domain
func (c *Counters) Reconfiguring() bool {
	return c.reconfiguring.Load()
}

// ReaderGuard is a scoped read permission. An inactive guard means the reader
// must treat the resource as empty for this cycle.
type ReaderGuard struct {
	c      *Counters
	active bool
}

// EnterReader tries to enter without blocking
func (c *Counters) EnterReader() ReaderGuard {
	if c.reconfiguring.Load() {
		return ReaderGuard{}
	}
	c.readers.Add(1)
	// a writer may have raised the flag between the check and the increment
	if c.reconfiguring.Load() {
		c.readers.Add(-1)
		return ReaderGuard{}
	}
	return ReaderGuard{c: c, active: true}
}

// Active reports whether the reader may touch the resource
func (g *ReaderGuard) Active() bool {
	return g.active
}

// Release leaves the domain. Safe to call more than once.
func (g *ReaderGuard) Release() {
	if !g.active {
		return
	}
	g.active = false
	g.c.readers.Add(-1)
}

// WriterGuard is a scoped exclusive permission
type WriterGuard struct {
	c    *Counters
	held bool
}

// EnterWriter waits for any other writer, raises the reconfiguring flag and
// waits until every reader has left. The wait is bounded by the counters'
// drain limit and by ctx; on failure nothing is held.
func (c *Counters) EnterWriter(ctx context.Context) (WriterGuard, error) {
	select {
	case c.writerSlot <- struct{}{}:
	case <-ctx.Done():
		return WriterGuard{}, ctx.Err()
	}

	c.reconfiguring.Store(true)
	if err := c.waitReaders(ctx); err != nil {
		c.reconfiguring.Store(false)
		<-c.writerSlot
		return WriterGuard{}, err
	}
	return WriterGuard{c: c, held: true}, nil
}

func (c *Counters) waitReaders(ctx context.Context) error {
	for i := 0; i < spinIterations; i++ {
		if c.readers.Load() == 0 {
			return nil
		}
		runtime.Gosched()
	}

	deadline := time.Now().Add(c.maxDrainWait)
	for c.readers.Load() != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return ErrReadersStuck
		}
		time.Sleep(yieldInterval)
	}
	return nil
}

// Held reports whether the guard owns the domain
func (g *WriterGuard) Held() bool {
	return g.held
}

// Release clears the flag and admits the next writer. Safe to call more
// than once.
func (g *WriterGuard) Release() {
	if !g.held {
		return
	}
	g.held = false
	g.c.reconfiguring.Store(false)
	<-g.c.writerSlot
}

// ABOUTME: Lock-free single-producer single-consumer byte ring for audio handoff
// ABOUTME: Converts samples to the wire layout on push and copies raw bytes on pop
package ringbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio/convert"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/guard"
)

// scratchBytes bounds one conversion batch
const scratchBytes = 48 * 1024

var (
	// ErrNotReconfiguring is returned by mutations attempted outside a writer guard
	ErrNotReconfiguring = errors.New("ring buffer mutation requires a writer guard")
	// ErrInvalidCapacity is returned for non-positive capacities
	ErrInvalidCapacity = errors.New("invalid ring buffer capacity")
)

type pcmVariant int

const (
	variantDirect32 pcmVariant = iota
	variant24
	variant16To32
)

// Buffer is a single-producer, single-consumer ring.
//
// Cursors are monotonically increasing byte positions; the physical offset is
// pos & mask. The producer stores writePos after copying data and the consumer
// loads it before reading, so the consumer sees everything written before the
// position update. Push methods are producer-only, Pop and Available are
// consumer-only. Resize, Clear and Configure require the owning counters to be
// held by a writer. Capacity and Available may be read from any goroutine.
type Buffer struct {
	writePos atomic.Uint64
	_pad1    [56]byte
	readPos  atomic.Uint64
	_pad2    [56]byte

	buf     []byte
	mask    uint64
	size    atomic.Int64
	scratch []byte

	state    FormatState
	counters *guard.Counters
}

// New creates an empty, unsized buffer owned by counters
func New(counters *guard.Counters) *Buffer {
	return &Buffer{counters: counters}
}

func nextPowerOfTwo(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}

func (b *Buffer) requireWriter() error {
	if b.counters == nil || !b.counters.Reconfiguring() {
		return ErrNotReconfiguring
	}
	return nil
}

// Resize reallocates the arena to the next power of two at or above
// capacity and resets cursors and 24-bit detection.
func (b *Buffer) Resize(capacity int) error {
	if err := b.requireWriter(); err != nil {
		return err
	}
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	size := nextPowerOfTwo(capacity)
	if len(b.buf) != size {
		b.buf = make([]byte, size)
		b.mask = uint64(size - 1)
		b.size.Store(int64(size))
	}
	if b.scratch == nil {
		b.scratch = make([]byte, scratchBytes)
	}
	b.reset()
	return nil
}

// Clear drops buffered data and resets 24-bit detection
func (b *Buffer) Clear() error {
	if err := b.requireWriter(); err != nil {
		return err
	}
	b.reset()
	return nil
}

// reset collapses the ring before rewinding so an unguarded Available
// observes zero rather than a stale or wrapped count.
func (b *Buffer) reset() {
	b.readPos.Store(b.writePos.Load())
	b.writePos.Store(0)
	b.readPos.Store(0)
	b.state.align.Store(int32(convert.AlignUnknown))
}

// Configure stores the stream layout used by Push and WriteSilence
func (b *Buffer) Configure(f audio.Format, l Layout) error {
	if err := b.requireWriter(); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	b.state.store(f, l)
	return nil
}

// State exposes the configured format state
func (b *Buffer) State() *FormatState {
	return &b.state
}

// Capacity returns the arena size in bytes
func (b *Buffer) Capacity() int {
	return int(b.size.Load())
}

// Available returns the number of bytes ready to pop
func (b *Buffer) Available() int {
	r := b.readPos.Load()
	w := b.writePos.Load()
	if w < r {
		return 0
	}
	return int(w - r)
}

// Free returns the number of bytes that can be pushed
func (b *Buffer) Free() int {
	return len(b.buf) - int(b.writePos.Load()-b.readPos.Load())
}

// commit copies p at the write cursor in one or two segments and publishes it.
// Callers have already bounded len(p) by Free.
func (b *Buffer) commit(p []byte) {
	w := b.writePos.Load()
	n := uint64(len(p))
	pos := w & b.mask
	first := uint64(len(b.buf)) - pos
	if first >= n {
		copy(b.buf[pos:pos+n], p)
	} else {
		copy(b.buf[pos:], p[:first])
		copy(b.buf[:n-first], p[first:])
	}
	b.writePos.Store(w + n)
}

// Push writes a block using the variant selected by the configured format
// and returns the number of frames accepted.
func (b *Buffer) Push(blk audio.Block) int {
	if b.state.dsd.Load() {
		return b.PushDSD(blk.Planes)
	}
	switch b.state.bitDepth.Load() {
	case 16:
		return b.Push16To32(blk.Data)
	case 24:
		return b.Push24(blk.Data)
	case 32:
		return b.PushDirect32(blk.Data)
	default:
		return 0
	}
}

// PushDirect32 copies 32-bit slots unchanged
func (b *Buffer) PushDirect32(src []byte) int {
	return b.pushPCM(src, variantDirect32)
}

// Push24 packs 24-bit samples held in 32-bit slots down to 3 bytes. The
// first push after a clear or resize latches the slot alignment.
func (b *Buffer) Push24(src []byte) int {
	return b.pushPCM(src, variant24)
}

// Push16To32 widens S16LE samples into MSB-justified 32-bit slots
func (b *Buffer) Push16To32(src []byte) int {
	return b.pushPCM(src, variant16To32)
}

func (b *Buffer) pushPCM(src []byte, v pcmVariant) int {
	ch := int(b.state.channels.Load())
	inFrame := int(b.state.inBytes.Load()) * ch
	wireFrame := int(b.state.wireBytes.Load()) * ch
	if inFrame == 0 || wireFrame == 0 || len(b.buf) == 0 {
		return 0
	}

	frames := len(src) / inFrame
	if fit := b.Free() / wireFrame; fit < frames {
		frames = fit
	}
	if frames == 0 {
		return 0
	}

	if v == variantDirect32 {
		b.commit(src[:frames*inFrame])
		return frames
	}

	align := convert.Alignment(b.state.align.Load())
	if v == variant24 && align == convert.AlignUnknown {
		align = convert.Detect24(src)
		if align != convert.AlignUnknown {
			b.state.align.Store(int32(align))
		}
	}

	batch := len(b.scratch) / wireFrame
	for done := 0; done < frames; {
		n := frames - done
		if n > batch {
			n = batch
		}
		in := src[done*inFrame : (done+n)*inFrame]
		out := b.scratch[:n*wireFrame]
		if v == variant24 {
			convert.Pack24(out, in, align)
		} else {
			convert.Widen16(out, in)
		}
		b.commit(out)
		done += n
	}
	return frames
}

// PushDSD interleaves one byte plane per channel into 32-bit words per
// channel and returns the number of 1-bit frames accepted. Trailing bytes
// that do not fill a word are left for the next call.
func (b *Buffer) PushDSD(planes [][]byte) int {
	ch := int(b.state.channels.Load())
	if ch == 0 || len(planes) < ch || len(b.buf) == 0 || !b.state.dsd.Load() {
		return 0
	}
	planes = planes[:ch]

	wordFrame := 4 * ch
	words := len(planes[0]) / 4
	for _, p := range planes[1:] {
		if w := len(p) / 4; w < words {
			words = w
		}
	}
	if fit := b.Free() / wordFrame; fit < words {
		words = fit
	}

	reverse := b.state.dsdReverse.Load()
	swap := b.state.dsdSwap.Load()
	batch := len(b.scratch) / wordFrame
	done := 0
	for done < words {
		n := words - done
		if n > batch {
			n = batch
		}
		out := b.scratch[:n*wordFrame]
		got := convert.InterleaveDSD(out, planes, done*4, reverse, swap)
		if got == 0 {
			break
		}
		b.commit(out[:got*wordFrame])
		done += got
	}
	return done * 32
}

// WriteSilence queues up to n bytes of the configured silence pattern,
// truncated to whole wire frames, and returns the bytes queued.
func (b *Buffer) WriteSilence(n int) int {
	frame := b.state.WireFrameBytes()
	if frame == 0 || len(b.buf) == 0 {
		return 0
	}
	if free := b.Free(); n > free {
		n = free
	}
	n -= n % frame
	if n <= 0 {
		return 0
	}

	pattern := byte(b.state.silenceByte.Load())
	w := b.writePos.Load()
	pos := w & b.mask
	first := len(b.buf) - int(pos)
	if first >= n {
		fill(b.buf[pos:int(pos)+n], pattern)
	} else {
		fill(b.buf[pos:], pattern)
		fill(b.buf[:n-first], pattern)
	}
	b.writePos.Store(w + uint64(n))
	return n
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

// Pop copies up to len(dst) bytes out of the ring. Zero means empty.
func (b *Buffer) Pop(dst []byte) int {
	r := b.readPos.Load()
	w := b.writePos.Load()

	available := w - r
	if available == 0 {
		return 0
	}
	n := uint64(len(dst))
	if n > available {
		n = available
	}

	pos := r & b.mask
	first := uint64(len(b.buf)) - pos
	if first >= n {
		copy(dst[:n], b.buf[pos:pos+n])
	} else {
		copy(dst[:first], b.buf[pos:])
		copy(dst[first:n], b.buf[:n-first])
	}

	b.readPos.Store(r + n)
	return int(n)
}

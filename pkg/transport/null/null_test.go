// ABOUTME: Tests for the paced null transport
// ABOUTME: Checks whole-frame pulls, reopen and close behavior
package null

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

type countingPuller struct {
	mu    sync.Mutex
	sizes []int
}

func (p *countingPuller) Pull(dst []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sizes = append(p.sizes, len(dst))
	return len(dst)
}

func (p *countingPuller) lastSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sizes) == 0 {
		return 0
	}
	return p.sizes[len(p.sizes)-1]
}

func TestPullsWholeWireFrames(t *testing.T) {
	ctx := context.Background()
	p := &countingPuller{}
	tr := New(0)
	tr.Attach(p)
	assert.Equal(t, DefaultFrameSize, tr.FrameSize())
	assert.Equal(t, DefaultFrameSize, transport.PayloadSize(tr))

	require.NoError(t, tr.Open(ctx, audio.PCM(44100, 16, 2)))
	require.Eventually(t, func() bool { return tr.Cycles() >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1768, p.lastSize(), "16-bit stereo travels as 8-byte wire frames")

	require.NoError(t, tr.Reopen(ctx, audio.PCM(48000, 24, 2)))
	before := tr.Cycles()
	require.Eventually(t, func() bool { return tr.Cycles() >= before+3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1770, p.lastSize(), "24-bit stereo travels as 6-byte wire frames")

	require.NoError(t, tr.Close(ctx))
	stopped := tr.Cycles()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, tr.Cycles())
	assert.Equal(t, tr.Pulled(), uint64(sumSizes(p)))
}

func sumSizes(p *countingPuller) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, s := range p.sizes {
		total += s
	}
	return total
}

func TestReopenRequiresOpen(t *testing.T) {
	tr := New(1024)
	tr.Attach(&countingPuller{})
	err := tr.Reopen(context.Background(), audio.PCM(44100, 16, 2))
	assert.ErrorIs(t, err, transport.ErrNotOpen)
}

func TestOpenWithoutPuller(t *testing.T) {
	tr := New(1024)
	assert.Error(t, tr.Open(context.Background(), audio.PCM(44100, 16, 2)))
}

// ABOUTME: Tests for the bridge push/pull path, prefill gate and format transitions
// ABOUTME: Uses the in-memory transport to observe lifecycle calls and pull cycles
package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/transporttest"
)

const (
	testFrameSize  = 1773
	testHeaderSize = 9
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Transition.DSDToPCMDelay = time.Millisecond
	cfg.Transition.DSDToDSDDelay = time.Millisecond
	cfg.Transition.PCMReopenDelay = time.Millisecond
	cfg.Transition.PostOpenDelay = time.Millisecond
	cfg.Transition.StabilizeSlack = 100 * time.Millisecond
	return cfg
}

// configured returns a bridge whose ring is set up for f without opening
// the transport.
func configured(t *testing.T, f audio.Format) *Bridge {
	t.Helper()
	b := New(testConfig(), transporttest.New(testFrameSize, testHeaderSize))
	require.NoError(t, pipeline{b}.Reconfigure(context.Background(), f))
	return b
}

func s16Block(start, frames, channels int) audio.Block {
	data := make([]byte, frames*channels*2)
	for i := 0; i < frames*channels; i++ {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(start+i)))
	}
	return audio.Block{Data: data}
}

func TestPushPullSteadyStateCD(t *testing.T) {
	f := audio.PCM(44100, 16, 2)
	b := configured(t, f)
	require.Equal(t, 262144, b.ring.Capacity())

	const blockFrames = 512
	const popBytes = 256
	// 16 pops per block on average, never 16 in a row
	popsPerBlock := []int{15, 17, 14, 18, 16}

	dst := make([]byte, popBytes)
	next := int16(0) // next sample expected out of the ring
	sample := 0
	primedAt := -1
	for i := 0; i < 2000; i++ {
		accepted := b.Push(s16Block(sample, blockFrames, 2))
		require.Equal(t, blockFrames, accepted, "push %d overflowed", i)
		sample += blockFrames * 2

		for j := 0; j < popsPerBlock[i%len(popsPerBlock)]; j++ {
			n := b.Pull(dst)
			if n == 0 {
				require.Equal(t, -1, primedAt, "underrun after prefill at push %d", i)
				continue
			}
			if primedAt < 0 {
				primedAt = i
			}
			require.Equal(t, popBytes, n)
			for k := 0; k < n; k += 4 {
				got := int32(binary.LittleEndian.Uint32(dst[k:]))
				require.Equal(t, int32(next)<<16, got)
				next++
			}
		}
	}

	assert.Equal(t, 8, primedAt, "prefill of 100ms needs nine blocks")
	st := b.Stats()
	assert.Zero(t, st.Underruns)
	assert.True(t, st.Prefilled)
	assert.Equal(t, uint64(2000*blockFrames), st.FramesPushed)
}

func TestPullReturnsWholeFrames(t *testing.T) {
	b := configured(t, audio.PCM(48000, 24, 2))
	pipeline{b}.ForceStart()

	blk := audio.Block{Data: make([]byte, 100*2*4)}
	require.Equal(t, 100, b.Push(blk))

	dst := make([]byte, 256)
	assert.Equal(t, 252, b.Pull(dst), "six-byte frames")
	assert.Equal(t, 600-252, b.Buffered())

	// a short ring yields only whole frames
	dst = make([]byte, 1000)
	assert.Equal(t, 348, b.Pull(dst))
	assert.Zero(t, b.Pull(dst))
	assert.Equal(t, uint64(2), b.Stats().Underruns)
}

func TestPrefillGate(t *testing.T) {
	f := audio.PCM(44100, 16, 2)
	b := configured(t, f)
	prefill := int(b.prefill.Load())
	require.Equal(t, 35280, prefill)

	dst := make([]byte, 256)
	require.Equal(t, 4000, b.Push(s16Block(0, 4000, 2)))
	assert.Zero(t, b.Pull(dst), "32000 bytes is below prefill")
	assert.Zero(t, b.Stats().Underruns, "gated pulls are not underruns")

	require.Equal(t, 500, b.Push(s16Block(0, 500, 2)))
	assert.Equal(t, 256, b.Pull(dst))

	require.NoError(t, pipeline{b}.Reset(context.Background()))
	require.Equal(t, 16, b.Push(s16Block(0, 16, 2)))
	assert.Zero(t, b.Pull(dst), "reset closes the gate")
	pipeline{b}.ForceStart()
	assert.Equal(t, 128, b.Pull(dst))
}

func TestPausedProducerPushesNothing(t *testing.T) {
	b := configured(t, audio.PCM(44100, 16, 2))
	ctx := context.Background()

	require.NoError(t, b.pauseProducer(ctx))
	require.NoError(t, b.pauseProducer(ctx), "pausing twice is a no-op")
	assert.Zero(t, b.Push(s16Block(0, 64, 2)))
	assert.Zero(t, b.Buffered())

	b.resumeProducer()
	assert.Equal(t, 64, b.Push(s16Block(0, 64, 2)))
}

func TestPullDuringReconfigurationReturnsZero(t *testing.T) {
	b := configured(t, audio.PCM(44100, 16, 2))
	pipeline{b}.ForceStart()
	require.Equal(t, 64, b.Push(s16Block(0, 64, 2)))

	g, err := b.counters.EnterWriter(context.Background())
	require.NoError(t, err)
	dst := make([]byte, 256)
	assert.Zero(t, b.Pull(dst))
	assert.Zero(t, b.Push(s16Block(0, 64, 2)))
	g.Release()

	assert.Equal(t, 256, b.Pull(dst))
}

func TestInjectSilenceRoundsUpToWireFrames(t *testing.T) {
	b := configured(t, audio.DSD(audio.DSD64Rate, 2))
	p := pipeline{b}

	assert.Equal(t, 1768, p.InjectSilence(1764), "DSD stereo words are 8 bytes")
	assert.Zero(t, p.InjectSilence(0))

	p.ForceStart()
	dst := make([]byte, 8)
	require.Equal(t, 8, b.Pull(dst))
	for _, v := range dst {
		assert.Equal(t, byte(audio.DSDSilenceMSB), v)
	}
}

func TestCapacityAndPrefillSizing(t *testing.T) {
	cfg := testConfig()
	cfg.Buffer.MaxBytes = 1 << 20
	b := New(cfg, transporttest.New(testFrameSize, testHeaderSize))

	assert.Equal(t, 64*1024, b.capacityFor(audio.PCM(8000, 16, 1)), "clamped to the minimum")
	assert.Equal(t, 1<<20, b.capacityFor(audio.PCM(768000, 32, 8)), "clamped to the maximum")
	dsd := audio.DSD(audio.DSD64Rate, 2)
	assert.Equal(t, 262144, b.capacityFor(dsd), "211680 rounds up")

	cfg.Buffer.MaxBytes = 1000000
	b = New(cfg, transporttest.New(testFrameSize, testHeaderSize))
	assert.Equal(t, 1<<19, b.capacityFor(audio.PCM(768000, 32, 8)), "rounds down under a non power of two maximum")
	assert.Equal(t, 1<<19, b.capacityFor(audio.PCM(192000, 32, 2)), "768000 would round up past the maximum")
	assert.Equal(t, 1<<19, b.capacityFor(audio.PCM(96000, 32, 2)), "384000 rounds up within the maximum")
	require.NoError(t, pipeline{b}.Reconfigure(context.Background(), audio.PCM(192000, 32, 2)))
	assert.LessOrEqual(t, b.ring.Capacity(), cfg.Buffer.MaxBytes)

	assert.Equal(t, 35280, b.prefillFor(audio.PCM(44100, 16, 2), 262144))
	assert.Equal(t, 1000, b.prefillFor(audio.PCM(44100, 16, 2), 2000), "at most half the ring")
	assert.Zero(t, b.prefillFor(audio.PCM(48000, 24, 2), 262144)%6)
}

func TestSetFormatDrivesTransport(t *testing.T) {
	fake := transporttest.New(testFrameSize, testHeaderSize, transporttest.WithAutoPull(200*time.Microsecond))
	b := New(testConfig(), fake)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pcm := audio.PCM(44100, 16, 2)
	dsd := audio.DSD(audio.DSD64Rate, 2)

	plan, err := b.SetFormat(ctx, pcm)
	require.NoError(t, err)
	assert.True(t, plan.Initial())
	assert.Equal(t, transition.Streaming, b.State())
	assert.True(t, b.Format().Equal(pcm))

	plan, err = b.SetFormat(ctx, dsd)
	require.NoError(t, err)
	assert.Equal(t, transition.BoundedReopen, plan.Action)
	assert.True(t, fake.Format().Equal(dsd))

	plan, err = b.SetFormat(ctx, pcm)
	require.NoError(t, err)
	assert.Equal(t, transition.FullReopen, plan.Action)

	assert.Equal(t, []string{"open", "silence", "reopen", "silence", "close", "open"}, fake.Ops())

	st := b.Stats()
	assert.Equal(t, uint64(2), st.FullReopens)
	assert.Equal(t, uint64(1), st.BoundedReopens)
	require.NotNil(t, st.LastPlan)
	assert.Equal(t, transition.FullReopen, st.LastPlan.Action)

	require.NoError(t, b.Close(ctx))
	assert.False(t, fake.IsOpen())
	assert.True(t, b.Format().IsZero())
	assert.Equal(t, transition.Idle, b.State())
}

func TestSetFormatRejectsUnsupported(t *testing.T) {
	fake := transporttest.New(testFrameSize, testHeaderSize)
	b := New(testConfig(), fake)

	_, err := b.SetFormat(context.Background(), audio.PCM(44100, 20, 2))
	assert.ErrorIs(t, err, audio.ErrUnsupportedFormat)
	assert.Empty(t, fake.Ops())
	assert.Zero(t, b.ring.Capacity(), "ring untouched")
}

func TestSetFormatOpenFailure(t *testing.T) {
	fake := transporttest.New(testFrameSize, testHeaderSize)
	boom := errors.New("target unreachable")
	fake.FailOpen(boom)
	b := New(testConfig(), fake)

	_, err := b.SetFormat(context.Background(), audio.PCM(44100, 16, 2))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, transition.Idle, b.State())
	assert.Zero(t, b.Push(s16Block(0, 16, 2)), "producer stays paused")
}

func TestMetricsExposeCounters(t *testing.T) {
	b := configured(t, audio.PCM(44100, 16, 2))
	require.Equal(t, 32, b.Push(s16Block(0, 32, 2)))

	families, err := b.Metrics().Registry().Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				values[mf.GetName()] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
		}
	}
	assert.Equal(t, 32.0, values["resonate_bridge_frames_pushed_total"])
	assert.Equal(t, 256.0, values["resonate_bridge_buffered_bytes"])
	assert.Equal(t, 262144.0, values["resonate_bridge_capacity_bytes"])
}

func TestWarmupSilenceDoesNotOpenPrefillGate(t *testing.T) {
	f := audio.DSD(audio.DSD64Rate, 2)
	b := configured(t, f)
	p := pipeline{b}
	prefill := int(b.prefill.Load())
	require.Equal(t, 35280, prefill, "50ms of DSD64 stereo")

	warmup := p.InjectSilence(prefill)
	require.Equal(t, prefill, warmup)
	dst := make([]byte, 1764)
	assert.Zero(t, b.Pull(dst), "silence alone keeps the gate closed")

	planes := [][]byte{make([]byte, prefill/2), make([]byte, prefill/2)}
	require.Equal(t, prefill/2*8, b.Push(audio.Block{Planes: planes}))
	assert.Equal(t, 1760, b.Pull(dst))

	require.NoError(t, p.Reset(context.Background()))
	assert.Equal(t, int64(prefill), b.prefill.Load(), "reset restores the configured prefill")
}

func TestFlushSilenceAfterForceStartKeepsGate(t *testing.T) {
	b := configured(t, audio.PCM(44100, 16, 2))
	p := pipeline{b}
	p.ForceStart()
	require.Equal(t, 1768, p.InjectSilence(1768))
	assert.Equal(t, int64(35280), b.prefill.Load())
	assert.Equal(t, 256, b.Pull(make([]byte, 256)))
}

func TestStatsDuringFormatChanges(t *testing.T) {
	fake := transporttest.New(testFrameSize, testHeaderSize, transporttest.WithAutoPull(200*time.Microsecond))
	b := New(testConfig(), fake)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			st := b.Stats()
			if st.Buffered < 0 {
				t.Errorf("negative buffered count %d", st.Buffered)
				return
			}
			switch st.Capacity {
			case 0, 64 * 1024, 1 << 20:
			default:
				t.Errorf("unexpected capacity %d", st.Capacity)
				return
			}
			if _, err := b.Metrics().Registry().Gather(); err != nil {
				t.Errorf("gather: %v", err)
				return
			}
		}
	}()

	small := audio.PCM(8000, 16, 1)
	large := audio.PCM(192000, 32, 2)
	for i := 0; i < 6; i++ {
		f := small
		if i%2 == 1 {
			f = large
		}
		_, err := b.SetFormat(ctx, f)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 1<<20, b.Stats().Capacity)
	require.NoError(t, b.Close(ctx))
}

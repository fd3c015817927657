// ABOUTME: Tests for the playlist producer against a pulling fake transport
// ABOUTME: Covers format changes between tracks, gapless same-format tracks and skipping
package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/source"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/transporttest"
)

func pullingBridge(t *testing.T) (*Bridge, *transporttest.Fake) {
	t.Helper()
	fake := transporttest.New(testFrameSize, testHeaderSize, transporttest.WithAutoPull(200*time.Microsecond))
	b := New(testConfig(), fake)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b, fake
}

func TestProducerChangesFormatBetweenTracks(t *testing.T) {
	b, fake := pullingBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sources := map[string]func() (source.Source, error){
		"pcm": func() (source.Source, error) {
			return source.NewTone(audio.PCM(44100, 16, 2), 440, 50*time.Millisecond)
		},
		"pcm-again": func() (source.Source, error) {
			return source.NewTone(audio.PCM(44100, 16, 2), 880, 50*time.Millisecond)
		},
		"dsd": func() (source.Source, error) {
			return source.NewDSDTone(audio.DSD(audio.DSD64Rate, 2), 1000, 20*time.Millisecond)
		},
	}
	open := func(name string) (source.Source, error) {
		mk, ok := sources[name]
		if !ok {
			return nil, source.ErrUnsupportedSource
		}
		return mk()
	}

	var started []audio.Format
	p := NewProducer(b, WithTrackHook(func(_ int, _ source.Metadata, f audio.Format) {
		started = append(started, f)
	}))
	require.NoError(t, p.Run(ctx, []string{"pcm", "pcm-again", "missing", "dsd"}, open))

	require.Len(t, started, 3)
	assert.True(t, started[2].IsDSD())
	assert.Equal(t, []string{"open", "silence", "reopen"}, fake.Ops(), "the second PCM track needs no transition")

	st := b.Stats()
	assert.Equal(t, uint64(2205+2205+56448), st.FramesPushed)
	assert.Zero(t, st.QuickResumes)
	assert.True(t, b.Format().IsDSD())
}

// skippingSource asks the producer to skip after a number of reads
type skippingSource struct {
	source.Source
	reads     int
	skipAfter int
	skip      func()
}

func (s *skippingSource) Read(blk *audio.Block, frames int) (int, error) {
	s.reads++
	if s.reads == s.skipAfter {
		s.skip()
	}
	return s.Source.Read(blk, frames)
}

func TestProducerSkipDiscardsBufferedAudio(t *testing.T) {
	b, _ := pullingBridge(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := NewProducer(b)

	endless, err := source.NewTone(audio.PCM(48000, 24, 2), 440, 0)
	require.NoError(t, err)
	src := &skippingSource{Source: endless, skipAfter: 3, skip: p.Skip}
	require.NoError(t, p.PlaySource(ctx, src))
	assert.Equal(t, 3, src.reads)

	next, err := source.NewTone(audio.PCM(48000, 24, 2), 440, 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, p.PlaySource(ctx, next))
	assert.Equal(t, uint64(1), b.Stats().QuickResumes, "skip restarts the same format")
}

func TestProducerStopsOnCancel(t *testing.T) {
	fake := transporttest.New(testFrameSize, testHeaderSize, transporttest.WithAutoPull(200*time.Microsecond))
	b := New(testConfig(), fake)
	ctx, cancel := context.WithCancel(context.Background())

	endless, err := source.NewTone(audio.PCM(44100, 16, 2), 440, 0)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- NewProducer(b).PlaySource(ctx, endless) }()

	require.Eventually(t, func() bool {
		return b.Stats().FramesPushed > 0
	}, 5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop")
	}
	require.NoError(t, b.Close(context.Background()))
}

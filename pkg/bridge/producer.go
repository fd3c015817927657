// ABOUTME: Playlist producer feeding decoded sources into the bridge
// ABOUTME: Requests format changes between tracks, retries partial accepts and supports skipping
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/source"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
)

const defaultRetryBackoff = 2 * time.Millisecond

// dsdWordFrames is the smallest DSD unit the ring accepts
const dsdWordFrames = 32

// Opener creates a source for a playlist entry
type Opener func(pathOrURL string) (source.Source, error)

// ProducerOption configures a Producer
type ProducerOption func(*Producer)

// WithTrackHook registers a callback invoked when a track starts
func WithTrackHook(fn func(index int, md source.Metadata, f audio.Format)) ProducerOption {
	return func(p *Producer) { p.onTrack = fn }
}

// WithRetryBackoff sets the wait between attempts when the ring is full
func WithRetryBackoff(d time.Duration) ProducerOption {
	return func(p *Producer) { p.backoff = d }
}

// Producer reads sources sequentially and pushes them through a bridge
type Producer struct {
	bridge  *Bridge
	backoff time.Duration
	onTrack func(int, source.Metadata, audio.Format)

	skip        atomic.Bool
	discardNext bool
}

// NewProducer creates a producer for b
func NewProducer(b *Bridge, opts ...ProducerOption) *Producer {
	p := &Producer{bridge: b, backoff: defaultRetryBackoff}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Skip abandons the current track. Audio already buffered for it is
// dropped when the next track starts.
func (p *Producer) Skip() {
	p.skip.Store(true)
}

// Run plays tracks in order. Tracks that fail to open or stream are logged
// and skipped; Run returns when the list is exhausted or ctx is done.
func (p *Producer) Run(ctx context.Context, tracks []string, open Opener) error {
	for i, path := range tracks {
		if err := ctx.Err(); err != nil {
			return err
		}
		src, err := open(path)
		if err != nil {
			logger.Errorf(ctx, "open %s: %v", path, err)
			errmon.ObserveErrorCtx(ctx, err)
			continue
		}

		md := src.Metadata()
		logger.Infof(ctx, "track %d/%d: %s - %s (%s)", i+1, len(tracks), md.Artist, md.Title, src.Format())
		if p.onTrack != nil {
			p.onTrack(i, md, src.Format())
		}

		err = p.PlaySource(ctx, src)
		if cerr := src.Close(); cerr != nil {
			logger.Warnf(ctx, "close %s: %v", path, cerr)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			logger.Errorf(ctx, "play %s: %v", path, err)
			errmon.ObserveErrorCtx(ctx, err)
		}
	}
	return nil
}

// PlaySource streams src until it ends or is skipped. The bridge format is
// changed only when src differs from what is streaming or after a skip.
func (p *Producer) PlaySource(ctx context.Context, src source.Source) error {
	f := src.Format()
	if p.discardNext || !f.Equal(p.bridge.Format()) {
		var opts []transition.RequestOption
		if p.discardNext {
			opts = append(opts, transition.Discard())
		}
		if _, err := p.bridge.SetFormat(ctx, f, opts...); err != nil {
			return fmt.Errorf("set format %s: %w", f, err)
		}
	}
	p.discardNext = false
	p.skip.Store(false)

	frames := p.bridge.ChunkFrames(f)
	planes := make([][]byte, f.Channels)
	var blk audio.Block
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.skip.Swap(false) {
			logger.Infof(ctx, "skipping %s", src.Metadata().Title)
			p.discardNext = true
			return nil
		}
		n, err := src.Read(&blk, frames)
		if n > 0 {
			if perr := p.push(ctx, f, blk, planes); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", src.Metadata().Title, err)
		}
	}
}

// push retries until the whole block is accepted. A DSD tail shorter than
// one word is dropped.
func (p *Producer) push(ctx context.Context, f audio.Format, blk audio.Block, planes [][]byte) error {
	total := blk.Frames(f)
	done := 0
	for {
		done += p.bridge.Push(blk.Skip(f, done, planes))
		remaining := total - done
		if remaining <= 0 || (f.IsDSD() && remaining < dsdWordFrames) {
			return nil
		}
		if p.skip.Load() {
			return nil
		}
		t := time.NewTimer(p.backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// ABOUTME: Local monitor transport playing bridge output through the default audio device
// ABOUTME: PCM only; oto pulls at the device rate and the reader resamples the stream
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/facebookincubator/go-belt/tool/logger"

	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
)

// Config configures the monitor
type Config struct {
	DeviceRate int           // output rate of the audio device
	FrameSize  int           // wire bytes pulled per device read at most
	BufferSize time.Duration // device buffer, zero for the platform default
}

// oto allows a single context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedContext(rate int, buffer time.Duration) (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: deviceChannels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", otoErr)
	}
	return otoCtx, nil
}

// Transport plays the stream locally. The device pulls on its own clock,
// so there is no pacing goroutine.
type Transport struct {
	cfg    Config
	reader *reader

	mu     sync.Mutex
	player *oto.Player
}

var _ transport.Transport = (*Transport)(nil)

// New creates a monitor transport
func New(cfg Config) *Transport {
	if cfg.DeviceRate <= 0 {
		cfg.DeviceRate = 48000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 4096
	}
	return &Transport{cfg: cfg, reader: newReader(cfg.FrameSize)}
}

func (t *Transport) Attach(p transport.Puller) {
	t.reader.mu.Lock()
	defer t.reader.mu.Unlock()
	t.reader.puller = p
}

func (t *Transport) FrameSize() int  { return t.cfg.FrameSize }
func (t *Transport) HeaderSize() int { return 0 }

// RequestSilence is a no-op: the device keeps pulling until Close, so
// queued silence plays out on its own.
func (t *Transport) RequestSilence(int) {}

func checkFormat(f audio.Format) error {
	if f.IsDSD() {
		return fmt.Errorf("%w: monitor plays PCM only, got %s", audio.ErrUnsupportedFormat, f)
	}
	return nil
}

func (t *Transport) Open(ctx context.Context, f audio.Format) error {
	if err := checkFormat(f); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	octx, err := sharedContext(t.cfg.DeviceRate, t.cfg.BufferSize)
	if err != nil {
		return err
	}
	t.reader.configure(f, t.cfg.DeviceRate)
	if t.player == nil {
		t.player = octx.NewPlayer(t.reader)
	}
	t.player.Play()
	logger.Infof(ctx, "monitor playing %s at %dHz", f, t.cfg.DeviceRate)
	return nil
}

func (t *Transport) Reopen(ctx context.Context, f audio.Format) error {
	if err := checkFormat(f); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.player == nil {
		return transport.ErrNotOpen
	}
	t.reader.configure(f, t.cfg.DeviceRate)
	logger.Infof(ctx, "monitor switched to %s", f)
	return nil
}

func (t *Transport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reader.stop()
	if t.player != nil {
		t.player.Pause()
	}
	return nil
}

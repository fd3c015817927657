// ABOUTME: Runs the bridge: config, transport, producer, metrics server and TUI
// ABOUTME: Components share one errgroup context and the bridge is closed on the way out
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/experimental/errmon"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-bridge/internal/discovery"
	"github.com/Resonate-Protocol/resonate-bridge/internal/ui"
	"github.com/Resonate-Protocol/resonate-bridge/internal/version"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/audio"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/bridge"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/source"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transition"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/monitor"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/null"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/websocket"
)

const (
	closeTimeout  = 5 * time.Second
	statsInterval = 500 * time.Millisecond
)

// loadConfig reads the config file if one was given and applies flag overrides
func loadConfig(cmd *cobra.Command) (bridge.Config, error) {
	cfg := bridge.DefaultConfig()
	if flags.ConfigPath != "" {
		var err error
		if cfg, err = bridge.LoadConfig(flags.ConfigPath); err != nil {
			return cfg, err
		}
	}
	if cmd.Flags().Changed("target") {
		cfg.Transport.URL = flags.Target
	}
	if cmd.Flags().Changed("transport") {
		cfg.Transport.Kind = flags.Transport
	}
	if cmd.Flags().Changed("frame-size") {
		cfg.Transport.FrameSize = flags.FrameSize
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func bridgeName() string {
	if flags.Name != "" {
		return flags.Name
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return hostname + "-bridge"
}

func newTransport(cfg bridge.Config) transport.Transport {
	switch cfg.Transport.Kind {
	case bridge.TransportOto:
		return monitor.New(monitor.Config{FrameSize: cfg.Transport.FrameSize})
	case bridge.TransportNull:
		return null.New(cfg.Transport.FrameSize)
	default:
		return websocket.New(websocket.Config{
			URL:          cfg.Transport.URL,
			FrameSize:    cfg.Transport.FrameSize,
			WriteTimeout: cfg.Transport.WriteTimeout,
			Layout:       cfg.Layout,
			Hello: protocol.BridgeHello{
				Name:    bridgeName(),
				Version: protocol.Version,
				DeviceInfo: &protocol.DeviceInfo{
					ProductName:     version.Product,
					Manufacturer:    version.Manufacturer,
					SoftwareVersion: version.Version,
				},
			},
		})
	}
}

func discoverTarget(ctx context.Context) (string, error) {
	logger.Infof(ctx, "browsing for a target for up to %s", flags.DiscoverTimeout)
	ctx, cancel := context.WithTimeout(ctx, flags.DiscoverTimeout)
	defer cancel()
	target, err := discovery.NewManager(discovery.Config{}).FindTarget(ctx)
	if err != nil {
		return "", err
	}
	logger.Infof(ctx, "discovered target %s at %s", target.Name, target.URL())
	return target.URL(), nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if flags.Discover && cfg.Transport.Kind == bridge.TransportWebsocket {
		if cfg.Transport.URL, err = discoverTarget(ctx); err != nil {
			return err
		}
	}

	tracks := args
	if len(tracks) == 0 {
		tracks = []string{"tone:440"}
	}

	var (
		program  *tea.Program
		controls *ui.Controls
	)
	if flags.useTUI() {
		controls = ui.NewControls()
		program = ui.New(controls)
	}
	send := func(msg ui.StatusMsg) {
		if program != nil {
			program.Send(msg)
		}
	}

	b := bridge.New(cfg, newTransport(cfg), transition.WithStateHook(func(s transition.State) {
		logger.Debugf(ctx, "transition state: %s", s)
	}))
	logger.Infof(ctx, "bridge %s streaming to %s over %s", b.ID(), cfg.Transport.URL, cfg.Transport.Kind)

	producer := bridge.NewProducer(b, bridge.WithTrackHook(func(i int, md source.Metadata, f audio.Format) {
		send(ui.StatusMsg{Track: &ui.TrackInfo{Index: i, Title: md.Title, Artist: md.Artist, Album: md.Album}})
	}))

	g, gctx := errgroup.WithContext(ctx)
	runCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		for {
			err := producer.Run(runCtx, tracks, source.Open)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			if !flags.Repeat {
				logger.Infof(ctx, "track list finished")
				return nil
			}
		}
	})

	if flags.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(runCtx, flags.MetricsAddr, b)
		})
	}

	g.Go(func() error {
		return statsLoop(runCtx, b, send)
	})

	if program != nil {
		send(ui.StatusMsg{Target: cfg.Transport.URL})
		g.Go(func() error {
			defer stop()
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("tui: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			for {
				select {
				case <-runCtx.Done():
					program.Quit()
					return nil
				case <-controls.Skip:
					producer.Skip()
				case <-controls.Quit:
					stop()
				}
			}
		})
	}

	runErr := g.Wait()

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer closeCancel()
	if err := b.Close(closeCtx); err != nil {
		logger.Errorf(ctx, "close bridge: %v", err)
		errmon.ObserveErrorCtx(ctx, err)
		runErr = errors.Join(runErr, err)
	}
	st := b.Stats()
	logger.Infof(ctx, "bridge stopped: %s pulled, %d underruns, %d/%d/%d quick/bounded/full transitions",
		humanize.IBytes(st.BytesPulled), st.Underruns, st.QuickResumes, st.BoundedReopens, st.FullReopens)
	return runErr
}

func serveMetrics(ctx context.Context, addr string, b *bridge.Bridge) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", b.Metrics().Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof(ctx, "serving metrics at http://%s/metrics", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// statsLoop feeds the TUI, or the log when there is no TUI
func statsLoop(ctx context.Context, b *bridge.Bridge, send func(ui.StatusMsg)) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	runtimeTicker := time.NewTicker(2 * time.Second)
	defer runtimeTicker.Stop()

	var lastUnderruns uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-runtimeTicker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			send(ui.StatusMsg{Goroutines: runtime.NumGoroutine(), MemAlloc: m.Alloc})
		case <-ticker.C:
			st := b.Stats()
			send(ui.StatusMsg{Stats: &st})
			if st.Underruns != lastUnderruns {
				logger.Warnf(ctx, "%d underruns (%s buffered of %s)",
					st.Underruns-lastUnderruns, humanize.IBytes(uint64(st.Buffered)), humanize.IBytes(uint64(st.Capacity)))
				lastUnderruns = st.Underruns
			}
		}
	}
}

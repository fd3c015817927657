// ABOUTME: Reference bridge target: accepts websocket streams and reports what arrives
// ABOUTME: Advertises itself over mDNS and logs per-format frame and byte counts
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Resonate-Protocol/resonate-bridge/internal/discovery"
	"github.com/Resonate-Protocol/resonate-bridge/internal/version"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/protocol"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/transport/websocket"
)

var (
	listenAddr    string
	path          string
	name          string
	topology      string
	noMDNS        bool
	statsInterval time.Duration
	loggerLevel   = logger.LevelInfo

	root = &cobra.Command{
		Use:     "bridge-target",
		Short:   "Accept bridge streams and report what arrives",
		Version: version.Version,
		Args:    cobra.NoArgs,
		RunE:    run,

		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	f := root.Flags()
	f.StringVar(&listenAddr, "listen", ":8928", "address to listen on")
	f.StringVar(&path, "path", discovery.DefaultPath, "websocket path")
	f.StringVar(&name, "name", "", "target name (default: <hostname>-target)")
	f.StringVar(&topology, "topology", "tolerant", "reopen topology advertised to bridges: tolerant or strict")
	f.BoolVar(&noMDNS, "no-mdns", false, "do not advertise via mDNS")
	f.DurationVar(&statsInterval, "stats-interval", 10*time.Second, "how often to log receive counters")
	f.Var(&loggerLevel, "log-level", "logging level")
}

func run(cmd *cobra.Command, args []string) error {
	ll := xlogrus.DefaultLogrusLogger()
	ctx := logger.CtxWithLogger(cmd.Context(), xlogrus.New(ll).WithLevel(loggerLevel))
	ctx = belt.WithField(ctx, "program", "bridge-target")
	defer belt.Flush(ctx)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = hostname + "-target"
	}

	receiver := websocket.NewReceiver(name,
		websocket.WithTopology(topology),
		websocket.WithStreamHook(func(ev websocket.StreamEvent) {
			if ev.Type == protocol.TypeStreamEnd {
				logger.Infof(ctx, "%s from bridge %s: %s after %d frames", ev.Type, ev.BridgeID, ev.End.Reason, ev.End.Frames)
				return
			}
			logger.Infof(ctx, "%s from bridge %s: %s", ev.Type, ev.BridgeID, ev.Start.Format)
		}),
	)

	mux := http.NewServeMux()
	mux.Handle(path, receiver)

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	port := ln.Addr().(*net.TCPAddr).Port
	logger.Infof(ctx, "target %q listening on %s%s", name, ln.Addr(), path)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})
	if !noMDNS {
		g.Go(func() error {
			mgr := discovery.NewManager(discovery.Config{ServiceName: name, Port: port, Path: path})
			if err := mgr.Advertise(gctx); err != nil {
				logger.Warnf(ctx, "mdns advertise: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		t := time.NewTicker(statsInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				logStats(ctx, receiver.Stats())
			}
		}
	})

	err = g.Wait()
	logStats(ctx, receiver.Stats())
	return err
}

func logStats(ctx context.Context, s websocket.ReceiverStats) {
	logger.Infof(ctx, "%d sessions, %d streams, %d frames, %s, %d gaps, %d misaligned",
		s.Sessions, s.Streams, s.Frames, humanize.IBytes(s.Bytes), s.Gaps, s.Misaligned)
	formats := make([]string, 0, len(s.ByFormat))
	for f := range s.ByFormat {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	for _, f := range formats {
		fs := s.ByFormat[f]
		logger.Debugf(ctx, "  %s: %d frames, %s", f, fs.Frames, humanize.IBytes(fs.Bytes))
	}
}

func main() {
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

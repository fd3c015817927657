// ABOUTME: Entry point for the Resonate bridge
// ABOUTME: Defines the cobra command tree and its flags
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/spf13/cobra"

	"github.com/Resonate-Protocol/resonate-bridge/internal/version"
	"github.com/Resonate-Protocol/resonate-bridge/pkg/bridge"
)

// Flags holds the command line options
type Flags struct {
	ConfigPath      string
	Target          string
	Transport       string
	FrameSize       int
	LoggerLevel     logger.Level
	LogFile         string
	TUI             bool
	NoTUI           bool
	MetricsAddr     string
	Name            string
	Discover        bool
	DiscoverTimeout time.Duration
	Repeat          bool
}

var (
	flags = Flags{LoggerLevel: logger.LevelInfo}

	closeLogFile func()

	Root = &cobra.Command{
		Use:     "resonate-bridge [track...]",
		Short:   "Stream audio files to a Resonate target through a format-switching bridge",
		Long:    "Plays the given files, URLs, tone:<hz> or dsd:<multiplier> generators in order.\nWith no tracks a 440 Hz test tone is played.",
		Version: version.Version,
		Args:    cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			ctx, closeFn := getContext(cmd.Context(), flags)
			closeLogFile = closeFn
			cmd.SetContext(ctx)
			logger.Debugf(ctx, "log-level: %v", flags.LoggerLevel)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			logger.Debug(ctx, "end")
			belt.Flush(ctx)
			if closeLogFile != nil {
				closeLogFile()
			}
		},
		RunE:          runBridge,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	GenerateConfig = &cobra.Command{
		Use:   "generate-config <path>",
		Short: "Write the default configuration as YAML",
		Args:  cobra.ExactArgs(1),
		RunE:  generateConfig,
	}
)

func init() {
	Root.AddCommand(GenerateConfig)

	pf := Root.PersistentFlags()
	pf.Var(&flags.LoggerLevel, "log-level", "logging level (trace, debug, info, warning, error)")
	pf.StringVar(&flags.LogFile, "log-file", "resonate-bridge.log", "log file path, empty to disable")

	f := Root.Flags()
	f.StringVar(&flags.ConfigPath, "config", "", "YAML configuration file")
	f.StringVar(&flags.Target, "target", "", "websocket URL of the target (overrides the config)")
	f.StringVar(&flags.Transport, "transport", "", fmt.Sprintf("transport kind: %s, %s or %s", bridge.TransportWebsocket, bridge.TransportOto, bridge.TransportNull))
	f.IntVar(&flags.FrameSize, "frame-size", 0, "transport frame size in bytes including the header")
	f.BoolVar(&flags.TUI, "tui", true, "show the status TUI")
	f.BoolVar(&flags.NoTUI, "no-tui", false, "disable the TUI and stream logs to stderr")
	f.StringVar(&flags.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&flags.Name, "name", "", "bridge name sent to the target (default: <hostname>-bridge)")
	f.BoolVar(&flags.Discover, "discover", false, "find the target via mDNS instead of the configured URL")
	f.DurationVar(&flags.DiscoverTimeout, "discover-timeout", 10*time.Second, "how long to browse for a target")
	f.BoolVar(&flags.Repeat, "repeat", false, "loop the track list until interrupted")
}

func generateConfig(cmd *cobra.Command, args []string) error {
	if err := bridge.SaveConfig(args[0], bridge.DefaultConfig()); err != nil {
		return err
	}
	logger.Infof(cmd.Context(), "wrote default configuration to %s", args[0])
	return nil
}

func main() {
	if err := Root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

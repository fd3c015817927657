// ABOUTME: Logger setup for the bridge process
// ABOUTME: Builds the go-belt/logrus logger, its output files and base context fields
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	xlogrus "github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonate-bridge/internal/version"
)

func (f Flags) useTUI() bool {
	return f.TUI && !f.NoTUI
}

// getContext returns ctx carrying the process logger. With the TUI up logs
// go to the log file only; otherwise they also go to stderr.
func getContext(ctx context.Context, flags Flags) (context.Context, func()) {
	ll := xlogrus.DefaultLogrusLogger()
	l := xlogrus.New(ll).WithLevel(flags.LoggerLevel)

	var outputs []io.Writer
	if !flags.useTUI() {
		outputs = append(outputs, os.Stderr)
	}
	closeFile := func() {}
	if flags.LogFile != "" {
		f, err := os.OpenFile(flags.LogFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open log file '%s': %v\n", flags.LogFile, err)
		} else {
			outputs = append(outputs, f)
			closeFile = func() { _ = f.Close() }
		}
	}
	switch len(outputs) {
	case 0:
		ll.SetOutput(io.Discard)
	case 1:
		ll.SetOutput(outputs[0])
	default:
		ll.SetOutput(io.MultiWriter(outputs...))
	}
	if formatter, ok := ll.Formatter.(*logrus.TextFormatter); ok && !flags.useTUI() {
		formatter.ForceColors = flags.LogFile == ""
	}
	logrus.SetLevel(xlogrus.LevelToLogrus(l.Level()))

	ctx = logger.CtxWithLogger(ctx, l)
	ctx = belt.WithField(ctx, "program", "resonate-bridge")
	ctx = belt.WithField(ctx, "version", version.Version)
	if hostname, err := os.Hostname(); err == nil {
		ctx = belt.WithField(ctx, "hostname", hostname)
	}

	l = logger.FromCtx(ctx)
	logger.Default = func() logger.Logger {
		return l
	}
	return ctx, closeFile
}

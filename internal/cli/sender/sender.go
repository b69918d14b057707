// Package sender implements the send subcommand: it connects to a
// receiver, runs one rate-paced file transfer and exits when the
// connection closes.
package sender

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pacewire/pacewire/internal/config"
	"github.com/pacewire/pacewire/internal/logging"
	"github.com/pacewire/pacewire/internal/telemetry"
	"github.com/pacewire/pacewire/internal/transfer"
	"github.com/pacewire/pacewire/internal/transport"
)

// Run executes the send subcommand and returns a process exit code.
func Run(args []string) int {
	cfg, err := config.ParseSendConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger := logging.New("pacewire-send", cfg.LogLevel)

	mode, err := transfer.ParseMode(cfg.Mode)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if cfg.Congestion != "" {
		logger.Info("congestion control requested", "cca", cfg.Congestion)
	}

	sink, err := telemetry.Open(cfg.TelemetryFile, cfg.FlushEvery)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		return 1
	}
	defer sink.Close()

	session, err := transfer.NewSender(transfer.SenderConfig{
		Path:        cfg.InputFile,
		Mode:        mode,
		ChunkSize:   cfg.ChunkBytes,
		BytesPerSec: cfg.BytesPerSec(),
	}, sink, logger)
	if err != nil {
		logger.Error("sender setup failed", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := transport.DialQUIC(ctx, cfg.ConnectAddr, transport.QUICOptions{
		IdleTimeout:  cfg.IdleTimeout,
		ConnWindow:   cfg.ConnWindow,
		StreamWindow: cfg.StreamWindow,
		KeyLogFile:   cfg.KeyLogFile,
		QLogDir:      cfg.QLogDir,
	}, logger)
	if err != nil {
		logger.Error("connect failed", "addr", cfg.ConnectAddr, "error", err)
		return 1
	}

	loop := transport.NewLoop(conn, session, tickFor(session.Interval()))
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("event loop failed", "error", err)
		return 1
	}
	return 0
}

// tickFor derives the loop tick from the pacing interval so the sender
// never oversleeps a deadline by more than half an interval.
func tickFor(interval time.Duration) time.Duration {
	tick := interval / 2
	if tick < 200*time.Microsecond {
		tick = 200 * time.Microsecond
	}
	if tick > 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	return tick
}

// Package receiver implements the recv subcommand: it listens for
// sender connections and reassembles each transfer into the output
// directory until interrupted.
package receiver

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

// receiverTick bounds how long a quiet receiver loop sleeps between
// timeout callbacks; the receiver has no pacing of its own.
const receiverTick = 100 * time.Millisecond

// Run executes the recv subcommand and returns a process exit code.
func Run(args []string) int {
	cfg, err := config.ParseRecvConfig(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	logger := logging.New("pacewire-recv", cfg.LogLevel)

	if cfg.Congestion != "" {
		logger.Info("congestion control requested", "cca", cfg.Congestion)
	}

	sink, err := telemetry.Open(cfg.TelemetryFile, cfg.FlushEvery)
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		return 1
	}
	defer sink.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := transport.ListenQUIC(cfg.ListenAddr, transport.QUICOptions{
		IdleTimeout:  cfg.IdleTimeout,
		ConnWindow:   cfg.ConnWindow,
		StreamWindow: cfg.StreamWindow,
		KeyLogFile:   cfg.KeyLogFile,
		QLogDir:      cfg.QLogDir,
		CertFile:     cfg.CertFile,
		KeyFile:      cfg.KeyFile,
	}, logger)
	if err != nil {
		logger.Error("listen failed", "addr", cfg.ListenAddr, "error", err)
		return 1
	}
	defer listener.Close()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return 0
			}
			logger.Error("accept failed", "error", err)
			continue
		}

		session, err := transfer.NewReceiver(cfg.OutDir, sink, logger)
		if err != nil {
			logger.Error("receiver setup failed", "error", err)
			conn.Close(false, 1, "")
			continue
		}
		// One event loop per connection; session state is owned by it.
		go func() {
			loop := transport.NewLoop(conn, session, receiverTick)
			if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("event loop failed", "error", err)
			}
		}()
	}
}

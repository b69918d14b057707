// Package config parses the configuration surface of the pacewire
// binaries. Values come from flags with environment-variable fallback
// (PACEWIRE_* names); flags take precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// ErrUnknownAlgorithm indicates an unrecognized congestion-control
// algorithm name. It is surfaced before any connection activity.
var ErrUnknownAlgorithm = errors.New("unknown congestion control algorithm")

// knownCongestion lists the accepted congestion-control algorithm names.
var knownCongestion = map[string]bool{
	"cubic": true,
	"reno":  true,
	"bbr":   true,
}

// Common holds the options shared by sender and receiver.
type Common struct {
	LogLevel      string
	TelemetryFile string        // CSV path, empty disables telemetry
	FlushEvery    int           // telemetry flush cadence in records
	Congestion    string        // congestion control algorithm, empty keeps transport default
	IdleTimeout   time.Duration // connection idle timeout
	ConnWindow    int           // connection receive window in bytes, 0 keeps the default
	StreamWindow  int           // per-stream receive window in bytes, 0 keeps the default
	KeyLogFile    string        // TLS key log path, empty disables
	QLogDir       string        // protocol (qlog) output directory, empty disables
}

// SendConfig configures the send subcommand.
type SendConfig struct {
	Common
	ConnectAddr string
	InputFile   string
	Mode        string  // "datagram" or "stream"
	ChunkBytes  int     // chunk payload size
	RateMbps    float64 // target send rate in Mbit/s
}

// BytesPerSec converts the configured rate to bytes per second.
func (c SendConfig) BytesPerSec() int {
	return int(c.RateMbps * 1e6 / 8)
}

// RecvConfig configures the recv subcommand.
type RecvConfig struct {
	Common
	ListenAddr string
	OutDir     string
	CertFile   string
	KeyFile    string
}

// ParseSendConfig parses sender configuration from args.
func ParseSendConfig(args []string) (SendConfig, error) {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	return parseSendConfigWithFlagSet(fs, args)
}

func parseSendConfigWithFlagSet(fs *flag.FlagSet, args []string) (SendConfig, error) {
	cfg := SendConfig{
		Common:     commonDefaults(),
		Mode:       "datagram",
		ChunkBytes: 1200,
		RateMbps:   10.0,
	}
	if v := os.Getenv("PACEWIRE_CONNECT"); v != "" {
		cfg.ConnectAddr = v
	}

	fs.StringVar(&cfg.ConnectAddr, "connect", cfg.ConnectAddr, "server address to connect to")
	fs.StringVar(&cfg.InputFile, "in", cfg.InputFile, "file to send")
	fs.StringVar(&cfg.Mode, "mode", cfg.Mode, "channel kind: datagram or stream")
	fs.IntVar(&cfg.ChunkBytes, "chunk-bytes", cfg.ChunkBytes, "chunk payload size in bytes")
	fs.Float64Var(&cfg.RateMbps, "rate-mbps", cfg.RateMbps, "target send rate in Mbit/s")
	commonFlags(fs, &cfg.Common)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.ConnectAddr == "" {
		return cfg, errors.New("missing --connect address")
	}
	if cfg.InputFile == "" {
		return cfg, errors.New("missing --in file")
	}
	if cfg.ChunkBytes <= 0 {
		return cfg, fmt.Errorf("invalid --chunk-bytes %d", cfg.ChunkBytes)
	}
	if cfg.RateMbps <= 0 {
		return cfg, fmt.Errorf("invalid --rate-mbps %g", cfg.RateMbps)
	}
	if err := validateCommon(cfg.Common); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseRecvConfig parses receiver configuration from args.
func ParseRecvConfig(args []string) (RecvConfig, error) {
	fs := flag.NewFlagSet("recv", flag.ContinueOnError)
	return parseRecvConfigWithFlagSet(fs, args)
}

func parseRecvConfigWithFlagSet(fs *flag.FlagSet, args []string) (RecvConfig, error) {
	cfg := RecvConfig{
		Common:     commonDefaults(),
		ListenAddr: "0.0.0.0:4433",
		OutDir:     "results/recv",
	}
	if v := os.Getenv("PACEWIRE_LISTEN"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("PACEWIRE_OUT_DIR"); v != "" {
		cfg.OutDir = v
	}

	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "address to listen on")
	fs.StringVar(&cfg.OutDir, "out-dir", cfg.OutDir, "directory to write received files")
	fs.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate (PEM); self-signed when empty")
	fs.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS private key (PEM)")
	commonFlags(fs, &cfg.Common)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if cfg.OutDir == "" {
		return cfg, errors.New("missing --out-dir")
	}
	if err := validateCommon(cfg.Common); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func commonDefaults() Common {
	c := Common{
		LogLevel:    "info",
		FlushEvery:  200,
		IdleTimeout: 5 * time.Second,
	}
	if v := os.Getenv("PACEWIRE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PACEWIRE_TELEMETRY_FILE"); v != "" {
		c.TelemetryFile = v
	}
	if v := os.Getenv("PACEWIRE_FLUSH_EVERY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.FlushEvery = n
		}
	}
	if v := os.Getenv("PACEWIRE_CCA"); v != "" {
		c.Congestion = v
	}
	return c
}

func commonFlags(fs *flag.FlagSet, c *Common) {
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.TelemetryFile, "telemetry-file", c.TelemetryFile, "CSV path for per-chunk telemetry (optional)")
	fs.IntVar(&c.FlushEvery, "flush-every", c.FlushEvery, "telemetry flush cadence in records")
	fs.StringVar(&c.Congestion, "cca", c.Congestion, "congestion control algorithm (cubic, reno, bbr)")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "connection idle timeout")
	fs.IntVar(&c.ConnWindow, "conn-window", c.ConnWindow, "connection receive window in bytes (0 = default)")
	fs.IntVar(&c.StreamWindow, "stream-window", c.StreamWindow, "per-stream receive window in bytes (0 = default)")
	fs.StringVar(&c.KeyLogFile, "keylog-file", c.KeyLogFile, "TLS key log path (optional)")
	fs.StringVar(&c.QLogDir, "qlog-dir", c.QLogDir, "qlog output directory (optional)")
}

func validateCommon(c Common) error {
	if c.FlushEvery <= 0 {
		return fmt.Errorf("invalid --flush-every %d", c.FlushEvery)
	}
	if c.Congestion != "" && !knownCongestion[c.Congestion] {
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Congestion)
	}
	return nil
}

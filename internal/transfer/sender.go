package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pacewire/pacewire/internal/progress"
	"github.com/pacewire/pacewire/internal/telemetry"
	"github.com/pacewire/pacewire/internal/transport"
	"github.com/pacewire/pacewire/pkg/wire"
)

const progressLogEvery = 1024 * 1024 // bytes

// SenderConfig parameterizes a sender session.
type SenderConfig struct {
	Path        string
	Mode        Mode
	ChunkSize   int
	BytesPerSec int
}

// Sender is the rate-paced sending session for one file. It implements
// transport.Handler; all methods run on the connection's event loop.
//
// Pacing is open loop: the chunk interval is chunkSize/rate and the next
// deadline always advances by exactly that increment. A stalled loop
// therefore catches up by sending a burst on resumption instead of
// skipping work, bounded only by the file size.
type Sender struct {
	logger *slog.Logger
	sink   *telemetry.Sink
	meter  *progress.Meter

	path       string
	file       *os.File
	totalSize  uint64
	sentBytes  uint64
	transferID uint64
	mode       Mode

	chunkSize    int
	interval     time.Duration
	nextDeadline time.Time

	streamID   uint64
	haveStream bool

	closeRequested bool
	lastProgress   uint64
}

// NewSender opens the source file and prepares a session. The transfer
// identity is derived from the path and file size and stays fixed for
// the whole run.
func NewSender(cfg SenderConfig, sink *telemetry.Sink, logger *slog.Logger) (*Sender, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", cfg.ChunkSize)
	}
	if cfg.BytesPerSec <= 0 {
		return nil, fmt.Errorf("invalid rate %d bytes/sec", cfg.BytesPerSec)
	}
	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat input file: %w", err)
	}
	total := uint64(info.Size())

	s := &Sender{
		logger:     logger,
		sink:       sink,
		meter:      progress.NewMeter(),
		path:       cfg.Path,
		file:       f,
		totalSize:  total,
		transferID: wire.TransferID(cfg.Path, total),
		mode:       cfg.Mode,
		chunkSize:  cfg.ChunkSize,
		interval:   time.Duration(float64(cfg.ChunkSize) / float64(cfg.BytesPerSec) * float64(time.Second)),
	}
	logger.Info("sender session created",
		"file", cfg.Path,
		"total_bytes", total,
		"transfer_id", fmt.Sprintf("%016x", s.transferID),
		"mode", cfg.Mode.String(),
		"chunk_bytes", cfg.ChunkSize,
		"rate_bytes_per_sec", cfg.BytesPerSec,
		"pacing_interval", s.interval)
	return s, nil
}

// TransferID returns the session's transfer identity.
func (s *Sender) TransferID() uint64 { return s.transferID }

// SentBytes returns how many bytes have been submitted so far.
func (s *Sender) SentBytes() uint64 { return s.sentBytes }

// Interval returns the pacing interval between chunks.
func (s *Sender) Interval() time.Duration { return s.interval }

// OnEstablished starts the transfer: pacing opens at the current
// instant, and stream mode obtains its stream identifier once.
func (s *Sender) OnEstablished(c transport.Connection) {
	s.logger.Info("connection established, starting transfer")
	if s.mode == ModeStream && !s.haveStream {
		id, err := c.OpenStream(3)
		if err != nil {
			s.logger.Error("open stream failed", "error", err)
		} else {
			s.streamID = id
			s.haveStream = true
		}
	}
	s.meter.Start(int64(s.totalSize))
	s.nextDeadline = time.Now()
	s.Advance(c)
}

// Advance is the core scheduling step: while bytes remain and the
// deadline has passed, read the next chunk and submit it. A would-block
// outcome stops the loop without advancing state; it is retried on the
// next event. Any other transport or file error abandons this tick.
func (s *Sender) Advance(c transport.Connection) {
	if s.sentBytes >= s.totalSize {
		s.requestClose(c)
		return
	}

	for s.sentBytes < s.totalSize && !time.Now().Before(s.nextDeadline) {
		remaining := s.totalSize - s.sentBytes
		payloadSize := s.chunkSize
		if uint64(payloadSize) > remaining {
			payloadSize = int(remaining)
		}
		off := s.sentBytes
		last := off+uint64(payloadSize) == s.totalSize

		var err error
		switch s.mode {
		case ModeDatagram:
			err = s.sendChunk(c, off, payloadSize, last)
		case ModeStream:
			err = s.sendSegment(c, off, payloadSize, last)
		}
		if errors.Is(err, transport.ErrAgain) {
			return
		}
		if err != nil {
			s.logger.Error("send failed", "offset", off, "error", err)
			break
		}

		s.sentBytes += uint64(payloadSize)
		s.nextDeadline = s.nextDeadline.Add(s.interval)
		s.meter.Add(payloadSize)
		s.logProgress()
	}

	if s.sentBytes >= s.totalSize {
		s.requestClose(c)
	}
}

// sendChunk frames one datagram chunk and submits it.
func (s *Sender) sendChunk(c transport.Connection, off uint64, payloadSize int, last bool) error {
	hdr := wire.Header{
		TransferID: s.transferID,
		TotalSize:  s.totalSize,
		Offset:     off,
		Length:     uint32(payloadSize),
		Timestamp:  monotonicNS(),
	}
	if last {
		hdr.Flags = wire.FlagLast
	}
	packet := hdr.AppendTo(make([]byte, 0, wire.HeaderSize+payloadSize))
	packet = packet[:wire.HeaderSize+payloadSize]
	if _, err := s.file.ReadAt(packet[wire.HeaderSize:], int64(off)); err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	if err := c.SendDatagram(packet, len(packet), false); err != nil {
		return err
	}
	s.logger.Debug("chunk sent",
		"offset", off, "len", payloadSize, "last", last, "send_ts_ns", hdr.Timestamp)
	s.sink.Record(telemetry.Record{
		Kind:       telemetry.KindSend,
		Timestamp:  hdr.Timestamp,
		TransferID: s.transferID,
		Offset:     off,
		Size:       payloadSize,
		Mode:       telemetry.ModeDatagram,
	})
	return nil
}

// sendSegment submits one raw segment on the transfer stream; fin marks
// the final segment.
func (s *Sender) sendSegment(c transport.Connection, off uint64, payloadSize int, last bool) error {
	if !s.haveStream {
		return errors.New("no stream id")
	}
	buf := make([]byte, payloadSize)
	if _, err := s.file.ReadAt(buf, int64(off)); err != nil {
		return fmt.Errorf("read at %d: %w", off, err)
	}
	if _, err := c.WriteStream(s.streamID, buf, last); err != nil {
		return err
	}
	s.sink.Record(telemetry.Record{
		Kind:       telemetry.KindSend,
		Timestamp:  monotonicNS(),
		TransferID: s.transferID,
		Offset:     off,
		Size:       payloadSize,
		Mode:       telemetry.ModeStream,
	})
	return nil
}

func (s *Sender) logProgress() {
	if s.sentBytes/progressLogEvery == s.lastProgress/progressLogEvery && s.sentBytes != s.totalSize {
		s.lastProgress = s.sentBytes
		return
	}
	s.lastProgress = s.sentBytes
	stats := s.meter.Snapshot()
	s.logger.Info("progress",
		"sent", progress.FormatBytes(int64(s.sentBytes)),
		"total", progress.FormatBytes(int64(s.totalSize)),
		"percent", fmt.Sprintf("%.1f", stats.Percent),
		"rate", progress.FormatRate(stats.RateBps*8))
}

func (s *Sender) requestClose(c transport.Connection) {
	if s.closeRequested {
		return
	}
	s.closeRequested = true
	s.logger.Info("transfer complete, closing connection", "sent_bytes", s.sentBytes)
	c.Close(true, 0, "ok")
}

// OnTimeout keeps the pacing loop moving while the transport is quiet.
func (s *Sender) OnTimeout(c transport.Connection) {
	s.Advance(c)
}

// OnStreamWritable resumes a stream-mode transfer once flow control
// credit returns.
func (s *Sender) OnStreamWritable(c transport.Connection, id uint64) {
	s.Advance(c)
}

// OnDatagramOutcome routes all delivery outcomes to the same action.
// Acked, dropped, expired and lost are treated identically: each is only
// a cue to keep filling the pipe, never a trigger for retransmission.
func (s *Sender) OnDatagramOutcome(c transport.Connection, o transport.DatagramOutcome) {
	s.logger.Debug("datagram outcome", "outcome", o.String())
	s.Advance(c)
}

// OnStreamCreated records the stream identifier when the transport
// announces it before OpenStream returned one.
func (s *Sender) OnStreamCreated(c transport.Connection, id uint64) {
	if !s.haveStream {
		s.streamID = id
		s.haveStream = true
	}
}

// OnClosed finalizes the session.
func (s *Sender) OnClosed(c transport.Connection) {
	s.logger.Info("connection closed", "sent_bytes", s.sentBytes, "total_bytes", s.totalSize)
	s.sink.Flush()
	s.file.Close()
}

// OnStreamReadable is unused on the sending side.
func (s *Sender) OnStreamReadable(c transport.Connection, id uint64) {}

// OnStreamClosed is unused on the sending side.
func (s *Sender) OnStreamClosed(c transport.Connection, id uint64) {}

// OnDatagramReceived is unused on the sending side.
func (s *Sender) OnDatagramReceived(c transport.Connection) {}

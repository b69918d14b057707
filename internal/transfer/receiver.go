package transfer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pacewire/pacewire/internal/progress"
	"github.com/pacewire/pacewire/internal/telemetry"
	"github.com/pacewire/pacewire/internal/transport"
	"github.com/pacewire/pacewire/pkg/wire"
)

const recvBufSize = 64 * 1024

// fileState is the receiving-side bookkeeping for one output file,
// keyed by transfer ID (datagram mode) or stream ID (stream mode).
type fileState struct {
	path          string
	f             *os.File
	total         uint64
	receivedBytes uint64
}

// Receiver reassembles inbound transfers into files under an output
// directory. It implements transport.Handler; all methods run on the
// connection's event loop, so the state maps need no locking.
//
// Datagram-mode completion is a length heuristic, not a coverage check:
// it compares the output file's length against the declared total when a
// last-flagged chunk arrives. A transfer with holes can be misreported
// complete if the final chunk extends the file to the declared total.
type Receiver struct {
	logger *slog.Logger
	sink   *telemetry.Sink
	outDir string
	buf    []byte

	dgramFiles  map[uint64]*fileState
	streamFiles map[uint64]*fileState
}

// NewReceiver creates a session writing into outDir, creating it as
// needed.
func NewReceiver(outDir string, sink *telemetry.Sink, logger *slog.Logger) (*Receiver, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &Receiver{
		logger:      logger,
		sink:        sink,
		outDir:      outDir,
		buf:         make([]byte, recvBufSize),
		dgramFiles:  make(map[uint64]*fileState),
		streamFiles: make(map[uint64]*fileState),
	}, nil
}

// OnDatagramReceived drains and processes all pending datagrams.
func (r *Receiver) OnDatagramReceived(c transport.Connection) {
	for {
		b, ok := c.ReceiveDatagram()
		if !ok {
			return
		}
		r.handleDatagram(b)
	}
}

// handleDatagram decodes one chunk and writes its payload at the
// declared offset. Absolute-position overwrites make the operation
// idempotent under duplicate delivery and tolerant of reordering.
func (r *Receiver) handleDatagram(b []byte) {
	hdr, payload, err := wire.DecodeHeader(b)
	if err != nil {
		r.logger.Warn("bad chunk header, dropping", "size", len(b), "error", err)
		return
	}
	r.logger.Debug("chunk received",
		"transfer_id", fmt.Sprintf("%016x", hdr.TransferID),
		"offset", hdr.Offset,
		"len", hdr.Length,
		"last", hdr.Last(),
		"total", hdr.TotalSize,
		"send_ts_ns", hdr.Timestamp)

	toWrite := len(payload)
	if uint32(toWrite) < hdr.Length {
		// Declared length is advisory: write what actually arrived.
		r.logger.Warn("payload shorter than declared length",
			"declared", hdr.Length, "actual", toWrite)
	} else {
		toWrite = int(hdr.Length)
	}

	st, err := r.dgramFile(hdr.TransferID, hdr.TotalSize)
	if err != nil {
		r.logger.Error("open output file failed", "error", err)
		return
	}
	if _, err := st.f.WriteAt(payload[:toWrite], int64(hdr.Offset)); err != nil {
		r.logger.Error("write failed", "offset", hdr.Offset, "error", err)
		return
	}
	st.receivedBytes += uint64(toWrite)

	r.sink.Record(telemetry.Record{
		Kind:       telemetry.KindRecv,
		Timestamp:  monotonicNS(),
		TransferID: hdr.TransferID,
		Offset:     hdr.Offset,
		Size:       toWrite,
		Mode:       telemetry.ModeDatagram,
	})

	if hdr.Last() {
		r.finishIfComplete(hdr.TransferID)
	}
}

// dgramFile resolves or creates the per-transfer output file. The total
// size is declared by the first chunk seen for the transfer.
func (r *Receiver) dgramFile(transferID, total uint64) (*fileState, error) {
	if st, ok := r.dgramFiles[transferID]; ok {
		return st, nil
	}
	path := filepath.Join(r.outDir, fmt.Sprintf("%016x_size%d.bin", transferID, total))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	st := &fileState{path: path, f: f, total: total}
	r.dgramFiles[transferID] = st
	r.logger.Info("new datagram transfer",
		"transfer_id", fmt.Sprintf("%016x", transferID),
		"total_bytes", total,
		"path", path)
	return st, nil
}

// finishIfComplete logs completion when the output file has reached the
// declared total length. Length, not coverage: see the type comment.
func (r *Receiver) finishIfComplete(transferID uint64) {
	st, ok := r.dgramFiles[transferID]
	if !ok {
		return
	}
	info, err := st.f.Stat()
	if err != nil {
		r.logger.Error("stat output file failed", "error", err)
		return
	}
	if uint64(info.Size()) >= st.total {
		r.logger.Info("datagram transfer complete",
			"transfer_id", fmt.Sprintf("%016x", transferID),
			"size", progress.FormatBytes(int64(st.total)),
			"path", st.path)
	}
}

// OnStreamReadable appends all available stream bytes to the stream's
// output file; the stream path has no holes by construction, so
// completion on the final segment is exact.
func (r *Receiver) OnStreamReadable(c transport.Connection, id uint64) {
	st, ok := r.streamFiles[id]
	if !ok {
		path := filepath.Join(r.outDir, fmt.Sprintf("%016x.bin", id))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			r.logger.Error("open stream output file failed", "stream_id", id, "error", err)
			return
		}
		st = &fileState{path: path, f: f}
		r.streamFiles[id] = st
		r.logger.Info("new stream transfer", "stream_id", id, "path", path)
	}

	for {
		n, fin, err := c.ReadStream(id, r.buf)
		if errors.Is(err, transport.ErrAgain) {
			return
		}
		if err != nil {
			r.logger.Error("stream read failed", "stream_id", id, "error", err)
			return
		}
		if n > 0 {
			if _, err := st.f.Write(r.buf[:n]); err != nil {
				r.logger.Error("stream write failed", "stream_id", id, "error", err)
				return
			}
			st.receivedBytes += uint64(n)
			r.sink.Record(telemetry.Record{
				Kind:      telemetry.KindRecv,
				Timestamp: monotonicNS(),
				Size:      n,
				Mode:      telemetry.ModeStream,
			})
		}
		if fin {
			st.f.Sync()
			r.logger.Info("stream transfer finished",
				"stream_id", id,
				"size", progress.FormatBytes(int64(st.receivedBytes)),
				"path", st.path)
			return
		}
	}
}

// ReceivedBytes reports the byte count for a stream transfer, zero when
// the stream is unknown.
func (r *Receiver) ReceivedBytes(streamID uint64) uint64 {
	if st, ok := r.streamFiles[streamID]; ok {
		return st.receivedBytes
	}
	return 0
}

// OnEstablished logs the new session.
func (r *Receiver) OnEstablished(c transport.Connection) {
	r.logger.Info("connection established")
}

// OnClosed flushes telemetry and releases the output file handles.
func (r *Receiver) OnClosed(c transport.Connection) {
	r.logger.Info("connection closed")
	r.sink.Flush()
	for _, st := range r.dgramFiles {
		st.f.Close()
	}
	for _, st := range r.streamFiles {
		st.f.Close()
	}
}

// OnStreamCreated logs stream arrival; the output file is created
// lazily on first readable data.
func (r *Receiver) OnStreamCreated(c transport.Connection, id uint64) {
	r.logger.Debug("stream created", "stream_id", id)
}

// OnStreamClosed is informational; finalization happens on the final
// segment in OnStreamReadable.
func (r *Receiver) OnStreamClosed(c transport.Connection, id uint64) {
	r.logger.Debug("stream closed", "stream_id", id)
}

// OnStreamWritable is unused on the receiving side.
func (r *Receiver) OnStreamWritable(c transport.Connection, id uint64) {}

// OnDatagramOutcome is unused on the receiving side.
func (r *Receiver) OnDatagramOutcome(c transport.Connection, o transport.DatagramOutcome) {}

// OnTimeout is unused on the receiving side.
func (r *Receiver) OnTimeout(c transport.Connection) {}

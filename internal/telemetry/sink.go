// Package telemetry writes the per-chunk transfer log: one CSV record per
// sent or received chunk, flushed every N records and on close.
package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record kinds.
const (
	KindSend = "send"
	KindRecv = "recv"
)

// Transfer modes as they appear in the mode column.
const (
	ModeDatagram = "datagram"
	ModeStream   = "stream"
)

// DefaultFlushEvery is the default flush cadence in records.
const DefaultFlushEvery = 200

// Record is one telemetry entry. It serializes as
// "kind,timestamp,transfer_id_hex,offset,size,mode".
type Record struct {
	Kind       string
	Timestamp  uint64
	TransferID uint64
	Offset     uint64
	Size       int
	Mode       string
}

// Sink appends records to a CSV file. A nil *Sink is valid and discards
// all records, so callers never have to guard the telemetry path.
type Sink struct {
	mu         sync.Mutex
	f          *os.File
	flushEvery int
	count      int
}

// Open creates a sink appending to the file at path, creating parent
// directories as needed. flushEvery <= 0 selects DefaultFlushEvery.
// An empty path returns a nil sink.
func Open(path string, flushEvery int) (*Sink, error) {
	if path == "" {
		return nil, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create telemetry dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushEvery
	}
	return &Sink{f: f, flushEvery: flushEvery}, nil
}

// Record appends one entry. Writes go straight to the OS file; Sync is
// issued every flushEvery records. Storage that cannot keep up blocks the
// caller: telemetry is auxiliary and carries no back-pressure contract.
func (s *Sink) Record(r Record) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.f, "%s,%d,%016x,%d,%d,%s\n",
		r.Kind, r.Timestamp, r.TransferID, r.Offset, r.Size, r.Mode)
	s.count++
	if s.count%s.flushEvery == 0 {
		s.f.Sync()
	}
}

// Flush forces buffered records to durable storage.
func (s *Sink) Flush() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f.Sync()
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f.Sync()
	return s.f.Close()
}

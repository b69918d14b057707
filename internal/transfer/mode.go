// Package transfer implements the sender and receiver sessions of the
// rate-paced single-file transfer protocol: the sender walks a file into
// chunks and schedules their transmission against a fixed-interval
// deadline, the receiver reassembles chunks by declared offset (datagram
// mode) or appends ordered segments (stream mode).
package transfer

import (
	"fmt"
	"strings"
	"time"
)

// Mode selects the channel a transfer runs over.
type Mode int

const (
	// ModeDatagram sends each chunk as an independently addressed
	// unreliable message. Delivery is best effort: lost chunks are
	// never resent at this layer.
	ModeDatagram Mode = iota
	// ModeStream sends the file as one ordered reliable byte stream.
	ModeStream
)

// ParseMode parses a mode name. "dg" and "str" are accepted shorthands.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "datagram", "dg":
		return ModeDatagram, nil
	case "stream", "str":
		return ModeStream, nil
	default:
		return 0, fmt.Errorf("invalid mode %q (want datagram or stream)", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeDatagram:
		return "datagram"
	case ModeStream:
		return "stream"
	default:
		return "unknown"
	}
}

var processStart = time.Now()

// monotonicNS is the sender-local monotonic clock carried in chunk
// headers and telemetry records: nanoseconds since process start.
func monotonicNS() uint64 {
	return uint64(time.Since(processStart).Nanoseconds())
}

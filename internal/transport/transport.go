// Package transport abstracts the established connection the transfer
// sessions run over. A Connection exposes unreliable datagrams and ordered
// reliable streams plus a tagged event feed; the Loop drains that feed and
// invokes a Handler strictly one event at a time, so session code never
// needs internal locking.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrAgain is returned by submission and read primitives when the
// operation would block. The caller retries on the next scheduling
// opportunity; no state was consumed.
var ErrAgain = errors.New("transport: operation would block")

// DatagramOutcome classifies the fate of a previously submitted datagram
// as reported by the transport.
type DatagramOutcome int

const (
	DatagramAcked DatagramOutcome = iota
	DatagramDropped
	DatagramExpired
	DatagramLost
)

func (o DatagramOutcome) String() string {
	switch o {
	case DatagramAcked:
		return "acked"
	case DatagramDropped:
		return "dropped"
	case DatagramExpired:
		return "expired"
	case DatagramLost:
		return "lost"
	default:
		return "unknown"
	}
}

// EventKind tags entries on a Connection's event feed.
type EventKind int

const (
	EventEstablished EventKind = iota
	EventClosed
	EventStreamCreated
	EventStreamReadable
	EventStreamWritable
	EventStreamClosed
	EventDatagramReceived
	EventDatagramOutcome
)

// Event is one entry on a Connection's event feed.
type Event struct {
	Kind     EventKind
	StreamID uint64
	Outcome  DatagramOutcome
}

// Connection is the established transport path a transfer runs over.
// All methods are safe to call from the event-loop goroutine; they do not
// block beyond fast local work. Would-block conditions surface as ErrAgain.
type Connection interface {
	// SendDatagram submits one unreliable message. sizeHint is the total
	// framed size, passed through to transports that batch by size; flag
	// requests expedited delivery where the transport supports it.
	SendDatagram(b []byte, sizeHint int, flag bool) error

	// ReceiveDatagram pops the next pending inbound datagram, if any.
	ReceiveDatagram() ([]byte, bool)

	// OpenStream opens a bidirectional stream and returns its identifier.
	// hint is an urgency/priority hint passed through to the transport.
	OpenStream(hint int) (uint64, error)

	// WriteStream submits b on the given stream; fin marks the final
	// segment. Returns the number of bytes accepted.
	WriteStream(id uint64, b []byte, fin bool) (int, error)

	// ReadStream reads available bytes from the given stream into buf.
	// fin reports end-of-data once all bytes have been drained.
	ReadStream(id uint64, buf []byte) (n int, fin bool, err error)

	// Close tears the connection down. graceful requests a clean close
	// with the given application code and reason.
	Close(graceful bool, code uint64, reason string) error

	// Events is the connection's tagged event feed, drained by Loop.
	Events() <-chan Event
}

// Handler receives connection events. All callbacks run on the loop
// goroutine, one at a time; there is no re-entrancy.
type Handler interface {
	OnEstablished(c Connection)
	OnClosed(c Connection)
	OnStreamCreated(c Connection, id uint64)
	OnStreamReadable(c Connection, id uint64)
	OnStreamWritable(c Connection, id uint64)
	OnStreamClosed(c Connection, id uint64)
	OnDatagramReceived(c Connection)
	OnDatagramOutcome(c Connection, o DatagramOutcome)
	OnTimeout(c Connection)
}

// Loop drives a Handler from a Connection's event feed. OnTimeout fires
// at the tick cadence so time-paced senders keep making progress even
// when the transport is quiet.
type Loop struct {
	conn Connection
	h    Handler
	tick time.Duration
}

// NewLoop wires a handler to a connection. tick <= 0 selects a 1ms cadence.
func NewLoop(conn Connection, h Handler, tick time.Duration) *Loop {
	if tick <= 0 {
		tick = time.Millisecond
	}
	return &Loop{conn: conn, h: h, tick: tick}
}

// Run dispatches events until the connection closes or ctx is done.
// It returns nil on a normal close.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-l.conn.Events():
			if !ok {
				return nil
			}
			if done := l.dispatch(ev); done {
				return nil
			}
		case <-ticker.C:
			l.h.OnTimeout(l.conn)
		}
	}
}

func (l *Loop) dispatch(ev Event) bool {
	switch ev.Kind {
	case EventEstablished:
		l.h.OnEstablished(l.conn)
	case EventClosed:
		l.h.OnClosed(l.conn)
		return true
	case EventStreamCreated:
		l.h.OnStreamCreated(l.conn, ev.StreamID)
	case EventStreamReadable:
		l.h.OnStreamReadable(l.conn, ev.StreamID)
	case EventStreamWritable:
		l.h.OnStreamWritable(l.conn, ev.StreamID)
	case EventStreamClosed:
		l.h.OnStreamClosed(l.conn, ev.StreamID)
	case EventDatagramReceived:
		l.h.OnDatagramReceived(l.conn)
	case EventDatagramOutcome:
		l.h.OnDatagramOutcome(l.conn, ev.Outcome)
	}
	return false
}

package transport

import (
	"errors"
	"io"
	"sync"
)

const (
	memEventBuf       = 4096
	memDatagramQueue  = 256
	memStreamBufBytes = 256 * 1024
)

// MemoryConn is an in-memory Connection implementation. NewMemoryPair
// returns two linked ends that deliver to each other synchronously, with
// bounded queues so would-block paths are exercised for real. Datagram
// loss is injectable, which is the only way to drive the lossy-path
// behavior deterministically in tests.
type MemoryConn struct {
	mu     sync.Mutex
	peer   *MemoryConn
	events chan Event
	closed bool

	// inbound
	datagrams [][]byte
	streams   map[uint64]*memStream

	// outbound stream id allocation: QUIC-style parity per side.
	nextStreamID uint64

	// DropDatagram, when set, is consulted for every submitted datagram.
	// A true return drops the datagram and reports DatagramLost to the
	// sender instead of delivering it. Set before the transfer starts.
	DropDatagram func(b []byte) bool

	dgramCap  int
	streamCap int
}

type memStream struct {
	buf         []byte
	fin         bool
	finNotified bool
	writerStuck bool
}

// NewMemoryPair creates two connected in-memory transport ends. Both
// ends start with an Established event already queued.
func NewMemoryPair() (*MemoryConn, *MemoryConn) {
	a := &MemoryConn{
		events:       make(chan Event, memEventBuf),
		streams:      make(map[uint64]*memStream),
		nextStreamID: 0,
		dgramCap:     memDatagramQueue,
		streamCap:    memStreamBufBytes,
	}
	b := &MemoryConn{
		events:       make(chan Event, memEventBuf),
		streams:      make(map[uint64]*memStream),
		nextStreamID: 1,
		dgramCap:     memDatagramQueue,
		streamCap:    memStreamBufBytes,
	}
	a.peer = b
	b.peer = a
	a.post(Event{Kind: EventEstablished})
	b.post(Event{Kind: EventEstablished})
	return a, b
}

// post queues an event for this end's loop. The buffer is large enough
// for any bounded transfer window; a full buffer drops the event, which
// is acceptable because every event is a progress cue, not state.
func (c *MemoryConn) post(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Events implements Connection.
func (c *MemoryConn) Events() <-chan Event {
	return c.events
}

// SendDatagram implements Connection. The sizeHint and flag arguments
// are accepted for interface parity and ignored by the in-memory path.
func (c *MemoryConn) SendDatagram(b []byte, sizeHint int, flag bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return io.ErrClosedPipe
	}
	drop := c.DropDatagram
	c.mu.Unlock()

	if drop != nil && drop(b) {
		c.post(Event{Kind: EventDatagramOutcome, Outcome: DatagramLost})
		return nil
	}

	peer := c.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return io.ErrClosedPipe
	}
	if len(peer.datagrams) >= c.dgramCap {
		peer.mu.Unlock()
		return ErrAgain
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	peer.datagrams = append(peer.datagrams, cp)
	peer.mu.Unlock()

	peer.post(Event{Kind: EventDatagramReceived})
	c.post(Event{Kind: EventDatagramOutcome, Outcome: DatagramAcked})
	return nil
}

// ReceiveDatagram implements Connection.
func (c *MemoryConn) ReceiveDatagram() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.datagrams) == 0 {
		return nil, false
	}
	b := c.datagrams[0]
	c.datagrams = c.datagrams[1:]
	return b, true
}

// OpenStream implements Connection. The stream comes into existence on
// the peer at the first write.
func (c *MemoryConn) OpenStream(hint int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, io.ErrClosedPipe
	}
	id := c.nextStreamID
	c.nextStreamID += 4
	return id, nil
}

// WriteStream implements Connection.
func (c *MemoryConn) WriteStream(id uint64, b []byte, fin bool) (int, error) {
	peer := c.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	st, ok := peer.streams[id]
	created := false
	if !ok {
		st = &memStream{}
		peer.streams[id] = st
		created = true
	}
	if st.fin {
		peer.mu.Unlock()
		return 0, errors.New("transport: write after fin")
	}
	if len(st.buf)+len(b) > c.streamCap {
		st.writerStuck = true
		peer.mu.Unlock()
		if created {
			peer.post(Event{Kind: EventStreamCreated, StreamID: id})
		}
		return 0, ErrAgain
	}
	st.buf = append(st.buf, b...)
	st.fin = fin
	peer.mu.Unlock()

	if created {
		peer.post(Event{Kind: EventStreamCreated, StreamID: id})
	}
	peer.post(Event{Kind: EventStreamReadable, StreamID: id})
	return len(b), nil
}

// ReadStream implements Connection. fin is reported once all buffered
// bytes have been drained past a fin-marked write.
func (c *MemoryConn) ReadStream(id uint64, buf []byte) (int, bool, error) {
	c.mu.Lock()
	st, ok := c.streams[id]
	if !ok {
		c.mu.Unlock()
		return 0, false, ErrAgain
	}
	n := copy(buf, st.buf)
	st.buf = st.buf[n:]
	fin := st.fin && len(st.buf) == 0
	notify := fin && !st.finNotified
	if notify {
		st.finNotified = true
	}
	wake := st.writerStuck && len(st.buf) < c.streamCap/2
	if wake {
		st.writerStuck = false
	}
	c.mu.Unlock()

	if wake {
		c.peer.post(Event{Kind: EventStreamWritable, StreamID: id})
	}
	if n == 0 && !fin {
		return 0, false, ErrAgain
	}
	if notify {
		c.post(Event{Kind: EventStreamClosed, StreamID: id})
	}
	return n, fin, nil
}

// Close implements Connection. Both ends observe a Closed event.
func (c *MemoryConn) Close(graceful bool, code uint64, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.events <- Event{Kind: EventClosed}

	peer := c.peer
	peer.mu.Lock()
	peerOpen := !peer.closed
	peer.closed = true
	peer.mu.Unlock()
	if peerOpen {
		peer.events <- Event{Kind: EventClosed}
	}
	return nil
}

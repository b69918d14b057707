package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/qlog"

	"github.com/pacewire/pacewire/internal/bufpool"
)

// ALPNProtocol is the ALPN identifier negotiated for pacewire transfers.
const ALPNProtocol = "pacewire-quic-v1"

const (
	quicReadBuf        = 64 * 1024
	quicInStreamCap    = 1024 * 1024
	quicWriteQueueLen  = 64
	quicDefaultTimeout = 5 * time.Second
)

// streamReadPool recycles the per-stream read buffers; a receiver
// accepting many connections churns through these.
var streamReadPool = bufpool.New(quicReadBuf)

// QUICOptions carries the transport-level knobs from the configuration
// surface into the quic-go session.
type QUICOptions struct {
	IdleTimeout  time.Duration
	ConnWindow   int
	StreamWindow int
	KeyLogFile   string
	QLogDir      string
	CertFile     string
	KeyFile      string
}

// quicConfig builds the quic-go config shared by both ends.
func quicConfig(opts QUICOptions) *quic.Config {
	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = quicDefaultTimeout
	}
	cfg := &quic.Config{
		EnableDatagrams:         true,
		MaxIdleTimeout:          idle,
		KeepAlivePeriod:         idle / 2,
		DisablePathMTUDiscovery: true,
	}
	applyWindows(cfg, opts.ConnWindow, opts.StreamWindow)
	if opts.QLogDir != "" {
		os.Setenv("QLOGDIR", opts.QLogDir)
		cfg.Tracer = qlog.DefaultConnectionTracer
	}
	return cfg
}

func keyLogWriter(path string) (io.Writer, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open key log: %w", err)
	}
	return f, nil
}

// DialQUIC connects to addr and returns the wrapped connection once the
// handshake completes.
func DialQUIC(ctx context.Context, addr string, opts QUICOptions, logger *slog.Logger) (*QUICConn, error) {
	klw, err := keyLogWriter(opts.KeyLogFile)
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{ALPNProtocol},
		KeyLogWriter:       klw,
	}
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open udp socket: %w", err)
	}
	tuneUDPBuffers(udpConn, defaultUDPBuffer, logger)
	tr := &quic.Transport{Conn: udpConn}
	conn, err := tr.Dial(ctx, raddr, tlsConf, quicConfig(opts))
	if err != nil {
		tr.Close()
		udpConn.Close()
		return nil, fmt.Errorf("quic dial %s: %w", addr, err)
	}
	logger.Info("connection established", "remote_addr", conn.RemoteAddr())
	return wrapQUIC(conn, logger), nil
}

// QUICListener accepts pacewire connections.
type QUICListener struct {
	ln      *quic.Listener
	tr      *quic.Transport
	udpConn *net.UDPConn
	logger  *slog.Logger
}

// ListenQUIC opens a listener on addr. When no certificate files are
// configured a self-signed certificate is generated.
func ListenQUIC(addr string, opts QUICOptions, logger *slog.Logger) (*QUICListener, error) {
	var cert tls.Certificate
	var err error
	if opts.CertFile != "" {
		cert, err = tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
	} else {
		cert, err = generateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("generate self-signed cert: %w", err)
		}
	}
	klw, err := keyLogWriter(opts.KeyLogFile)
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocol},
		KeyLogWriter: klw,
	}
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("open udp socket %s: %w", addr, err)
	}
	tuneUDPBuffers(udpConn, defaultUDPBuffer, logger)
	tr := &quic.Transport{Conn: udpConn}
	ln, err := tr.Listen(tlsConf, quicConfig(opts))
	if err != nil {
		tr.Close()
		udpConn.Close()
		return nil, fmt.Errorf("quic listen %s: %w", addr, err)
	}
	logger.Info("listening", "addr", addr)
	return &QUICListener{ln: ln, tr: tr, udpConn: udpConn, logger: logger}, nil
}

// Accept blocks until the next connection is established.
func (l *QUICListener) Accept(ctx context.Context) (*QUICConn, error) {
	conn, err := l.ln.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("quic accept: %w", err)
	}
	l.logger.Info("connection accepted", "remote_addr", conn.RemoteAddr())
	return wrapQUIC(conn, l.logger), nil
}

// Close shuts the listener and its UDP socket down.
func (l *QUICListener) Close() error {
	err := l.ln.Close()
	l.tr.Close()
	l.udpConn.Close()
	return err
}

// QUICConn adapts a *quic.Conn to the Connection interface. quic-go's
// blocking primitives are pumped into bounded buffers by background
// goroutines; the event feed stays the single point of delivery, so
// handler code still runs strictly one event at a time. quic-go exposes
// no per-datagram delivery outcomes, so datagram senders on this path
// are driven by OnTimeout ticks alone.
type QUICConn struct {
	conn   *quic.Conn
	logger *slog.Logger
	events chan Event

	mu        sync.Mutex
	datagrams [][]byte
	inStreams map[uint64]*quicInStream
	out       map[uint64]*quicOutStream
}

type quicInStream struct {
	buf     []byte
	fin     bool
	pumping bool
}

type quicOutStream struct {
	stream *quic.Stream
	queue  chan outSegment
	stuck  bool
}

type outSegment struct {
	b   []byte
	fin bool
}

func wrapQUIC(conn *quic.Conn, logger *slog.Logger) *QUICConn {
	c := &QUICConn{
		conn:      conn,
		logger:    logger,
		events:    make(chan Event, memEventBuf),
		inStreams: make(map[uint64]*quicInStream),
		out:       make(map[uint64]*quicOutStream),
	}
	c.post(Event{Kind: EventEstablished})
	go c.pumpDatagrams()
	go c.pumpAccept()
	go c.watchClose()
	return c
}

func (c *QUICConn) post(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// Events implements Connection.
func (c *QUICConn) Events() <-chan Event {
	return c.events
}

func (c *QUICConn) watchClose() {
	<-c.conn.Context().Done()
	c.events <- Event{Kind: EventClosed}
}

func (c *QUICConn) pumpDatagrams() {
	for {
		b, err := c.conn.ReceiveDatagram(context.Background())
		if err != nil {
			return
		}
		c.mu.Lock()
		c.datagrams = append(c.datagrams, b)
		c.mu.Unlock()
		c.post(Event{Kind: EventDatagramReceived})
	}
}

func (c *QUICConn) pumpAccept() {
	for {
		stream, err := c.conn.AcceptStream(context.Background())
		if err != nil {
			return
		}
		id := uint64(stream.StreamID())
		c.mu.Lock()
		c.inStreams[id] = &quicInStream{pumping: true}
		c.mu.Unlock()
		c.post(Event{Kind: EventStreamCreated, StreamID: id})
		go c.pumpStream(id, stream)
	}
}

// pumpStream moves bytes from the quic stream into the bounded inbound
// buffer. The pump stalls while the session lags more than
// quicInStreamCap bytes behind.
func (c *QUICConn) pumpStream(id uint64, stream *quic.Stream) {
	buf := streamReadPool.Get()
	defer streamReadPool.Put(buf)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			for {
				c.mu.Lock()
				st := c.inStreams[id]
				if len(st.buf) < quicInStreamCap {
					st.buf = append(st.buf, buf[:n]...)
					c.mu.Unlock()
					break
				}
				c.mu.Unlock()
				time.Sleep(time.Millisecond)
			}
			c.post(Event{Kind: EventStreamReadable, StreamID: id})
		}
		if err != nil {
			c.mu.Lock()
			st := c.inStreams[id]
			st.fin = errors.Is(err, io.EOF)
			st.pumping = false
			c.mu.Unlock()
			c.post(Event{Kind: EventStreamReadable, StreamID: id})
			return
		}
	}
}

// SendDatagram implements Connection. quic-go queues the datagram
// internally; sizeHint and flag have no quic-go equivalent and are
// accepted for interface parity.
func (c *QUICConn) SendDatagram(b []byte, sizeHint int, flag bool) error {
	if err := c.conn.SendDatagram(b); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

// ReceiveDatagram implements Connection.
func (c *QUICConn) ReceiveDatagram() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.datagrams) == 0 {
		return nil, false
	}
	b := c.datagrams[0]
	c.datagrams = c.datagrams[1:]
	return b, true
}

// OpenStream implements Connection. The hint has no quic-go equivalent.
func (c *QUICConn) OpenStream(hint int) (uint64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), quicDefaultTimeout)
	defer cancel()
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return 0, fmt.Errorf("open stream: %w", err)
	}
	id := uint64(stream.StreamID())
	out := &quicOutStream{
		stream: stream,
		queue:  make(chan outSegment, quicWriteQueueLen),
	}
	c.mu.Lock()
	c.out[id] = out
	c.mu.Unlock()
	go c.pumpWrites(id, out)
	return id, nil
}

// pumpWrites drains the outbound queue onto the quic stream. Stream
// writes block on flow control here, off the event loop; the session
// sees ErrAgain from WriteStream instead.
func (c *QUICConn) pumpWrites(id uint64, out *quicOutStream) {
	for seg := range out.queue {
		if len(seg.b) > 0 {
			if _, err := out.stream.Write(seg.b); err != nil {
				c.logger.Error("stream write failed", "stream_id", id, "error", err)
				return
			}
		}
		if seg.fin {
			out.stream.Close()
			return
		}
		c.mu.Lock()
		wake := out.stuck && len(out.queue) <= quicWriteQueueLen/2
		if wake {
			out.stuck = false
		}
		c.mu.Unlock()
		if wake {
			c.post(Event{Kind: EventStreamWritable, StreamID: id})
		}
	}
}

// WriteStream implements Connection.
func (c *QUICConn) WriteStream(id uint64, b []byte, fin bool) (int, error) {
	c.mu.Lock()
	out, ok := c.out[id]
	c.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("write on unknown stream %d", id)
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case out.queue <- outSegment{b: cp, fin: fin}:
		return len(b), nil
	default:
		c.mu.Lock()
		out.stuck = true
		c.mu.Unlock()
		return 0, ErrAgain
	}
}

// ReadStream implements Connection.
func (c *QUICConn) ReadStream(id uint64, buf []byte) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.inStreams[id]
	if !ok {
		return 0, false, ErrAgain
	}
	n := copy(buf, st.buf)
	st.buf = st.buf[n:]
	fin := st.fin && len(st.buf) == 0
	if n == 0 && !fin {
		return 0, false, ErrAgain
	}
	return n, fin, nil
}

// Close implements Connection. A graceful close carries the application
// code and reason to the peer.
func (c *QUICConn) Close(graceful bool, code uint64, reason string) error {
	if !graceful {
		reason = ""
	}
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

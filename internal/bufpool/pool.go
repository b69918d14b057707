// Package bufpool recycles fixed-size byte buffers.
package bufpool

import "sync"

// Pool hands out buffers of exactly one size. Buffers returned through
// Put are reused by later Get calls, which keeps per-stream and
// per-datagram allocations off the garbage collector.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool of bufSize-byte buffers.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: size must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any { return make([]byte, bufSize) },
		},
	}
}

// Get returns a buffer of exactly the pool's size.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put hands a buffer back for reuse. Undersized buffers are discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers this pool hands out.
func (p *Pool) BufSize() int { return p.bufSize }

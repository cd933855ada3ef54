// Package bufpool hands out pooled byte buffers wrapped in handles that can
// be released exactly once.
package bufpool

import (
	"sync"
	"sync/atomic"
)

type Pool struct {
	pool        sync.Pool
	outstanding atomic.Int64
}

func New() *Pool {
	p := &Pool{
		pool: sync.Pool{
			New: func() any {
				return &buffer{}
			},
		},
	}

	return p
}

type buffer struct {
	data []byte
}

// Handle owns one pooled buffer until Release is called.
type Handle struct {
	pool     *Pool
	buf      *buffer
	released atomic.Bool
}

// Get returns a handle whose Bytes() has length n. The contents are not
// zeroed.
func (p *Pool) Get(n int) *Handle {
	buf := p.pool.Get().(*buffer)
	if cap(buf.data) < n {
		buf.data = make([]byte, n)
	}
	buf.data = buf.data[:n]
	p.outstanding.Add(1)

	return &Handle{pool: p, buf: buf}
}

// Outstanding reports how many handles have been taken but not released.
func (p *Pool) Outstanding() int64 {
	return p.outstanding.Load()
}

// Bytes returns the buffer, or nil once the handle has been released.
func (h *Handle) Bytes() []byte {
	if h == nil || h.released.Load() {
		return nil
	}
	return h.buf.data
}

// Len returns the buffer length, or 0 once released.
func (h *Handle) Len() int {
	return len(h.Bytes())
}

// Release returns the buffer to its pool. Only the first call has an effect;
// it reports whether this call was the one that released the buffer.
func (h *Handle) Release() bool {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return false
	}
	buf := h.buf
	h.buf = nil
	h.pool.outstanding.Add(-1)
	h.pool.pool.Put(buf)
	return true
}

var defaultPool = New()

func Get(n int) *Handle {
	return defaultPool.Get(n)
}

// Package bufpool provides reusable byte buffers for the reactor's hot
// read path: a single fixed-size scratch buffer the edge-triggered read
// loop checks out and returns each cycle, avoiding a fresh allocation on
// every TryRead call.
package bufpool

import "sync"

// Pool hands out []byte buffers of a single fixed capacity.
type Pool struct {
	size int
	pool sync.Pool
}

// New creates a Pool whose buffers have capacity size.
func New(size int) *Pool {
	return &Pool{
		size: size,
		pool: sync.Pool{New: func() any { return make([]byte, size) }},
	}
}

// Get returns a buffer of this pool's fixed size.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf to the pool if it matches this pool's size; mismatched
// buffers are dropped rather than pooled.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}

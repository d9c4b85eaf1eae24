// Package pool provides typed object pooling for the serialization path.
//
// Encoders write every batch into a scratch buffer before the payload is
// uploaded; the buffers come from a shared pool so a busy stream does not
// allocate a new multi-megabyte buffer per flush.
//
// Example usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//
//	if err := enc.Encode(buf, batch); err != nil {
//	    return err
//	}
//	payload := bytes.Clone(buf.Bytes())
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// maxPooledBuffer is the largest buffer capacity returned to the pool.
// Larger buffers are left to the garbage collector.
const maxPooledBuffer = 16 << 20

// Pool is a generic object pool with type safety. It wraps sync.Pool with
// an optional reset hook and allocation statistics. The pool is safe for
// concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
	}
}

// New creates a pool. reset, when non-nil, is called on every object
// returned with Put.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects ever allocated and the number
// currently checked out.
func (p *Pool[T]) Stats() (allocated, inUse int64) {
	return atomic.LoadInt64(&p.stats.allocated), atomic.LoadInt64(&p.stats.inUse)
}

var buffers = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64<<10)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer from the shared pool.
func GetBuffer() *bytes.Buffer {
	return buffers.Get()
}

// PutBuffer returns buf to the shared pool. The caller must not use buf or
// any slice obtained from buf.Bytes afterwards.
func PutBuffer(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if buf.Cap() > maxPooledBuffer {
		atomic.AddInt64(&buffers.stats.inUse, -1)
		return
	}
	buffers.Put(buf)
}

// BufferStats reports the shared buffer pool statistics.
func BufferStats() (allocated, inUse int64) {
	return buffers.Stats()
}

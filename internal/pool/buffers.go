// Package pool provides a sync.Pool of fixed-size packet buffers for
// the forwarder's hot path, so accept/forward/reply doesn't allocate a
// fresh 512-byte slice per datagram.
//
// Scoped down from the teacher's original message/buffer pool, which
// also pooled *dns.Msg objects and variable EDNS0/TCP-sized buffers —
// this project's wire format is always exactly wire.PacketSize bytes
// (EDNS0 and TCP fallback are explicit Non-goals), so one pool at one
// size is all there is to manage.
package pool

import (
	"sync"

	"github.com/dnsrelay/dnsrelayd/internal/wire"
)

// BufferPool hands out wire.PacketSize-length byte slices.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a ready-to-use BufferPool.
func NewBufferPool() *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return make([]byte, wire.PacketSize)
			},
		},
	}
}

// Get returns a buffer of exactly wire.PacketSize bytes. Its contents
// are whatever the previous holder left behind — callers that read
// before writing the full packet must not assume it is zeroed.
func (p *BufferPool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns buf to the pool. Buffers of the wrong length are
// dropped rather than pooled, since a mis-sized buffer here would
// indicate a bug at the call site, not a reusable resource.
func (p *BufferPool) Put(buf []byte) {
	if len(buf) != wire.PacketSize {
		return
	}
	p.pool.Put(buf)
}

package proxy

import (
	"sync"
)

// chunkPool recycles read buffers between relay sessions. Buffers travel as
// *[]byte so Put does not allocate a new slice header each time.
type chunkPool struct {
	size int
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	cp := &chunkPool{size: size}
	cp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return cp
}

func (p *chunkPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of the wrong size are dropped.
func (p *chunkPool) Put(b *[]byte) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

package proxy

import "sync"

// ChunkSize is the largest single read a relay direction issues.
const ChunkSize = 8 << 10

var relayChunks = newChunkPool(ChunkSize)

// chunkPool hands out fixed-size byte slices. Slices travel as pointers so
// Put does not allocate.
type chunkPool struct {
	size int
	pool sync.Pool
}

func newChunkPool(size int) *chunkPool {
	p := &chunkPool{size: size}
	p.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return p
}

func (p *chunkPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Slices of the wrong size are dropped.
func (p *chunkPool) Put(b *[]byte) {
	if len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}

// Package buffers provides reusable plaintext chunk buffers for the upload
// path. Buffers are cleared before they go back to the pool so plaintext
// never outlives the chunk it was read for.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/rescale/chunkvault/internal/constants"
)

// Pool monitoring counters
var (
	chunkAllocations atomic.Int64 // buffers created by the pool
	chunkGets        atomic.Int64 // buffers handed out
)

// chunkPool holds ChunkSize plaintext buffers.
var chunkPool = sync.Pool{
	New: func() any {
		chunkAllocations.Add(1)
		buf := make([]byte, constants.ChunkSize)
		return &buf
	},
}

// GetChunkBuffer retrieves a ChunkSize buffer from the pool. Return it with
// PutChunkBuffer when done.
//
//	buf := buffers.GetChunkBuffer()
//	defer buffers.PutChunkBuffer(buf)
//	n, err := r.ReadAt((*buf)[:size], off)
func GetChunkBuffer() *[]byte {
	chunkGets.Add(1)
	return chunkPool.Get().(*[]byte)
}

// PutChunkBuffer clears buf and returns it to the pool. Buffers of any other
// size are dropped.
func PutChunkBuffer(buf *[]byte) {
	if buf == nil || len(*buf) != constants.ChunkSize {
		return
	}
	clear(*buf)
	chunkPool.Put(buf)
}

// Stats holds buffer pool statistics.
type Stats struct {
	BufferSize  int
	Allocations int64
	Gets        int64
}

// GetStats returns current buffer pool statistics.
func GetStats() Stats {
	return Stats{
		BufferSize:  constants.ChunkSize,
		Allocations: chunkAllocations.Load(),
		Gets:        chunkGets.Load(),
	}
}

// Package transfer implements the chunked download and upload engines.
//
// Objects are stored as independently encrypted chunks of constants.ChunkSize
// plaintext bytes (the last chunk may be shorter). Downloads fetch chunks out
// of order under bounded parallelism and emit plaintext strictly in order;
// uploads encrypt and send chunks concurrently and finalize once every chunk
// has been acknowledged.
package transfer

import (
	"fmt"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

// ChunkCount returns the number of chunks an object of size bytes occupies.
func ChunkCount(size int64) int64 {
	if size <= 0 {
		return 0
	}
	return (size + constants.ChunkSize - 1) / constants.ChunkSize
}

// ChunkIndices maps the inclusive byte range [start, end] to the half-open
// chunk range [first, last) that covers it. Both results lie in
// [0, chunkCount] and first <= last.
func ChunkIndices(start, end, chunkCount int64) (first, last int64) {
	if chunkCount < 0 {
		chunkCount = 0
	}
	first = clamp(floorDiv(start, constants.ChunkSize), 0, chunkCount)
	last = clamp(floorDiv(end, constants.ChunkSize)+1, 0, chunkCount)
	if last < first {
		last = first
	}
	return first, last
}

// ByteRange is an inclusive byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in the range.
func (r ByteRange) Len() int64 {
	return r.End - r.Start + 1
}

func (r ByteRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ValidateRange checks a caller-supplied range against an object's size and
// returns an OutOfRange error if any part of it falls outside the object.
func ValidateRange(r ByteRange, size int64) error {
	if r.Start < 0 || r.End < r.Start || r.End > size-1 {
		return storage.E("validateRange", storage.OutOfRange,
			fmt.Errorf("range %s outside object of %d bytes", r, size))
	}
	return nil
}

// chunkBounds returns the slice [lo, hi) of chunk index's plaintext that
// falls inside [start, end].
func chunkBounds(index, length, start, end int64) (lo, hi int64) {
	offset := index * constants.ChunkSize
	lo = clamp(start-offset, 0, length)
	hi = clamp(end-offset+1, lo, length)
	return lo, hi
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func clamp(v, lo, hi int64) int64 {
	return max(lo, min(v, hi))
}

package transfer

import (
	"errors"
	"testing"

	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
)

const mib = constants.ChunkSize

func TestChunkCount(t *testing.T) {
	tests := []struct {
		size int64
		want int64
	}{
		{-1, 0},
		{0, 0},
		{1, 1},
		{mib - 1, 1},
		{mib, 1},
		{mib + 1, 2},
		{3 * mib, 3},
		{3*mib + 17, 4},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.size); got != tt.want {
			t.Errorf("ChunkCount(%d) = %d, want %d", tt.size, got, tt.want)
		}
	}
}

func TestChunkIndices(t *testing.T) {
	tests := []struct {
		name             string
		start, end       int64
		count            int64
		wantFirst, wantL int64
	}{
		{"whole object", 0, 3*mib - 1, 3, 0, 3},
		{"single byte", 0, 0, 3, 0, 1},
		{"inside one chunk", 10, 20, 3, 0, 1},
		{"chunk boundary", mib - 1, mib, 3, 0, 2},
		{"starts on boundary", mib, 2*mib - 1, 3, 1, 2},
		{"range scenario", 1_000_000, 2_500_000, 3, 0, 3},
		{"end past object", 0, 10 * mib, 3, 0, 3},
		{"start past object", 5 * mib, 6 * mib, 3, 3, 3},
		{"negative start", -5, 10, 3, 0, 1},
		{"end before start", 2 * mib, 0, 3, 2, 2},
		{"empty object", 0, 0, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last := ChunkIndices(tt.start, tt.end, tt.count)
			if first != tt.wantFirst || last != tt.wantL {
				t.Errorf("ChunkIndices(%d, %d, %d) = [%d, %d), want [%d, %d)",
					tt.start, tt.end, tt.count, first, last, tt.wantFirst, tt.wantL)
			}
		})
	}
}

func TestChunkIndicesBounds(t *testing.T) {
	points := []int64{-mib, -1, 0, 1, mib - 1, mib, mib + 1, 2*mib + 5, 4 * mib, 9 * mib}
	for count := int64(0); count <= 5; count++ {
		for _, start := range points {
			for _, end := range points {
				first, last := ChunkIndices(start, end, count)
				if first < 0 || last > count || first > last {
					t.Fatalf("ChunkIndices(%d, %d, %d) = [%d, %d) out of bounds", start, end, count, first, last)
				}
				if start >= 0 && start <= end && end < count*mib {
					// Every byte of the range lies in a selected chunk.
					if start/mib < first || end/mib >= last {
						t.Fatalf("ChunkIndices(%d, %d, %d) = [%d, %d) misses part of the range", start, end, count, first, last)
					}
				}
			}
		}
	}
}

func TestChunkBounds(t *testing.T) {
	tests := []struct {
		name           string
		index, length  int64
		start, end     int64
		wantLo, wantHi int64
	}{
		{"middle chunk untouched", 1, mib, 0, 3*mib - 1, 0, mib},
		{"leading trim", 0, mib, 100, 3*mib - 1, 100, mib},
		{"trailing trim", 2, mib, 0, 2*mib + 9, 0, 10},
		{"both ends", 0, mib, 5, 9, 5, 10},
		{"short last chunk", 2, 17, 0, 2*mib + 16, 0, 17},
		{"single byte", 1, mib, mib + 7, mib + 7, 7, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := chunkBounds(tt.index, tt.length, tt.start, tt.end)
			if lo != tt.wantLo || hi != tt.wantHi {
				t.Errorf("chunkBounds = [%d, %d), want [%d, %d)", lo, hi, tt.wantLo, tt.wantHi)
			}
		})
	}
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		r       ByteRange
		size    int64
		wantErr bool
	}{
		{ByteRange{0, 9}, 10, false},
		{ByteRange{5, 5}, 10, false},
		{ByteRange{0, 10}, 10, true},
		{ByteRange{-1, 5}, 10, true},
		{ByteRange{6, 5}, 10, true},
		{ByteRange{0, 0}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.r.String(), func(t *testing.T) {
			err := ValidateRange(tt.r, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateRange(%s, %d) error = %v, wantErr %v", tt.r, tt.size, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, storage.ErrOutOfRange) {
				t.Errorf("error kind = %v, want OutOfRange", storage.KindOf(err))
			}
		})
	}
}

func TestByteRangeLen(t *testing.T) {
	if got := (ByteRange{1_000_000, 2_500_000}).Len(); got != 1_500_001 {
		t.Errorf("Len() = %d, want 1500001", got)
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int64 }{
		{7, 2, 3},
		{-7, 2, -4},
		{-1, mib, -1},
		{0, mib, 0},
		{-mib, mib, -1},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

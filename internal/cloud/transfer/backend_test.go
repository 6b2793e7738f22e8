package transfer

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/crypto"
)

// memBackend is an in-memory chunk store implementing cloud.Backend.
type memBackend struct {
	mu     sync.Mutex
	chunks map[string][]byte

	// Optional hooks.
	latency   func(index int64) time.Duration
	fetchErr  func(index int64) error
	sendErr   func(index int64) error
	placement func(index int64) cloud.Placement
	confirm   func(local int64) int64

	fetches     atomic.Int64
	sends       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64

	finalized []cloud.FinalizeRequest
}

func newMemBackend() *memBackend {
	return &memBackend{chunks: make(map[string][]byte)}
}

func chunkKey(objectID string, index int64) string {
	return fmt.Sprintf("%s/%d", objectID, index)
}

func (b *memBackend) Name() string { return "memory" }

func (b *memBackend) enter() func() {
	n := b.inFlight.Add(1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	return func() { b.inFlight.Add(-1) }
}

func (b *memBackend) wait(ctx context.Context, index int64) error {
	if b.latency == nil {
		return ctx.Err()
	}
	select {
	case <-time.After(b.latency(index)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *memBackend) FetchChunk(ctx context.Context, ref cloud.ChunkRef) ([]byte, error) {
	b.fetches.Add(1)
	defer b.enter()()

	if err := b.wait(ctx, ref.Index); err != nil {
		return nil, err
	}
	if b.fetchErr != nil {
		if err := b.fetchErr(ref.Index); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.chunks[chunkKey(ref.ObjectID, ref.Index)]
	if !ok {
		return nil, storage.ErrChunkNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBackend) SendChunk(ctx context.Context, req cloud.SendRequest, progress cloud.ProgressFunc) (cloud.Placement, error) {
	b.sends.Add(1)
	defer b.enter()()

	if err := b.wait(ctx, req.Index); err != nil {
		return cloud.Placement{}, err
	}
	if b.sendErr != nil {
		if err := b.sendErr(req.Index); err != nil {
			return cloud.Placement{}, err
		}
	}
	if req.Digest != encryption.ChunkDigest(req.Ciphertext) {
		return cloud.Placement{}, storage.ErrChecksumMismatch
	}

	b.mu.Lock()
	b.chunks[chunkKey(req.ObjectID, req.Index)] = append([]byte(nil), req.Ciphertext...)
	b.mu.Unlock()

	if progress != nil {
		half := int64(len(req.Ciphertext) / 2)
		progress(half)
		progress(int64(len(req.Ciphertext)) - half)
	}
	if b.placement != nil {
		return b.placement(req.Index), nil
	}
	return cloud.Placement{Bucket: "bucket", Region: "region"}, nil
}

func (b *memBackend) FinalizeUpload(ctx context.Context, req cloud.FinalizeRequest) (cloud.FinalizeResult, error) {
	if err := ctx.Err(); err != nil {
		return cloud.FinalizeResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.finalized = append(b.finalized, req)

	count := req.ChunkCount
	if b.confirm != nil {
		count = b.confirm(count)
	}
	return cloud.FinalizeResult{ChunkCount: count}, nil
}

func (b *memBackend) finalizedRequests() []cloud.FinalizeRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]cloud.FinalizeRequest(nil), b.finalized...)
}

func (b *memBackend) storedChunks(objectID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for i := int64(0); ; i++ {
		if _, ok := b.chunks[chunkKey(objectID, i)]; !ok {
			return n
		}
		n++
	}
}

// put stores plaintext as an encrypted object and returns a request that
// downloads all of it.
func (b *memBackend) put(t *testing.T, objectID, key string, plaintext []byte) DownloadRequest {
	t.Helper()
	count := ChunkCount(int64(len(plaintext)))
	for i := int64(0); i < count; i++ {
		lo := i * constants.ChunkSize
		hi := min(lo+constants.ChunkSize, int64(len(plaintext)))
		ct, err := encryption.EncryptData(plaintext[lo:hi], key)
		if err != nil {
			t.Fatalf("EncryptData: %v", err)
		}
		b.mu.Lock()
		b.chunks[chunkKey(objectID, i)] = ct
		b.mu.Unlock()
	}
	return DownloadRequest{
		ObjectID:   objectID,
		Bucket:     "bucket",
		Region:     "region",
		Key:        key,
		ChunkCount: count,
		Size:       int64(len(plaintext)),
	}
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(buf)
	return buf
}

func testKey(t *testing.T) string {
	t.Helper()
	key, err := encryption.GenerateKey(encryption.Version2)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Package cloud defines the narrow transport boundary the chunk engines
// depend on. Providers under cloud/providers implement it for the REST
// gateway, S3, Azure Blob Storage and a local directory.
package cloud

import (
	"context"
)

// ChunkRef addresses one stored chunk.
type ChunkRef struct {
	ObjectID string
	Bucket   string
	Region   string
	Index    int64
}

// Placement is where the remote side stored a chunk.
type Placement struct {
	Bucket string
	Region string
}

// ProgressFunc receives incremental byte counts, not cumulative totals.
type ProgressFunc func(n int64)

// SendRequest describes one chunk transmission.
type SendRequest struct {
	ObjectID    string
	Index       int64
	ParentID    string
	UploadToken string
	Ciphertext  []byte
	// Digest is the hex SHA-512 of Ciphertext.
	Digest string
}

// FinalizeRequest completes an upload once every chunk is acknowledged.
// Every field prefixed Encrypted is a metadata envelope under the object key.
type FinalizeRequest struct {
	ObjectID          string
	Bucket            string
	Region            string
	EncryptedName     string
	EncryptedSize     string
	EncryptedMime     string
	EncryptedMetadata string
	ChunkCount        int64
	RemovalToken      string
	UploadToken       string
	ParentID          string
	Version           int
}

// FinalizeResult carries the server-confirmed chunk count, which is
// authoritative even when it differs from the count the client computed.
type FinalizeResult struct {
	ChunkCount int64
}

// ChunkFetcher retrieves one chunk's ciphertext. Non-2xx responses and
// missing chunks are reported as typed errors, never as partial data.
type ChunkFetcher interface {
	FetchChunk(ctx context.Context, ref ChunkRef) ([]byte, error)
}

// ChunkSender stores one chunk's ciphertext and reports where it landed.
// progress may be nil.
type ChunkSender interface {
	SendChunk(ctx context.Context, req SendRequest, progress ProgressFunc) (Placement, error)
}

// UploadFinalizer completes an upload.
type UploadFinalizer interface {
	FinalizeUpload(ctx context.Context, req FinalizeRequest) (FinalizeResult, error)
}

// Backend is implemented by providers that can serve both directions.
type Backend interface {
	ChunkFetcher
	ChunkSender
	UploadFinalizer

	// Name identifies the backend in logs ("http", "s3", "azure", "local").
	Name() string
}

// Package local stores chunks in a directory tree. Each chunk file is paired
// with a BLAKE3 digest sidecar that is verified on every read, so bit rot or
// a truncated write surfaces as a checksum error instead of a decrypt failure.
//
// Layout:
//
//	{root}/{bucket}/{objectID}/{index}
//	{root}/{bucket}/{objectID}/{index}.b3
//	{root}/{bucket}/{objectID}/manifest.json
package local

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/logging"
	"github.com/rescale/chunkvault/internal/validation"
)

const (
	// DefaultBucket is used when no bucket is configured.
	DefaultBucket = "local"
	// DefaultRegion is reported as the placement region when none is configured.
	DefaultRegion = "local"

	digestSuffix = ".b3"
)

// Store is a cloud.Backend backed by the local filesystem.
type Store struct {
	root   string
	bucket string
	region string
	log    *logging.Logger
}

// New creates a Store rooted at root. Empty bucket and region fall back to
// DefaultBucket and DefaultRegion.
func New(root, bucket, region string, log *logging.Logger) (*Store, error) {
	if root == "" {
		return nil, errors.New("local store root is required")
	}
	if bucket == "" {
		bucket = DefaultBucket
	}
	if region == "" {
		region = DefaultRegion
	}
	if log == nil {
		log = logging.Nop()
	}
	if err := os.MkdirAll(filepath.Join(root, bucket), 0700); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &Store{root: root, bucket: bucket, region: region, log: log}, nil
}

// Name implements cloud.Backend.
func (s *Store) Name() string { return "local" }

// objectDir returns the directory of one object. IDs that would escape the
// bucket are rejected.
func (s *Store) objectDir(bucket, objectID string) (string, error) {
	if bucket == "" {
		bucket = s.bucket
	}
	for _, part := range []string{bucket, objectID} {
		if err := validation.ValidateName(part); err != nil {
			return "", err
		}
	}
	dir := filepath.Join(s.root, bucket, objectID)
	if err := validation.ValidatePathInDirectory(dir, s.root); err != nil {
		return "", err
	}
	return dir, nil
}

// FetchChunk reads one chunk and verifies it against its digest sidecar.
func (s *Store) FetchChunk(ctx context.Context, ref cloud.ChunkRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.objectDir(ref.Bucket, ref.ObjectID)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, strconv.FormatInt(ref.Index, 10))

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("chunk %d of %s: %w", ref.Index, ref.ObjectID, storage.ErrChunkNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk: %w", err)
	}

	want, err := os.ReadFile(path + digestSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to read chunk digest: %w", err)
	}
	if got := digest(data); got != strings.TrimSpace(string(want)) {
		s.log.Warn().
			Str("object", ref.ObjectID).
			Int64("chunk", ref.Index).
			Str("want", strings.TrimSpace(string(want))).
			Str("got", got).
			Msg("chunk digest mismatch")
		return nil, fmt.Errorf("chunk %d of %s: %w", ref.Index, ref.ObjectID, storage.ErrChecksumMismatch)
	}
	return data, nil
}

// SendChunk writes one chunk and its digest. Both files are written to a
// temporary name first and renamed into place, chunk last.
func (s *Store) SendChunk(ctx context.Context, req cloud.SendRequest, progress cloud.ProgressFunc) (cloud.Placement, error) {
	if err := ctx.Err(); err != nil {
		return cloud.Placement{}, err
	}
	dir, err := s.objectDir(s.bucket, req.ObjectID)
	if err != nil {
		return cloud.Placement{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return cloud.Placement{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	path := filepath.Join(dir, strconv.FormatInt(req.Index, 10))
	if err := writeAtomic(path+digestSuffix, []byte(digest(req.Ciphertext))); err != nil {
		return cloud.Placement{}, err
	}
	if err := writeAtomic(path, req.Ciphertext); err != nil {
		return cloud.Placement{}, err
	}
	if progress != nil {
		progress(int64(len(req.Ciphertext)))
	}
	return cloud.Placement{Bucket: s.bucket, Region: s.region}, nil
}

// FinalizeUpload counts the stored chunks and writes the manifest. The
// counted value is returned as the authoritative chunk count.
func (s *Store) FinalizeUpload(ctx context.Context, req cloud.FinalizeRequest) (cloud.FinalizeResult, error) {
	if err := ctx.Err(); err != nil {
		return cloud.FinalizeResult{}, err
	}
	dir, err := s.objectDir(s.bucket, req.ObjectID)
	if err != nil {
		return cloud.FinalizeResult{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return cloud.FinalizeResult{}, fmt.Errorf("failed to create object directory: %w", err)
	}

	count, err := countChunks(dir)
	if err != nil {
		return cloud.FinalizeResult{}, err
	}

	m := cloud.NewManifest(req, s.bucket, s.region, count)
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return cloud.FinalizeResult{}, err
	}
	if err := writeAtomic(filepath.Join(dir, cloud.ManifestName), data); err != nil {
		return cloud.FinalizeResult{}, err
	}
	return cloud.FinalizeResult{ChunkCount: count}, nil
}

// ReadManifest returns the manifest of a finalized object.
func (s *Store) ReadManifest(objectID string) (*cloud.Manifest, error) {
	dir, err := s.objectDir(s.bucket, objectID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, cloud.ManifestName))
	if err != nil {
		return nil, err
	}
	var m cloud.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// countChunks counts files whose name is a chunk index.
func countChunks(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, err := strconv.ParseInt(e.Name(), 10, 64); err == nil {
			n++
		}
	}
	return n, nil
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func writeAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

var _ cloud.Backend = (*Store)(nil)

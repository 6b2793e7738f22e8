package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
	"github.com/rescale/chunkvault/internal/logging"
	"github.com/rescale/chunkvault/internal/resources"
	"github.com/rescale/chunkvault/internal/transfer"
	"github.com/rescale/chunkvault/internal/util/buffers"
)

const defaultMime = "application/octet-stream"

// Source is the plaintext to upload.
type Source struct {
	Reader       io.ReaderAt
	Size         int64
	Name         string
	Mime         string // detected from Name when empty
	LastModified time.Time
}

// BytesSource wraps an in-memory buffer.
func BytesSource(name string, data []byte) Source {
	return Source{
		Reader:       bytes.NewReader(data),
		Size:         int64(len(data)),
		Name:         name,
		LastModified: time.Now(),
	}
}

// Destination describes where and how an upload lands.
type Destination struct {
	ParentID string
	// Name overrides Source.Name when set.
	Name string

	Task     *transfer.Task
	Progress cloud.ProgressFunc
}

// ObjectDescriptor is a finalized remote object.
type ObjectDescriptor struct {
	ObjectID     string             `json:"objectId"`
	Bucket       string             `json:"bucket"`
	Region       string             `json:"region"`
	ChunkCount   int64              `json:"chunkCount"`
	Size         int64              `json:"size"`
	Name         string             `json:"name"`
	Mime         string             `json:"mime"`
	Key          string             `json:"key"`
	Version      encryption.Version `json:"version"`
	Hash         string             `json:"hash"`
	RemovalToken string             `json:"removalToken"`
	UploadToken  string             `json:"uploadToken"`
}

// objectMetadata is the JSON document stored, encrypted, with every object.
type objectMetadata struct {
	Name         string `json:"name"`
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
	Key          string `json:"key"`
	LastModified int64  `json:"lastModified"`
	Hash         string `json:"hash"`
}

// Uploader encrypts and sends chunk sequences.
type Uploader struct {
	sender    cloud.ChunkSender
	finalizer cloud.UploadFinalizer
	pools     *resources.Pools
	log       *logging.Logger
	version   encryption.Version
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithUploadLogger sets the logger used for per-transfer diagnostics.
func WithUploadLogger(l *logging.Logger) UploaderOption {
	return func(u *Uploader) { u.log = l }
}

// WithKeyVersion selects the envelope version of generated object keys.
func WithKeyVersion(v encryption.Version) UploaderOption {
	return func(u *Uploader) { u.version = v }
}

// NewUploader creates an Uploader. A nil pools uses the default sizes.
func NewUploader(sender cloud.ChunkSender, finalizer cloud.UploadFinalizer, pools *resources.Pools, opts ...UploaderOption) *Uploader {
	if pools == nil {
		pools = resources.NewPools(constants.DefaultUploadThreads, constants.DefaultUploadWriters, constants.DefaultMaxUploads)
	}
	u := &Uploader{
		sender:    sender,
		finalizer: finalizer,
		pools:     pools,
		log:       logging.Nop(),
		version:   encryption.CurrentVersion,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Pools returns the pools the uploader works through.
func (u *Uploader) Pools() *resources.Pools {
	return u.pools
}

// UploadFile uploads the file at path.
func (u *Uploader) UploadFile(ctx context.Context, path string, dst Destination) (*ObjectDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return u.Upload(ctx, Source{
		Reader:       f,
		Size:         info.Size(),
		Name:         filepath.Base(path),
		LastModified: info.ModTime(),
	}, dst)
}

// Upload encrypts src under a fresh key and sends it chunk by chunk. Chunks
// are sent concurrently and in no particular order; the object is finalized
// only after every chunk has been acknowledged. Any chunk failure aborts
// the upload. Chunks already sent are left in place.
//
// The remote side may report a different bucket or region per chunk. The
// descriptor carries the placement of the last acknowledged chunk.
func (u *Uploader) Upload(ctx context.Context, src Source, dst Destination) (*ObjectDescriptor, error) {
	const op = "upload"
	if src.Reader == nil {
		return nil, storage.E(op, storage.Other, errors.New("nil source reader"))
	}
	if src.Size < 0 {
		return nil, storage.E(op, storage.OutOfRange, fmt.Errorf("negative source size %d", src.Size))
	}

	name := src.Name
	if dst.Name != "" {
		name = dst.Name
	}
	mimeType := src.Mime
	if mimeType == "" {
		mimeType = detectMime(name)
	}

	key, err := encryption.GenerateKey(u.version)
	if err != nil {
		return nil, storage.E(op, storage.InvalidKey, err)
	}
	removalToken, err := encryption.GenerateSecureRandomString(constants.TokenLength)
	if err != nil {
		return nil, storage.E(op, storage.Other, err)
	}
	uploadToken, err := encryption.GenerateSecureRandomString(constants.TokenLength)
	if err != nil {
		return nil, storage.E(op, storage.Other, err)
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	job := &uploadJob{
		u:           u,
		src:         src,
		dst:         dst,
		key:         key,
		objectID:    uuid.NewString(),
		uploadToken: uploadToken,
		chunkCount:  ChunkCount(src.Size),
		ctx:         jobCtx,
		cancel:      cancel,
	}
	job.log = u.log.Child(u.log.With().Str("object", job.objectID))
	job.timer = cloud.NewChunkTimer(u.log, job.objectID, job.chunkCount)

	if dst.Task != nil {
		stop := context.AfterFunc(dst.Task.Context(), func() {
			cancel(storage.ChunkError(op, storage.Aborted, job.objectID, storage.NoChunk, errors.New("task cancelled")))
		})
		defer stop()
	}

	if err := u.pools.Admission.Acquire(jobCtx); err != nil {
		return nil, job.abortErr(err)
	}
	defer u.pools.Admission.Release()

	job.log.Debug().
		Int64("size", src.Size).
		Int64("chunks", job.chunkCount).
		Msg("upload started")

	// The plaintext hash is only needed at finalize time.
	hashCh := make(chan hashResult, 1)
	go func() {
		h, err := encryption.HashReader(&ctxReader{ctx: jobCtx, r: io.NewSectionReader(src.Reader, 0, src.Size)})
		hashCh <- hashResult{hash: h, err: err}
	}()

	envelopes, err := job.encryptFields(name, mimeType)
	if err != nil {
		cancel(err)
		<-hashCh
		return nil, err
	}

	if err := job.sendAll(); err != nil {
		<-hashCh
		job.log.Debug().Err(err).Msg("upload failed")
		return nil, err
	}

	hashed := <-hashCh
	if hashed.err != nil {
		return nil, storage.ChunkError(op, storage.Other, job.objectID, storage.NoChunk, hashed.err)
	}

	meta, err := json.Marshal(objectMetadata{
		Name:         name,
		Size:         src.Size,
		Mime:         mimeType,
		Key:          key,
		LastModified: src.LastModified.UnixMilli(),
		Hash:         hashed.hash,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	encryptedMeta, err := encryption.EncryptMetadata(string(meta), key, true)
	if err != nil {
		return nil, err
	}

	placement := job.placementSnapshot()
	version := encryption.KeyLengthToVersion(key)
	result, err := u.finalizer.FinalizeUpload(jobCtx, cloud.FinalizeRequest{
		ObjectID:          job.objectID,
		Bucket:            placement.Bucket,
		Region:            placement.Region,
		EncryptedName:     envelopes.name,
		EncryptedSize:     envelopes.size,
		EncryptedMime:     envelopes.mime,
		EncryptedMetadata: encryptedMeta,
		ChunkCount:        job.chunkCount,
		RemovalToken:      removalToken,
		UploadToken:       uploadToken,
		ParentID:          dst.ParentID,
		Version:           int(version),
	})
	if err != nil {
		if jobCtx.Err() != nil {
			return nil, job.abortErr(err)
		}
		return nil, storage.ChunkError("finalizeUpload", storage.TransferFailed, job.objectID, storage.NoChunk, err)
	}
	if result.ChunkCount != job.chunkCount {
		job.log.Warn().
			Int64("local", job.chunkCount).
			Int64("confirmed", result.ChunkCount).
			Msg("server chunk count differs from local count, using server count")
	}

	job.timer.Summary()
	job.log.Debug().Int64("chunks", result.ChunkCount).Msg("upload complete")

	return &ObjectDescriptor{
		ObjectID:     job.objectID,
		Bucket:       placement.Bucket,
		Region:       placement.Region,
		ChunkCount:   result.ChunkCount,
		Size:         src.Size,
		Name:         name,
		Mime:         mimeType,
		Key:          key,
		Version:      version,
		Hash:         hashed.hash,
		RemovalToken: removalToken,
		UploadToken:  uploadToken,
	}, nil
}

func detectMime(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return defaultMime
}

// ctxReader stops reading once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

type hashResult struct {
	hash string
	err  error
}

type fieldEnvelopes struct {
	name, size, mime string
}

// uploadJob is the state of one Upload call.
type uploadJob struct {
	u           *Uploader
	src         Source
	dst         Destination
	key         string
	objectID    string
	uploadToken string
	chunkCount  int64
	log         *logging.Logger
	timer       *cloud.ChunkTimer

	ctx    context.Context
	cancel context.CancelCauseFunc

	mu        sync.Mutex
	placement cloud.Placement
	placed    bool
	acked     int64
}

func (j *uploadJob) encryptFields(name, mimeType string) (fieldEnvelopes, error) {
	var out fieldEnvelopes
	var err error
	if out.name, err = encryption.EncryptMetadata(name, j.key, true); err != nil {
		return out, err
	}
	if out.size, err = encryption.EncryptMetadata(strconv.FormatInt(j.src.Size, 10), j.key, true); err != nil {
		return out, err
	}
	if out.mime, err = encryption.EncryptMetadata(mimeType, j.key, true); err != nil {
		return out, err
	}
	return out, nil
}

// sendAll runs one task per chunk, bounded by the Threads pool. The
// Writers pool bounds transmissions in flight.
func (j *uploadJob) sendAll() error {
	pools := j.u.pools
	var wg sync.WaitGroup
	for index := int64(0); index < j.chunkCount; index++ {
		if err := pools.Threads.Acquire(j.ctx); err != nil {
			j.cancel(j.abortErr(err))
			break
		}
		wg.Add(1)
		go func(index int64) {
			defer wg.Done()
			defer pools.Threads.Release()
			if err := j.sendChunk(index); err != nil {
				j.cancel(err)
			}
		}(index)
	}
	wg.Wait()

	if j.ctx.Err() != nil {
		return j.abortErr(j.ctx.Err())
	}
	if j.acked != j.chunkCount {
		return storage.ChunkError("upload", storage.TransferFailed, j.objectID, storage.NoChunk,
			fmt.Errorf("%d of %d chunks acknowledged", j.acked, j.chunkCount))
	}
	return nil
}

func (j *uploadJob) sendChunk(index int64) error {
	const op = "upload"
	pools := j.u.pools

	if err := j.waitIfPaused(); err != nil {
		return err
	}
	offset := index * constants.ChunkSize
	n := min(int64(constants.ChunkSize), j.src.Size-offset)
	buf := buffers.GetChunkBuffer()
	defer buffers.PutChunkBuffer(buf)
	plain := (*buf)[:n]
	if read, err := j.src.Reader.ReadAt(plain, offset); err != nil && !(errors.Is(err, io.EOF) && int64(read) == n) {
		return storage.ChunkError(op, storage.Other, j.objectID, index, fmt.Errorf("failed to read chunk: %w", err))
	}

	if err := j.waitIfPaused(); err != nil {
		return err
	}
	encryptStart := time.Now()
	ciphertext, err := encryption.EncryptData(plain, j.key)
	if err != nil {
		return storage.ChunkError(op, storage.KindOf(err), j.objectID, index, err)
	}
	encryptTime := time.Since(encryptStart)

	if err := pools.Writers.Acquire(j.ctx); err != nil {
		return j.abortErr(err)
	}
	defer pools.Writers.Release()

	if err := j.waitIfPaused(); err != nil {
		return err
	}
	progress := &chunkProgress{limit: n, emit: j.reportProgress}
	started := time.Now()
	placement, err := j.u.sender.SendChunk(j.ctx, cloud.SendRequest{
		ObjectID:    j.objectID,
		Index:       index,
		ParentID:    j.dst.ParentID,
		UploadToken: j.uploadToken,
		Ciphertext:  ciphertext,
		Digest:      encryption.ChunkDigest(ciphertext),
	}, progress.add)
	if err != nil {
		if j.ctx.Err() != nil {
			return j.abortErr(err)
		}
		return storage.ChunkError(op, storage.TransferFailed, j.objectID, index, err)
	}
	wire := time.Since(started)
	progress.finish()

	j.record(index, placement)
	j.timer.Record(index, encryptTime, wire, n)
	pools.RecordThroughput(int64(len(ciphertext)), wire)
	return nil
}

// record stores the placement of an acknowledged chunk. Concurrent chunks
// race here and the last one recorded wins.
func (j *uploadJob) record(index int64, p cloud.Placement) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.placed && p != j.placement {
		j.log.Warn().
			Int64("chunk", index).
			Str("bucket", p.Bucket).
			Str("region", p.Region).
			Str("previous_bucket", j.placement.Bucket).
			Str("previous_region", j.placement.Region).
			Msg("chunk placement differs between chunks, keeping the last one")
	}
	j.placement = p
	j.placed = true
	j.acked++
}

func (j *uploadJob) placementSnapshot() cloud.Placement {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.placement
}

func (j *uploadJob) reportProgress(n int64) {
	if j.dst.Task != nil {
		j.dst.Task.AddBytes(n)
	}
	if j.dst.Progress != nil {
		j.dst.Progress(n)
	}
}

func (j *uploadJob) waitIfPaused() error {
	if j.dst.Task != nil {
		if err := j.dst.Task.WaitIfPaused(j.ctx); err != nil {
			return j.abortErr(err)
		}
	}
	if err := j.ctx.Err(); err != nil {
		return j.abortErr(err)
	}
	return nil
}

func (j *uploadJob) abortErr(err error) error {
	if cause := context.Cause(j.ctx); cause != nil {
		var se *storage.Error
		if errors.As(cause, &se) {
			return cause
		}
		err = cause
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return err
	}
	return storage.ChunkError("upload", storage.Aborted, j.objectID, storage.NoChunk, err)
}

// chunkProgress converts a sender's wire byte counts into plaintext byte
// counts for one chunk, never reporting more than limit in total.
type chunkProgress struct {
	limit    int64
	reported int64
	emit     func(n int64)
}

func (p *chunkProgress) add(n int64) {
	next := min(p.reported+n, p.limit)
	if d := next - p.reported; d > 0 {
		p.reported = next
		p.emit(d)
	}
}

func (p *chunkProgress) finish() {
	p.add(p.limit)
}

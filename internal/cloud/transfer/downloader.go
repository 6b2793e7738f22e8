package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rescale/chunkvault/internal/cloud"
	"github.com/rescale/chunkvault/internal/cloud/storage"
	"github.com/rescale/chunkvault/internal/constants"
	"github.com/rescale/chunkvault/internal/crypto" // package name is 'encryption'
	"github.com/rescale/chunkvault/internal/diskspace"
	"github.com/rescale/chunkvault/internal/logging"
	"github.com/rescale/chunkvault/internal/resources"
	"github.com/rescale/chunkvault/internal/transfer"
)

// DownloadRequest identifies one object (or a byte range of it) to read.
type DownloadRequest struct {
	ObjectID string
	Bucket   string
	Region   string

	// Key is the object key. Version selects the envelope format; zero
	// derives it from the key.
	Key     string
	Version encryption.Version

	ChunkCount int64
	Size       int64

	// Range limits the download to an inclusive byte range. Nil reads the
	// whole object.
	Range *ByteRange

	// Task, if set, supplies pause and cancel signals and receives progress.
	Task *transfer.Task

	// Progress, if set, receives incremental counts of bytes emitted.
	Progress cloud.ProgressFunc
}

// Downloader turns remote chunk sequences back into plaintext streams.
type Downloader struct {
	fetcher cloud.ChunkFetcher
	pools   *resources.Pools
	log     *logging.Logger
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithDownloadLogger sets the logger used for per-transfer diagnostics.
func WithDownloadLogger(l *logging.Logger) DownloaderOption {
	return func(d *Downloader) { d.log = l }
}

// NewDownloader creates a Downloader that fetches through fetcher and
// bounds its work with pools. A nil pools uses the default sizes.
func NewDownloader(fetcher cloud.ChunkFetcher, pools *resources.Pools, opts ...DownloaderOption) *Downloader {
	if pools == nil {
		pools = resources.NewPools(constants.DefaultDownloadThreads, constants.DefaultDownloadWriters, constants.DefaultMaxDownloads)
	}
	d := &Downloader{fetcher: fetcher, pools: pools, log: logging.Nop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Pools returns the pools the downloader works through.
func (d *Downloader) Pools() *resources.Pools {
	return d.pools
}

// Download returns a stream of the requested plaintext. The stream is
// produced lazily, is not restartable, and must be closed; closing it early
// aborts in-flight fetches. Any chunk failure ends the stream with that
// chunk's error and no further bytes.
//
// A range whose end lies past the last byte yields an empty stream, as does
// an empty object. A range with Start >= End is treated as the single byte
// at End.
func (d *Downloader) Download(ctx context.Context, req DownloadRequest) (io.ReadCloser, error) {
	const op = "download"
	if req.Key == "" {
		return nil, storage.ChunkError(op, storage.InvalidKey, req.ObjectID, storage.NoChunk, errors.New("empty key"))
	}
	version := req.Version
	if version == 0 {
		version = encryption.KeyLengthToVersion(req.Key)
	}
	if !version.Valid() {
		return nil, storage.ChunkError(op, storage.InvalidVersion, req.ObjectID, storage.NoChunk,
			fmt.Errorf("unknown data version %d", int(version)))
	}

	start, end := int64(0), req.Size-1
	if req.Range != nil {
		if req.Range.Start < 0 {
			return nil, storage.ChunkError(op, storage.OutOfRange, req.ObjectID, storage.NoChunk,
				fmt.Errorf("negative range start %d", req.Range.Start))
		}
		start, end = req.Range.Start, req.Range.End
	}
	if req.Size <= 0 || end > req.Size-1 {
		return emptyStream(), nil
	}
	if start >= end {
		start = end
	}
	first, last := ChunkIndices(start, end, req.ChunkCount)
	if first >= last {
		return emptyStream(), nil
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	pr, pw := io.Pipe()
	job := &downloadJob{
		d:       d,
		req:     req,
		version: version,
		start:   start,
		end:     end,
		first:   first,
		last:    last,
		ctx:     jobCtx,
		cancel:  cancel,
		pw:      pw,
		writers: resources.NewSemaphore(d.pools.Writers.Max()),
		results: make(chan chunkResult, d.pools.Writers.Max()),
		done:    make(chan struct{}),
		timer:   cloud.NewChunkTimer(d.log, req.ObjectID, last-first),
	}
	job.log = d.log.Child(d.log.With().Str("object", req.ObjectID))

	// Queue for admission before returning so downloads are admitted in the
	// order Download was called.
	job.admission = d.pools.Admission.Reserve()
	go job.run()
	return &downloadStream{pr: pr, job: job}, nil
}

// DownloadToFile downloads into path. The data is written to a temporary
// file in the same directory and renamed into place only after the whole
// stream has been read, so path never holds a partial download.
func (d *Downloader) DownloadToFile(ctx context.Context, req DownloadRequest, path string) (int64, error) {
	expected := req.Size
	if req.Range != nil {
		expected = req.Range.Len()
	}
	if err := diskspace.CheckForDownload(path, expected); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}

	stream, err := d.Download(ctx, req)
	if err != nil {
		cleanup()
		return 0, err
	}
	n, err := io.Copy(tmp, stream)
	stream.Close()
	if err != nil {
		cleanup()
		if storage.IsDiskFullError(err) {
			return n, fmt.Errorf("%w: %v", storage.ErrInsufficientSpace, err)
		}
		return n, err
	}

	if err := tmp.Sync(); err != nil {
		cleanup()
		return n, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return n, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

func emptyStream() io.ReadCloser {
	return io.NopCloser(strings.NewReader(""))
}

// chunkResult is a decrypted chunk on its way to the writer.
type chunkResult struct {
	index int64
	data  []byte
}

// downloadJob is the state of one Download call.
//
// Permits: the dispatcher takes a writer permit and then a Threads permit
// for each chunk in index order. The fetch task returns the Threads permit
// after decrypting; the writer permit travels with the chunk and is
// returned once the chunk is written or discarded. Because writer permits
// are taken in index order, the chunk the writer needs next always holds
// one, so a stalled consumer stops new fetches without deadlocking.
//
// Writer permits come from a semaphore owned by the job and sized from
// Pools.Writers. Only Threads and Admission are shared between downloads,
// so a consumer that stops reading never starves another download.
type downloadJob struct {
	d       *Downloader
	req     DownloadRequest
	version encryption.Version
	log     *logging.Logger
	timer   *cloud.ChunkTimer

	start, end  int64 // inclusive plaintext byte range
	first, last int64 // chunk range [first, last)

	ctx    context.Context
	cancel context.CancelCauseFunc // first cause wins
	pw     *io.PipeWriter

	admission *resources.Reservation
	writers   *resources.Semaphore
	results   chan chunkResult
	done      chan struct{} // closed after every permit is returned
}

func (j *downloadJob) run() {
	defer close(j.done)

	// An abort must unblock a writer stuck on a consumer that is not reading.
	stopClose := context.AfterFunc(j.ctx, func() {
		j.pw.CloseWithError(j.abortErr(context.Canceled))
	})
	if j.req.Task != nil {
		stopTask := context.AfterFunc(j.req.Task.Context(), func() {
			j.cancel(storage.ChunkError("download", storage.Aborted, j.req.ObjectID, storage.NoChunk, errors.New("task cancelled")))
		})
		defer stopTask()
	}

	j.log.Debug().
		Int64("first", j.first).
		Int64("last", j.last).
		Int64("start", j.start).
		Int64("end", j.end).
		Msg("download started")

	err := j.execute()
	stopClose()
	if err != nil {
		j.cancel(err)
		err = j.abortErr(err)
		j.log.Debug().Err(err).Msg("download failed")
	} else {
		j.timer.Summary()
		j.log.Debug().Msg("download complete")
	}
	j.pw.CloseWithError(err)
	j.cancel(nil)
}

func (j *downloadJob) execute() error {
	pools := j.d.pools
	if err := j.admission.Wait(j.ctx); err != nil {
		return j.abortErr(err)
	}
	defer pools.Admission.Release()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		j.dispatch(&wg)
	}()

	err := j.writeLoop()
	if err != nil {
		j.cancel(err)
	}
	wg.Wait()
	j.drain()
	return err
}

// dispatch starts one fetch task per chunk, in index order.
func (j *downloadJob) dispatch(wg *sync.WaitGroup) {
	pools := j.d.pools
	for index := j.first; index < j.last; index++ {
		if err := j.writers.Acquire(j.ctx); err != nil {
			j.cancel(j.abortErr(err))
			return
		}
		// A paused download must not sit on shared fetch threads.
		if err := j.waitIfPaused(); err != nil {
			j.writers.Release()
			j.cancel(err)
			return
		}
		if err := pools.Threads.Acquire(j.ctx); err != nil {
			j.writers.Release()
			j.cancel(j.abortErr(err))
			return
		}
		wg.Add(1)
		go func(index int64) {
			defer wg.Done()
			j.fetch(index)
		}(index)
	}
}

// fetch owns one Threads permit and one Writers permit on entry.
func (j *downloadJob) fetch(index int64) {
	data, err := j.fetchAndDecrypt(index)
	j.d.pools.Threads.Release()
	if err != nil {
		j.writers.Release()
		j.cancel(err)
		return
	}
	select {
	case j.results <- chunkResult{index: index, data: data}:
	case <-j.ctx.Done():
		j.writers.Release()
	}
}

func (j *downloadJob) fetchAndDecrypt(index int64) ([]byte, error) {
	const op = "download"
	if err := j.waitIfPaused(); err != nil {
		return nil, err
	}

	started := time.Now()
	ciphertext, err := j.d.fetcher.FetchChunk(j.ctx, cloud.ChunkRef{
		ObjectID: j.req.ObjectID,
		Bucket:   j.req.Bucket,
		Region:   j.req.Region,
		Index:    index,
	})
	if err != nil {
		if j.ctx.Err() != nil {
			return nil, j.abortErr(err)
		}
		return nil, storage.ChunkError(op, storage.TransferFailed, j.req.ObjectID, index, err)
	}
	wire := time.Since(started)

	decryptStart := time.Now()
	plain, err := encryption.DecryptData(ciphertext, j.req.Key, j.version)
	if err != nil {
		return nil, storage.ChunkError(op, storage.KindOf(err), j.req.ObjectID, index, err)
	}
	if len(plain) > constants.ChunkSize {
		return nil, storage.ChunkError(op, storage.TransferFailed, j.req.ObjectID, index,
			fmt.Errorf("chunk decrypted to %d bytes, more than the chunk size", len(plain)))
	}

	j.timer.Record(index, time.Since(decryptStart), wire, int64(len(plain)))
	j.d.pools.RecordThroughput(int64(len(ciphertext)), wire)
	return plain, nil
}

// writeLoop emits chunks strictly in index order. Early arrivals wait in
// pending until every lower index has been written.
func (j *downloadJob) writeLoop() error {
	pending := make(map[int64][]byte)
	defer func() {
		for range pending {
			j.writers.Release()
		}
	}()

	for next := j.first; next < j.last; {
		data, ok := pending[next]
		if !ok {
			select {
			case r := <-j.results:
				pending[r.index] = r.data
			case <-j.ctx.Done():
				return j.abortErr(j.ctx.Err())
			}
			continue
		}

		delete(pending, next)
		err := j.write(next, data)
		j.writers.Release()
		if err != nil {
			return err
		}
		next++
	}
	return nil
}

func (j *downloadJob) write(index int64, data []byte) error {
	if err := j.waitIfPaused(); err != nil {
		return err
	}
	lo, hi := chunkBounds(index, int64(len(data)), j.start, j.end)
	out := data[lo:hi]

	// Blocks until the consumer has read everything: this is the
	// backpressure point.
	if _, err := j.pw.Write(out); err != nil {
		return j.abortErr(err)
	}

	n := int64(len(out))
	if j.req.Task != nil {
		j.req.Task.AddBytes(n)
	}
	if j.req.Progress != nil {
		j.req.Progress(n)
	}
	return nil
}

// drain returns the permits of chunks that were delivered to results but
// never taken by the writer.
func (j *downloadJob) drain() {
	for {
		select {
		case <-j.results:
			j.writers.Release()
		default:
			return
		}
	}
}

func (j *downloadJob) waitIfPaused() error {
	if j.req.Task != nil {
		if err := j.req.Task.WaitIfPaused(j.ctx); err != nil {
			return j.abortErr(err)
		}
	}
	if err := j.ctx.Err(); err != nil {
		return j.abortErr(err)
	}
	return nil
}

// abortErr returns the job's terminal error: the first recorded failure if
// there is one, otherwise an Aborted error wrapping err.
func (j *downloadJob) abortErr(err error) error {
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
	return storage.ChunkError("download", storage.Aborted, j.req.ObjectID, storage.NoChunk, err)
}

// downloadStream is the consumer side of a download.
type downloadStream struct {
	pr        *io.PipeReader
	job       *downloadJob
	closeOnce sync.Once
}

// Read returns plaintext in order. The terminal error (or io.EOF) is only
// returned once every permit the download held has been released.
func (s *downloadStream) Read(p []byte) (int, error) {
	n, err := s.pr.Read(p)
	if err != nil {
		<-s.job.done
	}
	return n, err
}

// Close aborts the download if it is still running and waits for it to
// release its permits.
func (s *downloadStream) Close() error {
	s.closeOnce.Do(func() {
		s.job.cancel(storage.ChunkError("download", storage.Aborted, s.job.req.ObjectID, storage.NoChunk,
			errors.New("stream closed by reader")))
		s.pr.Close()
		<-s.job.done
	})
	return nil
}

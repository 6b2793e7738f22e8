package cloud

// Chunk timing instrumentation for diagnostics.
//
// Enable per-chunk timing by setting CHUNKVAULT_TIMING=1. Records are written
// as info-level log events with a "timing" field:
//
//	timing=chunk index=3 crypto=12ms transfer=850ms size="1.0 MB"
//	timing=summary chunks=10 bytes="10.0 MB" avg="34.8 MB/s"

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rescale/chunkvault/internal/logging"
)

// TimingEnabled returns true if CHUNKVAULT_TIMING=1 is set.
func TimingEnabled() bool {
	return os.Getenv("CHUNKVAULT_TIMING") == "1"
}

// ChunkTimer aggregates per-chunk timings for one transfer.
type ChunkTimer struct {
	name   string
	log    *logging.Logger
	start  time.Time
	total  int64
	mu     sync.Mutex
	chunks int
	bytes  int64
	busy   time.Duration

	// Rolling window for speed average
	recentSpeeds []float64
	maxRecent    int
}

// NewChunkTimer creates a timer for a transfer of total chunks.
func NewChunkTimer(log *logging.Logger, name string, total int64) *ChunkTimer {
	if log == nil {
		log = logging.Nop()
	}
	return &ChunkTimer{
		name:      name,
		log:       log,
		start:     time.Now(),
		total:     total,
		maxRecent: 10,
	}
}

// Record notes one finished chunk. cryptoTime and transferTime are the time
// spent encrypting or decrypting and the time spent on the wire.
func (ct *ChunkTimer) Record(index int64, cryptoTime, transferTime time.Duration, size int64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.chunks++
	ct.bytes += size
	ct.busy += transferTime

	if transferTime > 0 {
		ct.recentSpeeds = append(ct.recentSpeeds, float64(size)/transferTime.Seconds())
		if len(ct.recentSpeeds) > ct.maxRecent {
			ct.recentSpeeds = ct.recentSpeeds[1:]
		}
	}

	if !TimingEnabled() {
		return
	}
	ct.log.Info().
		Str("timing", "chunk").
		Str("transfer", ct.name).
		Int64("index", index).
		Int64("of", ct.total).
		Dur("crypto", cryptoTime).
		Dur("wire", transferTime).
		Str("size", FormatBytes(size)).
		Send()
}

// Summary logs aggregate statistics and returns the wall-clock duration.
func (ct *ChunkTimer) Summary() time.Duration {
	elapsed := time.Since(ct.start)

	ct.mu.Lock()
	defer ct.mu.Unlock()
	if !TimingEnabled() || ct.chunks == 0 {
		return elapsed
	}

	rolling := 0.0
	for _, s := range ct.recentSpeeds {
		rolling += s
	}
	if len(ct.recentSpeeds) > 0 {
		rolling /= float64(len(ct.recentSpeeds))
	}

	ct.log.Info().
		Str("timing", "summary").
		Str("transfer", ct.name).
		Int("chunks", ct.chunks).
		Str("bytes", FormatBytes(ct.bytes)).
		Dur("elapsed", elapsed).
		Str("avg", FormatSpeed(float64(ct.bytes)/elapsed.Seconds())).
		Str("rolling", FormatSpeed(rolling)).
		Send()
	return elapsed
}

// Stats returns current statistics without logging.
func (ct *ChunkTimer) Stats() (chunks int, bytes int64, avgSpeed float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	chunks = ct.chunks
	bytes = ct.bytes
	if ct.busy > 0 {
		avgSpeed = float64(ct.bytes) / ct.busy.Seconds()
	}
	return
}

// FormatBytes returns a human-readable byte count.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed returns a human-readable speed in bytes/second.
func FormatSpeed(bytesPerSec float64) string {
	if bytesPerSec < 1024 {
		return fmt.Sprintf("%.1f B/s", bytesPerSec)
	}
	if bytesPerSec < 1024*1024 {
		return fmt.Sprintf("%.1f KB/s", bytesPerSec/1024)
	}
	return fmt.Sprintf("%.1f MB/s", bytesPerSec/(1024*1024))
}

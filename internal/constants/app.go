package constants

import (
	"time"
)

// Wire compatibility. These values are shared with every existing remote
// object and must not be changed.
const (
	// ChunkSize - plaintext size of every chunk except the last one (1 MiB)
	ChunkSize = 1024 * 1024

	// GCMTagSize - authentication tag appended to every v2/v3 ciphertext (16 bytes)
	GCMTagSize = 16

	// GCMIVSize - nonce length for v2/v3 envelopes and chunks (12 bytes)
	GCMIVSize = 12

	// LegacyIVSize - AES-CBC IV for version 1 ciphertexts (16 bytes)
	LegacyIVSize = 16

	// LegacySaltSize - OpenSSL "Salted__" salt length for version 1 ciphertexts (8 bytes)
	LegacySaltSize = 8

	// DerivedKeySize - AES-256 key length (32 bytes)
	DerivedKeySize = 32

	// KeyDerivationIterations - PBKDF2 iterations for version 2 keys
	KeyDerivationIterations = 1

	// TokenLength - length of upload and removal tokens
	TokenLength = 32
)

// Worker pool defaults (download engine)
const (
	// DefaultDownloadThreads - concurrent chunk fetch+decrypt tasks per engine
	DefaultDownloadThreads = 32

	// DefaultDownloadWriters - chunks each download reserves ahead of its
	// writer: fetching, decrypted or waiting for their turn. Bounds buffered
	// plaintext to 8 MiB per download; per-download fetch concurrency is
	// effectively min(threads, writers).
	DefaultDownloadWriters = 8

	// DefaultMaxDownloads - concurrently admitted whole-file downloads
	DefaultMaxDownloads = 16
)

// Worker pool defaults (upload engine)
const (
	// DefaultUploadThreads - concurrent chunk read+encrypt+send tasks per engine
	DefaultUploadThreads = 10

	// DefaultUploadWriters - concurrent chunk transmissions
	DefaultUploadWriters = 10

	// DefaultMaxUploads - concurrently admitted whole-file uploads
	DefaultMaxUploads = 10
)

// Retry configuration
const (
	// MaxRetries - maximum number of retries for transient errors
	MaxRetries = 10

	// RetryInitialDelay - initial delay before first retry (200ms)
	RetryInitialDelay = 200 * time.Millisecond

	// RetryMaxDelay - maximum delay between retries (15s)
	// Exponential backoff with jitter caps at this value
	RetryMaxDelay = 15 * time.Second

	// HTTPRetryWaitMin - minimum wait for the REST transport retry client
	HTTPRetryWaitMin = 1 * time.Second

	// HTTPRetryWaitMax - maximum wait for the REST transport retry client
	HTTPRetryWaitMax = 30 * time.Second
)

// Disk space safety margin
const (
	// DiskSpaceBufferPercent - additional space to require beyond file size (15%)
	DiskSpaceBufferPercent = 0.15
)

// Thread Pool
const (
	// AbsoluteMaxThreads - absolute maximum threads allowed
	AbsoluteMaxThreads = 64

	// MaxBaselineThreads - maximum baseline threads derived from CPU cores
	MaxBaselineThreads = 32

	// MinThreads - minimum threads for any pool
	MinThreads = 1

	// MemoryPerThreadMB - estimated memory usage per in-flight chunk (plaintext + ciphertext + overhead)
	MemoryPerThreadMB = 4
)

// System Memory Limits
const (
	// MinSystemMemory - minimum available memory (512 MB)
	MinSystemMemory = 512 * 1024 * 1024

	// MaxSystemMemory - maximum memory cap (8 GB)
	MaxSystemMemory = 8 * 1024 * 1024 * 1024
)

// UI Updates
const (
	// ProgressUpdateInterval - interval for progress bar updates (250ms)
	ProgressUpdateInterval = 250 * time.Millisecond

	// ProgressLogInterval - minimum interval between progress log lines when
	// stderr is not a terminal (5 seconds)
	ProgressLogInterval = 5 * time.Second

	// SpeedSmoothingAlpha - EMA weight of a new throughput sample
	SpeedSmoothingAlpha = 0.25
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (60 seconds)
	HTTPTLSHandshakeTimeout = 60 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (30 seconds)
	HTTPDialTimeout = 30 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second

	// ChunkRequestTimeout - per-chunk request timeout (10 minutes)
	ChunkRequestTimeout = 10 * time.Minute
)

// Rate Limiter
const (
	// TransportRatePerSec - sustained REST requests per second
	TransportRatePerSec = 50.0

	// TransportBurstCapacity - REST request burst allowance
	TransportBurstCapacity = 200.0

	// RateLimitWarningThreshold - delay threshold to show warning (2 seconds)
	RateLimitWarningThreshold = 2 * time.Second

	// RateLimitWarningInterval - minimum interval between warnings (10 seconds)
	RateLimitWarningInterval = 10 * time.Second
)

// Log rotation
const (
	// LogFileMaxSizeMB - rotate the log file at this size
	LogFileMaxSizeMB = 50

	// LogFileMaxBackups - rotated files to keep
	LogFileMaxBackups = 3

	// LogFileMaxAgeDays - rotated files older than this are removed
	LogFileMaxAgeDays = 28
)

// Resource Manager - Throughput Monitoring
const (
	// MaxThroughputSamples - keep last N samples for throughput analysis
	MaxThroughputSamples = 10

	// MinScaleUpThroughputMBps - minimum MB/s to consider scaling up
	MinScaleUpThroughputMBps = 10.0

	// MaxScaleUpVarianceMBps - maximum variance MB/s for scale-up eligibility
	MaxScaleUpVarianceMBps = 2.0

	// ScaleDownThresholdPercent - throughput drop percentage that triggers scale-down
	ScaleDownThresholdPercent = 0.8

	// ScaleStep - permits added or removed per rebalance
	ScaleStep = 2
)

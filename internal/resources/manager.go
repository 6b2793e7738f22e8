package resources

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rescale/chunkvault/internal/constants"
)

// Pools are the three counting locks one transfer engine works through.
type Pools struct {
	// Threads bounds concurrent chunk fetch/decrypt (download) or
	// read/encrypt/send (upload) tasks.
	Threads *Semaphore
	// Writers bounds chunks decrypted but not yet written (download) or
	// concurrent transmissions (upload).
	Writers *Semaphore
	// Admission bounds concurrent whole-file transfers.
	Admission *Semaphore

	name      string
	autoScale bool
	ceiling   int
	monitor   *ThroughputMonitor
}

// NewPools creates pools with fixed sizes and auto-scaling disabled.
func NewPools(threads, writers, admission int) *Pools {
	return &Pools{
		Threads:   NewSemaphore(threads),
		Writers:   NewSemaphore(writers),
		Admission: NewSemaphore(admission),
		name:      "pool",
		ceiling:   threads,
		monitor:   NewThroughputMonitor(),
	}
}

// Idle reports whether no permit is held in any pool.
func (p *Pools) Idle() bool {
	return p.Threads.Acquired() == 0 && p.Writers.Acquired() == 0 && p.Admission.Acquired() == 0
}

// Violations sums unmatched releases across the pools.
func (p *Pools) Violations() int {
	return p.Threads.Violations() + p.Writers.Violations() + p.Admission.Violations()
}

// Purge rejects every waiter in every pool and returns how many were rejected.
func (p *Pools) Purge() int {
	return p.Threads.Purge() + p.Writers.Purge() + p.Admission.Purge()
}

// RecordThroughput records one chunk's transfer rate. With auto-scaling
// enabled the thread pool grows while throughput is high and stable and
// shrinks when it drops.
func (p *Pools) RecordThroughput(bytes int64, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	p.monitor.Record(p.name, float64(bytes)/elapsed.Seconds())
	if !p.autoScale {
		return
	}

	current := p.Threads.Max()
	switch {
	case p.monitor.ShouldScaleUp(p.name) && current < p.ceiling:
		p.Threads.SetMax(min(current+constants.ScaleStep, p.ceiling))
		p.monitor.Cleanup(p.name)
	case p.monitor.ShouldScaleDown(p.name) && current > constants.MinThreads:
		p.Threads.SetMax(max(current-constants.ScaleStep, constants.MinThreads))
		p.monitor.Cleanup(p.name)
	}
}

// PoolStats is a snapshot of one Pools.
type PoolStats struct {
	Threads      int
	ThreadsMax   int
	Writers      int
	WritersMax   int
	Admitted     int
	AdmissionMax int
	Waiting      int
	Violations   int
}

// Stats returns a snapshot of the pools.
func (p *Pools) Stats() PoolStats {
	return PoolStats{
		Threads:      p.Threads.Acquired(),
		ThreadsMax:   p.Threads.Max(),
		Writers:      p.Writers.Acquired(),
		WritersMax:   p.Writers.Max(),
		Admitted:     p.Admission.Acquired(),
		AdmissionMax: p.Admission.Max(),
		Waiting:      p.Threads.Waiting() + p.Writers.Waiting() + p.Admission.Waiting(),
		Violations:   p.Violations(),
	}
}

func (s PoolStats) String() string {
	return fmt.Sprintf("threads=%d/%d writers=%d/%d admitted=%d/%d waiting=%d",
		s.Threads, s.ThreadsMax, s.Writers, s.WritersMax, s.Admitted, s.AdmissionMax, s.Waiting)
}

// Manager sizes and owns the download and upload pools for one process.
// Engines receive their Pools explicitly; nothing here is global.
type Manager struct {
	download        *Pools
	upload          *Pools
	baselineThreads int // Baseline calculated from CPU cores
	memoryLimit     int // Max threads based on memory
	autoScale       bool
	mu              sync.Mutex
}

// Config holds configuration for the resource manager. Zero values select
// the defaults.
type Config struct {
	FetchThreads  int  // Download fetch/decrypt concurrency
	WriteSlots    int  // Download chunks buffered ahead of the writer
	MaxDownloads  int  // Concurrent whole-file downloads
	UploadThreads int  // Upload read/encrypt/send concurrency
	UploadSlots   int  // Concurrent chunk transmissions
	MaxUploads    int  // Concurrent whole-file uploads
	AutoScale     bool // Enable throughput-driven thread scaling
}

// NewManager creates a new resource manager
func NewManager(config Config) *Manager {
	// Calculate baseline from CPU cores
	cores := runtime.NumCPU()
	baselineThreads := cores * 2
	if baselineThreads > constants.MaxBaselineThreads {
		baselineThreads = constants.MaxBaselineThreads
	}

	// Calculate memory constraint
	availableMemory := getAvailableMemory()
	memoryThreads := int(availableMemory / (constants.MemoryPerThreadMB * 1024 * 1024))

	m := &Manager{
		baselineThreads: baselineThreads,
		memoryLimit:     memoryThreads,
		autoScale:       config.AutoScale,
	}
	m.download = m.buildPools("download",
		m.threads(config.FetchThreads, constants.DefaultDownloadThreads),
		clampThreads(orDefault(config.WriteSlots, constants.DefaultDownloadWriters)),
		clampThreads(orDefault(config.MaxDownloads, constants.DefaultMaxDownloads)))
	m.upload = m.buildPools("upload",
		m.threads(config.UploadThreads, constants.DefaultUploadThreads),
		clampThreads(orDefault(config.UploadSlots, constants.DefaultUploadWriters)),
		clampThreads(orDefault(config.MaxUploads, constants.DefaultMaxUploads)))
	return m
}

func (m *Manager) buildPools(name string, threads, writers, admission int) *Pools {
	p := NewPools(threads, writers, admission)
	p.name = name
	p.autoScale = m.autoScale
	p.ceiling = threads
	if m.autoScale {
		// Start at the baseline and let throughput grow the pool to the ceiling.
		p.Threads.SetMax(min(threads, max(m.baselineThreads, constants.MinThreads)))
	}
	return p
}

// threads resolves a thread count: a user value wins, otherwise the default
// limited by available memory.
func (m *Manager) threads(user, def int) int {
	if user > 0 {
		return clampThreads(user)
	}
	return clampThreads(min(def, m.memoryLimit))
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func clampThreads(n int) int {
	if n > constants.AbsoluteMaxThreads {
		n = constants.AbsoluteMaxThreads
	}
	if n < constants.MinThreads {
		n = constants.MinThreads
	}
	return n
}

// DownloadPools returns the pools for download engines.
func (m *Manager) DownloadPools() *Pools {
	return m.download
}

// UploadPools returns the pools for upload engines.
func (m *Manager) UploadPools() *Pools {
	return m.upload
}

// Shutdown purges both pool sets, rejecting every queued waiter.
func (m *Manager) Shutdown() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.download.Purge() + m.upload.Purge()
}

// ManagerStats holds statistics about the resource manager
type ManagerStats struct {
	Download         PoolStats
	Upload           PoolStats
	BaselineThreads  int
	MemoryLimit      int
	AutoScaleEnabled bool
}

// GetStats returns current resource manager statistics
func (m *Manager) GetStats() ManagerStats {
	return ManagerStats{
		Download:         m.download.Stats(),
		Upload:           m.upload.Stats(),
		BaselineThreads:  m.baselineThreads,
		MemoryLimit:      m.memoryLimit,
		AutoScaleEnabled: m.autoScale,
	}
}

// String returns a human-readable representation of the manager state
func (m *Manager) String() string {
	stats := m.GetStats()
	return fmt.Sprintf("ResourceManager[download={%s} upload={%s} autoscale=%v]",
		stats.Download, stats.Upload, stats.AutoScaleEnabled)
}

// ThroughputMonitor tracks throughput per pool to detect saturation
type ThroughputMonitor struct {
	mu      sync.Mutex
	samples map[string][]Sample
}

// Sample represents a single throughput measurement
type Sample struct {
	Timestamp   time.Time
	BytesPerSec float64
}

// NewThroughputMonitor creates a new throughput monitor
func NewThroughputMonitor() *ThroughputMonitor {
	return &ThroughputMonitor{
		samples: make(map[string][]Sample),
	}
}

// Record records a throughput sample
func (tm *ThroughputMonitor) Record(key string, bytesPerSecond float64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	samples := append(tm.samples[key], Sample{
		Timestamp:   time.Now(),
		BytesPerSec: bytesPerSecond,
	})

	// Keep only last N samples
	if len(samples) > constants.MaxThroughputSamples {
		samples = samples[len(samples)-constants.MaxThroughputSamples:]
	}

	tm.samples[key] = samples
}

// ShouldScaleUp returns true if throughput is high and stable
func (tm *ThroughputMonitor) ShouldScaleUp(key string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	samples := tm.samples[key]
	if len(samples) < 3 {
		return false // Not enough data
	}

	avg := calculateAverage(samples)
	variance := calculateVariance(samples, avg)

	avgMBps := avg / (1024 * 1024)
	varianceMBps := variance / (1024 * 1024)

	return avgMBps > constants.MinScaleUpThroughputMBps && varianceMBps < constants.MaxScaleUpVarianceMBps
}

// ShouldScaleDown returns true if throughput is dropping
func (tm *ThroughputMonitor) ShouldScaleDown(key string) bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	samples := tm.samples[key]
	if len(samples) < 6 {
		return false // Not enough data
	}

	recent := samples[len(samples)-3:]
	older := samples[len(samples)-6 : len(samples)-3]

	return calculateAverage(recent) < calculateAverage(older)*constants.ScaleDownThresholdPercent
}

// Cleanup drops the samples for key.
func (tm *ThroughputMonitor) Cleanup(key string) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.samples, key)
}

func calculateAverage(samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.BytesPerSec
	}
	return sum / float64(len(samples))
}

func calculateVariance(samples []Sample, avg float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, s := range samples {
		diff := s.BytesPerSec - avg
		sumSquares += diff * diff
	}
	return sumSquares / float64(len(samples))
}

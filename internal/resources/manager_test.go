package resources

import (
	"runtime"
	"testing"
	"time"

	"github.com/rescale/chunkvault/internal/constants"
)

func TestNewManager(t *testing.T) {
	tests := []struct {
		name          string
		config        Config
		expectMinimum int
		expectMaximum int
	}{
		{
			name:          "Defaults",
			config:        Config{},
			expectMinimum: 1,
			expectMaximum: constants.DefaultDownloadThreads,
		},
		{
			name:          "User-specified threads",
			config:        Config{FetchThreads: 8},
			expectMinimum: 8,
			expectMaximum: 8,
		},
		{
			name:          "Single thread",
			config:        Config{FetchThreads: 1},
			expectMinimum: 1,
			expectMaximum: 1,
		},
		{
			name:          "Cap at maximum",
			config:        Config{FetchThreads: 1000},
			expectMinimum: constants.AbsoluteMaxThreads,
			expectMaximum: constants.AbsoluteMaxThreads,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := NewManager(tt.config)
			if mgr == nil {
				t.Fatal("NewManager returned nil")
			}

			threads := mgr.DownloadPools().Threads.Max()
			if threads < tt.expectMinimum || threads > tt.expectMaximum {
				t.Errorf("Expected threads between %d and %d, got %d",
					tt.expectMinimum, tt.expectMaximum, threads)
			}
			if !mgr.DownloadPools().Idle() || !mgr.UploadPools().Idle() {
				t.Error("new pools should be idle")
			}
		})
	}
}

func TestManagerPoolDefaults(t *testing.T) {
	mgr := NewManager(Config{FetchThreads: 4, UploadThreads: 3})

	dl := mgr.DownloadPools()
	if dl.Writers.Max() != constants.DefaultDownloadWriters {
		t.Errorf("download writers = %d", dl.Writers.Max())
	}
	if dl.Admission.Max() != constants.DefaultMaxDownloads {
		t.Errorf("download admission = %d", dl.Admission.Max())
	}
	// Each admitted download may buffer this many decrypted chunks.
	if buffered := dl.Writers.Max() * constants.ChunkSize; buffered > 8<<20 {
		t.Errorf("default download buffering = %d bytes, want at most 8 MiB", buffered)
	}

	ul := mgr.UploadPools()
	if ul.Threads.Max() != 3 {
		t.Errorf("upload threads = %d", ul.Threads.Max())
	}
	if ul.Admission.Max() != constants.DefaultMaxUploads {
		t.Errorf("upload admission = %d", ul.Admission.Max())
	}

	if mgr.DownloadPools() != dl {
		t.Error("DownloadPools should return the same pools on every call")
	}
}

func TestGetStats(t *testing.T) {
	mgr := NewManager(Config{FetchThreads: 12, WriteSlots: 4})

	stats := mgr.GetStats()
	if stats.Download.ThreadsMax != 12 {
		t.Errorf("Expected thread max 12, got %d", stats.Download.ThreadsMax)
	}
	if stats.Download.Threads != 0 {
		t.Errorf("Expected 0 acquired threads, got %d", stats.Download.Threads)
	}

	pools := mgr.DownloadPools()
	pools.Threads.TryAcquire()
	pools.Writers.TryAcquire()

	stats = mgr.GetStats()
	if stats.Download.Threads != 1 || stats.Download.Writers != 1 {
		t.Errorf("unexpected stats: %s", stats.Download)
	}

	pools.Threads.Release()
	pools.Writers.Release()
	if !pools.Idle() {
		t.Error("pools should be idle after releases")
	}
}

func TestAutoScale(t *testing.T) {
	p := NewPools(8, 2, 1)
	p.autoScale = true
	p.Threads.SetMax(2)

	// Steady 100 MB/s grows the pool.
	for i := 0; i < 3; i++ {
		p.RecordThroughput(100*1024*1024, time.Second)
	}
	if got := p.Threads.Max(); got != 2+constants.ScaleStep {
		t.Errorf("Threads.Max() = %d after steady throughput, want %d", got, 2+constants.ScaleStep)
	}

	// A sharp drop shrinks it.
	for i := 0; i < 3; i++ {
		p.RecordThroughput(1024*1024, time.Second)
	}
	for i := 0; i < 3; i++ {
		p.RecordThroughput(1024, time.Second)
	}
	if got := p.Threads.Max(); got != 2 {
		t.Errorf("Threads.Max() = %d after throughput drop, want 2", got)
	}
}

func TestAutoScaleDisabled(t *testing.T) {
	p := NewPools(8, 2, 1)
	for i := 0; i < 10; i++ {
		p.RecordThroughput(100*1024*1024, time.Second)
	}
	if p.Threads.Max() != 8 {
		t.Errorf("Threads.Max() changed with auto-scale disabled: %d", p.Threads.Max())
	}
}

func TestShutdown(t *testing.T) {
	mgr := NewManager(Config{MaxDownloads: 1})
	pools := mgr.DownloadPools()
	pools.Admission.TryAcquire()

	errc := make(chan error, 1)
	go func() { errc <- pools.Admission.Acquire(t.Context()) }()
	waitFor(t, func() bool { return pools.Admission.Waiting() == 1 })

	if n := mgr.Shutdown(); n != 1 {
		t.Errorf("Shutdown() = %d, want 1", n)
	}
	if err := <-errc; err != ErrPurged {
		t.Errorf("waiter error = %v, want ErrPurged", err)
	}
}

func TestMemoryDetection(t *testing.T) {
	mem := getAvailableMemory()

	// Should return at least the minimum
	if mem < 512*1024*1024 {
		t.Errorf("getAvailableMemory returned too little: %d bytes", mem)
	}

	// Should not return unreasonably large values
	if mem > 128*1024*1024*1024 {
		t.Errorf("getAvailableMemory returned suspiciously large value: %d bytes", mem)
	}

	t.Logf("Detected available memory: %d MB", mem/(1024*1024))
	t.Logf("CPU cores: %d", runtime.NumCPU())
}

package resources

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// getAvailableMemory estimates 75% of physical memory not held by this
// process's heap. macOS exposes no cheap free-memory figure.
func getAvailableMemory() uint64 {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return fallbackMemory
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	if total <= m.Alloc {
		return fallbackMemory
	}
	return clampMemory((total - m.Alloc) / 4 * 3)
}

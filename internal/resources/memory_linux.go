package resources

import "golang.org/x/sys/unix"

// getAvailableMemory returns free plus buffer memory as reported by sysinfo(2).
func getAvailableMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return fallbackMemory
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return clampMemory((uint64(info.Freeram) + uint64(info.Bufferram)) * unit)
}

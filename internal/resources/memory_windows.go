package resources

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// getAvailableMemory returns available physical memory from
// GlobalMemoryStatusEx.
func getAvailableMemory() uint64 {
	var status windows.MemoryStatusEx
	status.Length = uint32(unsafe.Sizeof(status))
	if err := windows.GlobalMemoryStatusEx(&status); err != nil {
		return fallbackMemory
	}
	return clampMemory(status.AvailPhys)
}

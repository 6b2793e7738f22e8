//go:build !linux && !darwin && !windows

package resources

func getAvailableMemory() uint64 {
	return fallbackMemory
}

package resources

import "github.com/rescale/chunkvault/internal/constants"

// fallbackMemory is assumed when the platform probe fails.
const fallbackMemory = 2 * 1024 * 1024 * 1024

// clampMemory bounds a probed figure to the range thread sizing trusts.
func clampMemory(b uint64) uint64 {
	return min(max(b, constants.MinSystemMemory), constants.MaxSystemMemory)
}

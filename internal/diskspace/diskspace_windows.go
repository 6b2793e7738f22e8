//go:build windows

package diskspace

import (
	"golang.org/x/sys/windows"
)

// availableSpace returns the bytes available to the calling user on the
// volume holding dir.
func availableSpace(dir string) (int64, error) {
	path, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	var freeToCaller, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(path, &freeToCaller, &total, &free); err != nil {
		return 0, err
	}
	return int64(freeToCaller), nil
}

//go:build windows
// +build windows

// File: affinity/affinity_windows.go
// Author: momentics <momentics@gmail.com>
//
// Windows-specific implementation for setting thread CPU affinity.

package affinity

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// setAffinityPlatform sets thread affinity to a given CPU for Windows.
func setAffinityPlatform(cpuID int) error {
	mask := uintptr(1) << uintptr(cpuID)
	h := windows.CurrentThread()
	prev, err := windows.SetThreadAffinityMask(h, mask)
	if prev == 0 {
		return fmt.Errorf("affinity: SetThreadAffinityMask failed: %w", err)
	}
	return nil
}

//go:build windows

package config

import (
	"os"

	"golang.org/x/sys/windows"
)

// flockFile emulates flock semantics with LockFileEx over the first byte of
// the sidecar file; the relay only ever locks whole files.
func flockFile(f *os.File, shared bool) error {
	var flags uint32 = windows.LOCKFILE_EXCLUSIVE_LOCK
	if shared {
		flags = 0
	}
	return windows.LockFileEx(windows.Handle(f.Fd()), flags, 0, 1, 0, new(windows.Overlapped))
}

func unlockFile(f *os.File) error {
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, new(windows.Overlapped))
}

//go:build !windows

package config

import (
	"os"
	"syscall"
)

// flockFile blocks until the flock is granted. BSD flock offers exactly the
// two modes the state file needs: one writer, or any number of readers.
func flockFile(f *os.File, shared bool) error {
	how := syscall.LOCK_EX
	if shared {
		how = syscall.LOCK_SH
	}
	return syscall.Flock(int(f.Fd()), how)
}

func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const lockFileName = "state.lock"

// FileLock synchronizes state-file access across relay processes: a headless
// server and a terminal client may share the same state directory. It locks a
// sidecar file rather than the data file itself so a crashed writer never
// leaves the data file open.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock creates a FileLock guarding the given path. The lock file lives
// in the same directory.
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path: filepath.Join(filepath.Dir(path), lockFileName),
	}
}

// Lock takes the exclusive writer lock, blocking until it is free.
func (l *FileLock) Lock() error { return l.acquire(false) }

// RLock takes the shared reader lock; any number of readers may hold it at
// once. Blocks while a writer holds the exclusive lock.
func (l *FileLock) RLock() error { return l.acquire(true) }

func (l *FileLock) acquire(shared bool) error {
	if l.file != nil {
		return fmt.Errorf("state lock already held")
	}

	mode := os.O_CREATE | os.O_RDWR
	if shared {
		mode = os.O_CREATE | os.O_RDONLY
	}
	f, err := os.OpenFile(l.path, mode, 0644)
	if err != nil {
		return fmt.Errorf("opening state lock: %w", err)
	}

	if err := flockFile(f, shared); err != nil {
		f.Close()
		return fmt.Errorf("acquiring state lock: %w", err)
	}
	l.file = f
	return nil
}

// Unlock releases whichever lock is held. A no-op when none is.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := unlockFile(l.file); err != nil {
		return fmt.Errorf("releasing state lock: %w", err)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("closing state lock: %w", err)
	}
	return nil
}

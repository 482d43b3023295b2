package session

import (
	"errors"
	"fmt"
)

var (
	// ErrProcessUnavailable is returned when an operation needs a live
	// process and there is none.
	ErrProcessUnavailable = errors.New("no live process")
	// ErrNotWritable is returned when the process input channel is closed
	// and cannot accept writes.
	ErrNotWritable = errors.New("process input not writable")
	// ErrStartupTimeout is returned when readiness was not achieved within
	// the wait deadline.
	ErrStartupTimeout = errors.New("timed out waiting for process readiness")
	// ErrItemNotFound is returned by queue lookups for unknown item IDs.
	ErrItemNotFound = errors.New("queue item not found")
	// ErrItemNotPending is returned when mutating a queue item that has
	// already started processing.
	ErrItemNotPending = errors.New("queue item is no longer pending")
)

// SendChunkError reports a write failure partway through a chunked send.
type SendChunkError struct {
	Chunk int
	Err   error
}

func (e *SendChunkError) Error() string {
	return fmt.Sprintf("send failed at chunk %d: %v", e.Chunk, e.Err)
}

func (e *SendChunkError) Unwrap() error { return e.Err }

package gc

import "github.com/cockroachdb/errors"

// Errors returned by the heap. They are wrapped with details; test for them
// with errors.Is. None of them is retryable.
var (
	// ErrInvalidConfiguration is returned by New when the heap cannot be set
	// up with the requested size.
	ErrInvalidConfiguration = errors.New("gc: invalid configuration")

	// ErrOutOfMemory is returned by Allocate when the request cannot fit in a
	// half-space, even after a collection.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrRootStackUnderflow is returned when frames are popped out of order or
	// more slots are released than were pushed.
	ErrRootStackUnderflow = errors.New("gc: root stack underflow")

	// ErrRootStackOverflow is returned when a frame does not fit in the root
	// stack reserve.
	ErrRootStackOverflow = errors.New("gc: root stack overflow")
)

// runtimePanic aborts on a condition that can only be caused by a bug in the
// heap or by the host breaking the rooting contract badly enough to address
// memory outside the linear memory.
func runtimePanic(msg string) {
	panic("gc: " + msg)
}

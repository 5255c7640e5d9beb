package snapshot

import "errors"

// ErrBufferInvariant is the root of all errors reporting misuse of a
// Buffer. Such errors indicate an orchestration defect and are fatal.
var ErrBufferInvariant = errors.New("buffer invariant violation")

var (
	// ErrBufferFull is returned when appending to a full Buffer
	ErrBufferFull = &BufferError{Op: "append", Err: errors.New("buffer is full")}

	// ErrBufferEmpty is returned when draining an empty Buffer
	ErrBufferEmpty = &BufferError{Op: "drain", Err: errors.New("buffer is empty")}
)

// BufferError implements errors unique to a snapshot buffer
type BufferError struct {
	Op  string
	Err error
}

// Error satisifes the error interface
func (e *BufferError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Is reports whether target is ErrBufferInvariant or the same
// BufferError
func (e *BufferError) Is(target error) bool {
	return target == ErrBufferInvariant || target == error(e)
}

// Unwrap returns the underlying error
func (e *BufferError) Unwrap() error {
	return e.Err
}

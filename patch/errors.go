package patch

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyPath    = errors.New("patch path is empty")
	ErrInvalidPatch = errors.New("invalid patch")

	// Path resolution failures.
	ErrPathNotFound     = errors.New("path not found")
	ErrInvalidIndex     = errors.New("invalid sequence index")
	ErrPathNotContainer = errors.New("path traverses a non-container value")

	// Structural conflicts.
	ErrKeyAlreadyExists = errors.New("key already exists")
	ErrKeyNotFound      = errors.New("key not found")
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	ErrValueNotFound    = errors.New("value not found in sequence")
	ErrNotSequence      = errors.New("target is not a sequence")

	ErrInvalidDocument = errors.New("patched document is invalid")
	ErrTestFailed      = errors.New("json patch test failed")
)

// Error reports the patch of a batch that failed to apply.
type Error struct {
	Index int
	Patch Patch
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("patch %d (%s): %v", e.Index, e.Patch, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPathResolution reports whether err means a patch path did not resolve.
func IsPathResolution(err error) bool {
	return errors.Is(err, ErrPathNotFound) ||
		errors.Is(err, ErrInvalidIndex) ||
		errors.Is(err, ErrPathNotContainer)
}

// IsStructuralConflict reports whether err means a resolved path was
// incompatible with the operation.
func IsStructuralConflict(err error) bool {
	return errors.Is(err, ErrKeyAlreadyExists) ||
		errors.Is(err, ErrKeyNotFound) ||
		errors.Is(err, ErrIndexOutOfBounds) ||
		errors.Is(err, ErrValueNotFound) ||
		errors.Is(err, ErrNotSequence)
}

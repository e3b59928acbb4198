package mp4

import (
	"errors"
	"fmt"
)

// Error kinds. Errors returned by this module wrap one of these; test with
// errors.Is.
var (
	ErrTruncated               = errors.New("truncated")
	ErrInvalidBoxSize          = errors.New("invalid box size")
	ErrMissingBox              = errors.New("missing mandatory box")
	ErrUnknownTrackType        = errors.New("unknown track type")
	ErrSampleOutOfRange        = errors.New("sample index out of range")
	ErrInconsistentSampleTable = errors.New("inconsistent sample table")
)

// BoxError records the box that failed to decode.
type BoxError struct {
	Type   BoxType
	Offset int64
	Err    error
}

func (e *BoxError) Error() string {
	return fmt.Sprintf("box %s at offset %d: %v", e.Type, e.Offset, e.Err)
}

func (e *BoxError) Unwrap() error { return e.Err }

// MissingBox returns an error reporting that a box of type t was not found.
func MissingBox(t BoxType) error {
	return fmt.Errorf("%s box not found: %w", t, ErrMissingBox)
}

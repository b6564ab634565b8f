package sheet

import (
	"errors"
	"fmt"
)

// Error classes. Every error a decoder returns matches one of these through
// errors.Is, except I/O failures which surface as *fs.PathError.
var (
	ErrBadFile    = errors.New("sheetread: malformed input")
	ErrBadRequest = errors.New("sheetread: bad request")
)

// StructuralError reports malformed container or record data.
type StructuralError struct {
	Message string
}

func (e *StructuralError) Error() string {
	return e.Message
}

// Is reports ErrBadFile.
func (e *StructuralError) Is(target error) bool {
	return target == ErrBadFile
}

// NewStructuralError creates a new StructuralError with the given message.
func NewStructuralError(format string, args ...any) *StructuralError {
	return &StructuralError{Message: fmt.Sprintf(format, args...)}
}

// EncodingError reports bytes that cannot be decoded in the detected or
// requested character encoding.
type EncodingError struct {
	Encoding string
	Err      error
}

func (e *EncodingError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("cannot decode input as %s", e.Encoding)
	}
	return fmt.Sprintf("cannot decode input as %s: %v", e.Encoding, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Is reports ErrBadFile.
func (e *EncodingError) Is(target error) bool {
	return target == ErrBadFile
}

// LookupError reports a sheet name, index or row range that does not exist.
type LookupError struct {
	Message string
}

func (e *LookupError) Error() string {
	return e.Message
}

// Is reports ErrBadRequest.
func (e *LookupError) Is(target error) bool {
	return target == ErrBadRequest
}

// NewLookupError creates a new LookupError with the given message.
func NewLookupError(format string, args ...any) *LookupError {
	return &LookupError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedFeatureError names a record kind that was recognized and skipped.
// Decoders log it and continue.
type UnsupportedFeatureError struct {
	Feature string
	Sheet   string
}

func (e *UnsupportedFeatureError) Error() string {
	if e.Sheet == "" {
		return fmt.Sprintf("unsupported feature skipped: %s", e.Feature)
	}
	return fmt.Sprintf("unsupported feature skipped in sheet %q: %s", e.Sheet, e.Feature)
}

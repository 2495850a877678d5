package proto

import (
	"errors"
	"fmt"
)

var ErrMalformedSample = errors.New("e4: malformed sample")

// MalformedSampleError reports a data line that could not be decoded.
type MalformedSampleError struct {
	Line   string
	Reason string
}

func (e *MalformedSampleError) Error() string {
	return fmt.Sprintf("%v: %s: %q", ErrMalformedSample, e.Reason, e.Line)
}

func (e *MalformedSampleError) Is(target error) bool {
	return target == ErrMalformedSample
}

func malformed(line, format string, args ...any) error {
	return &MalformedSampleError{Line: line, Reason: fmt.Sprintf(format, args...)}
}

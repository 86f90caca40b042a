package domain

import (
	"errors"
	"fmt"
)

// ErrMissingValue is returned when a callback requires a boolean payload.
var ErrMissingValue = errors.New("event requires a boolean value")

// ErrUnknownEvent is returned when a callback name has no mapping.
var ErrUnknownEvent = errors.New("unknown platform event")

// ErrHostPrimitiveFailed is wrapped by failures the host shell reports for
// primitives it could not perform.
var ErrHostPrimitiveFailed = errors.New("host reported primitive failure")

// SignalMappingError reports a platform callback that could not be mapped
// to a Signal. The controller logs it and leaves state untouched.
type SignalMappingError struct {
	Platform string
	Event    string
	Err      error
}

func (e *SignalMappingError) Error() string {
	return fmt.Sprintf("cannot map %s event %q: %v", e.Platform, e.Event, e.Err)
}

func (e *SignalMappingError) Unwrap() error { return e.Err }

// PrimitiveApplyError reports a protection primitive that could not be
// engaged or disengaged.
type PrimitiveApplyError struct {
	Primitive string
	Engage    bool
	Err       error
}

func (e *PrimitiveApplyError) Error() string {
	action := "disengage"
	if e.Engage {
		action = "engage"
	}
	return fmt.Sprintf("failed to %s %s: %v", action, e.Primitive, e.Err)
}

func (e *PrimitiveApplyError) Unwrap() error { return e.Err }

// ImportCode is the structured failure code of the file-import bridge.
type ImportCode string

const (
	// ImportUnavailable means the source could not be opened or copied.
	ImportUnavailable ImportCode = "UNAVAILABLE"
	// ImportInvalidArgument means the reference was missing or malformed.
	ImportInvalidArgument ImportCode = "INVALID_ARGUMENT"
)

// ImportError is returned by the file-import bridge.
type ImportError struct {
	Code    ImportCode
	Ref     string
	Message string
	Err     error
}

func (e *ImportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ImportError) Unwrap() error { return e.Err }

// ImportErrorCode extracts the import code from err, or "" if err is not an ImportError.
func ImportErrorCode(err error) ImportCode {
	var ie *ImportError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

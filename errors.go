package needle

import (
	"errors"
	"fmt"
	"io/fs"
)

// Code is a stable error code. The numeric values are part of the public
// contract and are reused verbatim by any C façade, so entries must never be
// reordered or removed.
type Code int

const (
	CodeOk Code = iota
	CodeInvalidUtf8String
	CodeNullArgument
	CodeInvalidArgument
	CodeFrameHashDataNotFound
	CodeFrameHashDataInvalidVersion
	CodeInvalidFrameHashData
	CodeComparatorMinimumPaths
	CodeAnalyzerInvalidHashPeriod
	CodeAnalyzerInvalidHashDuration
	CodeIOError
	CodeUnknown
)

func (c Code) String() string {
	switch c {
	case CodeOk:
		return "Ok"
	case CodeInvalidUtf8String:
		return "InvalidUtf8String"
	case CodeNullArgument:
		return "NullArgument"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeFrameHashDataNotFound:
		return "FrameHashDataNotFound"
	case CodeFrameHashDataInvalidVersion:
		return "FrameHashDataInvalidVersion"
	case CodeInvalidFrameHashData:
		return "InvalidFrameHashData"
	case CodeComparatorMinimumPaths:
		return "ComparatorMinimumPaths"
	case CodeAnalyzerInvalidHashPeriod:
		return "AnalyzerInvalidHashPeriod"
	case CodeAnalyzerInvalidHashDuration:
		return "AnalyzerInvalidHashDuration"
	case CodeIOError:
		return "IOError"
	default:
		return "Unknown"
	}
}

// Error pairs a stable code with a human-readable message and an optional
// wrapped cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error from a code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Errorf builds an Error with a formatted message. A single %w verb wraps
// the cause as usual.
func Errorf(code Code, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Code: code, Msg: err.Error(), Err: errors.Unwrap(err)}
}

// WrapError attaches a code to an existing error.
func WrapError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the stable code from any error. Filesystem errors map to
// IOError, anything unrecognized to Unknown, and nil to Ok.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOk
	}
	var ne *Error
	if errors.As(err, &ne) {
		return ne.Code
	}
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return CodeIOError
	}
	return CodeUnknown
}

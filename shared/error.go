package shared

import (
	"errors"
	"fmt"
)

type ErrorSource int

const (
	ErrorSourceTool ErrorSource = iota
	ErrorSourceModel
	ErrorSourceSystem
	ErrorSourceUser
	ErrorSourceUnknown
)

func (s ErrorSource) String() string {
	switch s {
	case ErrorSourceTool:
		return "tool"
	case ErrorSourceModel:
		return "model"
	case ErrorSourceSystem:
		return "system"
	case ErrorSourceUser:
		return "user"
	default:
		return "unknown"
	}
}

// Error attributes a failure to the party that caused it. Message is safe to
// show to users; Err carries the details.
type Error struct {
	Source  ErrorSource
	Message string
	Err     error
}

func Errorf(source ErrorSource, format string, a ...any) *Error {
	return &Error{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
	}
}

func Wrap(source ErrorSource, err error, format string, a ...any) *Error {
	return &Error{
		Source:  source,
		Message: fmt.Sprintf(format, a...),
		Err:     err,
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SourceOf returns the source of the first *Error in err's chain.
func SourceOf(err error) ErrorSource {
	var e *Error
	if errors.As(err, &e) {
		return e.Source
	}
	return ErrorSourceUnknown
}

package pal

import (
	"errors"
	"fmt"
)

// Error represents a transport error
type Error struct {
	// Type is the error type
	Type ErrorType

	// Message is a human-readable error message
	Message string

	// Tag is the record tag that caused the error (-1 if not applicable)
	Tag int

	// Err is the underlying cause, if any
	Err error
}

// ErrorType categorizes transport errors
type ErrorType int

const (
	// ErrProtocol indicates malformed or unexpected packet content
	ErrProtocol ErrorType = iota

	// ErrTimeout indicates no reply arrived within the read timeout
	ErrTimeout

	// ErrIO indicates a socket read or write failed
	ErrIO

	// ErrConnectionLost indicates the server closed the connection
	ErrConnectionLost

	// ErrIllegalState indicates an operation was called out of sequence
	ErrIllegalState

	// ErrInvalidArgument indicates a caller supplied an unusable value
	ErrInvalidArgument
)

func (e *Error) Error() string {
	msg := fmt.Sprintf("pal %s: %s", e.Type, e.Message)
	if e.Tag >= 0 {
		msg += fmt.Sprintf(" (record: %s)", TagName(e.Tag))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (t ErrorType) String() string {
	switch t {
	case ErrProtocol:
		return "protocol error"
	case ErrTimeout:
		return "timeout"
	case ErrIO:
		return "I/O error"
	case ErrConnectionLost:
		return "connection lost"
	case ErrIllegalState:
		return "illegal state"
	case ErrInvalidArgument:
		return "invalid argument"
	default:
		return "unknown error"
	}
}

// NewError creates a new transport error
func NewError(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Tag:     -1,
	}
}

// NewRecordError creates a new transport error with record tag information
func NewRecordError(errType ErrorType, message string, tag int) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Tag:     tag,
	}
}

func wrapError(errType ErrorType, message string, err error) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Tag:     -1,
		Err:     err,
	}
}

// IsType reports whether err is a transport error of the given type
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == errType
	}
	return false
}

// IsTimeout checks if an error is a timeout error
func IsTimeout(err error) bool {
	return IsType(err, ErrTimeout)
}

// IsConnectionLost checks if an error means the socket is gone
func IsConnectionLost(err error) bool {
	return IsType(err, ErrConnectionLost) || IsType(err, ErrIO)
}

package types

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap/zapcore"
)

// ErrorKind classifies failures surfaced by the query pipeline
type ErrorKind int

const (
	// Cancellation means the caller aborted the query; output is truncated
	Cancellation ErrorKind = iota
	// RangeInvalid means to is before from
	RangeInvalid
	// ConfigurationInvalid means the query options cannot be satisfied
	ConfigurationInvalid
	// ArgumentInvalid means a single input was rejected
	ArgumentInvalid
	// UnsupportedType means the operation does not apply to the value kind
	UnsupportedType
	// StateInvalid means an operation was called in the wrong state
	StateInvalid
	// StorageFailure wraps a backing store error
	StorageFailure
)

func (k ErrorKind) String() string {
	switch k {
	case Cancellation:
		return "cancellation"
	case RangeInvalid:
		return "range invalid"
	case ConfigurationInvalid:
		return "configuration invalid"
	case ArgumentInvalid:
		return "argument invalid"
	case UnsupportedType:
		return "unsupported type"
	case StateInvalid:
		return "state invalid"
	case StorageFailure:
		return "storage failure"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is a typed pipeline failure
type Error struct {
	Message string
	Kind    ErrorKind

	PropertyName  string
	PropertyValue any

	NestedError error
}

// Error returns the error as a string.
func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.PropertyName != "" {
		msg += fmt.Sprintf(" (%s=%v)", e.PropertyName, e.PropertyValue)
	}
	if e.NestedError != nil {
		msg += ": " + e.NestedError.Error()
	}
	return msg
}

// Unwrap returns the nested error, if any.
func (e *Error) Unwrap() error {
	return e.NestedError
}

// MarshalLogObject lets the error be logged with zap.Object
func (e *Error) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", e.Kind.String())
	if e.Message != "" {
		enc.AddString("message", e.Message)
	}
	if e.PropertyName != "" {
		enc.AddString("property_name", e.PropertyName)
		if err := enc.AddReflected("property_value", e.PropertyValue); err != nil {
			return err
		}
	}
	if e.NestedError != nil {
		enc.AddString("nested_error", e.NestedError.Error())
	}
	return nil
}

// IsKind reports whether err is, or wraps, an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Cancelled wraps a context error as a Cancellation failure
func Cancelled(cause error) *Error {
	return &Error{
		Message:     "query cancelled",
		Kind:        Cancellation,
		NestedError: cause,
	}
}

// StorageError classifies an error from the point value store. Context
// errors become Cancellation, typed errors pass through and anything else is
// a StorageFailure.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled(err)
	}
	return &Error{
		Message:     "reading point values",
		Kind:        StorageFailure,
		NestedError: err,
	}
}

// ConfigError reports an unusable query option
func ConfigError(name string, value any, msg string) *Error {
	return &Error{
		Message:       msg,
		Kind:          ConfigurationInvalid,
		PropertyName:  name,
		PropertyValue: value,
	}
}

// Is matches a target *Error carrying only a kind, so that
// errors.Is(err, &Error{Kind: RangeInvalid}) works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.PropertyName != "" || t.NestedError != nil {
		return false
	}
	return t.Kind == e.Kind
}

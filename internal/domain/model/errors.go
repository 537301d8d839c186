package model

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the domain wraps exactly one of these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrAuthorization = errors.New("not authorized")
	ErrDisabled      = errors.New("disabled for this event")
	ErrDuplicate     = errors.New("already exists")
	ErrQuotaExceeded = errors.New("backing quota reached")
	ErrUnknownTarget = errors.New("target is not registered")
	ErrTransport     = errors.New("store unavailable")
	ErrNotFound      = errors.New("not found")
)

var kinds = []error{
	ErrValidation,
	ErrAuthorization,
	ErrDisabled,
	ErrDuplicate,
	ErrQuotaExceeded,
	ErrUnknownTarget,
	ErrTransport,
	ErrNotFound,
}

// Error carries the failing operation and its kind.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error with a formatted detail message.
func NewError(op string, kind error, format string, args ...any) error {
	var cause error
	if format != "" {
		cause = fmt.Errorf(format, args...)
	}
	return &Error{Op: op, Kind: kind, Err: cause}
}

// WrapError attaches op and kind to err. A nil err yields nil.
func WrapError(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of err, or nil when err carries none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

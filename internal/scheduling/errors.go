package scheduling

import (
	"errors"
	"fmt"
)

// Kind classifies a scheduling failure. Each kind maps to exactly one HTTP status.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindUnavailable Kind = "unavailable"
	KindConflict    Kind = "conflict"
	KindState       Kind = "state"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
)

// Error is the single error type returned by the scheduling services.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinel errors by kind, so errors.Is(err, ErrConflict) works for
// any conflict regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

var (
	ErrValidation  = &Error{Kind: KindValidation}
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrState       = &Error{Kind: KindState}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrForbidden   = &Error{Kind: KindForbidden}

	// ErrTerminal is returned for any transition out of Completed or Cancelled.
	ErrTerminal = &Error{Kind: KindState, Message: "terminal"}
	// ErrTreatmentRequired is returned when completing without a treatment record.
	ErrTreatmentRequired = &Error{Kind: KindState, Message: "completion requires treatment"}
)

func ValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func UnavailableError(format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...)}
}

func ConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func StateError(format string, args ...any) *Error {
	return &Error{Kind: KindState, Message: fmt.Sprintf(format, args...)}
}

func NotFoundError(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func ForbiddenError(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of a scheduling error, or "" for infrastructure errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

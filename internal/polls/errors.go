package polls

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound is returned when the poll or a referenced entity is absent.
	ErrNotFound = errors.New("poll not found")
	// ErrInvalidState is returned when an operation is illegal in the
	// poll's current phase.
	ErrInvalidState = errors.New("invalid poll state")
	// ErrForbidden is returned when a non-admin attempts an admin action.
	ErrForbidden = errors.New("admin access required")
	// ErrUnauthorized is returned when a credential does not grant access
	// to the requested poll.
	ErrUnauthorized = errors.New("credential does not grant access to this poll")
	// ErrStoreFailure is returned when the underlying store did not
	// confirm an operation.
	ErrStoreFailure = errors.New("poll store failure")
)

// stateError carries a human readable reason and matches ErrInvalidState.
type stateError struct {
	reason string
}

func (e *stateError) Error() string { return e.reason }

func (e *stateError) Unwrap() error { return ErrInvalidState }

func invalidState(reason string) error {
	return &stateError{reason: reason}
}

// ValidationError captures field level validation issues that callers can
// surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for f := range v.FieldErrors {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	msgs := make([]string, len(fields))
	for i, f := range fields {
		msgs[i] = f + " " + v.FieldErrors[f]
	}
	return strings.Join(msgs, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

// ErrorKind classifies err for logs and metrics.
func ErrorKind(err error) string {
	var vErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &vErr):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "internal"
	}
}

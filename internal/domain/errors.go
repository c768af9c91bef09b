package domain

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every error the engine returns to a caller wraps exactly one of these.
var (
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrConflict         = errors.New("conflict: retries exhausted")
	ErrUnavailable      = errors.New("dependency unavailable")
	ErrPermissionDenied = errors.New("permission denied")
)

var (
	ErrRoomGone       = fmt.Errorf("%w: room gone", ErrNotFound)
	ErrNotParticipant = fmt.Errorf("%w: not a participant", ErrNotFound)
	ErrRoomFull       = fmt.Errorf("%w: room full", ErrCapacityExceeded)
)

// Invalid builds a VALIDATION error with a reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Code maps an error to its wire code. Unknown errors map to "INTERNAL".
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "VALIDATION"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return "DEPENDENCY_UNAVAILABLE"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, context.Canceled):
		return "CANCELED"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIO                  = errors.New("io error")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrExecutionTimeout    = errors.New("execution timeout")
	ErrExecutionFailure    = errors.New("execution failure")
	ErrConflict            = errors.New("naming conflict")
	ErrUnsafeActionBlocked = errors.New("unsafe action blocked")
)

// Kind is the persisted name of an error category.
type Kind string

const (
	KindNone                Kind = ""
	KindIO                  Kind = "io_error"
	KindUnsupportedFormat   Kind = "unsupported_format"
	KindExecutionTimeout    Kind = "execution_timeout"
	KindExecutionFailure    Kind = "execution_failure"
	KindConflict            Kind = "conflict"
	KindUnsafeActionBlocked Kind = "unsafe_action_blocked"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrExecutionFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error onto the taxonomy. Deadline expiry counts as a
// timeout even when the caller did not wrap it; anything unrecognized is an
// execution failure.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindExecutionTimeout
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, ErrUnsupportedFormat):
		return KindUnsupportedFormat
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnsafeActionBlocked):
		return KindUnsafeActionBlocked
	default:
		return KindExecutionFailure
	}
}

// IsFailure reports whether an error of this kind moves a record to failed.
// Conflicts are resolved in place and blocked actions are downgraded, so
// neither is a failure.
func (k Kind) IsFailure() bool {
	switch k {
	case KindNone, KindConflict, KindUnsafeActionBlocked:
		return false
	default:
		return true
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "pipeline failure"
	}
	return strings.Join(parts, ": ")
}

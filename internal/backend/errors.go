package backend

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind partitions synthesis failures for retry policy.
type FailureKind string

const (
	// FailConfiguration marks bad input or an unsupported option
	// combination. Never retried.
	FailConfiguration FailureKind = "configuration"
	// FailSynthesis marks a model-level failure producing output.
	// Retried a bounded number of times.
	FailSynthesis FailureKind = "synthesis"
	// FailResourceExhausted marks memory or device exhaustion. Retried.
	FailResourceExhausted FailureKind = "resource_exhausted"
	// FailTimeout marks inference exceeding its deadline. Retried.
	FailTimeout FailureKind = "timeout"
)

// Error carries a FailureKind alongside the underlying cause.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Classify maps an arbitrary error to a FailureKind. Deadline errors
// classify as timeout even when the backend did not wrap them.
func Classify(err error) FailureKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	return FailSynthesis
}

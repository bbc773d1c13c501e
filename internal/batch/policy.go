package batch

import "github.com/voxlabs/vox-core/internal/backend"

// RetryPolicy maps failure kinds to retry decisions, keeping policy
// declarative and testable apart from the worker loop.
type RetryPolicy struct {
	MaxAttempts int
	retryable   map[backend.FailureKind]bool
}

// DefaultRetryPolicy retries transient and bounded model failures.
// Configuration problems fail immediately: the same input will fail
// the same way on every attempt.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		retryable: map[backend.FailureKind]bool{
			backend.FailConfiguration:     false,
			backend.FailSynthesis:         true,
			backend.FailResourceExhausted: true,
			backend.FailTimeout:           true,
		},
	}
}

// ShouldRetry decides whether a task that failed with kind after
// attempts dispatches goes back on the queue.
func (p RetryPolicy) ShouldRetry(kind backend.FailureKind, attempts int) bool {
	if attempts >= p.MaxAttempts {
		return false
	}
	return p.retryable[kind]
}

// Classification renders a failure kind for human consumption in
// reports.
func Classification(kind backend.FailureKind) string {
	switch kind {
	case backend.FailConfiguration:
		return "invalid input or options"
	case backend.FailSynthesis:
		return "model failed to produce audio"
	case backend.FailResourceExhausted:
		return "resource exhausted"
	case backend.FailTimeout:
		return "synthesis timed out"
	case failEncoding:
		return "audio encoding failed"
	case failIO:
		return "output not writable"
	default:
		return string(kind)
	}
}

// Post-processing failure kinds. These are terminal for the task: they
// indicate a configuration or sink problem, not a transient fault.
const (
	failEncoding backend.FailureKind = "encoding"
	failIO       backend.FailureKind = "io"
)

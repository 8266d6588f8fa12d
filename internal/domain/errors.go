// internal/domain/errors.go
package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDataUnavailable is a transient market data read failure.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrCapacityExceeded is returned when registration would pass configured limits.
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrSourceUnavailable is returned by a gateway quote that could not be served.
	ErrSourceUnavailable = errors.New("quote source unavailable")
	// ErrInvariantViolation signals a defect, e.g. a second crossing for a migrated asset.
	ErrInvariantViolation = errors.New("invariant violation")
)

// ConfigurationError is fatal: the process refuses to start.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ExecutionFailureKind enumerates swap failure causes.
type ExecutionFailureKind string

const (
	InsufficientLiquidity ExecutionFailureKind = "insufficient_liquidity"
	SlippageExceeded      ExecutionFailureKind = "slippage_exceeded"
	Timeout               ExecutionFailureKind = "timeout"
	Rejected              ExecutionFailureKind = "rejected"
)

// ExecutionError is returned by gateway swaps.
type ExecutionError struct {
	Kind ExecutionFailureKind
	Err  error
}

// NewExecutionError wraps err with a failure kind.
func NewExecutionError(kind ExecutionFailureKind, err error) *ExecutionError {
	return &ExecutionError{Kind: kind, Err: err}
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "execution failure: " + string(e.Kind)
	}
	return fmt.Sprintf("execution failure: %s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is matches another *ExecutionError by kind, so errors.Is(err, &ExecutionError{Kind: Timeout}) works.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// ExecutionKind extracts the failure kind from err. Unknown errors count as Rejected.
func ExecutionKind(err error) ExecutionFailureKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Rejected
}

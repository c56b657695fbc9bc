package managed

import (
	"context"
	"errors"
	"fmt"

	"toolgate/internal/api"
)

// KindError carries the failure-taxonomy kind alongside the underlying
// error. Invoke and the invocation wrapper use the kind to build structured
// failure values and metric labels.
type KindError struct {
	Kind api.ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return e.Err.Error()
}

func (e *KindError) Unwrap() error {
	return e.Err
}

// kinded wraps an error with a taxonomy kind.
func kinded(kind api.ErrorKind, format string, args ...interface{}) error {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain. Context errors are
// classified even when no KindError wraps them; anything else defaults to
// execution_error.
func KindOf(err error) api.ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return api.ErrKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return api.ErrKindAborted
	}
	return api.ErrKindExecution
}

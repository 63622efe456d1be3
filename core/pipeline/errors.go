package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrExecution indicates the operation handler failed.
	ErrExecution = errors.New("execution_failed")
	// ErrTimeout indicates the handler exceeded its wall-clock budget.
	ErrTimeout = errors.New("execution_timeout")
	// ErrPackaging indicates archive or IO failure after a successful
	// transformation.
	ErrPackaging = errors.New("packaging_failed")
)

// ValidationError is a client-fault rejection. Reason is safe to echo in
// the HTTP response body.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a client-fault validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

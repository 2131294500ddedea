package logging

import (
	"errors"
	"fmt"
)

// OperationError annotates an error with the pipeline stage that produced it.
// Kind carries the taxonomy sentinel (unsupported format, model load, ...)
// so callers can branch with errors.Is regardless of the wrapped cause.
type OperationError struct {
	Operation string
	RequestID string
	Kind      error
	Err       error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	prefix := e.Operation
	if e.RequestID != "" {
		prefix = fmt.Sprintf("%s (request_id=%s)", e.Operation, e.RequestID)
	}
	if e.Kind != nil && !errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s: %v: %v", prefix, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", prefix, e.Err)
}

// Unwrap exposes both the sentinel kind and the cause.
func (e *OperationError) Unwrap() []error {
	if e == nil {
		return nil
	}
	if e.Kind == nil {
		return []error{e.Err}
	}
	return []error{e.Kind, e.Err}
}

// NewOperationError wraps an error with structured context about where it occurred.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// NewKindError is NewOperationError with a taxonomy sentinel attached.
func NewKindError(operation, requestID string, kind, err error) error {
	if err == nil {
		err = kind
	}
	return &OperationError{Operation: operation, RequestID: requestID, Kind: kind, Err: err}
}

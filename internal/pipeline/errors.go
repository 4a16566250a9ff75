package pipeline

import "errors"

// StageError classifies a stage failure for the worker boundary: retryable
// failures go back on the queue, fatal ones go straight to the DLQ.
type StageError struct {
	Err       error
	Retryable bool
}

func (e *StageError) Error() string {
	return e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func NewRetryableError(err error) *StageError {
	return &StageError{Err: err, Retryable: true}
}

func NewFatalError(err error) *StageError {
	return &StageError{Err: err, Retryable: false}
}

// IsRetryable reports whether err should be retried. Unclassified errors are
// retryable; a transient failure mislabeled fatal loses work, the reverse only
// costs attempts.
func IsRetryable(err error) bool {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Retryable
	}
	return true
}

package executor

import (
	"errors"
	"fmt"
)

// StageErrorCode categorizes stage errors.
type StageErrorCode string

const (
	// ErrCodeMalformedMessage indicates the message value is not a stage message.
	ErrCodeMalformedMessage StageErrorCode = "MALFORMED_MESSAGE"

	// ErrCodeRunNotFound indicates the referenced run does not exist.
	ErrCodeRunNotFound StageErrorCode = "RUN_NOT_FOUND"

	// ErrCodeZapNotFound indicates the run's zap does not exist.
	ErrCodeZapNotFound StageErrorCode = "ZAP_NOT_FOUND"

	// ErrCodeStageOutOfRange indicates stage is outside the zap's action list.
	ErrCodeStageOutOfRange StageErrorCode = "STAGE_OUT_OF_RANGE"

	// ErrCodeActionFailed indicates the action side effect failed after
	// every attempt.
	ErrCodeActionFailed StageErrorCode = "ACTION_FAILED"
)

// StageError describes why a stage did not run its side effect.
//
// Stage errors are never retried by redelivery: the message is committed.
// Infrastructure failures are plain errors and leave the message
// uncommitted.
type StageError struct {
	// Code identifies the error category.
	Code StageErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run, when known.
	RunID string

	// Stage is the stage index from the message.
	Stage int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RunID != "" {
		msg = fmt.Sprintf("%s (run=%s, stage=%d)", msg, e.RunID, e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error { return e.Err }

// IsAnomaly reports whether err is a data anomaly: a message that can
// never succeed and is skipped.
// Uses errors.As to handle wrapped errors.
func IsAnomaly(err error) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Code != ErrCodeActionFailed
	}
	return false
}

// IsActionFailure reports whether err is an exhausted action failure.
func IsActionFailure(err error) bool {
	var se *StageError
	return errors.As(err, &se) && se.Code == ErrCodeActionFailed
}

func newStageError(code StageErrorCode, runID string, stage int, err error, format string, args ...any) *StageError {
	return &StageError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		RunID:   runID,
		Stage:   stage,
		Err:     err,
	}
}

// Package errors provides standardized error handling for the lifecycle engine.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeApplicationNotFound ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeEntryNotFound       ErrorCode = "LEDGER_ENTRY_NOT_FOUND"

	// Pre-transition status no longer matches what the scan read. Resolved by
	// deferring to the next cycle; never surfaced to the operator.
	ErrCodeConcurrencyConflict ErrorCode = "CONCURRENCY_CONFLICT"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeTransactionTimeout       ErrorCode = "TRANSACTION_TIMEOUT"

	ErrCodeDataIntegrity ErrorCode = "DATA_INTEGRITY"

	ErrCodeLedgerTimeout        ErrorCode = "LEDGER_COLLECTION_TIMEOUT"
	ErrCodeLedgerRetryExhausted ErrorCode = "LEDGER_RETRY_EXHAUSTED"
	ErrCodeInvalidTransition    ErrorCode = "INVALID_TRANSITION"
)

// StandardError represents a structured engine error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewApplicationNotFoundError creates a non-retryable not-found error.
func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEntryNotFoundError creates a non-retryable not-found error for ledger entries.
func NewEntryNotFoundError(entryID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEntryNotFound,
		Message:   "Revenue collection entry not found",
		Details:   fmt.Sprintf("entryId: %s", entryID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConcurrencyConflictError marks a transition skipped by the optimistic
// pre-check. The next cycle re-evaluates; retrying in place would race again.
func NewConcurrencyConflictError(applicationID, expected, actual string) *StandardError {
	return &StandardError{
		Code:    ErrCodeConcurrencyConflict,
		Message: "Application status changed under a concurrent writer",
		Details: fmt.Sprintf("applicationId: %s, expected: %s, actual: %s", applicationID, expected, actual),
		Metadata: map[string]interface{}{
			"applicationId": applicationID,
		},
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransactionTimeoutError creates a retryable transaction budget error.
func NewTransactionTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTransactionTimeout,
		Message:   "Transactional unit exceeded its budget and was rolled back",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDataIntegrityError records a contradictory snapshot. Logged and skipped,
// never crashes a monitor loop.
func NewDataIntegrityError(applicationID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeDataIntegrity,
		Message:   "Application snapshot fields are mutually contradictory",
		Details:   fmt.Sprintf("applicationId: %s, %s", applicationID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerTimeoutError marks an entry pending past the collection threshold.
func NewLedgerTimeoutError(entryID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerTimeout,
		Message:   "Revenue collection timed out",
		Details:   fmt.Sprintf("entryId: %s", entryID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewLedgerRetryExhaustedError marks an entry past its retry bound.
func NewLedgerRetryExhaustedError(entryID string, retries int) *StandardError {
	return &StandardError{
		Code:      ErrCodeLedgerRetryExhausted,
		Message:   "Revenue collection retries exhausted",
		Details:   fmt.Sprintf("entryId: %s, retries: %d", entryID, retries),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError rejects an operator action the state machine forbids.
func NewInvalidTransitionError(applicationID, from, to string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   "Requested status transition is not legal",
		Details:   fmt.Sprintf("applicationId: %s, from: %s, to: %s", applicationID, from, to),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsCode reports whether err is a StandardError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// IsConcurrencyConflict reports whether err is a skipped-transition conflict.
func IsConcurrencyConflict(err error) bool {
	return IsCode(err, ErrCodeConcurrencyConflict)
}

// IsNotFound reports whether err is any of the not-found codes.
func IsNotFound(err error) bool {
	return IsCode(err, ErrCodeApplicationNotFound) || IsCode(err, ErrCodeEntryNotFound)
}

// IsRetryable reports whether the error should be retried by the caller.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

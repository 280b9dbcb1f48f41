// Package apperrors defines the error taxonomy shared by the memory
// pipeline: store reads/writes, input validation, safety verdicts, and
// generation. Callers branch on Kind, not on error strings.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// KindStoreUnavailable: the backend is unreachable or timed out.
	// Reads degrade, writes retry.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindRecordNotFound: an expected key is absent. First-time users
	// hit this on every tier; callers treat it as "create new".
	KindRecordNotFound Kind = "record_not_found"
	// KindValidationFailure: malformed input, rejected before any
	// store access.
	KindValidationFailure Kind = "validation_failure"
	// KindSafetyViolation: the safety validator returned Unsafe.
	// Never surfaced to the end user as raw text.
	KindSafetyViolation Kind = "safety_violation"
	// KindBudgetExceeded: the assembler produced an over-budget
	// bundle. Cannot happen by construction; if it does it is a
	// defect and the turn is aborted.
	KindBudgetExceeded Kind = "budget_exceeded"
	// KindGenerationFailure: the generation call failed after all
	// retries; the caller falls back to a canned response.
	KindGenerationFailure Kind = "generation_failure"
)

// Error is a classified error. Message must stay generic: it can reach
// API responses and must never leak key names or backend identifiers.
type Error struct {
	Kind      Kind
	Message   string
	Reason    string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewStoreUnavailable wraps a backend failure. Retryable: writes are
// retried with backoff, reads degrade instead.
func NewStoreUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindStoreUnavailable, Message: message, Retryable: true, Cause: cause}
}

// NewRecordNotFound reports an absent record of the given tier.
func NewRecordNotFound(tier string) *Error {
	return &Error{Kind: KindRecordNotFound, Message: tier + " record not found"}
}

// NewValidationFailure reports rejected input.
func NewValidationFailure(message string) *Error {
	return &Error{Kind: KindValidationFailure, Message: message}
}

// NewSafetyViolation reports an Unsafe verdict with its reason code
// (forbidden_content, unnatural_phrasing, fabrication).
func NewSafetyViolation(reason, message string) *Error {
	return &Error{Kind: KindSafetyViolation, Reason: reason, Message: message}
}

// NewBudgetExceeded reports an over-budget bundle. Defect-level.
func NewBudgetExceeded(estimate, budget int) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("context estimate %d exceeds budget %d", estimate, budget),
	}
}

// NewGenerationFailure wraps an exhausted or non-retryable generation
// call.
func NewGenerationFailure(message string, retryable bool, cause error) *Error {
	return &Error{Kind: KindGenerationFailure, Message: message, Retryable: retryable, Cause: cause}
}

// KindOf extracts the Kind from anywhere in the wrap chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsStoreUnavailable reports whether err is a store availability error.
func IsStoreUnavailable(err error) bool {
	return KindOf(err) == KindStoreUnavailable
}

// IsRecordNotFound reports whether err is a missing-record error.
func IsRecordNotFound(err error) bool {
	return KindOf(err) == KindRecordNotFound
}

// IsValidationFailure reports whether err is an input validation error.
func IsValidationFailure(err error) bool {
	return KindOf(err) == KindValidationFailure
}

// IsSafetyViolation reports whether err is a safety verdict error.
func IsSafetyViolation(err error) bool {
	return KindOf(err) == KindSafetyViolation
}

// IsRetryable reports whether the wrapped error is worth retrying.
// Unknown errors are not retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

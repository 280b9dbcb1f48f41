package apperrors

import (
	"errors"
	"fmt"
	"testing"
)

// TestKindOf tests kind extraction through wrap chains
func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "Store unavailable", err: NewStoreUnavailable("redis down", errors.New("dial tcp")), expected: KindStoreUnavailable},
		{name: "Record not found", err: NewRecordNotFound("profile"), expected: KindRecordNotFound},
		{name: "Validation failure", err: NewValidationFailure("bad user_id"), expected: KindValidationFailure},
		{name: "Safety violation", err: NewSafetyViolation("fabrication", "ungrounded claim"), expected: KindSafetyViolation},
		{name: "Budget exceeded", err: NewBudgetExceeded(1600, 1500), expected: KindBudgetExceeded},
		{name: "Generation failure", err: NewGenerationFailure("timeout", true, nil), expected: KindGenerationFailure},
		{name: "Wrapped once", err: fmt.Errorf("turn failed: %w", NewRecordNotFound("session")), expected: KindRecordNotFound},
		{name: "Wrapped twice", err: fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", NewValidationFailure("x"))), expected: KindValidationFailure},
		{name: "Plain error has no kind", err: errors.New("boom"), expected: ""},
		{name: "Nil has no kind", err: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.expected {
				t.Errorf("Expected kind %q, got %q", tt.expected, got)
			}
		})
	}
}

// TestIsRetryable tests the retry policy flags
func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "Store unavailable retries", err: NewStoreUnavailable("timeout", nil), expected: true},
		{name: "Not found does not retry", err: NewRecordNotFound("profile"), expected: false},
		{name: "Validation does not retry", err: NewValidationFailure("bad input"), expected: false},
		{name: "Retryable generation failure", err: NewGenerationFailure("503", true, nil), expected: true},
		{name: "Terminal generation failure", err: NewGenerationFailure("cancelled", false, nil), expected: false},
		{name: "Wrapped retryable", err: fmt.Errorf("write: %w", NewStoreUnavailable("timeout", nil)), expected: true},
		{name: "Plain error does not retry", err: errors.New("boom"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("Expected retryable=%v, got %v", tt.expected, got)
			}
		})
	}
}

// TestKindPredicates tests the convenience predicates
func TestKindPredicates(t *testing.T) {
	storeErr := NewStoreUnavailable("down", nil)
	notFound := NewRecordNotFound("session")
	validation := NewValidationFailure("bad")
	safety := NewSafetyViolation("forbidden_content", "as an ai")

	if !IsStoreUnavailable(storeErr) || IsStoreUnavailable(notFound) {
		t.Error("IsStoreUnavailable misclassified")
	}
	if !IsRecordNotFound(notFound) || IsRecordNotFound(storeErr) {
		t.Error("IsRecordNotFound misclassified")
	}
	if !IsValidationFailure(validation) || IsValidationFailure(storeErr) {
		t.Error("IsValidationFailure misclassified")
	}
	if !IsSafetyViolation(safety) || IsSafetyViolation(validation) {
		t.Error("IsSafetyViolation misclassified")
	}
}

// TestErrorMessage tests message formatting and cause unwrapping
func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:6379: connection refused")
	err := NewStoreUnavailable("profile read failed", cause)

	if !errors.Is(err, cause) {
		t.Error("Expected wrapped cause to be reachable via errors.Is")
	}

	msg := err.Error()
	if msg == "" {
		t.Fatal("Expected non-empty error message")
	}

	reasoned := NewSafetyViolation("fabrication", "claim not grounded")
	if got := reasoned.Error(); got != "safety_violation (fabrication): claim not grounded" {
		t.Errorf("Unexpected reasoned message: %q", got)
	}

	plain := NewValidationFailure("message must not be empty")
	if got := plain.Error(); got != "validation_failure: message must not be empty" {
		t.Errorf("Unexpected plain message: %q", got)
	}
}

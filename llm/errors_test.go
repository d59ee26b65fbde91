package llm

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestErrorMessageIncludesProviderAndCause(t *testing.T) {
	cause := errors.New("boom")
	err := NewAPIError("anthropic", "api request failed", 500, true, cause)

	msg := err.Error()
	if !strings.Contains(msg, "anthropic") || !strings.Contains(msg, "boom") {
		t.Errorf("unexpected error message: %q", msg)
	}
	if !errors.Is(err, cause) {
		t.Error("Unwrap should expose the provider error")
	}
}

func TestPredicates(t *testing.T) {
	retryAfter := 5 * time.Second
	tests := []struct {
		name      string
		err       error
		auth      bool
		rateLimit bool
		timeout   bool
		valid     bool
		retryable bool
	}{
		{"auth", NewAuthError("p", "denied", nil), true, false, false, false, false},
		{"rate limit", NewRateLimitError("p", "slow down", &retryAfter, nil), false, true, false, false, true},
		{"timeout", NewTimeoutError("p", "slow", nil), false, false, true, false, true},
		{"validation", NewValidationError("p", "bad input"), false, false, false, true, false},
		{"retryable api", NewAPIError("p", "oops", 503, true, nil), false, false, false, false, true},
		{"terminal api", NewAPIError("p", "oops", 400, false, nil), false, false, false, false, false},
		{"plain error", errors.New("nope"), false, false, false, false, false},
		{"nil", nil, false, false, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthError(tt.err); got != tt.auth {
				t.Errorf("IsAuthError = %v, want %v", got, tt.auth)
			}
			if got := IsRateLimitError(tt.err); got != tt.rateLimit {
				t.Errorf("IsRateLimitError = %v, want %v", got, tt.rateLimit)
			}
			if got := IsTimeoutError(tt.err); got != tt.timeout {
				t.Errorf("IsTimeoutError = %v, want %v", got, tt.timeout)
			}
			if got := IsValidationError(tt.err); got != tt.valid {
				t.Errorf("IsValidationError = %v, want %v", got, tt.valid)
			}
			if got := IsRetryableError(tt.err); got != tt.retryable {
				t.Errorf("IsRetryableError = %v, want %v", got, tt.retryable)
			}
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	inner := NewRateLimitError("p", "slow down", nil, nil)
	wrapped := fmt.Errorf("request failed: %w", inner)

	if !IsRateLimitError(wrapped) {
		t.Error("IsRateLimitError should unwrap")
	}
	if !IsRetryableError(wrapped) {
		t.Error("IsRetryableError should unwrap")
	}
}

func TestIsRetryableErrorResolvesExhaustion(t *testing.T) {
	exhaustedRetryable := &RetryExhaustedError{
		Provider: "p",
		Attempts: 4,
		LastErr:  NewTimeoutError("p", "slow", nil),
	}
	if !IsRetryableError(exhaustedRetryable) {
		t.Error("exhaustion over a retryable cause should stay retryable")
	}

	exhaustedTerminal := &RetryExhaustedError{
		Provider: "p",
		Attempts: 1,
		LastErr:  NewValidationError("p", "bad"),
	}
	if IsRetryableError(exhaustedTerminal) {
		t.Error("exhaustion over a terminal cause should not be retryable")
	}

	exhaustedUnknown := &RetryExhaustedError{Provider: "p", Attempts: 4}
	if !IsRetryableError(exhaustedUnknown) {
		t.Error("exhaustion with no recorded cause should be retryable")
	}
}

func TestExtractRetryAfter(t *testing.T) {
	retryAfter := 7 * time.Second
	err := NewRateLimitError("p", "slow down", &retryAfter, nil)

	got := ExtractRetryAfter(err)
	if got == nil || *got != retryAfter {
		t.Errorf("ExtractRetryAfter = %v, want %v", got, retryAfter)
	}
	if ExtractRetryAfter(errors.New("nope")) != nil {
		t.Error("ExtractRetryAfter on untyped error should be nil")
	}
}

func TestClassifyPassesThroughTypedErrors(t *testing.T) {
	original := NewRateLimitError("anthropic", "slow down", nil, nil)
	ce := Classify("openai", original)
	if ce != original {
		t.Error("typed errors should pass through unchanged")
	}
}

func TestClassifyResolvesExhaustionThroughCause(t *testing.T) {
	ce := Classify("p", &RetryExhaustedError{
		Provider: "p",
		Attempts: 4,
		LastErr:  NewTimeoutError("p", "slow", nil),
	})
	if ce.Type != ErrorTypeTimeout {
		t.Errorf("Classify type = %s, want %s", ce.Type, ErrorTypeTimeout)
	}

	ce = Classify("p", &RetryExhaustedError{Provider: "p", Attempts: 4})
	if ce.Type != ErrorTypeAPI || !ce.Retryable {
		t.Errorf("exhaustion with no cause should classify as retryable api error, got %+v", ce)
	}
}

func TestClassifyUntypedErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"401 in message", errors.New("unexpected status 401"), ErrorTypeAuth, false},
		{"invalid key", errors.New("invalid API key provided"), ErrorTypeAuth, false},
		{"anything else", errors.New("connection reset"), ErrorTypeAPI, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify("p", tt.err)
			if ce.Type != tt.wantType {
				t.Errorf("type = %s, want %s", ce.Type, tt.wantType)
			}
			if ce.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", ce.Retryable, tt.retryable)
			}
			if ce.Provider != "p" {
				t.Errorf("provider = %q, want p", ce.Provider)
			}
		})
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify("p", nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

func TestRetryExhaustedErrorMessage(t *testing.T) {
	err := &RetryExhaustedError{
		Provider: "openai",
		Attempts: 4,
		LastErr:  errors.New("boom"),
	}
	msg := err.Error()
	if !strings.Contains(msg, "openai") || !strings.Contains(msg, "4") || !strings.Contains(msg, "boom") {
		t.Errorf("unexpected message: %q", msg)
	}
}

func TestAllProvidersFailedErrorMessage(t *testing.T) {
	err := &AllProvidersFailedError{
		ProvidersTried: []string{"anthropic", "openai"},
		Errors: map[string]error{
			"openai":    errors.New("rate limited"),
			"anthropic": errors.New("timeout"),
		},
	}
	msg := err.Error()
	if !strings.Contains(msg, "anthropic, openai") {
		t.Errorf("message should list providers in attempt order: %q", msg)
	}
	// Per-provider details are sorted for deterministic output.
	if strings.Index(msg, "anthropic: timeout") > strings.Index(msg, "openai: rate limited") {
		t.Errorf("details should be sorted: %q", msg)
	}
}

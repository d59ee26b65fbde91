package llm

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error represents a provider-neutral LLM error.
type Error struct {
	Type        ErrorType
	Message     string
	Provider    string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeAPI        ErrorType = "api_error"
	ErrorTypeValidation ErrorType = "validation"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.ProviderErr != nil {
		return msg + ": " + e.ProviderErr.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// NewAuthError creates an authentication error. Never retryable.
func NewAuthError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeAuth,
		Message:     message,
		Provider:    provider,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}

// NewRateLimitError creates a rate limit error. Always retryable.
func NewRateLimitError(provider, message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Provider:    provider,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  429,
		ProviderErr: providerErr,
	}
}

// NewTimeoutError creates a request timeout error. Always retryable.
func NewTimeoutError(provider, message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Message:     message,
		Provider:    provider,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewAPIError creates a generic API error. Adapters set retryable from the
// HTTP status (5xx retryable, 4xx not).
func NewAPIError(provider, message string, statusCode int, retryable bool, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeAPI,
		Message:     message,
		Provider:    provider,
		Retryable:   retryable,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// NewValidationError creates a validation error for caller mistakes such as
// an empty message list. Never retryable.
func NewValidationError(provider, message string) *Error {
	return &Error{
		Type:      ErrorTypeValidation,
		Message:   message,
		Provider:  provider,
		Retryable: false,
	}
}

// IsAuthError checks if an error is an authentication error.
func IsAuthError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeAuth
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsTimeoutError checks if an error is a request timeout error.
func IsTimeoutError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeTimeout
	}
	return false
}

// IsValidationError checks if an error is a validation error.
func IsValidationError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeValidation
	}
	return false
}

// IsRetryableError checks if an error is retryable. Retry exhaustion is
// resolved through its last underlying error; exhaustion with no recorded
// cause counts as retryable so an outer layer may still advance.
func IsRetryableError(err error) bool {
	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.LastErr == nil {
			return true
		}
		return IsRetryableError(exhausted.LastErr)
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// Classify maps an arbitrary failure from a provider call to an Error.
// Already-classified errors pass through; RetryExhaustedError is resolved
// through its last underlying error. Untyped errors are classified by
// message: "401" or "invalid"+"key" means authentication, anything else is
// a non-retryable API error.
func Classify(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	var exhausted *RetryExhaustedError
	if errors.As(err, &exhausted) {
		if exhausted.LastErr != nil {
			return Classify(provider, exhausted.LastErr)
		}
		// Exhausting retries on an unknown error still permits advancing
		// to the next provider.
		return &Error{
			Type:        ErrorTypeAPI,
			Message:     "retries exhausted",
			Provider:    provider,
			Retryable:   true,
			ProviderErr: exhausted,
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "401") || (strings.Contains(msg, "invalid") && strings.Contains(msg, "key")) {
		return NewAuthError(provider, "authentication failed", err)
	}

	return &Error{
		Type:        ErrorTypeAPI,
		Message:     "provider call failed",
		Provider:    provider,
		Retryable:   false,
		ProviderErr: err,
	}
}

// RetryExhaustedError is raised when all retry attempts for one logical
// call have failed. Attempts is the total number of calls made, including
// the initial one.
type RetryExhaustedError struct {
	Provider string
	Attempts int
	LastErr  error
}

// Error implements the error interface.
func (e *RetryExhaustedError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("%s: retries exhausted after %d attempts: %s", e.Provider, e.Attempts, e.LastErr.Error())
	}
	return fmt.Sprintf("%s: retries exhausted after %d attempts", e.Provider, e.Attempts)
}

// Unwrap returns the last underlying error.
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// AllProvidersFailedError is the aggregate error raised when every provider
// in a fallback chain has been tried and failed. Errors is keyed by provider
// name; ProvidersTried preserves attempt order and duplicates.
type AllProvidersFailedError struct {
	ProvidersTried []string
	Errors         map[string]error
}

// Error implements the error interface.
func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for name, err := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s: %s", name, err.Error()))
	}
	sort.Strings(parts)
	return fmt.Sprintf("all providers failed (%s): %s",
		strings.Join(e.ProvidersTried, ", "), strings.Join(parts, "; "))
}

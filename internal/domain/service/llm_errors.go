package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// LLMErrorKind classifies provider-call errors for retry, fallback, and
// reporting decisions.
type LLMErrorKind int

const (
	// ErrKindUnavailable means the provider failed transiently: 5xx, 529,
	// connection error, read timeout. Retried with backoff, then fallback.
	ErrKindUnavailable LLMErrorKind = iota

	// ErrKindRateLimit is HTTP 429. Retried with backoff.
	ErrKindRateLimit

	// ErrKindAuth means the provider rejected the API key (401) or the
	// account is blocked (403). Never retried, never falls back blindly.
	ErrKindAuth

	// ErrKindCredits is HTTP 402 (insufficient provider credits). Not retried.
	ErrKindCredits

	// ErrKindTokenOverflow means the prompt exceeded the model context.
	// The caller compacts the session and retries once; no fallback.
	ErrKindTokenOverflow

	// ErrKindResponsesOnly means an OpenAI model only serves /responses.
	// The gateway retries once against that endpoint and memoizes.
	ErrKindResponsesOnly

	// ErrKindBadRequest means the request itself is malformed (400).
	ErrKindBadRequest

	// ErrKindCancelled means ctx was cancelled or the deadline passed.
	ErrKindCancelled
)

func (k LLMErrorKind) String() string {
	switch k {
	case ErrKindUnavailable:
		return "unavailable"
	case ErrKindRateLimit:
		return "rate_limit"
	case ErrKindAuth:
		return "auth"
	case ErrKindCredits:
		return "insufficient_credits"
	case ErrKindTokenOverflow:
		return "token_overflow"
	case ErrKindResponsesOnly:
		return "responses_only"
	case ErrKindBadRequest:
		return "bad_request"
	case ErrKindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// IsRetryable reports whether same-provider retry with backoff makes sense.
func (k LLMErrorKind) IsRetryable() bool {
	return k == ErrKindUnavailable || k == ErrKindRateLimit
}

// LLMError is a structured error from a provider call. It wraps the original
// error with classification metadata for retry, fallback, and metrics.
type LLMError struct {
	Kind       LLMErrorKind
	Message    string
	StatusCode int
	Provider   string
	Model      string
	Cause      error
}

func (e *LLMError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *LLMError) Unwrap() error {
	return e.Cause
}

func (e *LLMError) IsRetryable() bool {
	return e.Kind.IsRetryable()
}

// NewLLMError builds a classified error from an HTTP status and body.
func NewLLMError(kind LLMErrorKind, provider, model, message string, status int) *LLMError {
	return &LLMError{
		Kind:       kind,
		Message:    message,
		StatusCode: status,
		Provider:   provider,
		Model:      model,
	}
}

// ClassifyHTTPStatus maps a provider HTTP status + body to an error kind.
// The body matters for two cases the status alone cannot distinguish:
// token overflow arrives as 400, and responses-only models reject
// /chat/completions with a 4xx whose body says "not a chat model".
func ClassifyHTTPStatus(status int, body string) LLMErrorKind {
	lower := strings.ToLower(body)
	if IsTokenOverflowText(lower) {
		return ErrKindTokenOverflow
	}
	if strings.Contains(lower, "not a chat model") {
		return ErrKindResponsesOnly
	}
	switch {
	case status == 401:
		return ErrKindAuth
	case status == 402:
		return ErrKindCredits
	case status == 403:
		return ErrKindAuth
	case status == 429:
		return ErrKindRateLimit
	case status == 400:
		return ErrKindBadRequest
	case status == 500 || status == 502 || status == 503 || status == 504 || status == 529:
		return ErrKindUnavailable
	case status >= 500:
		return ErrKindUnavailable
	default:
		return ErrKindBadRequest
	}
}

// IsTokenOverflowText reports whether a provider error body describes a
// context-window overflow.
func IsTokenOverflowText(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "maximum context")
}

// ClassifyError examines an arbitrary error and returns a classified
// LLMError. Already-classified errors pass through unchanged.
func ClassifyError(err error, provider, model string) *LLMError {
	if err == nil {
		return nil
	}

	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &LLMError{
			Kind:     ErrKindCancelled,
			Message:  "request cancelled",
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}

	errStr := strings.ToLower(err.Error())

	if IsTokenOverflowText(errStr) {
		return &LLMError{
			Kind:     ErrKindTokenOverflow,
			Message:  "prompt exceeds model context",
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}

	if strings.Contains(errStr, "not a chat model") {
		return &LLMError{
			Kind:     ErrKindResponsesOnly,
			Message:  "model requires the responses endpoint",
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}

	for _, p := range []string{"unauthorized", "invalid api key", "401", "authentication", "permission denied", "403"} {
		if strings.Contains(errStr, p) {
			return &LLMError{
				Kind:       ErrKindAuth,
				Message:    "authentication failed",
				StatusCode: extractStatusCode(errStr),
				Provider:   provider,
				Model:      model,
				Cause:      err,
			}
		}
	}

	if strings.Contains(errStr, "insufficient credits") || strings.Contains(errStr, "402") {
		return &LLMError{
			Kind:       ErrKindCredits,
			Message:    "insufficient credits",
			StatusCode: 402,
			Provider:   provider,
			Model:      model,
			Cause:      err,
		}
	}

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return &LLMError{
			Kind:       ErrKindRateLimit,
			Message:    "rate limited",
			StatusCode: 429,
			Provider:   provider,
			Model:      model,
			Cause:      err,
		}
	}

	for _, p := range []string{"bad request", "invalid argument", "model not found", "400", "invalid_request"} {
		if strings.Contains(errStr, p) {
			return &LLMError{
				Kind:       ErrKindBadRequest,
				Message:    "invalid request",
				StatusCode: extractStatusCode(errStr),
				Provider:   provider,
				Model:      model,
				Cause:      err,
			}
		}
	}

	// Default: transient provider trouble (connection reset, EOF, timeout).
	return &LLMError{
		Kind:       ErrKindUnavailable,
		Message:    "provider unavailable",
		StatusCode: extractStatusCode(errStr),
		Provider:   provider,
		Model:      model,
		Cause:      err,
	}
}

// extractStatusCode tries to find an HTTP status code in an error string.
func extractStatusCode(errStr string) int {
	codes := map[string]int{
		"400": 400, "401": 401, "402": 402, "403": 403, "404": 404,
		"429": 429, "500": 500, "502": 502, "503": 503,
		"504": 504, "529": 529,
	}
	for code, num := range codes {
		if strings.Contains(errStr, code) {
			return num
		}
	}
	return 0
}

package summarizer

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// UpstreamErrorKind classifies AI endpoint failures for the caller
type UpstreamErrorKind string

const (
	// UpstreamUnavailable covers network failures and 5xx; the caller
	// may retry.
	UpstreamUnavailable UpstreamErrorKind = "unavailable"
	// UpstreamRejected covers 4xx such as an invalid model; retrying
	// the same request will not help.
	UpstreamRejected UpstreamErrorKind = "rejected"
	// QuotaExceeded signals the caller should try another model/tier.
	QuotaExceeded UpstreamErrorKind = "quota_exceeded"
)

// UpstreamError is a typed AI endpoint failure
type UpstreamError struct {
	Kind  UpstreamErrorKind
	Model string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ai completion (%s): %s: %v", e.Model, e.Kind, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation
func (e *UpstreamError) Retryable() bool {
	return e.Kind == UpstreamUnavailable
}

func classify(model string, err error) *UpstreamError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &UpstreamError{Kind: QuotaExceeded, Model: model, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &UpstreamError{Kind: UpstreamUnavailable, Model: model, Err: err}
		default:
			return &UpstreamError{Kind: UpstreamRejected, Model: model, Err: err}
		}
	}
	return &UpstreamError{Kind: UpstreamUnavailable, Model: model, Err: err}
}

// modelUnavailable reports whether the error means the requested model
// does not exist or cannot be used, which triggers the single fallback
// hop to the default model
func modelUnavailable(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.HTTPStatusCode == 404 {
		return true
	}
	if code, ok := apiErr.Code.(string); ok && code == "model_not_found" {
		return true
	}
	return false
}

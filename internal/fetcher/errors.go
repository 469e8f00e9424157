package fetcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
)

// ErrorKind distinguishes non-retryable auth failures from transient
// platform errors the caller may retry with backoff.
type ErrorKind string

const (
	// KindUnauthorized means the token is revoked or invalid; the user
	// has to reconnect the integration.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindTransient covers rate limiting, 5xx and network failures.
	KindTransient ErrorKind = "transient"
)

// FetchError is a typed platform fetch failure
type FetchError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation
func (e *FetchError) Retryable() bool {
	return e.Kind == KindTransient
}

// Platform error codes that mean the token is no longer usable.
var authErrorCodes = []string{
	"invalid_auth",
	"not_authed",
	"account_inactive",
	"token_revoked",
	"token_expired",
	"missing_scope",
	"no_permission",
}

func classify(op string, err error) *FetchError {
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return &FetchError{Kind: KindTransient, Op: op, Err: err}
	}

	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		if statusErr.Code == 401 || statusErr.Code == 403 {
			return &FetchError{Kind: KindUnauthorized, Op: op, Err: err}
		}
		return &FetchError{Kind: KindTransient, Op: op, Err: err}
	}

	msg := err.Error()
	for _, code := range authErrorCodes {
		if strings.Contains(msg, code) {
			return &FetchError{Kind: KindUnauthorized, Op: op, Err: err}
		}
	}

	return &FetchError{Kind: KindTransient, Op: op, Err: err}
}

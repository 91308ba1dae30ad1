package platform

import (
	"errors"
	"fmt"
	"time"
)

const (
	errMessageInvalidRequest   = "invalid request"
	errMessageUnauthorized     = "access token rejected by the platform"
	errMessageRateLimited      = "platform rate limit reached"
	errMessageAuthExchange     = "authorization code exchange rejected"
	errMessageProfileFetch     = "profile fetch failed after token grant"
	errMessageUpstreamFailure  = "platform returned an error response"
	errMessageTransportFailure = "no response received from the platform"
)

// Sentinel errors for classification with errors.Is. The typed errors below
// unwrap to these while preserving the upstream diagnostic payload.
var (
	ErrInvalidRequest = errors.New(errMessageInvalidRequest)
	ErrUnauthorized   = errors.New(errMessageUnauthorized)
	ErrRateLimited    = errors.New(errMessageRateLimited)
)

// UnauthorizedError reports a 401 from the platform together with its payload.
type UnauthorizedError struct {
	Payload []byte
}

func (unauthorizedErr *UnauthorizedError) Error() string {
	return errMessageUnauthorized
}

func (unauthorizedErr *UnauthorizedError) Unwrap() error {
	return ErrUnauthorized
}

// RateLimitError reports a 429 from the platform. RetryAfter is the upstream
// hint when one was provided and zero otherwise; callers decide whether and
// when to resume.
type RateLimitError struct {
	RetryAfter time.Duration
	Payload    []byte
}

func (rateLimitErr *RateLimitError) Error() string {
	if rateLimitErr.RetryAfter > 0 {
		return fmt.Sprintf("%s: retry after %s", errMessageRateLimited, rateLimitErr.RetryAfter)
	}
	return errMessageRateLimited
}

func (rateLimitErr *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// UpstreamError reports a non-success platform response that is neither an
// authorization nor a rate-limit failure. The payload is kept verbatim so
// callers can surface the upstream diagnostics.
type UpstreamError struct {
	StatusCode int
	Payload    []byte
}

func (upstreamErr *UpstreamError) Error() string {
	return fmt.Sprintf("%s: status %d", errMessageUpstreamFailure, upstreamErr.StatusCode)
}

// AuthExchangeError reports a rejected code-for-token exchange. The
// authorization code is single use, so the failure is terminal for the login
// attempt; the caller must restart the authorization flow.
type AuthExchangeError struct {
	StatusCode int
	Payload    []byte
}

func (exchangeErr *AuthExchangeError) Error() string {
	return fmt.Sprintf("%s: status %d", errMessageAuthExchange, exchangeErr.StatusCode)
}

// ProfileFetchError reports a profile lookup failure after a successful token
// grant. The grant is still valid; callers may retry the profile fetch alone.
type ProfileFetchError struct {
	Grant TokenGrant
	Cause error
}

func (profileErr *ProfileFetchError) Error() string {
	return fmt.Sprintf("%s: %v", errMessageProfileFetch, profileErr.Cause)
}

func (profileErr *ProfileFetchError) Unwrap() error {
	return profileErr.Cause
}

package client

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited matches any *RateLimitedError via errors.Is
	ErrRateLimited = errors.New("fipe: rate limited")
	// ErrNotFound is returned for any non-2xx, non-429 response
	ErrNotFound = errors.New("fipe: no data for this combination")
	// ErrNetworkFailure covers transport errors and unreadable responses
	ErrNetworkFailure = errors.New("fipe: network failure")
	// ErrInvalidRequest flags a caller bug: empty codes or unsupported category
	ErrInvalidRequest = errors.New("fipe: invalid lookup request")
)

// RateLimitedError is returned once every attempt came back with 429.
type RateLimitedError struct {
	Attempts     int
	Credentialed bool
}

func (e *RateLimitedError) Error() string {
	if e.Credentialed {
		return fmt.Sprintf("fipe: request limit reached even with subscription token after %d attempts, try again in a few minutes", e.Attempts)
	}
	return fmt.Sprintf("fipe: free request limit reached after %d attempts", e.Attempts)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// Remediation is the hint shown next to the notice.
func (e *RateLimitedError) Remediation() string {
	if e.Credentialed {
		return "Wait a few minutes before trying again."
	}
	return "Configure a FIPE subscription token for a higher limit, or wait a few minutes."
}

// httpStatusError carries a non-2xx status through the retry loop.
type httpStatusError struct {
	StatusCode int
	Status     string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

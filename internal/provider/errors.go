package provider

import "errors"

// Tagged error kinds, decided once at the adapter boundary.
var (
	ErrRateLimited        = errors.New("provider: rate limited")
	ErrInvalidCredentials = errors.New("provider: invalid credentials")
	ErrInvalidRequest     = errors.New("provider: invalid request")
	ErrUnavailable        = errors.New("provider: unavailable")
)

// Kind returns a low-cardinality label for metrics and logs.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "unknown"
	}
}

package signaling

import (
	"errors"
	"fmt"
)

// Sentinel errors for the signaling package.
var (
	// ErrMissingSecret indicates a 2xx credential response without a value.
	ErrMissingSecret = errors.New("signaling: response has no client_secret")

	// ErrNoCredential indicates Direct exchange was attempted without a credential.
	ErrNoCredential = errors.New("signaling: credential required")

	// ErrNoAPIKey indicates the upstream minter has no API key.
	ErrNoAPIKey = errors.New("signaling: API key not configured")

	// ErrUnknownMode indicates an unrecognized signaling mode name.
	ErrUnknownMode = errors.New("signaling: unknown mode")
)

// StatusError is a non-2xx response from a signaling or credential endpoint.
type StatusError struct {
	// Endpoint is a short label for the remote, e.g. "client_secret".
	Endpoint string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Body is the (truncated) response body.
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s failed: %d %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsStatusError reports whether err wraps a StatusError and returns it.
func IsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

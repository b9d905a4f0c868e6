package call

import (
	"errors"
	"fmt"
)

// Sentinel errors for the call package.
var (
	// ErrAlreadyActive indicates Start was invoked while a call exists.
	ErrAlreadyActive = errors.New("call: already active")

	// ErrStopped indicates Stop was requested while Start was in flight.
	// The attempt was torn down as soon as it settled.
	ErrStopped = errors.New("call: stopped during start")

	// ErrMissingCapability indicates a required provider was not injected.
	ErrMissingCapability = errors.New("call: missing capability")

	// ErrEmptyAnswer indicates the remote answer had no SDP.
	ErrEmptyAnswer = errors.New("call: empty answer")
)

// MediaAcquisitionError indicates the microphone was denied or unavailable.
type MediaAcquisitionError struct {
	Cause error
}

// Error implements the error interface.
func (e *MediaAcquisitionError) Error() string {
	return fmt.Sprintf("call: microphone unavailable: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *MediaAcquisitionError) Unwrap() error {
	return e.Cause
}

// CredentialError indicates the credential endpoint failed or returned a
// malformed payload.
type CredentialError struct {
	Cause error
}

// Error implements the error interface.
func (e *CredentialError) Error() string {
	return fmt.Sprintf("call: credential: %v", e.Cause)
}

// Unwrap returns the underlying cause.
func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// SignalingError indicates a failure between peer creation and applying the
// remote answer. Step names the lifecycle step that failed.
type SignalingError struct {
	Step  string
	Cause error
}

// Error implements the error interface.
func (e *SignalingError) Error() string {
	return fmt.Sprintf("call: signaling (%s): %v", e.Step, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *SignalingError) Unwrap() error {
	return e.Cause
}

// Steps reported by SignalingError.
const (
	StepCreatePeer  = "create_peer"
	StepAddTrack    = "add_track"
	StepCreateOffer = "create_offer"
	StepSetLocal    = "set_local_description"
	StepExchange    = "exchange"
	StepSetRemote   = "set_remote_description"
)

// Error checking helpers.

// IsMediaError returns true if err is a MediaAcquisitionError.
func IsMediaError(err error) bool {
	var e *MediaAcquisitionError
	return errors.As(err, &e)
}

// IsCredentialError returns true if err is a CredentialError.
func IsCredentialError(err error) bool {
	var e *CredentialError
	return errors.As(err, &e)
}

// IsSignalingError returns true if err is a SignalingError.
func IsSignalingError(err error) bool {
	var e *SignalingError
	return errors.As(err, &e)
}

// Kind returns a short label for err, used for metrics and logs.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrAlreadyActive):
		return "already_active"
	case errors.Is(err, ErrStopped):
		return "stopped"
	case IsMediaError(err):
		return "media"
	case IsCredentialError(err):
		return "credential"
	case IsSignalingError(err):
		return "signaling"
	default:
		return "other"
	}
}

// Package call owns the lifecycle of a single live voice call with a remote
// realtime AI endpoint: local audio capture, the peer connection, the
// offer/answer signaling exchange and the transition back to idle.
//
// Platform capabilities (microphone, peer connection, playback, credential
// minting, signaling transport) are injected as interfaces so the state
// machine can run against real pion/webrtc objects or test fakes.
//
// Example usage:
//
//	sess := call.NewSession(call.Capabilities{
//	    Capturer: capturer,
//	    Peers:    peer.NewFactory(peer.DefaultConfig()),
//	    Playback: playback,
//	    Signaler: signaling.NewMediated(sessionURL, nil),
//	}, call.WithStatus(board.Set))
//
//	if err := sess.Start(ctx); err != nil {
//	    // already torn down; err is typed
//	}
//	defer sess.Stop()
package call

import "context"

// State is the lifecycle state of a Session.
type State int

const (
	// StateIdle means no call exists and no handles are held.
	StateIdle State = iota
	// StateAcquiring covers microphone capture and credential fetch.
	StateAcquiring
	// StateOffering covers peer creation and local offer generation.
	StateOffering
	// StateAwaitingAnswer means the offer was submitted and the answer is pending.
	StateAwaitingAnswer
	// StateConnected means the remote answer was applied.
	StateConnected
	// StateClosing means teardown is in progress.
	StateClosing
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateOffering:
		return "offering"
	case StateAwaitingAnswer:
		return "awaiting_answer"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// SDPType identifies an offer or an answer.
type SDPType string

const (
	SDPTypeOffer  SDPType = "offer"
	SDPTypeAnswer SDPType = "answer"
)

// SessionDescription is an opaque negotiation payload.
type SessionDescription struct {
	Type SDPType
	SDP  string
}

// Credential is a short-lived bearer token minted per call attempt.
// It is never cached across attempts; expiry is enforced remotely.
type Credential struct {
	Value string
}

// OfferOptions configures local offer generation.
type OfferOptions struct {
	ReceiveAudio bool
	ReceiveVideo bool
}

// LocalTrack is one track of a local capture.
type LocalTrack interface {
	ID() string
	Kind() string
	Stop()
}

// AudioCapture is a live local microphone capture.
type AudioCapture interface {
	// Tracks returns every track of the capture.
	Tracks() []LocalTrack
}

// RemoteTrack is an incoming media stream from the remote peer.
type RemoteTrack interface {
	ID() string
	Kind() string
	StreamID() string
}

// MediaCapturer acquires the local microphone.
type MediaCapturer interface {
	CaptureAudio(ctx context.Context) (AudioCapture, error)
}

// PeerConnection is the platform's peer-to-peer media transport.
type PeerConnection interface {
	// OnTrack registers the callback invoked for each remote track.
	OnTrack(fn func(RemoteTrack))

	// AddTrack attaches a local track belonging to capture.
	AddTrack(track LocalTrack, capture AudioCapture) error

	// CreateOffer generates a local offer.
	CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error)

	SetLocalDescription(desc SessionDescription) error
	SetRemoteDescription(desc SessionDescription) error

	// Close releases the transport. Errors are advisory.
	Close() error
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// Playback routes a remote audio stream to the output device.
// Binding again replaces the previous stream.
type Playback interface {
	Bind(track RemoteTrack)
}

// CredentialSource mints a fresh credential for one call attempt.
type CredentialSource interface {
	Credential(ctx context.Context) (Credential, error)
}

// Signaler submits a local offer to the remote negotiation endpoint and
// returns its answer. cred is nil when the strategy mints credentials
// server-side.
type Signaler interface {
	Mode() string
	Exchange(ctx context.Context, offer SessionDescription, cred *Credential) (SessionDescription, error)
}

// Capabilities bundles the injected platform providers.
type Capabilities struct {
	Capturer MediaCapturer
	Peers    PeerFactory
	Playback Playback

	// Credentials is optional. When nil the credential step is skipped and
	// the Signaler is expected to authenticate on its own.
	Credentials CredentialSource

	Signaler Signaler
}

// Package wake runs a continuous speech-recognition loop and starts a call
// when the most recent transcript fragment contains the wake phrase.
//
// The detector never starts a call while one is active, and it releases its
// recognizer before asking the caller to start so the microphone is free for
// the call. After a triggered call the detector stays Suspended until it is
// explicitly re-enabled.
package wake

import (
	"context"
	"errors"
)

// State is the detector's logical state.
type State int

const (
	// StateOff means no recognizer handle exists.
	StateOff State = iota
	// StateListening means a recognizer handle exists and is (re)started on end.
	StateListening
	// StateSuspended means a match fired and the handle was released.
	StateSuspended
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateOff:
		return "off"
	case StateListening:
		return "listening"
	case StateSuspended:
		return "suspended"
	default:
		return "unknown"
	}
}

// Sentinel errors for the wake package.
var (
	// ErrUnsupportedCapability indicates the platform has no speech recognition.
	ErrUnsupportedCapability = errors.New("wake: speech recognition not supported")

	// ErrUnsupported may be returned by a RecognizerFactory that cannot
	// produce recognizers on this platform.
	ErrUnsupported = errors.New("wake: recognizer unsupported")
)

// Result is one recognition fragment.
type Result struct {
	Transcript string
	Final      bool
}

// Handlers are the recognizer callbacks. Results are delivered as the full
// ordered list for the current session; only the last entry is new.
type Handlers struct {
	OnResult func(results []Result)
	OnError  func(err error)
	OnEnd    func()
}

// Recognizer is a restartable continuous recognition session.
// Stop must not block on in-flight handler calls.
type Recognizer interface {
	Start() error
	Stop() error
}

// RecognizerFactory creates recognizers bound to a set of handlers.
type RecognizerFactory interface {
	NewRecognizer(h Handlers) (Recognizer, error)
}

// Caller is the call lifecycle a match starts. *call.Session satisfies it.
type Caller interface {
	Start(ctx context.Context) error
	IsActive() bool
}

// Observer receives detector events. Implementations must be fast.
type Observer interface {
	Triggered()
	Restarted()
	RecognizerError()
}

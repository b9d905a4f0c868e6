package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Observer receives lifecycle notifications. Implementations must be fast:
// StateChanged is invoked while the session lock is held. AttemptFinished
// runs after the lock is released.
type Observer interface {
	StateChanged(from, to State)
	AttemptFinished(err error, elapsed time.Duration)
}

// Config holds optional Session settings.
type Config struct {
	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Status receives the current human-readable status line.
	Status func(line string)

	// Observer receives state transitions and attempt outcomes.
	Observer Observer

	// NewID generates attempt identifiers for log correlation.
	NewID func() string
}

// Option is a functional option for configuring a Session.
type Option func(*Config)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithStatus sets the status line sink.
func WithStatus(fn func(line string)) Option {
	return func(c *Config) {
		c.Status = fn
	}
}

// WithObserver sets the lifecycle observer.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithIDGenerator overrides attempt ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(c *Config) {
		c.NewID = fn
	}
}

// Session is the single call owned by one process. The zero value is not
// usable; create one with NewSession.
type Session struct {
	caps   Capabilities
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	pc          PeerConnection
	capture     AudioCapture
	stopPending bool
	callID      string
}

// NewSession creates an idle Session over the given capabilities.
func NewSession(caps Capabilities, opts ...Option) *Session {
	cfg := Config{
		Logger: slog.Default(),
		NewID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}

	return &Session{
		caps:   caps,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "call.session"),
		state:  StateIdle,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsActive reports whether a call exists or is being established.
func (s *Session) IsActive() bool {
	return s.State() != StateIdle
}

// CallID returns the identifier of the current or most recent attempt.
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Start establishes a call. It returns ErrAlreadyActive unless the session
// is idle. Every other failure is returned as a typed error after all
// handles have been released and the session is idle again.
func (s *Session) Start(ctx context.Context) error {
	if err := s.caps.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.callID = s.cfg.NewID()
	s.stopPending = false
	s.setState(StateAcquiring)
	logger := s.logger.With("call_id", s.callID, "mode", s.caps.Signaler.Mode())
	s.mu.Unlock()

	started := time.Now()
	logger.Info("call starting")

	err := s.establish(ctx, logger)
	if err != nil {
		logger.Error("call failed", "error", err, "kind", Kind(err))
		s.status("Error: " + err.Error())
		s.teardown(false)
		s.finished(err, started)
		return err
	}

	s.mu.Lock()
	if s.stopPending {
		pc, capture := s.beginClose()
		s.mu.Unlock()
		logger.Info("stop requested during start, tearing down")
		s.release(pc, capture, true)
		s.finished(ErrStopped, started)
		return ErrStopped
	}
	s.setState(StateConnected)
	s.mu.Unlock()
	s.status("Connected. Speak normally.")

	logger.Info("call connected", "elapsed", time.Since(started))
	s.finished(nil, started)
	return nil
}

func (s *Session) establish(ctx context.Context, logger *slog.Logger) error {
	s.status("Requesting microphone...")
	capture, err := s.caps.Capturer.CaptureAudio(ctx)
	if err != nil {
		return &MediaAcquisitionError{Cause: err}
	}
	s.mu.Lock()
	s.capture = capture
	s.mu.Unlock()

	var cred *Credential
	if s.caps.Credentials != nil {
		s.status("Requesting ephemeral client secret...")
		c, err := s.caps.Credentials.Credential(ctx)
		if err != nil {
			return &CredentialError{Cause: err}
		}
		cred = &c
	}

	s.mu.Lock()
	s.setState(StateOffering)
	s.mu.Unlock()

	s.status("Creating WebRTC peer connection...")
	pc, err := s.caps.Peers.NewPeerConnection()
	if err != nil {
		return &SignalingError{Step: StepCreatePeer, Cause: err}
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()

	pc.OnTrack(func(track RemoteTrack) {
		s.bindRemote(pc, track, logger)
	})

	for _, track := range capture.Tracks() {
		if err := pc.AddTrack(track, capture); err != nil {
			return &SignalingError{Step: StepAddTrack, Cause: err}
		}
	}

	s.status("Creating SDP offer...")
	offer, err := pc.CreateOffer(ctx, OfferOptions{ReceiveAudio: true, ReceiveVideo: false})
	if err != nil {
		return &SignalingError{Step: StepCreateOffer, Cause: err}
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return &SignalingError{Step: StepSetLocal, Cause: err}
	}

	s.mu.Lock()
	s.setState(StateAwaitingAnswer)
	s.mu.Unlock()

	s.status(fmt.Sprintf("Sending offer (%s)...", s.caps.Signaler.Mode()))
	answer, err := s.caps.Signaler.Exchange(ctx, offer, cred)
	if err != nil {
		return &SignalingError{Step: StepExchange, Cause: err}
	}
	if answer.SDP == "" {
		return &SignalingError{Step: StepExchange, Cause: ErrEmptyAnswer}
	}
	answer.Type = SDPTypeAnswer

	s.status("Applying SDP answer...")
	if err := pc.SetRemoteDescription(answer); err != nil {
		return &SignalingError{Step: StepSetRemote, Cause: err}
	}

	logger.Debug("remote description applied", "answer_bytes", len(answer.SDP))
	return nil
}

// bindRemote routes a remote audio track to playback if pc is still the
// live connection.
func (s *Session) bindRemote(pc PeerConnection, track RemoteTrack, logger *slog.Logger) {
	if track.Kind() != "audio" {
		logger.Debug("ignoring remote track", "kind", track.Kind())
		return
	}
	s.mu.Lock()
	live := s.pc == pc
	s.mu.Unlock()
	if !live || s.caps.Playback == nil {
		return
	}
	logger.Info("remote audio track bound", "track", track.ID(), "stream", track.StreamID())
	s.caps.Playback.Bind(track)
}

// Stop ends the call. It is idempotent and safe from any state. A Stop that
// arrives while Start is in flight takes effect as soon as Start settles.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateClosing:
		s.mu.Unlock()
		return
	case StateConnected:
		pc, capture := s.beginClose()
		s.mu.Unlock()
		s.release(pc, capture, true)
		return
	default:
		s.stopPending = true
		state := s.state
		s.mu.Unlock()
		s.logger.Info("stop deferred until start settles", "state", state)
	}
}

// teardown releases every handle and returns to idle. reportIdle controls
// whether the status line is reset; failure paths keep the error visible.
func (s *Session) teardown(reportIdle bool) {
	s.mu.Lock()
	pc, capture := s.beginClose()
	s.mu.Unlock()
	s.release(pc, capture, reportIdle)
}

// beginClose moves the session to Closing and takes ownership of its
// handles. It must be called with s.mu held, so that only one caller
// ever releases a given connection.
func (s *Session) beginClose() (PeerConnection, AudioCapture) {
	s.setState(StateClosing)
	pc, capture := s.pc, s.capture
	s.pc, s.capture = nil, nil
	return pc, capture
}

func (s *Session) release(pc PeerConnection, capture AudioCapture, reportIdle bool) {
	if pc != nil {
		s.closePeer(pc)
	}
	if capture != nil {
		for _, track := range capture.Tracks() {
			s.stopTrack(track)
		}
	}

	s.mu.Lock()
	s.stopPending = false
	s.setState(StateIdle)
	s.mu.Unlock()

	if reportIdle {
		s.status("Idle")
	}
}

func (s *Session) closePeer(pc PeerConnection) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("peer close panicked", "panic", r)
		}
	}()
	if err := pc.Close(); err != nil {
		s.logger.Debug("peer close error ignored", "error", err)
	}
}

func (s *Session) stopTrack(track LocalTrack) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("track stop panicked", "panic", r)
		}
	}()
	track.Stop()
}

// setState must be called with s.mu held.
func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	if s.cfg.Observer != nil {
		s.cfg.Observer.StateChanged(from, to)
	}
	s.logger.Debug("state changed", "from", from, "to", to)
}

func (s *Session) status(line string) {
	if s.cfg.Status != nil {
		s.cfg.Status(line)
	}
}

func (s *Session) finished(err error, started time.Time) {
	if s.cfg.Observer != nil {
		s.cfg.Observer.AttemptFinished(err, time.Since(started))
	}
}

func (c Capabilities) validate() error {
	switch {
	case c.Capturer == nil:
		return fmt.Errorf("%w: audio capturer", ErrMissingCapability)
	case c.Peers == nil:
		return fmt.Errorf("%w: peer factory", ErrMissingCapability)
	case c.Signaler == nil:
		return fmt.Errorf("%w: signaler", ErrMissingCapability)
	}
	return nil
}

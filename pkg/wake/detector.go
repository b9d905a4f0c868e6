package wake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config holds optional Detector settings.
type Config struct {
	// Logger is the structured logger to use.
	Logger *slog.Logger

	// Status receives the current human-readable status line.
	Status func(line string)

	// Observer receives trigger, restart and error events.
	Observer Observer

	// RestartDelay is waited before restarting a recognizer that ended on
	// its own. Zero restarts immediately.
	RestartDelay time.Duration

	// Context is passed to Caller.Start on a match.
	Context context.Context
}

// Option is a functional option for configuring a Detector.
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

// WithObserver sets the event observer.
func WithObserver(o Observer) Option {
	return func(c *Config) {
		c.Observer = o
	}
}

// WithRestartDelay sets the auto-restart delay.
func WithRestartDelay(d time.Duration) Option {
	return func(c *Config) {
		c.RestartDelay = d
	}
}

// WithContext sets the context handed to Caller.Start.
func WithContext(ctx context.Context) Option {
	return func(c *Config) {
		c.Context = ctx
	}
}

// Detector listens for a wake phrase and starts a call on match.
type Detector struct {
	factory RecognizerFactory
	caller  Caller
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	rec     Recognizer
	gen     uint64 // bumped whenever rec is replaced or released
	running bool
	phrase  string
	armed   bool
	timer   *time.Timer
}

// NewDetector creates a Detector in StateOff. A nil factory means the
// platform lacks speech recognition; Enable then reports
// ErrUnsupportedCapability.
func NewDetector(factory RecognizerFactory, caller Caller, opts ...Option) *Detector {
	cfg := Config{
		Logger:  slog.Default(),
		Context: context.Background(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}

	return &Detector{
		factory: factory,
		caller:  caller,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "wake.detector"),
		state:   StateOff,
		armed:   true,
	}
}

// State returns the current logical state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Phrase returns the normalized wake phrase.
func (d *Detector) Phrase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.phrase
}

// SetPhrase replaces the wake phrase. It takes effect on the next result.
func (d *Detector) SetPhrase(phrase string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.phrase = NormalizePhrase(phrase)
}

// Arm toggles whether a match may start a call. A disarmed detector keeps
// listening but ignores matches.
func (d *Detector) Arm(armed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = armed
}

// Armed reports whether matches start calls.
func (d *Detector) Armed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.armed
}

// Enable sets the phrase and begins continuous listening. It is a no-op
// beyond the phrase update when already listening. A recognizer that fails
// to start leaves the detector logically Listening; the failure is reported
// as status only.
func (d *Detector) Enable(phrase string) error {
	d.mu.Lock()
	d.phrase = NormalizePhrase(phrase)

	if d.state == StateListening && d.running {
		d.mu.Unlock()
		return nil
	}
	if d.factory == nil {
		d.mu.Unlock()
		d.status("Wake word error: speech recognition not supported")
		return ErrUnsupportedCapability
	}

	if d.state != StateListening || d.rec == nil {
		gen := d.gen + 1
		rec, err := d.factory.NewRecognizer(d.handlers(gen))
		if err != nil {
			d.mu.Unlock()
			if errors.Is(err, ErrUnsupported) {
				d.status("Wake word error: speech recognition not supported")
				return ErrUnsupportedCapability
			}
			d.status(fmt.Sprintf("Wake start failed: %v", err))
			return fmt.Errorf("wake: create recognizer: %w", err)
		}
		d.gen = gen
		d.rec = rec
		d.state = StateListening
	}
	rec, gen := d.rec, d.gen
	d.mu.Unlock()

	d.logger.Info("wake listening enabled", "phrase", d.Phrase())
	d.status("Wake listening: ON")
	d.startRecognizer(rec, gen)
	return nil
}

// Disable stops listening and releases the recognizer. It is idempotent.
func (d *Detector) Disable() {
	d.mu.Lock()
	rec := d.rec
	d.rec = nil
	d.state = StateOff
	d.gen++
	d.running = false
	d.stopTimer()
	d.mu.Unlock()

	if rec != nil {
		d.stopRecognizer(rec)
		d.logger.Info("wake listening disabled")
	}
	d.status("Wake listening: OFF")
}

// Suspend releases the recognizer of a listening detector so a call can
// take the microphone. The detector stays Suspended until Enable is called
// again. It reports whether the detector was listening.
func (d *Detector) Suspend() bool {
	d.mu.Lock()
	if d.state != StateListening {
		d.mu.Unlock()
		return false
	}
	rec := d.suspendLocked()
	d.mu.Unlock()

	if rec != nil {
		d.stopRecognizer(rec)
	}
	d.logger.Info("wake listening suspended")
	d.status("Wake listening: suspended")
	return true
}

// suspendLocked must be called with d.mu held.
func (d *Detector) suspendLocked() Recognizer {
	rec := d.rec
	d.rec = nil
	d.state = StateSuspended
	d.gen++
	d.running = false
	d.stopTimer()
	return rec
}

func (d *Detector) handlers(gen uint64) Handlers {
	return Handlers{
		OnResult: func(results []Result) { d.onResult(gen, results) },
		OnError:  func(err error) { d.onError(gen, err) },
		OnEnd:    func() { d.onEnd(gen) },
	}
}

func (d *Detector) onResult(gen uint64, results []Result) {
	d.mu.Lock()
	if gen != d.gen || d.state != StateListening {
		d.mu.Unlock()
		return
	}
	phrase := d.phrase
	if !d.armed || !Match(results, phrase) {
		d.mu.Unlock()
		return
	}
	if d.caller == nil || d.caller.IsActive() {
		d.mu.Unlock()
		d.logger.Debug("wake phrase ignored, call active")
		return
	}

	// Suspend before starting so the call gets the microphone and no later
	// result from this handle can trigger again.
	rec := d.suspendLocked()
	d.mu.Unlock()

	d.logger.Info("wake phrase detected", "phrase", phrase)
	d.status(fmt.Sprintf("Wake phrase detected (%q). Starting call...", phrase))
	if d.cfg.Observer != nil {
		d.cfg.Observer.Triggered()
	}
	if rec != nil {
		d.stopRecognizer(rec)
	}

	if err := d.caller.Start(d.cfg.Context); err != nil {
		d.logger.Warn("wake-triggered start failed", "error", err)
	}
}

func (d *Detector) onError(gen uint64, err error) {
	d.mu.Lock()
	stale := gen != d.gen
	d.mu.Unlock()
	if stale {
		return
	}
	d.logger.Warn("recognizer error", "error", err)
	if d.cfg.Observer != nil {
		d.cfg.Observer.RecognizerError()
	}
	d.status(fmt.Sprintf("Wake word error: %v", err))
}

func (d *Detector) onEnd(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != StateListening {
		d.mu.Unlock()
		return
	}
	d.running = false
	if delay := d.cfg.RestartDelay; delay > 0 {
		d.stopTimer()
		d.timer = time.AfterFunc(delay, func() { d.restart(gen) })
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()
	d.restart(gen)
}

func (d *Detector) restart(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.state != StateListening || d.rec == nil {
		d.mu.Unlock()
		return
	}
	rec := d.rec
	d.mu.Unlock()

	d.logger.Debug("restarting recognizer")
	if d.cfg.Observer != nil {
		d.cfg.Observer.Restarted()
	}
	d.startRecognizer(rec, gen)
}

func (d *Detector) startRecognizer(rec Recognizer, gen uint64) {
	err := rec.Start()

	d.mu.Lock()
	current := gen == d.gen
	if current {
		d.running = err == nil
	}
	d.mu.Unlock()

	if err != nil && current {
		d.logger.Warn("recognizer start failed", "error", err)
		d.status(fmt.Sprintf("Wake start failed: %v", err))
	}
}

func (d *Detector) stopRecognizer(rec Recognizer) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("recognizer stop panicked", "panic", r)
		}
	}()
	if err := rec.Stop(); err != nil {
		d.logger.Debug("recognizer stop error ignored", "error", err)
	}
}

// stopTimer must be called with d.mu held.
func (d *Detector) stopTimer() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Detector) status(line string) {
	if d.cfg.Status != nil {
		d.cfg.Status(line)
	}
}

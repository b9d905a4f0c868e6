package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/wake"
)

// ErrNoTokenSource is returned when the factory has no way to authorize.
var ErrNoTokenSource = errors.New("realtime: no API key or token source configured")

// SourceFunc opens a fresh microphone source for one recognition session.
type SourceFunc func() (audioio.Source, error)

// Config holds recognizer settings.
type Config struct {
	URL      string
	Model    string
	Language string

	// Tokens authorizes the websocket handshake.
	Tokens oauth2.TokenSource

	// Open returns the microphone for a session. Audio is converted to
	// 24kHz mono before it is sent.
	Open SourceFunc

	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	PingInterval     time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults. Tokens must still
// be provided.
func DefaultConfig() Config {
	return Config{
		URL:              TranscriptionURL,
		Model:            DefaultModel,
		Language:         DefaultLanguage,
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      120 * time.Second,
		PingInterval:     30 * time.Second,
		Logger:           slog.Default(),
	}
}

// Option is a functional option for configuring recognizers.
type Option func(*Config)

// WithURL overrides the websocket endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		c.URL = url
	}
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithLanguage sets the recognition language.
func WithLanguage(lang string) Option {
	return func(c *Config) {
		c.Language = lang
	}
}

// WithAPIKey authorizes with a static API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		if key == "" {
			return
		}
		c.Tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})
	}
}

// WithTokenSource authorizes every session with a token from src, for
// example an ephemeral client secret.
func WithTokenSource(src oauth2.TokenSource) Option {
	return func(c *Config) {
		c.Tokens = src
	}
}

// WithSource sets how microphone sources are opened.
func WithSource(open SourceFunc) Option {
	return func(c *Config) {
		c.Open = open
	}
}

// WithAudioConfig opens microphone sources from cfg.
func WithAudioConfig(cfg audioio.Config) Option {
	return func(c *Config) {
		c.Open = func() (audioio.Source, error) {
			return audioio.NewSource(cfg, c.Logger)
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Tokens == nil {
		return ErrNoTokenSource
	}
	if c.URL == "" {
		return errors.New("realtime: URL is required")
	}
	if c.Open == nil {
		return errors.New("realtime: no microphone source configured")
	}
	if c.ReadTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("realtime: timeouts must be positive (read %v, ping %v)", c.ReadTimeout, c.PingInterval)
	}
	return nil
}

// Factory creates transcription recognizers. It implements
// wake.RecognizerFactory.
type Factory struct {
	cfg Config
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Open == nil {
		audio := audioio.DefaultConfig()
		audio.SampleRate = InputSampleRate
		WithAudioConfig(audio)(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger = cfg.Logger.With("component", "realtime.recognizer")
	return &Factory{cfg: cfg}, nil
}

// NewRecognizer implements wake.RecognizerFactory.
func (f *Factory) NewRecognizer(h wake.Handlers) (wake.Recognizer, error) {
	return &Recognizer{cfg: f.cfg, handlers: h}, nil
}

// Recognizer is a restartable transcription session. Each Start opens a
// websocket and a microphone; the session ends when the server closes the
// connection or Stop is called.
type Recognizer struct {
	cfg      Config
	handlers wake.Handlers

	mu   sync.Mutex
	sess *session
}

// session is one Start..end span.
type session struct {
	conn   *client
	src    audioio.Source
	cancel context.CancelFunc

	mu      sync.Mutex
	order   []string
	results map[string]*wake.Result
}

// Start implements wake.Recognizer. Starting a running recognizer is a
// no-op.
func (r *Recognizer) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return nil
	}

	tok, err := r.cfg.Tokens.Token()
	if err != nil {
		return fmt.Errorf("realtime: token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", tok.Type()+" "+tok.AccessToken)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, err := dial(r.cfg.URL, header, r.cfg)
	if err != nil {
		return err
	}
	if err := conn.configure(r.cfg.Model, r.cfg.Language); err != nil {
		conn.close()
		return fmt.Errorf("realtime: configure session: %w", err)
	}

	src, err := r.cfg.Open()
	if err != nil {
		conn.close()
		return fmt.Errorf("realtime: open microphone: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := src.Start(ctx); err != nil {
		cancel()
		conn.close()
		return fmt.Errorf("realtime: start microphone: %w", err)
	}

	s := &session{conn: conn, src: src, cancel: cancel, results: make(map[string]*wake.Result)}
	conn.onDelta = func(id, delta string) { r.update(s, id, delta, false) }
	conn.onCompleted = func(id, transcript string) { r.update(s, id, transcript, true) }
	conn.onError = func(err error) {
		r.cfg.Logger.Warn("recognizer error", "error", err)
		if r.handlers.OnError != nil {
			r.handlers.OnError(err)
		}
	}
	r.sess = s

	go r.pumpAudio(ctx, s)
	go conn.keepAlive(r.cfg.PingInterval)
	go r.read(s)

	r.cfg.Logger.Info("recognizer started", "model", r.cfg.Model, "backend", src.Name())
	return nil
}

// Stop implements wake.Recognizer. It does not wait for in-flight handler
// calls and does not report OnEnd.
func (r *Recognizer) Stop() error {
	r.mu.Lock()
	s := r.sess
	r.sess = nil
	r.mu.Unlock()
	if s == nil {
		return nil
	}
	s.release()
	r.cfg.Logger.Info("recognizer stopped")
	return nil
}

// Running reports whether a session is open.
func (r *Recognizer) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

func (r *Recognizer) read(s *session) {
	err := s.conn.readLoop()

	r.mu.Lock()
	current := r.sess == s
	if current {
		r.sess = nil
	}
	r.mu.Unlock()
	if !current {
		return
	}

	s.release()
	r.cfg.Logger.Info("recognizer ended", "reason", err)
	if r.handlers.OnEnd != nil {
		r.handlers.OnEnd()
	}
}

func (r *Recognizer) pumpAudio(ctx context.Context, s *session) {
	for {
		chunk, err := s.src.Read(ctx)
		if err != nil {
			return
		}
		chunk = audioio.Convert(chunk, InputSampleRate, 1)
		if err := s.conn.sendAudio(chunk.Bytes()); err != nil {
			r.cfg.Logger.Debug("audio send failed", "error", err)
			return
		}
	}
}

// update folds a transcript event into the ordered result list and
// delivers the whole list.
func (r *Recognizer) update(s *session, id, text string, final bool) {
	s.mu.Lock()
	res, ok := s.results[id]
	if !ok {
		res = &wake.Result{}
		s.results[id] = res
		s.order = append(s.order, id)
	}
	if final {
		res.Transcript = text
		res.Final = true
	} else if !res.Final {
		res.Transcript += text
	}
	list := make([]wake.Result, len(s.order))
	for i, key := range s.order {
		list[i] = *s.results[key]
	}
	s.mu.Unlock()

	if r.handlers.OnResult != nil {
		r.handlers.OnResult(list)
	}
}

func (s *session) release() {
	s.cancel()
	s.conn.close()
	s.src.Stop()
}

var (
	_ wake.RecognizerFactory = (*Factory)(nil)
	_ wake.Recognizer        = (*Recognizer)(nil)
)

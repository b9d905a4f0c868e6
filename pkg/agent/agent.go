// Package agent wires the call session, the wake detector and the add-on
// server into one process and owns their lifecycle.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicecall/internal/config"
	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/hub"
	"github.com/teslashibe/go-voicecall/pkg/metrics"
	"github.com/teslashibe/go-voicecall/pkg/peer"
	"github.com/teslashibe/go-voicecall/pkg/realtime"
	"github.com/teslashibe/go-voicecall/pkg/server"
	"github.com/teslashibe/go-voicecall/pkg/signaling"
	"github.com/teslashibe/go-voicecall/pkg/status"
	"github.com/teslashibe/go-voicecall/pkg/wake"
)

// shutdownTimeout bounds the HTTP server drain.
const shutdownTimeout = 5 * time.Second

type options struct {
	logger      *slog.Logger
	media       *call.Capabilities
	recognizers wake.RecognizerFactory
}

// Option customizes an App.
type Option func(*options)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMedia replaces the platform capturer, peer factory and playback.
// Signaling and credentials always come from the configuration.
func WithMedia(caps call.Capabilities) Option {
	return func(o *options) {
		o.media = &caps
	}
}

// WithRecognizers replaces the speech recognizer factory.
func WithRecognizers(f wake.RecognizerFactory) Option {
	return func(o *options) {
		o.recognizers = f
	}
}

// App is the voicecall process.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	mode   signaling.Mode

	board    *status.Board
	hub      *hub.Hub
	metrics  *metrics.Metrics
	session  *call.Session
	detector *wake.Detector
	server   *server.Server
	playback io.Closer

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an App from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger

	mode, err := signaling.ParseMode(cfg.Call.Signaling)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:     cfg,
		logger:  logger.With("component", "agent"),
		mode:    mode,
		board:   status.NewBoard("Idle"),
		hub:     hub.New("status", logger),
		metrics: metrics.New(),
		ctx:     ctx,
		cancel:  cancel,
	}

	caps, err := a.media(o.media, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	callsURL := strings.TrimSuffix(cfg.OpenAI.BaseURL, "/") + "/realtime/calls"
	caps.Signaler, caps.Credentials, err = signaling.New(signaling.Config{
		Mode:          mode,
		CredentialURL: cfg.CredentialURL(),
		CallsURL:      callsURL,
		SessionURL:    cfg.SessionURL(),
		Logger:        logger,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	a.session = call.NewSession(caps,
		call.WithLogger(logger),
		call.WithStatus(a.board.Set),
		call.WithObserver(a.metrics),
	)

	recognizers := o.recognizers
	if recognizers == nil {
		recognizers = a.recognizers(logger)
	}
	a.detector = wake.NewDetector(recognizers, a.session,
		wake.WithLogger(logger),
		wake.WithStatus(a.board.Set),
		wake.WithObserver(a.metrics),
		wake.WithRestartDelay(cfg.Wake.RestartDelay),
		wake.WithContext(ctx),
	)
	if cfg.Wake.Phrase != "" {
		a.detector.SetPhrase(cfg.Wake.Phrase)
	}

	minter := signaling.NewMinter(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, signaling.SessionConfig{
		Model:        cfg.OpenAI.Model,
		Voice:        cfg.OpenAI.Voice,
		Instructions: cfg.OpenAI.Instructions,
		Temperature:  cfg.OpenAI.Temperature,
	}, nil, logger)
	a.server = server.New(minter, signaling.NewDirect(callsURL, nil, logger),
		server.WithController(a),
		server.WithHub(a.hub),
		server.WithMetrics(a.metrics),
		server.WithCORSOrigins(cfg.Server.CORSOrigins),
		server.WithLogger(logger),
	)

	a.board.Subscribe(a.publish)
	return a, nil
}

// media returns the injected capabilities or the pion/audio device ones.
func (a *App) media(injected *call.Capabilities, logger *slog.Logger) (call.Capabilities, error) {
	if injected != nil {
		if c, ok := injected.Playback.(io.Closer); ok {
			a.playback = c
		}
		return *injected, nil
	}

	backend, err := audioio.ParseBackend(a.cfg.Audio.Backend)
	if err != nil {
		return call.Capabilities{}, err
	}
	in := audioio.DefaultConfig()
	in.Backend, in.Device = backend, a.cfg.Audio.InputDevice
	out := audioio.DefaultConfig()
	out.Backend, out.Device = backend, a.cfg.Audio.OutputDevice

	peers, err := peer.NewFactory(
		peer.WithICEServers(a.cfg.Call.ICEServers...),
		peer.WithGatherTimeout(a.cfg.Call.GatherTimeout),
		peer.WithLogger(logger),
	)
	if err != nil {
		return call.Capabilities{}, err
	}
	sink, err := audioio.NewSink(out, logger)
	if err != nil {
		return call.Capabilities{}, fmt.Errorf("speaker: %w", err)
	}
	playback := peer.NewPlayback(sink, logger)
	a.playback = playback

	return call.Capabilities{
		Capturer: peer.NewCapturer(in, logger),
		Peers:    peers,
		Playback: playback,
	}, nil
}

// recognizers builds the realtime transcription factory. Without an API
// key the local credential endpoint authorizes each session. A nil result
// makes wake listening report it is unsupported.
func (a *App) recognizers(logger *slog.Logger) wake.RecognizerFactory {
	backend, _ := audioio.ParseBackend(a.cfg.Audio.Backend)
	audio := audioio.DefaultConfig()
	audio.Backend, audio.Device = backend, a.cfg.Audio.InputDevice
	audio.SampleRate = realtime.InputSampleRate

	opts := []realtime.Option{
		realtime.WithLogger(logger),
		realtime.WithModel(a.cfg.Wake.Model),
		realtime.WithLanguage(a.cfg.Wake.Language),
		realtime.WithAudioConfig(audio),
	}
	if a.cfg.OpenAI.APIKey != "" {
		opts = append(opts, realtime.WithAPIKey(a.cfg.OpenAI.APIKey))
	} else {
		opts = append(opts, realtime.WithTokenSource(signaling.NewCredentialClient(a.cfg.CredentialURL(), nil, logger)))
	}
	f, err := realtime.NewFactory(opts...)
	if err != nil {
		a.logger.Warn("speech recognition unavailable", "error", err)
		return nil
	}
	return f
}

func (a *App) publish(line status.Line) {
	a.metrics.StatusUpdates.Inc()
	ev := hub.StatusEvent{
		Type:   "status",
		Line:   line.Text,
		Call:   a.session.State().String(),
		Wake:   a.detector.State().String(),
		CallID: a.session.CallID(),
	}
	if err := a.hub.BroadcastJSON(ev); err != nil {
		a.logger.Warn("status broadcast failed", "error", err)
	}
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	go a.hub.Run(a.ctx)

	if a.cfg.Wake.Enabled {
		if err := a.detector.Enable(a.cfg.Wake.Phrase); err != nil {
			a.logger.Warn("wake listening not started", "error", err)
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- a.server.Listen(a.cfg.ListenAddr())
	}()
	a.logger.Info("voicecall running",
		"addr", a.cfg.ListenAddr(),
		"signaling", string(a.mode),
		"wake", a.cfg.Wake.Enabled,
	)

	var err error
	select {
	case <-ctx.Done():
	case err = <-errc:
		err = fmt.Errorf("server: %w", err)
	}
	a.Shutdown()
	return err
}

// Shutdown stops listening, ends any call and stops the server.
// It is safe to call more than once.
func (a *App) Shutdown() {
	a.detector.Disable()
	a.session.Stop()
	if a.playback != nil {
		if err := a.playback.Close(); err != nil {
			a.logger.Debug("playback close error", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("server shutdown", "error", err)
	}
	a.cancel()
}

// StartCall implements server.Controller. A listening wake detector is
// suspended first and stays suspended after the call.
func (a *App) StartCall(ctx context.Context) error {
	a.detector.Suspend()
	return a.session.Start(ctx)
}

// StopCall implements server.Controller.
func (a *App) StopCall() {
	a.session.Stop()
}

// EnableWake implements server.Controller. An empty phrase keeps the
// current one. It is refused while a call exists or is being established.
func (a *App) EnableWake(phrase string) error {
	if strings.TrimSpace(phrase) == "" {
		phrase = a.detector.Phrase()
	}
	if phrase == "" {
		return errors.New("agent: wake phrase is required")
	}
	if a.session.IsActive() {
		return fmt.Errorf("agent: wake listening unavailable during a call: %w", call.ErrAlreadyActive)
	}
	return a.detector.Enable(phrase)
}

// DisableWake implements server.Controller.
func (a *App) DisableWake() {
	a.detector.Disable()
}

// Snapshot implements server.Controller.
func (a *App) Snapshot() server.Snapshot {
	return server.Snapshot{
		Status:    a.board.Current().Text,
		Call:      a.session.State().String(),
		CallID:    a.session.CallID(),
		Wake:      a.detector.State().String(),
		Phrase:    a.detector.Phrase(),
		Armed:     a.detector.Armed(),
		Signaling: string(a.mode),
	}
}

// Session returns the call session.
func (a *App) Session() *call.Session { return a.session }

// Detector returns the wake detector.
func (a *App) Detector() *wake.Detector { return a.detector }

// Server returns the add-on server.
func (a *App) Server() *server.Server { return a.server }

// Board returns the status board.
func (a *App) Board() *status.Board { return a.board }

var _ server.Controller = (*App)(nil)

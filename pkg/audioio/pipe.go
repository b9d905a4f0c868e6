package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// ErrNotRunning is returned by Write on a sink that is not started.
var ErrNotRunning = errors.New("audioio: not running")

// PipeSource captures raw PCM16 from the stdout of a recorder command such
// as arecord or sox rec.
type PipeSource struct {
	name   string
	argv   []string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	chunks  chan AudioChunk
	done    chan struct{}

	overruns atomic.Int64
}

// NewPipeSource creates a source that runs argv and reads its stdout.
func NewPipeSource(name string, argv []string, cfg Config, logger *slog.Logger) *PipeSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeSource{
		name:   name,
		argv:   argv,
		cfg:    cfg,
		logger: logger.With("component", "audioio.source", "backend", name),
	}
}

// Start launches the recorder.
func (s *PipeSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if len(s.argv) == 0 {
		return fmt.Errorf("%s: no recorder command", s.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%s: stdout pipe: %w", s.name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s: start %s: %w", s.name, s.argv[0], err)
	}

	s.running = true
	s.cancel = cancel
	s.chunks = make(chan AudioChunk, 16)
	s.done = make(chan struct{})
	go s.readLoop(cmd, stdout, s.chunks, s.done)

	s.logger.Info("audio capture started",
		"command", s.argv[0],
		"sample_rate", s.cfg.SampleRate,
		"channels", s.cfg.Channels,
	)
	return nil
}

func (s *PipeSource) readLoop(cmd *exec.Cmd, stdout io.Reader, chunks chan<- AudioChunk, done chan<- struct{}) {
	defer close(done)
	defer close(chunks)

	buf := make([]byte, s.cfg.FrameBytes())
	for {
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("capture read ended", "error", err)
			}
			break
		}
		chunk := ChunkFromBytes(buf, s.cfg.SampleRate, s.cfg.Channels)
		select {
		case chunks <- chunk:
		default:
			s.overruns.Add(1)
		}
	}
	if err := cmd.Wait(); err != nil {
		s.logger.Debug("recorder exited", "error", err)
	}
}

// Read returns the next captured chunk.
func (s *PipeSource) Read(ctx context.Context) (AudioChunk, error) {
	s.mu.Lock()
	chunks := s.chunks
	s.mu.Unlock()
	if chunks == nil {
		return AudioChunk{}, io.EOF
	}

	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-chunks:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}

// Stop terminates the recorder and waits for it to exit.
func (s *PipeSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("audio capture stopped", "overruns", s.overruns.Load())
	return nil
}

// Config returns the audio configuration.
func (s *PipeSource) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *PipeSource) Name() string { return s.name }

// Overruns returns how many chunks were dropped because nobody was reading.
func (s *PipeSource) Overruns() int64 { return s.overruns.Load() }

// PipeSink plays raw PCM16 by writing to the stdin of a player command such
// as aplay or sox play.
type PipeSink struct {
	name   string
	argv   []string
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	cmd     *exec.Cmd
	stdin   io.WriteCloser
}

// NewPipeSink creates a sink that runs argv and writes to its stdin.
func NewPipeSink(name string, argv []string, cfg Config, logger *slog.Logger) *PipeSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipeSink{
		name:   name,
		argv:   argv,
		cfg:    cfg,
		logger: logger.With("component", "audioio.sink", "backend", name),
	}
}

// Start launches the player.
func (s *PipeSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if len(s.argv) == 0 {
		return fmt.Errorf("%s: no player command", s.name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.argv[0], s.argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("%s: stdin pipe: %w", s.name, err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%s: start %s: %w", s.name, s.argv[0], err)
	}

	s.running = true
	s.cancel = cancel
	s.cmd = cmd
	s.stdin = stdin
	s.logger.Info("audio playback started", "command", s.argv[0])
	return nil
}

// Write sends chunk to the player.
func (s *PipeSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return ErrNotRunning
	}
	if _, err := s.stdin.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("%s: write: %w", s.name, err)
	}
	return nil
}

// Stop closes the player's input and waits for it to exit.
func (s *PipeSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, stdin, cancel := s.cmd, s.stdin, s.cancel
	s.cmd, s.stdin = nil, nil
	s.mu.Unlock()

	stdin.Close()
	cancel()
	if err := cmd.Wait(); err != nil {
		s.logger.Debug("player exited", "error", err)
	}
	s.logger.Info("audio playback stopped")
	return nil
}

// Config returns the audio configuration.
func (s *PipeSink) Config() Config { return s.cfg }

// Name returns the backend name.
func (s *PipeSink) Name() string { return s.name }

var (
	_ Source = (*PipeSource)(nil)
	_ Sink   = (*PipeSink)(nil)
)

package audioio

import (
	"context"
	"io"
	"math"
	"sync"
	"time"
)

// MockSource generates silence or a sine tone at real-time pace.
type MockSource struct {
	cfg Config

	mu        sync.Mutex
	running   bool
	starts    int
	chunks    chan AudioChunk
	stop      chan struct{}
	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithTone makes the mock emit a sine tone instead of silence.
func WithTone(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// NewMockSource creates a mock source.
func NewMockSource(cfg Config, opts ...MockSourceOption) *MockSource {
	m := &MockSource{cfg: cfg, amplitude: 0.5}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating chunks.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	m.running = true
	m.starts++
	m.chunks = make(chan AudioChunk, 8)
	m.stop = make(chan struct{})
	go m.loop(ctx, m.chunks, m.stop)
	return nil
}

func (m *MockSource) loop(ctx context.Context, chunks chan<- AudioChunk, stop <-chan struct{}) {
	defer close(chunks)
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			select {
			case chunks <- m.next():
			default:
			}
		}
	}
}

func (m *MockSource) next() AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.cfg.FrameSize()
	samples := make([]int16, n*m.cfg.Channels)
	if m.frequency > 0 {
		step := 2 * math.Pi * m.frequency / float64(m.cfg.SampleRate)
		for i := 0; i < n; i++ {
			v := int16(m.amplitude * math.Sin(m.phase) * math.MaxInt16)
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase = math.Mod(m.phase+step, 2*math.Pi)
		}
	}
	return AudioChunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Read returns the next generated chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	m.mu.Lock()
	chunks := m.chunks
	m.mu.Unlock()
	if chunks == nil {
		return AudioChunk{}, io.EOF
	}
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case c, ok := <-chunks:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return c, nil
	}
}

// Stop halts generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stop)
	return nil
}

// Running reports whether the source is started.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Starts returns how many times the source was started.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSource) Name() string { return string(BackendMock) }

// MockSink records every chunk written to it.
type MockSink struct {
	cfg Config

	mu      sync.Mutex
	running bool
	written []AudioChunk
}

// NewMockSink creates a mock sink.
func NewMockSink(cfg Config) *MockSink {
	return &MockSink{cfg: cfg}
}

// Start begins accepting audio.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	return nil
}

// Write records chunk.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return ErrNotRunning
	}
	m.written = append(m.written, chunk)
	return nil
}

// Stop halts audio acceptance.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Written returns a copy of every chunk written so far.
func (m *MockSink) Written() []AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AudioChunk(nil), m.written...)
}

// Running reports whether the sink is started.
func (m *MockSink) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Config returns the audio configuration.
func (m *MockSink) Config() Config { return m.cfg }

// Name returns "mock".
func (m *MockSink) Name() string { return string(BackendMock) }

var (
	_ Source = (*MockSource)(nil)
	_ Sink   = (*MockSink)(nil)
)

package audioio

import (
	"context"
	"time"
)

// AudioChunk is interleaved PCM16 audio.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Bytes returns the chunk as little-endian PCM16.
func (c AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// ChunkFromBytes builds a chunk from little-endian PCM16.
func ChunkFromBytes(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{
		Samples:    BytesToSamples(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// Duration returns the playback duration of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone.
type Source interface {
	// Start opens the device. Starting a running source is a no-op.
	Start(ctx context.Context) error

	// Read returns the next chunk, blocking until one is available.
	// Returns io.EOF once the source is stopped.
	Read(ctx context.Context) (AudioChunk, error)

	// Stop closes the device. It is safe to call Stop multiple times.
	Stop() error

	Config() Config

	// Name returns the backend name.
	Name() string
}

// Sink plays audio to a speaker.
type Sink interface {
	// Start opens the device. Starting a running sink is a no-op.
	Start(ctx context.Context) error

	// Write queues a chunk for playback.
	Write(ctx context.Context, chunk AudioChunk) error

	// Stop closes the device. It is safe to call Stop multiple times.
	Stop() error

	Config() Config

	// Name returns the backend name.
	Name() string
}

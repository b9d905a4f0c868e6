// Package audioio provides microphone capture and speaker playback as raw
// PCM16 streams.
//
// Backends:
//   - ALSA (Linux) via arecord/aplay
//   - sox (macOS) via rec/play on the default CoreAudio device
//   - Mock for tests and headless runs
//
// The backend is picked from the platform unless configured explicitly.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto selects the best available backend for the platform.
	BackendAuto Backend = "auto"
	// BackendALSA uses the ALSA command line tools.
	BackendALSA Backend = "alsa"
	// BackendSox uses the sox rec/play tools.
	BackendSox Backend = "sox"
	// BackendMock uses an in-memory implementation.
	BackendMock Backend = "mock"
)

// ParseBackend parses a backend name. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(s); b {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendALSA, BackendSox, BackendMock:
		return b, nil
	default:
		return "", fmt.Errorf("unknown audio backend %q", s)
	}
}

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 48000 (Opus native rate)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the size of one chunk.
	// Default: 20ms, one Opus frame
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is the platform-specific device identifier, e.g. "plughw:1,0"
	// for ALSA. Empty selects the system default.
	Device string `yaml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     48000,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 || c.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// FrameSize returns the number of samples per channel in one chunk.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// FrameBytes returns the size of one chunk in bytes.
func (c *Config) FrameBytes() int {
	return c.FrameSize() * c.Channels * 2
}

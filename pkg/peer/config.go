// Package peer provides the pion/webrtc and Opus implementations of the call
// package's platform capabilities: the peer connection factory, microphone
// capture into an Opus track and playback of the remote audio track.
package peer

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/webrtc/v3"
)

// Opus parameters for the local track.
const (
	OpusSampleRate = 48000
	OpusFrame      = 20 * time.Millisecond

	// maxFrameSamples is 120ms at 48kHz, the largest Opus frame.
	maxFrameSamples = 5760
)

// Config holds peer connection settings.
type Config struct {
	// ICEServers are STUN/TURN URLs. Empty uses host candidates only.
	ICEServers []string

	// GatherTimeout bounds ICE gathering before the offer is returned.
	GatherTimeout time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ICEServers:    []string{"stun:stun.l.google.com:19302"},
		GatherTimeout: 5 * time.Second,
		Logger:        slog.Default(),
	}
}

// Option is a functional option for configuring peers.
type Option func(*Config)

// WithICEServers sets the ICE server URLs.
func WithICEServers(urls ...string) Option {
	return func(c *Config) {
		c.ICEServers = urls
	}
}

// WithGatherTimeout sets the ICE gathering bound.
func WithGatherTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.GatherTimeout = d
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
	if c.GatherTimeout <= 0 {
		return fmt.Errorf("peer: gather timeout must be positive, got %v", c.GatherTimeout)
	}
	return nil
}

func (c *Config) webrtc() webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(c.ICEServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return cfg
}

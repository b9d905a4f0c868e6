package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// SourceFunc opens a fresh microphone source for one capture.
type SourceFunc func() (audioio.Source, error)

// Capturer implements call.MediaCapturer by encoding microphone PCM into an
// Opus sample track.
type Capturer struct {
	open   SourceFunc
	logger *slog.Logger
}

// NewCapturer creates a Capturer over audio devices described by cfg. The
// sample rate and frame size are forced to Opus values.
func NewCapturer(cfg audioio.Config, logger *slog.Logger) *Capturer {
	cfg.SampleRate = OpusSampleRate
	cfg.BufferDuration = OpusFrame
	if logger == nil {
		logger = slog.Default()
	}
	return NewCapturerFunc(func() (audioio.Source, error) {
		return audioio.NewSource(cfg, logger)
	}, logger)
}

// NewCapturerFunc creates a Capturer that opens sources with open.
func NewCapturerFunc(open SourceFunc, logger *slog.Logger) *Capturer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capturer{open: open, logger: logger.With("component", "peer.capture")}
}

// CaptureAudio implements call.MediaCapturer. The capture runs until its
// track is stopped, independent of ctx.
func (c *Capturer) CaptureAudio(ctx context.Context) (call.AudioCapture, error) {
	src, err := c.open()
	if err != nil {
		return nil, fmt.Errorf("open microphone: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	if err := src.Start(runCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("start microphone: %w", err)
	}

	channels := src.Config().Channels
	enc, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		cancel()
		src.Stop()
		return nil, fmt.Errorf("opus encoder: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: OpusSampleRate, Channels: 2},
		"audio", "voicecall-"+uuid.NewString(),
	)
	if err != nil {
		cancel()
		src.Stop()
		return nil, fmt.Errorf("local track: %w", err)
	}

	lt := &LocalTrack{
		track:  track,
		src:    src,
		enc:    enc,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go lt.pump(runCtx)

	c.logger.Info("microphone captured", "backend", src.Name(), "channels", channels)
	return &Capture{tracks: []call.LocalTrack{lt}}, nil
}

// Capture is a live microphone capture.
type Capture struct {
	tracks []call.LocalTrack
}

// Tracks implements call.AudioCapture.
func (c *Capture) Tracks() []call.LocalTrack { return c.tracks }

// LocalTrack is an Opus track fed from a microphone source.
type LocalTrack struct {
	track  *webrtc.TrackLocalStaticSample
	src    audioio.Source
	enc    *opus.Encoder
	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger

	stopOnce sync.Once
	frames   atomic.Int64
}

// ID implements call.LocalTrack.
func (t *LocalTrack) ID() string { return t.track.ID() }

// Kind implements call.LocalTrack.
func (t *LocalTrack) Kind() string { return "audio" }

// Stop implements call.LocalTrack. It releases the microphone and is
// idempotent.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		if err := t.src.Stop(); err != nil {
			t.logger.Debug("microphone stop error", "error", err)
		}
		<-t.done
		t.logger.Info("microphone released", "frames", t.frames.Load())
	})
}

// Frames returns how many Opus frames were written.
func (t *LocalTrack) Frames() int64 { return t.frames.Load() }

func (t *LocalTrack) pump(ctx context.Context) {
	defer close(t.done)

	frame := OpusSampleRate * int(OpusFrame.Milliseconds()) / 1000
	var pending []int16
	buf := make([]byte, 4000)

	for {
		chunk, err := t.src.Read(ctx)
		if err != nil {
			return
		}
		chunk = audioio.Convert(chunk, OpusSampleRate, 1)
		pending = append(pending, chunk.Samples...)

		for len(pending) >= frame {
			n, err := t.enc.Encode(pending[:frame], buf)
			pending = pending[frame:]
			if err != nil {
				t.logger.Debug("opus encode failed", "error", err)
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := t.track.WriteSample(media.Sample{Data: data, Duration: OpusFrame}); err != nil {
				t.logger.Debug("write sample failed", "error", err)
				continue
			}
			t.frames.Add(1)
		}
	}
}

var (
	_ call.MediaCapturer = (*Capturer)(nil)
	_ call.AudioCapture  = (*Capture)(nil)
	_ call.LocalTrack    = (*LocalTrack)(nil)
)

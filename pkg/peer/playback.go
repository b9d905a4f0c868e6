package peer

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// packetReader yields RTP packets until the stream ends.
type packetReader func() (*rtp.Packet, error)

// Playback implements call.Playback by decoding the remote Opus track into
// an audio sink. Binding a new track replaces the previous stream.
type Playback struct {
	sink   audioio.Sink
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	decoded atomic.Int64
}

// NewPlayback creates a Playback writing to sink.
func NewPlayback(sink audioio.Sink, logger *slog.Logger) *Playback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Playback{sink: sink, logger: logger.With("component", "peer.playback")}
}

// Bind implements call.Playback.
func (p *Playback) Bind(track call.RemoteTrack) {
	rt, ok := track.(*RemoteTrack)
	if !ok {
		p.logger.Warn("cannot play foreign track", "track", track.ID())
		return
	}
	p.play(func() (*rtp.Packet, error) {
		pkt, _, err := rt.track.ReadRTP()
		return pkt, err
	})
}

func (p *Playback) play(read packetReader) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	if !p.started {
		if err := p.sink.Start(context.Background()); err != nil {
			p.logger.Error("speaker unavailable", "error", err)
			return
		}
		p.started = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.pump(ctx, read)
}

func (p *Playback) pump(ctx context.Context, read packetReader) {
	dec, err := opus.NewDecoder(OpusSampleRate, 1)
	if err != nil {
		p.logger.Error("opus decoder", "error", err)
		return
	}
	pcm := make([]int16, maxFrameSamples)
	out := p.sink.Config()

	for ctx.Err() == nil {
		pkt, err := read()
		if err != nil {
			p.logger.Debug("remote stream ended", "error", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			continue
		}
		samples := make([]int16, n)
		copy(samples, pcm[:n])
		chunk := audioio.Convert(audioio.AudioChunk{Samples: samples, SampleRate: OpusSampleRate, Channels: 1}, out.SampleRate, out.Channels)
		if err := p.sink.Write(ctx, chunk); err != nil {
			p.logger.Debug("speaker write failed", "error", err)
			continue
		}
		p.decoded.Add(1)
	}
}

// Decoded returns how many packets reached the speaker.
func (p *Playback) Decoded() int64 { return p.decoded.Load() }

// Close stops playback and releases the speaker.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if !p.started {
		return nil
	}
	p.started = false
	return p.sink.Stop()
}

var _ call.Playback = (*Playback)(nil)

package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-voicecall/pkg/call"
)

// ErrForeignTrack indicates a track not produced by this package's Capturer.
var ErrForeignTrack = errors.New("peer: track was not captured by peer.Capturer")

// Factory creates pion peer connections.
type Factory struct {
	cfg    Config
	logger *slog.Logger
}

// NewFactory creates a Factory.
func NewFactory(opts ...Option) (*Factory, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Factory{cfg: cfg, logger: cfg.Logger.With("component", "peer")}, nil
}

// NewPeerConnection implements call.PeerFactory.
func (f *Factory) NewPeerConnection() (call.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg.webrtc())
	if err != nil {
		return nil, err
	}
	p := &Peer{pc: pc, gatherTimeout: f.cfg.GatherTimeout, logger: f.logger}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("connection state", "state", state.String())
	})
	return p, nil
}

// Peer wraps a pion PeerConnection. CreateOffer waits for ICE gathering so
// the returned offer carries every local candidate.
type Peer struct {
	pc            *webrtc.PeerConnection
	gatherTimeout time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	senders   int
	committed string
}

// OnTrack implements call.PeerConnection.
func (p *Peer) OnTrack(fn func(call.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		p.logger.Debug("remote track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		fn(&RemoteTrack{track: track})
	})
}

// AddTrack implements call.PeerConnection. track must come from a Capturer.
func (p *Peer) AddTrack(track call.LocalTrack, _ call.AudioCapture) error {
	lt, ok := track.(*LocalTrack)
	if !ok {
		return ErrForeignTrack
	}
	sender, err := p.pc.AddTrack(lt.track)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.senders++
	p.mu.Unlock()

	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// CreateOffer implements call.PeerConnection. The offer is applied locally
// as part of gathering; a following SetLocalDescription with the same SDP is
// a no-op.
func (p *Peer) CreateOffer(ctx context.Context, opts call.OfferOptions) (call.SessionDescription, error) {
	p.mu.Lock()
	senders := p.senders
	p.mu.Unlock()

	if opts.ReceiveAudio && senders == 0 {
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return call.SessionDescription{}, fmt.Errorf("add audio transceiver: %w", err)
		}
	}
	if opts.ReceiveVideo {
		if _, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return call.SessionDescription{}, fmt.Errorf("add video transceiver: %w", err)
		}
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return call.SessionDescription{}, err
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return call.SessionDescription{}, err
	}

	timer := time.NewTimer(p.gatherTimeout)
	defer timer.Stop()
	select {
	case <-gathered:
	case <-timer.C:
		p.logger.Warn("ICE gathering timed out, sending partial offer")
	case <-ctx.Done():
		return call.SessionDescription{}, ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return call.SessionDescription{}, errors.New("peer: no local description after gathering")
	}
	p.mu.Lock()
	p.committed = local.SDP
	p.mu.Unlock()
	return call.SessionDescription{Type: call.SDPTypeOffer, SDP: local.SDP}, nil
}

// SetLocalDescription implements call.PeerConnection.
func (p *Peer) SetLocalDescription(desc call.SessionDescription) error {
	p.mu.Lock()
	committed := p.committed
	p.mu.Unlock()
	if committed != "" && desc.SDP == committed {
		return nil
	}
	return p.pc.SetLocalDescription(toWebRTC(desc))
}

// SetRemoteDescription implements call.PeerConnection.
func (p *Peer) SetRemoteDescription(desc call.SessionDescription) error {
	return p.pc.SetRemoteDescription(toWebRTC(desc))
}

// Close implements call.PeerConnection.
func (p *Peer) Close() error {
	return p.pc.Close()
}

func toWebRTC(desc call.SessionDescription) webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if desc.Type == call.SDPTypeAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: desc.SDP}
}

// RemoteTrack adapts a pion remote track.
type RemoteTrack struct {
	track *webrtc.TrackRemote
}

// ID implements call.RemoteTrack.
func (t *RemoteTrack) ID() string { return t.track.ID() }

// Kind implements call.RemoteTrack.
func (t *RemoteTrack) Kind() string { return t.track.Kind().String() }

// StreamID implements call.RemoteTrack.
func (t *RemoteTrack) StreamID() string { return t.track.StreamID() }

var (
	_ call.PeerFactory    = (*Factory)(nil)
	_ call.PeerConnection = (*Peer)(nil)
	_ call.RemoteTrack    = (*RemoteTrack)(nil)
)

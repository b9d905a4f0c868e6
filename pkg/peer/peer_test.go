package peer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-voicecall/internal/log"
	"github.com/teslashibe/go-voicecall/pkg/audioio"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f, err := NewFactory(WithICEServers(), WithGatherTimeout(2*time.Second), WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func mockCapturer(cfg audioio.Config) (*Capturer, *[]*audioio.MockSource) {
	var mu sync.Mutex
	var sources []*audioio.MockSource
	c := NewCapturerFunc(func() (audioio.Source, error) {
		mu.Lock()
		defer mu.Unlock()
		src := audioio.NewMockSource(cfg, audioio.WithTone(440, 0.3))
		sources = append(sources, src)
		return src, nil
	}, log.Discard())
	return c, &sources
}

func TestConfigValidate(t *testing.T) {
	if _, err := NewFactory(WithGatherTimeout(0)); err == nil {
		t.Error("expected error for zero gather timeout")
	}
	cfg := DefaultConfig()
	if got := cfg.webrtc(); len(got.ICEServers) != 1 {
		t.Errorf("expected default STUN server, got %+v", got.ICEServers)
	}
	cfg.ICEServers = nil
	if got := cfg.webrtc(); len(got.ICEServers) != 0 {
		t.Error("empty ICE servers should produce no entries")
	}
}

func TestRecvOnlyOffer(t *testing.T) {
	pc, err := newTestFactory(t).NewPeerConnection()
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	offer, err := pc.CreateOffer(context.Background(), call.OfferOptions{ReceiveAudio: true})
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != call.SDPTypeOffer {
		t.Errorf("type = %q", offer.Type)
	}
	if !strings.Contains(offer.SDP, "m=audio") || !strings.Contains(offer.SDP, "a=recvonly") {
		t.Errorf("expected recvonly audio section:\n%s", offer.SDP)
	}
	if strings.Contains(offer.SDP, "m=video") {
		t.Error("offer must not request video")
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		t.Errorf("committing the gathered offer should be a no-op: %v", err)
	}
}

func TestCaptureAndOffer(t *testing.T) {
	cfg := audioio.DefaultConfig()
	capturer, sources := mockCapturer(cfg)

	capture, err := capturer.CaptureAudio(context.Background())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	tracks := capture.Tracks()
	if len(tracks) != 1 || tracks[0].Kind() != "audio" {
		t.Fatalf("unexpected tracks %v", tracks)
	}

	pc, err := newTestFactory(t).NewPeerConnection()
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()

	if err := pc.AddTrack(tracks[0], capture); err != nil {
		t.Fatalf("add track: %v", err)
	}
	offer, err := pc.CreateOffer(context.Background(), call.OfferOptions{ReceiveAudio: true})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(offer.SDP, "a=sendrecv") || !strings.Contains(strings.ToLower(offer.SDP), "opus/48000") {
		t.Errorf("expected sendrecv opus audio:\n%s", offer.SDP)
	}

	lt := tracks[0].(*LocalTrack)
	deadline := time.Now().Add(2 * time.Second)
	for lt.Frames() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if lt.Frames() == 0 {
		t.Error("no frames encoded")
	}

	tracks[0].Stop()
	tracks[0].Stop()
	if (*sources)[0].Running() {
		t.Error("microphone should be released")
	}
}

type foreignTrack struct{}

func (foreignTrack) ID() string   { return "x" }
func (foreignTrack) Kind() string { return "audio" }
func (foreignTrack) Stop()        {}

func TestAddForeignTrack(t *testing.T) {
	pc, err := newTestFactory(t).NewPeerConnection()
	if err != nil {
		t.Fatal(err)
	}
	defer pc.Close()
	if err := pc.AddTrack(foreignTrack{}, nil); !errors.Is(err, ErrForeignTrack) {
		t.Errorf("expected ErrForeignTrack, got %v", err)
	}
}

func TestCaptureMicrophoneFailure(t *testing.T) {
	c := NewCapturerFunc(func() (audioio.Source, error) {
		return nil, errors.New("no device")
	}, log.Discard())
	if _, err := c.CaptureAudio(context.Background()); err == nil || !strings.Contains(err.Error(), "no device") {
		t.Errorf("expected device error, got %v", err)
	}
}

// answerer plays the remote realtime service.
type answerer struct {
	t *testing.T
}

func (a answerer) Mode() string { return "loopback" }

func (a answerer) Exchange(ctx context.Context, offer call.SessionDescription, _ *call.Credential) (call.SessionDescription, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return call.SessionDescription{}, err
	}
	a.t.Cleanup(func() { pc.Close() })

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return call.SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return call.SessionDescription{}, err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return call.SessionDescription{}, err
	}
	<-gathered
	return call.SessionDescription{Type: call.SDPTypeAnswer, SDP: pc.LocalDescription().SDP}, nil
}

func TestSessionOverPion(t *testing.T) {
	capturer, sources := mockCapturer(audioio.DefaultConfig())
	sess := call.NewSession(call.Capabilities{
		Capturer: capturer,
		Peers:    newTestFactory(t),
		Playback: NewPlayback(audioio.NewMockSink(audioio.DefaultConfig()), log.Discard()),
		Signaler: answerer{t: t},
	}, call.WithLogger(log.Discard()))

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.State() != call.StateConnected {
		t.Errorf("state = %s", sess.State())
	}
	sess.Stop()
	if sess.IsActive() {
		t.Error("session should be idle")
	}
	if (*sources)[0].Running() {
		t.Error("microphone should be released after stop")
	}
}

func TestPlaybackDecodes(t *testing.T) {
	enc, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]int16, 960)
	for i := range frame {
		frame[i] = int16(i % 200 * 50)
	}
	payload := make([]byte, 1000)
	n, err := enc.Encode(frame, payload)
	if err != nil {
		t.Fatal(err)
	}
	payload = payload[:n]

	packets := make(chan *rtp.Packet, 4)
	for i := 0; i < 3; i++ {
		packets <- &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(i)}, Payload: payload}
	}
	close(packets)
	reader := func() (*rtp.Packet, error) {
		pkt, ok := <-packets
		if !ok {
			return nil, io.EOF
		}
		return pkt, nil
	}

	sinkCfg := audioio.DefaultConfig()
	sinkCfg.SampleRate = 24000
	sink := audioio.NewMockSink(sinkCfg)
	pb := NewPlayback(sink, log.Discard())
	pb.play(reader)

	deadline := time.Now().Add(2 * time.Second)
	for pb.Decoded() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	written := sink.Written()
	if len(written) != 3 {
		t.Fatalf("sink got %d chunks, want 3", len(written))
	}
	if written[0].SampleRate != 24000 || len(written[0].Samples) != 480 {
		t.Errorf("chunk not converted to sink format: rate=%d samples=%d", written[0].SampleRate, len(written[0].Samples))
	}

	pb.Bind(call.MockRemoteTrack{TrackID: "foreign", TrackKind: "audio"})
	if err := pb.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if sink.Running() {
		t.Error("sink should be stopped")
	}
}

func TestPlaybackRebindDropsStalePump(t *testing.T) {
	enc, err := opus.NewEncoder(OpusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, 1000)
	n, err := enc.Encode(make([]int16, 960), payload)
	if err != nil {
		t.Fatal(err)
	}
	payload = payload[:n]

	stream := func() (chan *rtp.Packet, packetReader) {
		ch := make(chan *rtp.Packet)
		return ch, func() (*rtp.Packet, error) {
			pkt, ok := <-ch
			if !ok {
				return nil, io.EOF
			}
			return pkt, nil
		}
	}

	sink := audioio.NewMockSink(audioio.DefaultConfig())
	pb := NewPlayback(sink, log.Discard())
	defer pb.Close()

	oldCh, oldRead := stream()
	pb.play(oldRead)
	newCh, newRead := stream()
	pb.play(newRead)

	// The first pump is still blocked reading; its next packet must be dropped.
	oldCh <- &rtp.Packet{Payload: payload}
	newCh <- &rtp.Packet{Payload: payload}
	close(newCh)
	close(oldCh)

	deadline := time.Now().Add(2 * time.Second)
	for pb.Decoded() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := pb.Decoded(); got != 1 {
		t.Errorf("decoded %d packets, want 1 from the current track", got)
	}
	if got := len(sink.Written()); got != 1 {
		t.Errorf("sink got %d chunks, want 1", got)
	}
}

package call

import (
	"context"
	"sync"
	"sync/atomic"
)

// MockTrack is a LocalTrack that counts Stop calls.
type MockTrack struct {
	TrackID   string
	TrackKind string

	stops atomic.Int32
}

// ID implements LocalTrack.
func (t *MockTrack) ID() string { return t.TrackID }

// Kind implements LocalTrack.
func (t *MockTrack) Kind() string {
	if t.TrackKind == "" {
		return "audio"
	}
	return t.TrackKind
}

// Stop implements LocalTrack.
func (t *MockTrack) Stop() { t.stops.Add(1) }

// Stops returns how many times Stop was called.
func (t *MockTrack) Stops() int { return int(t.stops.Load()) }

// MockCapture is an AudioCapture over fixed tracks.
type MockCapture struct {
	tracks []LocalTrack
}

// Tracks implements AudioCapture.
func (c *MockCapture) Tracks() []LocalTrack { return c.tracks }

// MockCapturer is a MediaCapturer that records every capture it hands out.
type MockCapturer struct {
	mu sync.Mutex

	// CaptureFunc overrides the default behavior when set.
	CaptureFunc func(ctx context.Context) (AudioCapture, error)

	// TracksPerCapture is how many tracks each capture gets (default 1).
	TracksPerCapture int

	// Captured tracks by acquisition, for leak assertions.
	Acquired [][]*MockTrack
}

// NewMockCapturer creates a MockCapturer.
func NewMockCapturer() *MockCapturer {
	return &MockCapturer{TracksPerCapture: 1}
}

// CaptureAudio implements MediaCapturer.
func (m *MockCapturer) CaptureAudio(ctx context.Context) (AudioCapture, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := m.TracksPerCapture
	if n <= 0 {
		n = 1
	}
	tracks := make([]*MockTrack, n)
	local := make([]LocalTrack, n)
	for i := range tracks {
		tracks[i] = &MockTrack{TrackID: "mic"}
		local[i] = tracks[i]
	}
	m.Acquired = append(m.Acquired, tracks)
	return &MockCapture{tracks: local}, nil
}

// LiveTracks returns the number of acquired tracks never stopped.
func (m *MockCapturer) LiveTracks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	live := 0
	for _, acq := range m.Acquired {
		for _, t := range acq {
			if t.Stops() == 0 {
				live++
			}
		}
	}
	return live
}

// MockRemoteTrack is a RemoteTrack for simulating incoming media.
type MockRemoteTrack struct {
	TrackID   string
	TrackKind string
	Stream    string
}

// ID implements RemoteTrack.
func (t MockRemoteTrack) ID() string { return t.TrackID }

// Kind implements RemoteTrack.
func (t MockRemoteTrack) Kind() string { return t.TrackKind }

// StreamID implements RemoteTrack.
func (t MockRemoteTrack) StreamID() string { return t.Stream }

// MockPeer is a PeerConnection that records calls.
type MockPeer struct {
	mu sync.Mutex

	onTrack func(RemoteTrack)

	// Configurable behavior
	AddTrackFunc             func(track LocalTrack) error
	CreateOfferFunc          func(opts OfferOptions) (SessionDescription, error)
	SetLocalDescriptionFunc  func(desc SessionDescription) error
	SetRemoteDescriptionFunc func(desc SessionDescription) error
	CloseFunc                func() error

	// Captured calls for assertions
	Tracks     []LocalTrack
	OfferOpts  *OfferOptions
	Local      *SessionDescription
	Remote     *SessionDescription
	CloseCalls int
}

// OnTrack implements PeerConnection.
func (p *MockPeer) OnTrack(fn func(RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

// AddTrack implements PeerConnection.
func (p *MockPeer) AddTrack(track LocalTrack, capture AudioCapture) error {
	if p.AddTrackFunc != nil {
		if err := p.AddTrackFunc(track); err != nil {
			return err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Tracks = append(p.Tracks, track)
	return nil
}

// CreateOffer implements PeerConnection.
func (p *MockPeer) CreateOffer(ctx context.Context, opts OfferOptions) (SessionDescription, error) {
	p.mu.Lock()
	p.OfferOpts = &opts
	p.mu.Unlock()
	if p.CreateOfferFunc != nil {
		return p.CreateOfferFunc(opts)
	}
	return SessionDescription{Type: SDPTypeOffer, SDP: "v=0\r\nmock-offer\r\n"}, nil
}

// SetLocalDescription implements PeerConnection.
func (p *MockPeer) SetLocalDescription(desc SessionDescription) error {
	if p.SetLocalDescriptionFunc != nil {
		return p.SetLocalDescriptionFunc(desc)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Local = &desc
	return nil
}

// SetRemoteDescription implements PeerConnection.
func (p *MockPeer) SetRemoteDescription(desc SessionDescription) error {
	if p.SetRemoteDescriptionFunc != nil {
		return p.SetRemoteDescriptionFunc(desc)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Remote = &desc
	return nil
}

// Close implements PeerConnection.
func (p *MockPeer) Close() error {
	p.mu.Lock()
	p.CloseCalls++
	p.mu.Unlock()
	if p.CloseFunc != nil {
		return p.CloseFunc()
	}
	return nil
}

// Closes returns how many times Close was called.
func (p *MockPeer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.CloseCalls
}

// SimulateTrack triggers the OnTrack callback.
func (p *MockPeer) SimulateTrack(track RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(track)
	}
}

// MockPeerFactory hands out MockPeers.
type MockPeerFactory struct {
	mu sync.Mutex

	// NewFunc overrides the default behavior when set.
	NewFunc func() (*MockPeer, error)

	// Peers created so far.
	Peers []*MockPeer
}

// NewPeerConnection implements PeerFactory.
func (f *MockPeerFactory) NewPeerConnection() (PeerConnection, error) {
	var (
		p   *MockPeer
		err error
	)
	if f.NewFunc != nil {
		p, err = f.NewFunc()
		if err != nil {
			return nil, err
		}
	} else {
		p = &MockPeer{}
	}
	f.mu.Lock()
	f.Peers = append(f.Peers, p)
	f.mu.Unlock()
	return p, nil
}

// Last returns the most recently created peer, or nil.
func (f *MockPeerFactory) Last() *MockPeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Peers) == 0 {
		return nil
	}
	return f.Peers[len(f.Peers)-1]
}

// OpenPeers returns the number of peers never closed.
func (f *MockPeerFactory) OpenPeers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	open := 0
	for _, p := range f.Peers {
		if p.Closes() == 0 {
			open++
		}
	}
	return open
}

// MockPlayback records bound tracks.
type MockPlayback struct {
	mu    sync.Mutex
	Bound []RemoteTrack
}

// Bind implements Playback.
func (p *MockPlayback) Bind(track RemoteTrack) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Bound = append(p.Bound, track)
}

// Count returns how many times Bind was called.
func (p *MockPlayback) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Bound)
}

// MockCredentials is a CredentialSource.
type MockCredentials struct {
	CredentialFunc func(ctx context.Context) (Credential, error)
	calls          atomic.Int32
}

// Credential implements CredentialSource.
func (m *MockCredentials) Credential(ctx context.Context) (Credential, error) {
	m.calls.Add(1)
	if m.CredentialFunc != nil {
		return m.CredentialFunc(ctx)
	}
	return Credential{Value: "ek_mock"}, nil
}

// Calls returns how many credentials were requested.
func (m *MockCredentials) Calls() int { return int(m.calls.Load()) }

// MockSignaler is a Signaler.
type MockSignaler struct {
	mu sync.Mutex

	ExchangeFunc func(ctx context.Context, offer SessionDescription, cred *Credential) (SessionDescription, error)

	// Captured calls for assertions
	Offers      []SessionDescription
	Credentials []*Credential
}

// Mode implements Signaler.
func (m *MockSignaler) Mode() string { return "mock" }

// Exchange implements Signaler.
func (m *MockSignaler) Exchange(ctx context.Context, offer SessionDescription, cred *Credential) (SessionDescription, error) {
	m.mu.Lock()
	m.Offers = append(m.Offers, offer)
	m.Credentials = append(m.Credentials, cred)
	m.mu.Unlock()
	if m.ExchangeFunc != nil {
		return m.ExchangeFunc(ctx, offer, cred)
	}
	return SessionDescription{Type: SDPTypeAnswer, SDP: "v=0\r\nmock-answer\r\n"}, nil
}

// Ensure mocks implement their interfaces.
var (
	_ MediaCapturer    = (*MockCapturer)(nil)
	_ PeerFactory      = (*MockPeerFactory)(nil)
	_ PeerConnection   = (*MockPeer)(nil)
	_ Playback         = (*MockPlayback)(nil)
	_ CredentialSource = (*MockCredentials)(nil)
	_ Signaler         = (*MockSignaler)(nil)
)

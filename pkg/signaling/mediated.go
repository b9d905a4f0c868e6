package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-voicecall/internal/httpc"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// DefaultSessionURL is the add-on route that relays offers upstream.
const DefaultSessionURL = "http://localhost:8099/api/session"

// Mediated posts the raw offer to a local relay that mints the credential
// and talks to the realtime service on our behalf.
type Mediated struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewMediated creates a Mediated signaler. An empty url uses
// DefaultSessionURL and a nil client uses the shared httpc.Client.
func NewMediated(url string, client *http.Client, logger *slog.Logger) *Mediated {
	if url == "" {
		url = DefaultSessionURL
	}
	if client == nil {
		client = httpc.Client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mediated{
		url:    url,
		client: client,
		logger: logger.With("component", "signaling.mediated"),
	}
}

// Mode implements call.Signaler.
func (m *Mediated) Mode() string { return string(ModeMediated) }

// Exchange implements call.Signaler. cred is ignored.
func (m *Mediated) Exchange(ctx context.Context, offer call.SessionDescription, _ *call.Credential) (call.SessionDescription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, strings.NewReader(offer.SDP))
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := m.client.Do(req)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("session request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return call.SessionDescription{}, &StatusError{
			Endpoint:   "/api/session",
			StatusCode: resp.StatusCode,
			Body:       httpc.ReadErrorBody(resp.Body),
		}
	}

	return readAnswer(resp.Body, m.logger)
}

var _ call.Signaler = (*Mediated)(nil)

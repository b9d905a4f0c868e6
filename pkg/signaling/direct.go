package signaling

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/teslashibe/go-voicecall/internal/httpc"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// DefaultCallsURL is the realtime endpoint accepting SDP offers.
const DefaultCallsURL = DefaultBaseURL + "/realtime/calls"

// Direct posts the offer straight to the realtime service, authorized with
// the per-attempt ephemeral credential.
type Direct struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewDirect creates a Direct signaler. An empty url uses DefaultCallsURL and
// a nil client uses the shared httpc.Client.
func NewDirect(url string, client *http.Client, logger *slog.Logger) *Direct {
	if url == "" {
		url = DefaultCallsURL
	}
	if client == nil {
		client = httpc.Client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Direct{
		url:    url,
		client: client,
		logger: logger.With("component", "signaling.direct"),
	}
}

// Mode implements call.Signaler.
func (d *Direct) Mode() string { return string(ModeDirect) }

// Exchange implements call.Signaler. The offer is sent as the multipart
// field "sdp" and the answer is the raw response body.
func (d *Direct) Exchange(ctx context.Context, offer call.SessionDescription, cred *call.Credential) (call.SessionDescription, error) {
	if cred == nil || cred.Value == "" {
		return call.SessionDescription{}, ErrNoCredential
	}

	body, contentType, err := offerForm(offer.SDP)
	if err != nil {
		return call.SessionDescription{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := httpc.WithBearer(d.client, cred.Value).Do(req)
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("calls request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return call.SessionDescription{}, &StatusError{
			Endpoint:   "OpenAI /calls",
			StatusCode: resp.StatusCode,
			Body:       httpc.ReadErrorBody(resp.Body),
		}
	}

	return readAnswer(resp.Body, d.logger)
}

func offerForm(sdp string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="sdp"; filename="offer.sdp"`)
	h.Set("Content-Type", "application/sdp")
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create sdp part: %w", err)
	}
	if _, err := io.WriteString(part, sdp); err != nil {
		return nil, "", fmt.Errorf("write sdp part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

func readAnswer(r io.Reader, logger *slog.Logger) (call.SessionDescription, error) {
	b, err := io.ReadAll(io.LimitReader(r, 1<<20))
	if err != nil {
		return call.SessionDescription{}, fmt.Errorf("read answer: %w", err)
	}
	sdp := string(b)
	if strings.TrimSpace(sdp) == "" {
		return call.SessionDescription{}, call.ErrEmptyAnswer
	}
	logger.Debug("answer received", "bytes", len(sdp))
	return call.SessionDescription{Type: call.SDPTypeAnswer, SDP: sdp}, nil
}

var _ call.Signaler = (*Direct)(nil)

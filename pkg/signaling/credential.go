package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"github.com/teslashibe/go-voicecall/internal/httpc"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// DefaultCredentialURL is the add-on route that mints client secrets.
const DefaultCredentialURL = "http://localhost:8099/api/client_secret"

// CredentialClient fetches a fresh ephemeral client secret from the
// credential endpoint on every call. Nothing is cached.
type CredentialClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewCredentialClient creates a client for the credential endpoint at url.
// A nil client uses the shared httpc.Client.
func NewCredentialClient(url string, client *http.Client, logger *slog.Logger) *CredentialClient {
	if url == "" {
		url = DefaultCredentialURL
	}
	if client == nil {
		client = httpc.Client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialClient{
		url:    url,
		client: client,
		logger: logger.With("component", "signaling.credential"),
	}
}

// Credential implements call.CredentialSource.
func (c *CredentialClient) Credential(ctx context.Context) (call.Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return call.Credential{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return call.Credential{}, fmt.Errorf("client_secret request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return call.Credential{}, &StatusError{
			Endpoint:   "client_secret",
			StatusCode: resp.StatusCode,
			Body:       httpc.ReadErrorBody(resp.Body),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return call.Credential{}, fmt.Errorf("read response: %w", err)
	}

	value, err := parseSecret(body)
	if err != nil {
		return call.Credential{}, err
	}
	c.logger.Debug("client secret minted")
	return call.Credential{Value: value}, nil
}

// Token implements oauth2.TokenSource so the minted secret can authorize
// other realtime connections.
func (c *CredentialClient) Token() (*oauth2.Token, error) {
	cred, err := c.Credential(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: cred.Value, TokenType: "Bearer"}, nil
}

// parseSecret accepts {"client_secret": "..."}, {"client_secret": {"value": "..."}}
// and the upstream {"value": "..."} shape.
func parseSecret(body []byte) (string, error) {
	var payload struct {
		ClientSecret json.RawMessage `json:"client_secret"`
		Value        string          `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode client_secret: %w", err)
	}

	if len(payload.ClientSecret) > 0 && string(payload.ClientSecret) != "null" {
		var s string
		if err := json.Unmarshal(payload.ClientSecret, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
		}
		var obj struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(payload.ClientSecret, &obj); err == nil {
			if v := strings.TrimSpace(obj.Value); v != "" {
				return v, nil
			}
		}
	}
	if v := strings.TrimSpace(payload.Value); v != "" {
		return v, nil
	}
	return "", ErrMissingSecret
}

var (
	_ call.CredentialSource = (*CredentialClient)(nil)
	_ oauth2.TokenSource    = (*CredentialClient)(nil)
)

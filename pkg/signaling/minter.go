package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-voicecall/internal/httpc"
	"github.com/teslashibe/go-voicecall/pkg/call"
)

// Defaults for minted realtime sessions.
const (
	DefaultBaseURL      = "https://api.openai.com/v1"
	DefaultModel        = "gpt-realtime"
	DefaultVoice        = "marin"
	DefaultInstructions = "You are a helpful voice assistant."
	DefaultTemperature  = 0.7

	mintTimeout = 20 * time.Second
)

// SessionConfig describes the realtime session a minted secret is bound to.
type SessionConfig struct {
	Model        string
	Voice        string
	Instructions string
	Temperature  float64
}

// DefaultSessionConfig returns the stock assistant session.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:        DefaultModel,
		Voice:        DefaultVoice,
		Instructions: DefaultInstructions,
		Temperature:  DefaultTemperature,
	}
}

// Secret is a freshly minted ephemeral client secret.
type Secret struct {
	Value string
	Model string
	Voice string
}

// Minter exchanges the long-lived API key for ephemeral client secrets.
// The key never leaves the process that owns the Minter.
type Minter struct {
	apiKey  string
	baseURL string
	session SessionConfig
	client  *http.Client
	logger  *slog.Logger
}

// NewMinter creates a Minter. An empty baseURL uses DefaultBaseURL and a nil
// client gets a 20s timeout.
func NewMinter(apiKey, baseURL string, session SessionConfig, client *http.Client, logger *slog.Logger) *Minter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = httpc.NewClient(mintTimeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Minter{
		apiKey:  apiKey,
		baseURL: baseURL,
		session: session,
		client:  client,
		logger:  logger.With("component", "signaling.minter"),
	}
}

// Configured reports whether an API key is present.
func (m *Minter) Configured() bool { return m.apiKey != "" }

// Session returns the session configuration secrets are minted for.
func (m *Minter) Session() SessionConfig { return m.session }

// Mint requests a new client secret from the upstream realtime API.
// Upstream failures are returned as *StatusError with Endpoint "OpenAI".
func (m *Minter) Mint(ctx context.Context) (Secret, error) {
	if !m.Configured() {
		return Secret{}, ErrNoAPIKey
	}

	payload := map[string]any{
		"session": map[string]any{
			"type":         "realtime",
			"model":        m.session.Model,
			"instructions": m.session.Instructions,
			"temperature":  m.session.Temperature,
			"audio": map[string]any{
				"output": map[string]any{"voice": m.session.Voice},
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Secret{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/realtime/client_secrets", bytes.NewReader(body))
	if err != nil {
		return Secret{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := m.client.Do(req)
	if err != nil {
		return Secret{}, fmt.Errorf("client_secrets request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Secret{}, &StatusError{
			Endpoint:   "OpenAI",
			StatusCode: resp.StatusCode,
			Body:       httpc.ReadErrorBody(resp.Body),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Secret{}, fmt.Errorf("read response: %w", err)
	}
	value, err := parseSecret(data)
	if err != nil {
		return Secret{}, err
	}

	m.logger.Debug("client secret minted",
		"model", m.session.Model,
		"voice", m.session.Voice,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return Secret{Value: value, Model: m.session.Model, Voice: m.session.Voice}, nil
}

// Credential implements call.CredentialSource by minting directly upstream.
func (m *Minter) Credential(ctx context.Context) (call.Credential, error) {
	s, err := m.Mint(ctx)
	if err != nil {
		return call.Credential{}, err
	}
	return call.Credential{Value: s.Value}, nil
}

var _ call.CredentialSource = (*Minter)(nil)

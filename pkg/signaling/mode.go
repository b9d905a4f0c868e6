// Package signaling implements the offer/answer exchange with the remote
// realtime service and the ephemeral credential handshake that precedes it.
//
// Two strategies exist. Direct fetches a client secret and posts the offer
// to the realtime endpoint itself. Mediated posts the raw offer to a relay
// (see pkg/server) that keeps the API key server-side.
package signaling

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/teslashibe/go-voicecall/pkg/call"
)

// Mode selects a signaling strategy.
type Mode string

const (
	ModeDirect   Mode = "direct"
	ModeMediated Mode = "mediated"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDirect:
		return ModeDirect, nil
	case ModeMediated, "":
		return ModeMediated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Config selects and configures a strategy.
type Config struct {
	Mode Mode

	// CredentialURL is the client_secret endpoint used by Direct when no
	// Credentials source is given.
	CredentialURL string

	// Credentials overrides the credential source for Direct.
	Credentials call.CredentialSource

	// CallsURL is the realtime offer endpoint used by Direct.
	CallsURL string

	// SessionURL is the relay endpoint used by Mediated.
	SessionURL string

	Client *http.Client
	Logger *slog.Logger
}

// New returns the signaler and credential source for cfg.Mode. The
// credential source is nil for Mediated, which mints server-side.
func New(cfg Config) (call.Signaler, call.CredentialSource, error) {
	switch cfg.Mode {
	case ModeDirect:
		creds := cfg.Credentials
		if creds == nil {
			creds = NewCredentialClient(cfg.CredentialURL, cfg.Client, cfg.Logger)
		}
		return NewDirect(cfg.CallsURL, cfg.Client, cfg.Logger), creds, nil
	case ModeMediated:
		return NewMediated(cfg.SessionURL, cfg.Client, cfg.Logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
}

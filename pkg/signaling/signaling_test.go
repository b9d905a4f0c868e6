package signaling_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/teslashibe/go-voicecall/pkg/call"
	"github.com/teslashibe/go-voicecall/pkg/signaling"
)

func TestCredentialClient(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"string form", 200, `{"client_secret":"ek_1","model":"gpt-realtime","voice":"marin"}`, "ek_1", false},
		{"object form", 200, `{"client_secret":{"value":"ek_2","expires_at":1}}`, "ek_2", false},
		{"upstream form", 200, `{"value":"ek_3"}`, "ek_3", false},
		{"missing", 200, `{"model":"gpt-realtime"}`, "", true},
		{"null", 200, `{"client_secret":null}`, "", true},
		{"not json", 200, `<html>`, "", true},
		{"server error", 500, `upstream exploded`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := signaling.NewCredentialClient(srv.URL, nil, nil)
			cred, err := c.Credential(context.Background())
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", cred.Value)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cred.Value != tt.want {
				t.Errorf("credential = %q, want %q", cred.Value, tt.want)
			}
		})
	}
}

func TestCredentialClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := signaling.NewCredentialClient(srv.URL, nil, nil).Credential(context.Background())
	se, ok := signaling.IsStatusError(err)
	if !ok {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if se.StatusCode != 500 {
		t.Errorf("status = %d, want 500", se.StatusCode)
	}
	if !strings.HasPrefix(err.Error(), "client_secret failed: 500 ") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestCredentialClientToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"client_secret":"ek_tok"}`)
	}))
	defer srv.Close()

	tok, err := signaling.NewCredentialClient(srv.URL, nil, nil).Token()
	if err != nil {
		t.Fatalf("token failed: %v", err)
	}
	if tok.AccessToken != "ek_tok" || tok.TokenType != "Bearer" {
		t.Errorf("unexpected token %+v", tok)
	}
}

func TestMinter(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		m := signaling.NewMinter("", "", signaling.DefaultSessionConfig(), nil, nil)
		if m.Configured() {
			t.Error("minter without key should not be configured")
		}
		if _, err := m.Mint(context.Background()); !errors.Is(err, signaling.ErrNoAPIKey) {
			t.Errorf("expected ErrNoAPIKey, got %v", err)
		}
	})

	t.Run("success", func(t *testing.T) {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/realtime/client_secrets" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk-test" {
				t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
			}
			json.NewDecoder(r.Body).Decode(&got)
			io.WriteString(w, `{"value":"ek_up","expires_at":123}`)
		}))
		defer srv.Close()

		m := signaling.NewMinter("sk-test", srv.URL, signaling.DefaultSessionConfig(), nil, nil)
		s, err := m.Mint(context.Background())
		if err != nil {
			t.Fatalf("mint failed: %v", err)
		}
		if s.Value != "ek_up" || s.Model != "gpt-realtime" || s.Voice != "marin" {
			t.Errorf("unexpected secret %+v", s)
		}

		session, _ := got["session"].(map[string]any)
		if session["type"] != "realtime" || session["model"] != "gpt-realtime" {
			t.Errorf("unexpected session payload %v", session)
		}
		if session["temperature"] != 0.7 {
			t.Errorf("temperature = %v", session["temperature"])
		}
		audio, _ := session["audio"].(map[string]any)
		output, _ := audio["output"].(map[string]any)
		if output["voice"] != "marin" {
			t.Errorf("voice not sent: %v", audio)
		}
	})

	t.Run("upstream error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, "bad key")
		}))
		defer srv.Close()

		_, err := signaling.NewMinter("sk-bad", srv.URL, signaling.DefaultSessionConfig(), nil, nil).Mint(context.Background())
		se, ok := signaling.IsStatusError(err)
		if !ok || se.StatusCode != 401 || se.Body != "bad key" {
			t.Fatalf("unexpected error %v", err)
		}
	})
}

func TestDirectExchange(t *testing.T) {
	const offer = "v=0\r\no=- offer\r\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ek_live" {
			t.Errorf("unexpected auth %q", r.Header.Get("Authorization"))
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		files := r.MultipartForm.File["sdp"]
		if len(files) != 1 {
			t.Errorf("expected one sdp part, got %d", len(files))
			return
		}
		if files[0].Filename != "offer.sdp" {
			t.Errorf("filename = %q", files[0].Filename)
		}
		if ct := files[0].Header.Get("Content-Type"); ct != "application/sdp" {
			t.Errorf("part content type = %q", ct)
		}
		f, _ := files[0].Open()
		b, _ := io.ReadAll(f)
		if string(b) != offer {
			t.Errorf("offer = %q", b)
		}
		io.WriteString(w, "v=0\r\no=- answer\r\n")
	}))
	defer srv.Close()

	d := signaling.NewDirect(srv.URL, nil, nil)
	if d.Mode() != "direct" {
		t.Errorf("mode = %q", d.Mode())
	}

	ans, err := d.Exchange(context.Background(), call.SessionDescription{Type: call.SDPTypeOffer, SDP: offer}, &call.Credential{Value: "ek_live"})
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if ans.Type != call.SDPTypeAnswer || !strings.Contains(ans.SDP, "answer") {
		t.Errorf("unexpected answer %+v", ans)
	}
}

func TestDirectErrors(t *testing.T) {
	t.Run("no credential", func(t *testing.T) {
		d := signaling.NewDirect("http://127.0.0.1:1", nil, nil)
		if _, err := d.Exchange(context.Background(), call.SessionDescription{SDP: "v=0"}, nil); !errors.Is(err, signaling.ErrNoCredential) {
			t.Errorf("expected ErrNoCredential, got %v", err)
		}
	})

	t.Run("non-2xx", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, "invalid offer")
		}))
		defer srv.Close()

		_, err := signaling.NewDirect(srv.URL, nil, nil).Exchange(context.Background(), call.SessionDescription{SDP: "v=0"}, &call.Credential{Value: "ek"})
		if err == nil || err.Error() != "OpenAI /calls failed: 400 invalid offer" {
			t.Errorf("unexpected error %v", err)
		}
	})

	t.Run("empty answer", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		defer srv.Close()

		_, err := signaling.NewDirect(srv.URL, nil, nil).Exchange(context.Background(), call.SessionDescription{SDP: "v=0"}, &call.Credential{Value: "ek"})
		if !errors.Is(err, call.ErrEmptyAnswer) {
			t.Errorf("expected ErrEmptyAnswer, got %v", err)
		}
	})
}

func TestMediatedExchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/sdp" {
			t.Errorf("content type = %q", ct)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("mediated exchange must not send credentials")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != "v=0\r\noffer\r\n" {
			t.Errorf("body = %q", b)
		}
		io.WriteString(w, "v=0\r\nanswer\r\n")
	}))
	defer srv.Close()

	m := signaling.NewMediated(srv.URL, nil, nil)
	if m.Mode() != "mediated" {
		t.Errorf("mode = %q", m.Mode())
	}
	ans, err := m.Exchange(context.Background(), call.SessionDescription{SDP: "v=0\r\noffer\r\n"}, nil)
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if ans.SDP != "v=0\r\nanswer\r\n" {
		t.Errorf("answer = %q", ans.SDP)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		io.WriteString(w, "OpenAI error: 401 nope")
	}))
	defer fail.Close()

	_, err = signaling.NewMediated(fail.URL, nil, nil).Exchange(context.Background(), call.SessionDescription{SDP: "v=0"}, nil)
	if err == nil || !strings.HasPrefix(err.Error(), "/api/session failed: 502") {
		t.Errorf("unexpected error %v", err)
	}
}

func TestParseModeAndNew(t *testing.T) {
	for in, want := range map[string]signaling.Mode{
		"direct":   signaling.ModeDirect,
		"DIRECT":   signaling.ModeDirect,
		"mediated": signaling.ModeMediated,
		"":         signaling.ModeMediated,
	} {
		got, err := signaling.ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := signaling.ParseMode("carrier-pigeon"); !errors.Is(err, signaling.ErrUnknownMode) {
		t.Errorf("expected ErrUnknownMode, got %v", err)
	}

	sig, creds, err := signaling.New(signaling.Config{Mode: signaling.ModeDirect})
	if err != nil || sig.Mode() != "direct" || creds == nil {
		t.Errorf("direct: %v %v %v", sig, creds, err)
	}
	sig, creds, err = signaling.New(signaling.Config{Mode: signaling.ModeMediated})
	if err != nil || sig.Mode() != "mediated" || creds != nil {
		t.Errorf("mediated: %v %v %v", sig, creds, err)
	}
	if _, _, err := signaling.New(signaling.Config{Mode: "x"}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

type statusSink struct {
	mu    sync.Mutex
	lines []string
}

func (s *statusSink) set(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *statusSink) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.lines) == 0 {
		return ""
	}
	return s.lines[len(s.lines)-1]
}

// A credential endpoint returning 500 leaves the session idle with the
// failure visible and nothing held.
func TestSessionCredentialEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "internal")
	}))
	defer srv.Close()

	sig, creds, err := signaling.New(signaling.Config{
		Mode:          signaling.ModeDirect,
		CredentialURL: srv.URL,
		CallsURL:      srv.URL,
	})
	if err != nil {
		t.Fatal(err)
	}

	capturer := call.NewMockCapturer()
	peers := &call.MockPeerFactory{}
	status := &statusSink{}
	sess := call.NewSession(call.Capabilities{
		Capturer:    capturer,
		Peers:       peers,
		Credentials: creds,
		Signaler:    sig,
	}, call.WithStatus(status.set))

	err = sess.Start(context.Background())
	if !call.IsCredentialError(err) {
		t.Fatalf("expected CredentialError, got %v", err)
	}
	if sess.IsActive() {
		t.Error("session should be idle")
	}
	if !strings.Contains(status.last(), "client_secret failed") {
		t.Errorf("status = %q", status.last())
	}
	if capturer.LiveTracks() != 0 {
		t.Error("capture must be released")
	}
	if len(peers.Peers) != 0 {
		t.Error("no peer should be created")
	}
}

// A successful mediated round trip ends connected, and Stop releases
// everything.
func TestSessionMediatedRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "v=0\r\nanswer\r\n")
	}))
	defer srv.Close()

	sig, creds, _ := signaling.New(signaling.Config{Mode: signaling.ModeMediated, SessionURL: srv.URL})
	capturer := call.NewMockCapturer()
	peers := &call.MockPeerFactory{}
	status := &statusSink{}
	sess := call.NewSession(call.Capabilities{
		Capturer:    capturer,
		Peers:       peers,
		Credentials: creds,
		Signaler:    sig,
	}, call.WithStatus(status.set))

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if sess.State() != call.StateConnected {
		t.Fatalf("state = %s", sess.State())
	}
	if status.last() != "Connected. Speak normally." {
		t.Errorf("status = %q", status.last())
	}
	if got := peers.Last().Remote.SDP; got != "v=0\r\nanswer\r\n" {
		t.Errorf("remote = %q", got)
	}

	sess.Stop()
	if sess.IsActive() || status.last() != "Idle" {
		t.Errorf("after stop: active=%v status=%q", sess.IsActive(), status.last())
	}
	if capturer.LiveTracks() != 0 || peers.OpenPeers() != 0 {
		t.Error("stop must release every handle")
	}
}

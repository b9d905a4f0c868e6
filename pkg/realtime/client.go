// Package realtime streams microphone audio to OpenAI's realtime
// transcription API over a websocket and exposes the transcripts as a
// continuous speech recognizer for the wake package.
package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// TranscriptionURL is the realtime endpoint in transcription-only mode.
	TranscriptionURL = "wss://api.openai.com/v1/realtime?intent=transcription"

	// DefaultModel is the transcription model.
	DefaultModel = "gpt-4o-mini-transcribe"

	// DefaultLanguage is the recognition language.
	DefaultLanguage = "en"

	// InputSampleRate is the PCM16 rate the API expects.
	InputSampleRate = 24000
)

// ErrNotConnected is returned when sending on a closed client.
var ErrNotConnected = errors.New("realtime: not connected")

// APIError is an error event reported by the service.
type APIError struct {
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("realtime: API error (%s): %s", e.Code, e.Message)
	}
	return "realtime: API error: " + e.Message
}

// event is the subset of server events the client understands.
type event struct {
	Type       string `json:"type"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionUpdate struct {
	Type    string             `json:"type"`
	Session transcriptionSetup `json:"session"`
}

type transcriptionSetup struct {
	InputAudioFormat        string        `json:"input_audio_format"`
	InputAudioTranscription transcriber   `json:"input_audio_transcription"`
	TurnDetection           turnDetection `json:"turn_detection"`
}

type transcriber struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// client is one transcription websocket connection.
type client struct {
	ws     *websocket.Conn
	wsMu   sync.Mutex
	logger *slog.Logger

	readTimeout time.Duration

	onDelta     func(itemID, delta string)
	onCompleted func(itemID, transcript string)
	onError     func(err error)

	closeOnce sync.Once
	closed    chan struct{}
}

func dial(url string, header http.Header, cfg Config) (*client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	ws, resp, err := dialer.Dial(url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: connect: %w", err)
	}

	c := &client{
		ws:          ws,
		logger:      cfg.Logger,
		readTimeout: cfg.ReadTimeout,
		closed:      make(chan struct{}),
	}
	ws.SetPingHandler(func(appData string) error {
		c.wsMu.Lock()
		defer c.wsMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})
	return c, nil
}

func (c *client) configure(model, language string) error {
	return c.sendJSON(sessionUpdate{
		Type: "transcription_session.update",
		Session: transcriptionSetup{
			InputAudioFormat:        "pcm16",
			InputAudioTranscription: transcriber{Model: model, Language: language},
			TurnDetection: turnDetection{
				Type:              "server_vad",
				Threshold:         0.5,
				PrefixPaddingMS:   300,
				SilenceDurationMS: 500,
			},
		},
	})
}

// sendAudio appends PCM16 audio to the input buffer.
func (c *client) sendAudio(pcm16 []byte) error {
	return c.sendJSON(map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm16),
	})
}

// keepAlive pings until the connection closes.
func (c *client) keepAlive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			c.wsMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop dispatches server events until the connection fails. It returns
// the read error.
func (c *client) readLoop() error {
	for {
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}

		var ev event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Debug("ignoring malformed event", "error", err)
			continue
		}

		switch ev.Type {
		case "conversation.item.input_audio_transcription.delta":
			if c.onDelta != nil {
				c.onDelta(ev.ItemID, ev.Delta)
			}
		case "conversation.item.input_audio_transcription.completed":
			if c.onCompleted != nil {
				c.onCompleted(ev.ItemID, ev.Transcript)
			}
		case "error":
			if ev.Error != nil && c.onError != nil {
				c.onError(&APIError{Type: ev.Error.Type, Code: ev.Error.Code, Message: ev.Error.Message})
			}
		case "transcription_session.created", "transcription_session.updated":
			c.logger.Debug("transcription session ready", "event", ev.Type)
		}
	}
}

func (c *client) sendJSON(v any) error {
	select {
	case <-c.closed:
		return ErrNotConnected
	default:
	}
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(v)
}

// close sends a close frame and tears down the connection. Safe to call
// more than once.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.wsMu.Lock()
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.wsMu.Unlock()
		c.ws.Close()
	})
}

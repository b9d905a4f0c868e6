// Package hub provides a thread-safe websocket broadcast hub
// using the idiomatic Go channel-based fan-out pattern.
package hub

import "encoding/json"

// Message is a text frame broadcast to clients.
type Message struct {
	Data []byte
}

// NewJSONMessage encodes v as a message.
func NewJSONMessage(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Data: data}, nil
}

// StatusEvent is the payload pushed on every status change.
type StatusEvent struct {
	Type   string `json:"type"`
	Line   string `json:"line"`
	Call   string `json:"call,omitempty"`
	Wake   string `json:"wake,omitempty"`
	CallID string `json:"call_id,omitempty"`
}

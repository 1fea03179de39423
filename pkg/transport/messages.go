// Package transport maintains the websocket channel to the voice
// service: handshake, duplex audio framing, idle heartbeats, and
// bounded reconnection.
package transport

// Inbound message types.
const (
	TypeStatus      = "status"
	TypeAudio       = "audio"
	TypeInterrupted = "interrupted"
	TypeError       = "error"
)

// StatusConnected is the service's post-handshake acknowledgement. The
// session is not usable before it arrives.
const StatusConnected = "connected"

// Message is the envelope for every inbound frame.
type Message struct {
	Type    string `json:"type"`
	Status  string `json:"status,omitempty"`
	Payload string `json:"payload,omitempty"` // base64 PCM16 for audio frames
	Message string `json:"message,omitempty"` // human-readable error text
}

// Handshake is the first frame sent on every (re)connection. It binds
// the persona to the session before any audio flows.
type Handshake struct {
	Type         string  `json:"type"`
	SystemPrompt string  `json:"systemPrompt"`
	Voice        string  `json:"voice"`
	Language     string  `json:"language"`
	Temperature  float64 `json:"temperature"`
}

// NewHandshake builds a config frame for the given persona parameters.
func NewHandshake(systemPrompt, voice, language string, temperature float64) Handshake {
	return Handshake{
		Type:         "config",
		SystemPrompt: systemPrompt,
		Voice:        voice,
		Language:     language,
		Temperature:  temperature,
	}
}

// audioFrame is the outbound audio envelope.
type audioFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

package session

import (
	"time"

	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/transport"
)

// ChannelConfig is the connection half of the session configuration.
type ChannelConfig struct {
	URL               string
	APIKey            string
	HeartbeatInterval time.Duration
	ReconnectCeiling  int
}

// NewChannelFactory returns a TransportFactory producing websocket
// channels. Each session gets a fresh channel whose handshake carries
// the persona's composed system prompt.
func NewChannelFactory(cfg ChannelConfig) TransportFactory {
	return func(p persona.Persona, hooks TransportHooks) (Transport, error) {
		if cfg.URL == "" {
			return nil, &ConfigError{Reason: "no service URL"}
		}

		ch := transport.NewChannel(transport.Config{
			URL:    cfg.URL,
			APIKey: cfg.APIKey,
			Handshake: transport.NewHandshake(
				persona.BuildSystemPrompt(p),
				string(p.Voice),
				string(p.Language),
				p.Temperature,
			),
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxAttempts:       cfg.ReconnectCeiling,
		})

		ch.OnStatus = hooks.OnStatus
		ch.OnAudio = hooks.OnAudio
		ch.OnInterrupted = hooks.OnInterrupted
		ch.OnRemoteError = hooks.OnRemoteError
		ch.OnReconnecting = hooks.OnReconnecting
		ch.OnClosed = hooks.OnClosed
		ch.OnSent = hooks.OnSent
		ch.OnReceived = hooks.OnReceived
		ch.OnDecodeError = hooks.OnDecodeError
		return ch, nil
	}
}

package transport

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/philiaspaceai/philia-ohanashi/internal/log"
	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
)

// Default reconnection schedule: the wait before attempt N is the Nth
// entry, with the last entry reused beyond it.
var DefaultBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

const (
	// DefaultHeartbeatInterval is the idle gap after which a silent
	// keep-alive frame is sent.
	DefaultHeartbeatInterval = 4 * time.Second

	// DefaultMaxAttempts is the consecutive-failure ceiling after which
	// the channel gives up.
	DefaultMaxAttempts = 5

	heartbeatFrameDur = 200 * time.Millisecond
)

// Config describes one channel to the voice service.
type Config struct {
	URL    string
	APIKey string

	// Handshake is sent as the first frame of every connection,
	// including reconnections.
	Handshake Handshake

	HandshakeTimeout  time.Duration
	HeartbeatInterval time.Duration
	Backoff           []time.Duration
	MaxAttempts       int
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if len(c.Backoff) == 0 {
		c.Backoff = DefaultBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// Channel manages the WebSocket connection to the voice service. It
// redials on unexpected closure with a bounded backoff schedule and
// keeps the uplink warm with silent heartbeat frames while idle.
//
// Callbacks fire from the channel's internal goroutines and must be set
// before Start.
type Channel struct {
	cfg Config

	// Callbacks
	OnStatus       func(status string)
	OnAudio        func(pcm []byte)
	OnInterrupted  func()
	OnRemoteError  func(msg string)
	OnReconnecting func(attempt int, wait time.Duration)
	OnClosed       func(clean bool)
	OnSent         func(bytes int)
	OnReceived     func(bytes int)
	OnDecodeError  func(err error)

	wsMu sync.Mutex
	ws   *websocket.Conn

	sendMu   sync.Mutex
	lastSend time.Time

	userClosed atomic.Bool
	done       chan struct{}
	doneOnce   sync.Once
	started    bool
}

// NewChannel returns an unstarted channel.
func NewChannel(cfg Config) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// Start launches the connection loop. The first dial happens
// asynchronously; readiness is signaled by OnStatus(StatusConnected).
func (c *Channel) Start() {
	if c.started {
		return
	}
	c.started = true

	go c.run()
	go c.heartbeatLoop()
}

// Close shuts the channel down. The service sees a normal closure and no
// reconnection is attempted. Idempotent, and safe to call from the
// channel's own callbacks.
func (c *Channel) Close() {
	if c.userClosed.Swap(true) {
		return
	}
	c.signalDone()

	c.wsMu.Lock()
	if c.ws != nil {
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.ws.Close()
	}
	c.wsMu.Unlock()
}

func (c *Channel) signalDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// SendAudio sends one PCM16 frame uplink. Frames sent while the channel
// is disconnected are dropped; live audio is only useful live.
func (c *Channel) SendAudio(pcm []byte) error {
	err := c.sendJSON(audioFrame{
		Type:    TypeAudio,
		Payload: audio.EncodePayload(pcm),
	})
	if err != nil {
		return err
	}

	c.sendMu.Lock()
	c.lastSend = time.Now()
	c.sendMu.Unlock()

	if c.OnSent != nil {
		c.OnSent(len(pcm))
	}
	return nil
}

// run owns the dial/read/redial cycle. When it returns the channel is
// finished for good, so the heartbeat loop is released too.
func (c *Channel) run() {
	defer c.signalDone()

	attempts := 0
	for {
		if c.userClosed.Load() {
			c.emitClosed(true)
			return
		}

		ws, err := c.dial()
		if err != nil {
			log.Warn("dial failed", "url", c.cfg.URL, "err", err)
			attempts++
			if !c.scheduleRetry(attempts) {
				return
			}
			continue
		}

		if err := c.handshake(ws); err != nil {
			log.Warn("handshake failed", "err", err)
			_ = ws.Close()
			attempts++
			if !c.scheduleRetry(attempts) {
				return
			}
			continue
		}

		c.wsMu.Lock()
		c.ws = ws
		c.wsMu.Unlock()

		// A connection that completed its handshake resets the failure
		// streak.
		attempts = 0

		clean := c.readLoop(ws)

		c.wsMu.Lock()
		c.ws = nil
		c.wsMu.Unlock()

		if c.userClosed.Load() || clean {
			c.emitClosed(true)
			return
		}

		attempts++
		if !c.scheduleRetry(attempts) {
			return
		}
	}
}

// scheduleRetry waits out the backoff for the given failure streak.
// It returns false when the channel is done retrying, either because
// the ceiling was hit or the user closed the channel.
func (c *Channel) scheduleRetry(attempts int) bool {
	if attempts >= c.cfg.MaxAttempts {
		log.Error("connection failed permanently", "attempts", attempts)
		c.emitClosed(false)
		return false
	}

	wait := c.cfg.Backoff[len(c.cfg.Backoff)-1]
	if attempts-1 < len(c.cfg.Backoff) {
		wait = c.cfg.Backoff[attempts-1]
	}

	if c.OnReconnecting != nil {
		c.OnReconnecting(attempts, wait)
	}

	select {
	case <-time.After(wait):
		return true
	case <-c.done:
		c.emitClosed(true)
		return false
	}
}

func (c *Channel) dial() (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	ws, _, err := dialer.Dial(c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return ws, nil
}

// handshake sends the persona config frame before any audio.
func (c *Channel) handshake(ws *websocket.Conn) error {
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	defer ws.SetWriteDeadline(time.Time{})

	if err := ws.WriteJSON(c.cfg.Handshake); err != nil {
		return fmt.Errorf("send config: %w", err)
	}
	return nil
}

// readLoop dispatches inbound frames until the connection drops. It
// reports whether the closure was clean.
func (c *Channel) readLoop(ws *websocket.Conn) bool {
	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			return websocket.IsCloseError(err, websocket.CloseNormalClosure)
		}

		switch msg.Type {
		case TypeStatus:
			if c.OnStatus != nil {
				c.OnStatus(msg.Status)
			}

		case TypeAudio:
			pcm, err := audio.DecodePayload(msg.Payload)
			if err != nil {
				// One bad frame is not worth the session; skip it.
				log.Warn("undecodable audio frame", "err", err)
				if c.OnDecodeError != nil {
					c.OnDecodeError(err)
				}
				continue
			}
			if c.OnReceived != nil {
				c.OnReceived(len(pcm))
			}
			if c.OnAudio != nil {
				c.OnAudio(pcm)
			}

		case TypeInterrupted:
			if c.OnInterrupted != nil {
				c.OnInterrupted()
			}

		case TypeError:
			if c.OnRemoteError != nil {
				c.OnRemoteError(msg.Message)
			}

		default:
			log.Debug("ignoring unknown frame", "type", msg.Type)
		}
	}
}

// heartbeatLoop keeps the uplink warm: some gateways drop streams that
// go quiet, so an idle channel sends a short silent frame every
// HeartbeatInterval.
func (c *Channel) heartbeatLoop() {
	period := c.cfg.HeartbeatInterval / 4
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
		}

		c.sendMu.Lock()
		idle := time.Since(c.lastSend)
		c.sendMu.Unlock()

		if idle < c.cfg.HeartbeatInterval || !c.Connected() {
			continue
		}

		if err := c.SendAudio(audio.SilentFrame(audio.IngressRate, heartbeatFrameDur)); err != nil {
			log.Debug("heartbeat send failed", "err", err)
		}
	}
}

// Connected reports whether a live connection is up.
func (c *Channel) Connected() bool {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws != nil
}

func (c *Channel) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()

	if c.ws == nil {
		return fmt.Errorf("not connected")
	}
	return c.ws.WriteJSON(v)
}

func (c *Channel) emitClosed(clean bool) {
	if c.OnClosed != nil {
		c.OnClosed(clean)
	}
}

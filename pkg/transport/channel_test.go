package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// fakeService is a minimal voice-service endpoint for channel tests. The
// handler receives each upgraded connection in order.
func fakeService(t *testing.T, handler func(ws *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(ws)
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testConfig(url string) Config {
	return Config{
		URL:       url,
		APIKey:    "test-key",
		Handshake: NewHandshake("You are Hana.", "Zephyr", "English", 0.9),
		Backoff:   []time.Duration{10 * time.Millisecond},
	}
}

func TestHandshakePrecedesEverything(t *testing.T) {
	type result struct {
		hs   Handshake
		auth string
	}
	got := make(chan result, 1)

	srv, url := fakeService(t, func(ws *websocket.Conn) {
		defer ws.Close()
		var hs Handshake
		if err := ws.ReadJSON(&hs); err != nil {
			return
		}
		got <- result{hs: hs}
		ws.WriteJSON(Message{Type: TypeStatus, Status: StatusConnected})
		ws.ReadMessage() // hold until client closes
	})
	defer srv.Close()

	connected := make(chan string, 1)
	c := NewChannel(testConfig(url))
	c.OnStatus = func(status string) { connected <- status }
	c.Start()
	defer c.Close()

	select {
	case r := <-got:
		if r.hs.Type != "config" {
			t.Errorf("first frame type %q, want config", r.hs.Type)
		}
		if r.hs.SystemPrompt != "You are Hana." || r.hs.Voice != "Zephyr" {
			t.Errorf("handshake lost persona fields: %+v", r.hs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service never received the config frame")
	}

	select {
	case status := <-connected:
		if status != StatusConnected {
			t.Errorf("status %q, want %q", status, StatusConnected)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnStatus never fired")
	}
}

func TestAudioRoundTrip(t *testing.T) {
	uplink := make(chan []byte, 1)

	srv, url := fakeService(t, func(ws *websocket.Conn) {
		defer ws.Close()
		var hs Handshake
		ws.ReadJSON(&hs)
		ws.WriteJSON(Message{Type: TypeStatus, Status: StatusConnected})

		// Downlink: one audio frame for the client.
		ws.WriteJSON(Message{Type: TypeAudio, Payload: audio.EncodePayload([]byte{1, 2, 3, 4})})

		// Uplink: wait for the client's audio frame.
		var msg audioFrame
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		pcm, _ := audio.DecodePayload(msg.Payload)
		uplink <- pcm
		ws.ReadMessage()
	})
	defer srv.Close()

	var mu sync.Mutex
	var received []byte
	sent, recvd := 0, 0
	ready := make(chan struct{}, 1)
	gotAudio := make(chan struct{}, 1)

	c := NewChannel(testConfig(url))
	c.OnStatus = func(string) { ready <- struct{}{} }
	c.OnAudio = func(pcm []byte) {
		mu.Lock()
		received = pcm
		mu.Unlock()
		gotAudio <- struct{}{}
	}
	c.OnSent = func(n int) { mu.Lock(); sent += n; mu.Unlock() }
	c.OnReceived = func(n int) { mu.Lock(); recvd += n; mu.Unlock() }
	c.Start()
	defer c.Close()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}

	frame := []byte{9, 8, 7, 6, 5, 4}
	if err := c.SendAudio(frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	select {
	case pcm := <-uplink:
		if string(pcm) != string(frame) {
			t.Errorf("uplink frame corrupted: %v", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service never received audio")
	}

	select {
	case <-gotAudio:
	case <-time.After(2 * time.Second):
		t.Fatal("client never received audio")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(received) != string([]byte{1, 2, 3, 4}) {
		t.Errorf("downlink frame corrupted: %v", received)
	}
	if sent != len(frame) {
		t.Errorf("sent counter %d, want %d", sent, len(frame))
	}
	if recvd != 4 {
		t.Errorf("received counter %d, want 4", recvd)
	}
}

func TestControlFrameDispatch(t *testing.T) {
	srv, url := fakeService(t, func(ws *websocket.Conn) {
		defer ws.Close()
		var hs Handshake
		ws.ReadJSON(&hs)
		ws.WriteJSON(Message{Type: TypeStatus, Status: StatusConnected})
		ws.WriteJSON(Message{Type: TypeInterrupted})
		ws.WriteJSON(Message{Type: TypeError, Message: "quota exceeded"})
		ws.ReadMessage()
	})
	defer srv.Close()

	interrupted := make(chan struct{}, 1)
	remoteErr := make(chan string, 1)

	c := NewChannel(testConfig(url))
	c.OnInterrupted = func() { interrupted <- struct{}{} }
	c.OnRemoteError = func(msg string) { remoteErr <- msg }
	c.Start()
	defer c.Close()

	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("OnInterrupted never fired")
	}
	select {
	case msg := <-remoteErr:
		if msg != "quota exceeded" {
			t.Errorf("remote error message %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnRemoteError never fired")
	}
}

func TestBadAudioFrameIsSkipped(t *testing.T) {
	srv, url := fakeService(t, func(ws *websocket.Conn) {
		defer ws.Close()
		var hs Handshake
		ws.ReadJSON(&hs)
		ws.WriteJSON(Message{Type: TypeAudio, Payload: "!!!not-base64!!!"})
		ws.WriteJSON(Message{Type: TypeAudio, Payload: audio.EncodePayload([]byte{42})})
		ws.ReadMessage()
	})
	defer srv.Close()

	decodeErrs := make(chan error, 1)
	frames := make(chan []byte, 1)

	c := NewChannel(testConfig(url))
	c.OnDecodeError = func(err error) { decodeErrs <- err }
	c.OnAudio = func(pcm []byte) { frames <- pcm }
	c.Start()
	defer c.Close()

	select {
	case <-decodeErrs:
	case <-time.After(2 * time.Second):
		t.Fatal("decode error never surfaced")
	}

	// The bad frame must not take the good one down with it.
	select {
	case pcm := <-frames:
		if len(pcm) != 1 || pcm[0] != 42 {
			t.Errorf("unexpected frame after bad payload: %v", pcm)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame after bad payload never arrived")
	}
}

func TestReconnectCeilingGivesUp(t *testing.T) {
	// A server that is already gone: every dial fails.
	srv, url := fakeService(t, func(ws *websocket.Conn) { ws.Close() })
	srv.Close()

	var mu sync.Mutex
	retries := 0
	closed := make(chan bool, 1)

	cfg := testConfig(url)
	cfg.MaxAttempts = 5
	c := NewChannel(cfg)
	c.OnReconnecting = func(attempt int, wait time.Duration) {
		mu.Lock()
		retries++
		mu.Unlock()
	}
	c.OnClosed = func(clean bool) { closed <- clean }
	c.Start()
	defer c.Close()

	select {
	case clean := <-closed:
		if clean {
			t.Error("exhausted channel reported a clean close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel never gave up")
	}

	// Attempts 1..4 retry, attempt 5 hits the ceiling.
	mu.Lock()
	defer mu.Unlock()
	if retries != 4 {
		t.Errorf("retried %d times before the ceiling, want 4", retries)
	}
}

func TestCleanServerCloseDoesNotReconnect(t *testing.T) {
	dials := make(chan struct{}, 8)
	srv, url := fakeService(t, func(ws *websocket.Conn) {
		dials <- struct{}{}
		var hs Handshake
		ws.ReadJSON(&hs)
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second))
		ws.Close()
	})
	defer srv.Close()

	closed := make(chan bool, 1)
	c := NewChannel(testConfig(url))
	c.OnClosed = func(clean bool) { closed <- clean }
	c.Start()
	defer c.Close()

	select {
	case clean := <-closed:
		if !clean {
			t.Error("normal closure reported as unclean")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("OnClosed never fired")
	}

	// No second dial should follow a clean close.
	<-dials
	select {
	case <-dials:
		t.Error("channel reconnected after a clean close")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHeartbeatFillsIdleGaps(t *testing.T) {
	frames := make(chan []byte, 4)
	srv, url := fakeService(t, func(ws *websocket.Conn) {
		defer ws.Close()
		var hs Handshake
		ws.ReadJSON(&hs)
		ws.WriteJSON(Message{Type: TypeStatus, Status: StatusConnected})
		for {
			var msg audioFrame
			if err := ws.ReadJSON(&msg); err != nil {
				return
			}
			pcm, _ := audio.DecodePayload(msg.Payload)
			frames <- pcm
		}
	})
	defer srv.Close()

	cfg := testConfig(url)
	cfg.HeartbeatInterval = 100 * time.Millisecond
	c := NewChannel(cfg)
	c.Start()
	defer c.Close()

	// With nothing else on the uplink, a silent frame must show up.
	select {
	case pcm := <-frames:
		if len(pcm) == 0 {
			t.Fatal("empty heartbeat frame")
		}
		for _, b := range pcm {
			if b != 0 {
				t.Fatal("heartbeat frame not silent")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat arrived on an idle channel")
	}
}

func TestSendWhileDisconnectedDrops(t *testing.T) {
	cfg := testConfig("ws://127.0.0.1:1") // nothing listening
	cfg.MaxAttempts = 1
	c := NewChannel(cfg)
	c.Start()
	defer c.Close()

	if err := c.SendAudio([]byte{0, 0}); err == nil {
		t.Error("expected an error sending on a dead channel")
	}
}

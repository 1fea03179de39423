package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
	"github.com/philiaspaceai/philia-ohanashi/pkg/capture"
	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/playback"
	"github.com/philiaspaceai/philia-ohanashi/pkg/session"
)

// stubTransport reports the service ready as soon as it starts, so API
// tests see a session reach LISTENING synchronously.
type stubTransport struct {
	hooks session.TransportHooks
}

func (t *stubTransport) Start()                     { t.hooks.OnStatus("connected") }
func (t *stubTransport) Close()                     {}
func (t *stubTransport) SendAudio(pcm []byte) error { return nil }

// blockingSource parks the capture loop so no frames interfere.
type blockingSource struct {
	closed chan struct{}
}

func (s *blockingSource) Read(buf []float32) (int, error) {
	<-s.closed
	return 0, errors.New("closed")
}

func (s *blockingSource) Rate() int { return audio.IngressRate }

func (s *blockingSource) Close() error {
	select {
	case <-s.closed:
	default:
		close(s.closed)
	}
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	store := persona.NewMemoryStore(persona.Seed())
	mgr, err := session.NewManager(session.Options{
		Personas: store,
		NewTransport: func(p persona.Persona, hooks session.TransportHooks) (session.Transport, error) {
			return &stubTransport{hooks: hooks}, nil
		},
		NewSource: func() (capture.Source, error) {
			return &blockingSource{closed: make(chan struct{})}, nil
		},
		NewSink: func() (playback.Sink, error) {
			return playback.NewMemorySink(), nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	s := NewServer("0", mgr, store, nil)
	t.Cleanup(func() { mgr.Stop() })
	return s
}

func doJSON(t *testing.T, s *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, data
}

func TestListPersonasReturnsSeeds(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodGet, "/api/personas", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var personas []persona.Persona
	if err := json.Unmarshal(body, &personas); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(personas) != 3 {
		t.Errorf("got %d personas, want 3 seeds", len(personas))
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)

	resp, body := doJSON(t, s, http.MethodPost, "/api/session/start",
		`{"personaId":"seed-hana"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status %d: %s", resp.StatusCode, body)
	}

	var st session.Status
	json.Unmarshal(body, &st)
	if st.State != "LISTENING" {
		t.Errorf("state after start %q, want LISTENING", st.State)
	}

	resp, body = doJSON(t, s, http.MethodPost, "/api/session/end-turn", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end-turn status %d: %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &st)
	if st.State != "PROCESSING" {
		t.Errorf("state after end-turn %q, want PROCESSING", st.State)
	}

	resp, body = doJSON(t, s, http.MethodPost, "/api/session/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status %d: %s", resp.StatusCode, body)
	}
	json.Unmarshal(body, &st)
	if st.State != "IDLE" {
		t.Errorf("state after stop %q, want IDLE", st.State)
	}
}

func TestStartUnknownPersonaIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/start",
		`{"personaId":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestEndTurnWithoutSessionConflicts(t *testing.T) {
	s := newTestServer(t)

	resp, _ := doJSON(t, s, http.MethodPost, "/api/session/end-turn", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status %d, want 409", resp.StatusCode)
	}
}

func TestDiagnosticsExport(t *testing.T) {
	s := newTestServer(t)

	// Before any session there is nothing to export.
	resp, _ := doJSON(t, s, http.MethodGet, "/api/diagnostics", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("pre-session status %d, want 404", resp.StatusCode)
	}

	doJSON(t, s, http.MethodPost, "/api/session/start", `{"personaId":"seed-hana"}`)
	doJSON(t, s, http.MethodPost, "/api/session/stop", "")

	resp, body := doJSON(t, s, http.MethodGet, "/api/diagnostics", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "OHANASHI SESSION DIAGNOSTICS") {
		t.Error("export missing report header")
	}
	if !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Error("export not served as a download")
	}
}

func TestPersonaMutationNeedsEditor(t *testing.T) {
	s := newTestServer(t) // read-only store

	resp, _ := doJSON(t, s, http.MethodPost, "/api/personas",
		`{"name":"Test","nickname":"T"}`)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("save status %d, want 405", resp.StatusCode)
	}

	resp, _ = doJSON(t, s, http.MethodDelete, "/api/personas/seed-hana", "")
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("delete status %d, want 405", resp.StatusCode)
	}
}

func TestPersonaSaveWithFileStore(t *testing.T) {
	store, err := persona.NewFileStore(t.TempDir() + "/personas.json")
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	mgr, err := session.NewManager(session.Options{
		Personas: store,
		NewTransport: func(p persona.Persona, hooks session.TransportHooks) (session.Transport, error) {
			return &stubTransport{hooks: hooks}, nil
		},
		NewSource: func() (capture.Source, error) {
			return &blockingSource{closed: make(chan struct{})}, nil
		},
		NewSink: func() (playback.Sink, error) {
			return playback.NewMemorySink(), nil
		},
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	s := NewServer("0", mgr, store, store)

	resp, body := doJSON(t, s, http.MethodPost, "/api/personas",
		`{"name":"Yuki","nickname":"Yuki","voice":"Puck","language":"Japanese"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status %d: %s", resp.StatusCode, body)
	}

	var p persona.Persona
	json.Unmarshal(body, &p)
	if p.ID == "" {
		t.Error("saved persona has no generated id")
	}
	if _, ok := store.FindByID(p.ID); !ok {
		t.Error("saved persona not in store")
	}

	resp, _ = doJSON(t, s, http.MethodDelete, "/api/personas/"+p.ID, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("delete status %d, want 204", resp.StatusCode)
	}
	if _, ok := store.FindByID(p.ID); ok {
		t.Error("deleted persona still in store")
	}
}

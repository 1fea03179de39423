// Package session implements the conversation lifecycle: one Manager
// owns the state machine and wires the capture pipeline, silence
// detector, playback scheduler, and transport channel into a single
// half-duplex voice session.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philiaspaceai/philia-ohanashi/internal/log"
	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
	"github.com/philiaspaceai/philia-ohanashi/pkg/capture"
	"github.com/philiaspaceai/philia-ohanashi/pkg/diag"
	"github.com/philiaspaceai/philia-ohanashi/pkg/persona"
	"github.com/philiaspaceai/philia-ohanashi/pkg/playback"
	"github.com/philiaspaceai/philia-ohanashi/pkg/transport"
	"github.com/philiaspaceai/philia-ohanashi/pkg/vad"
)

// Transport is the session's view of the service connection.
type Transport interface {
	Start()
	Close()
	SendAudio(pcm []byte) error
}

// TransportHooks are the callbacks a transport must deliver. All of them
// fire from the transport's goroutines.
type TransportHooks struct {
	OnStatus       func(status string)
	OnAudio        func(pcm []byte)
	OnInterrupted  func()
	OnRemoteError  func(msg string)
	OnReconnecting func(attempt int, wait time.Duration)
	OnClosed       func(clean bool)
	OnSent         func(n int)
	OnReceived     func(n int)
	OnDecodeError  func(err error)
}

// TransportFactory builds a transport bound to one persona.
type TransportFactory func(p persona.Persona, hooks TransportHooks) (Transport, error)

// SourceFactory opens the microphone.
type SourceFactory func() (capture.Source, error)

// SinkFactory opens the playback device.
type SinkFactory func() (playback.Sink, error)

// Options configures a Manager.
type Options struct {
	Personas     persona.Store
	NewTransport TransportFactory
	NewSource    SourceFactory
	NewSink      SinkFactory

	// SilenceThreshold and SilenceWindow parameterize end-of-utterance
	// detection. Zero values take the detector defaults.
	SilenceThreshold float64
	SilenceWindow    time.Duration

	// ProcessingTimeout bounds the wait for the service's first audio
	// chunk after a turn ends. On expiry the session returns to
	// listening rather than hanging. Zero disables the timeout.
	ProcessingTimeout time.Duration
}

// Status is a point-in-time snapshot for the control surface.
type Status struct {
	State         string        `json:"state"`
	PersonaID     string        `json:"personaId,omitempty"`
	PersonaName   string        `json:"personaName,omitempty"`
	AgentSpeaking bool          `json:"agentSpeaking"`
	TurnCount     int           `json:"turnCount"`
	BytesSent     int64         `json:"bytesSent"`
	BytesReceived int64         `json:"bytesReceived"`
	SilenceFor    time.Duration `json:"silenceForNs"`
	Error         string        `json:"error,omitempty"`
}

// Manager is the session state machine. All transitions happen under one
// mutex; component callbacks re-enter through guarded handlers that
// ignore anything from a previous session incarnation.
type Manager struct {
	opts Options

	mu      sync.Mutex
	state   State
	sid     uint64 // incarnation counter; stale callbacks carry an old one
	current persona.Persona
	lastErr error

	tr          Transport
	pipe        *capture.Pipeline
	monitor     *vad.Monitor
	sched       *playback.Scheduler
	rec         *diag.Recorder
	pipeStarted bool

	procEpoch uint64
	procTimer *time.Timer

	// gate is the half-duplex microphone gate: true means muted. The
	// capture pipeline only reads it; every store happens here.
	gate atomic.Bool
}

// NewManager validates the wiring and returns an idle manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Personas == nil {
		return nil, &ConfigError{Reason: "no persona store"}
	}
	if opts.NewTransport == nil {
		return nil, &ConfigError{Reason: "no transport factory"}
	}
	if opts.NewSource == nil {
		return nil, &ConfigError{Reason: "no capture source factory"}
	}
	if opts.NewSink == nil {
		return nil, &ConfigError{Reason: "no playback sink factory"}
	}
	if opts.SilenceThreshold <= 0 {
		opts.SilenceThreshold = vad.DefaultThreshold
	}
	if opts.SilenceWindow <= 0 {
		opts.SilenceWindow = vad.DefaultWindow
	}

	m := &Manager{opts: opts, state: StateIdle}
	m.gate.Store(true)
	return m, nil
}

// Start opens a session with the given persona. Valid from IDLE or
// ERROR; a live session must be stopped first.
func (m *Manager) Start(personaID string) error {
	m.mu.Lock()

	if m.state.Live() {
		m.mu.Unlock()
		return &ConfigError{Reason: fmt.Sprintf("session already active (%s)", m.state)}
	}

	p, ok := m.opts.Personas.FindByID(personaID)
	if !ok {
		m.mu.Unlock()
		return &ConfigError{Reason: fmt.Sprintf("unknown persona %q", personaID)}
	}

	m.sid++
	sid := m.sid
	m.lastErr = nil
	m.current = p
	m.rec = diag.NewRecorder()
	m.rec.Record(diag.CategorySystem, "session starting", map[string]any{
		"persona":  p.Name,
		"voice":    string(p.Voice),
		"language": string(p.Language),
	})

	sink, err := m.opts.NewSink()
	if err != nil {
		m.failStartLocked(err)
		return &DeviceError{Err: err}
	}
	m.sched = playback.NewScheduler(sink, audio.EgressRate, p.DetuneSemitones,
		func() { m.onPlaybackIdle(sid) })

	src, err := m.opts.NewSource()
	if err != nil {
		m.sched.Close()
		m.sched = nil
		m.failStartLocked(err)
		return &DeviceError{Err: err}
	}

	m.monitor = vad.New(m.opts.SilenceThreshold, m.opts.SilenceWindow,
		func() { m.onSilence(sid) })

	m.gate.Store(true)
	m.pipe = capture.NewPipeline(src, &m.gate, func(f audio.Frame) { m.onFrame(sid, f) })
	m.pipe.OnError(func(err error) { m.onCaptureError(sid, err) })
	m.pipeStarted = false

	tr, err := m.opts.NewTransport(p, TransportHooks{
		OnStatus:       func(status string) { m.onStatus(sid, status) },
		OnAudio:        func(pcm []byte) { m.onAudio(sid, pcm) },
		OnInterrupted:  func() { m.onInterrupted(sid) },
		OnRemoteError:  func(msg string) { m.onRemoteError(sid, msg) },
		OnReconnecting: func(attempt int, wait time.Duration) { m.onReconnecting(sid, attempt, wait) },
		OnClosed:       func(clean bool) { m.onClosed(sid, clean) },
		OnSent:         func(n int) { m.onSent(sid, n) },
		OnReceived:     func(n int) { m.onReceived(sid, n) },
		OnDecodeError:  func(err error) { m.onDecodeError(sid, err) },
	})
	if err != nil {
		m.sched.Close()
		m.pipe.Stop()
		m.sched, m.pipe, m.monitor = nil, nil, nil
		m.failStartLocked(err)
		return &TransportError{Reason: "transport setup failed", Err: err}
	}
	m.tr = tr

	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	tr.Start()
	return nil
}

// failStartLocked records a failed start and leaves the manager in
// ERROR. Callers hold mu and must unlock after.
func (m *Manager) failStartLocked(err error) {
	m.lastErr = err
	m.rec.RecordFailure("session start failed", err)
	m.setStateLocked(StateError)
	m.mu.Unlock()
}

// EndTurn manually commits the user's turn, the keyboard equivalent of
// eight seconds of silence.
func (m *Manager) EndTurn() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateListening {
		return &ConfigError{Reason: fmt.Sprintf("cannot end turn from %s", m.state)}
	}
	m.rec.Record(diag.CategoryInfo, "turn ended manually", nil)
	m.setStateLocked(StateProcessing)
	return nil
}

// Stop tears the session down to IDLE from any state. Idempotent.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.state == StateIdle {
		m.mu.Unlock()
		return nil
	}
	if m.rec != nil {
		m.rec.Record(diag.CategorySystem, "session stopped by user", nil)
	}
	release := m.teardownLocked(StateIdle)
	m.mu.Unlock()

	release()
	return nil
}

// Status reports the current session snapshot.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{State: m.state.String()}
	if m.state.Live() || m.state == StateError {
		s.PersonaID = m.current.ID
		s.PersonaName = m.current.Name
	}
	if m.rec != nil {
		stats := m.rec.Snapshot()
		s.TurnCount = stats.TurnCount
		s.BytesSent = stats.BytesSent
		s.BytesReceived = stats.BytesReceived
	}
	if m.monitor != nil {
		s.SilenceFor = m.monitor.SilenceFor()
	}
	if m.sched != nil {
		s.AgentSpeaking = m.sched.Active()
	}
	if m.lastErr != nil {
		s.Error = m.lastErr.Error()
	}
	return s
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ExportDiagnostics renders the session log. The log persists after the
// session ends, until the next Start replaces it.
func (m *Manager) ExportDiagnostics() string {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()

	if rec == nil {
		return ""
	}
	return rec.Export()
}

// setStateLocked performs a transition and its side effects: the
// microphone gate and the silence detector track the state, and a
// completed assistant turn bumps the turn counter.
func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s

	log.Info("session state", "from", prev.String(), "to", s.String())
	if m.rec != nil {
		m.rec.RecordState(s.String())
	}

	// The gate is open only while listening; every other state mutes
	// the microphone so the service never hears the assistant's own
	// voice or connection noise.
	open := s == StateListening
	m.gate.Store(!open)
	if m.monitor != nil {
		m.monitor.SetActive(open)
	}

	if prev == StateSpeaking && s == StateListening && m.rec != nil {
		m.rec.AddTurn()
	}

	if prev == StateProcessing {
		m.stopProcTimerLocked()
	}
	if s == StateProcessing {
		m.startProcTimerLocked()
	}
}

func (m *Manager) startProcTimerLocked() {
	if m.opts.ProcessingTimeout <= 0 {
		return
	}
	m.procEpoch++
	epoch := m.procEpoch
	sid := m.sid
	m.procTimer = time.AfterFunc(m.opts.ProcessingTimeout, func() {
		m.onProcessingTimeout(sid, epoch)
	})
}

func (m *Manager) stopProcTimerLocked() {
	m.procEpoch++
	if m.procTimer != nil {
		m.procTimer.Stop()
		m.procTimer = nil
	}
}

// teardownLocked detaches every component and moves to target. It
// returns a closure that releases the components; callers run it after
// unlocking, because component shutdown joins goroutines that may be
// blocked on this mutex.
func (m *Manager) teardownLocked(target State) func() {
	tr, pipe, sched := m.tr, m.pipe, m.sched
	m.tr, m.pipe, m.sched, m.monitor = nil, nil, nil, nil
	m.pipeStarted = false
	m.stopProcTimerLocked()
	m.setStateLocked(target)
	m.gate.Store(true)

	return func() {
		if tr != nil {
			tr.Close()
		}
		if pipe != nil {
			pipe.Stop()
		}
		if sched != nil {
			sched.Close()
		}
	}
}

// guardLocked reports whether a callback from incarnation sid is still
// current. Callers hold mu.
func (m *Manager) guardLocked(sid uint64) bool {
	return sid == m.sid && m.tr != nil
}

// --- component callbacks -------------------------------------------------

// onFrame forwards one microphone frame uplink and feeds the silence
// detector. Runs on the capture goroutine at frame cadence.
func (m *Manager) onFrame(sid uint64, f audio.Frame) {
	m.mu.Lock()
	if !m.guardLocked(sid) || !m.state.Live() {
		m.mu.Unlock()
		return
	}
	tr, monitor := m.tr, m.monitor
	m.mu.Unlock()

	// A frame that cannot be sent is dropped; stale live audio has no
	// value after reconnection.
	if err := tr.SendAudio(f.PCM); err != nil {
		log.Debug("frame dropped", "err", err)
	}
	monitor.Observe(audio.BytesToInt16(f.PCM))
}

// onStatus handles the service's control status frames.
func (m *Manager) onStatus(sid uint64, status string) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}

	var startPipe *capture.Pipeline
	if status == transport.StatusConnected &&
		(m.state == StateConnecting || m.state == StateReconnecting) {
		m.rec.Record(diag.CategoryConnection, "service ready", nil)
		m.setStateLocked(StateListening)
		if !m.pipeStarted {
			m.pipeStarted = true
			startPipe = m.pipe
		}
	}
	m.mu.Unlock()

	if startPipe != nil {
		startPipe.Start()
	}
}

// onSilence fires once per silence episode while listening: the user's
// turn is over.
func (m *Manager) onSilence(sid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.guardLocked(sid) || m.state != StateListening {
		return
	}
	m.rec.Record(diag.CategoryInfo, "end of utterance detected", nil)
	m.setStateLocked(StateProcessing)
}

// onAudio schedules one assistant audio chunk. The first chunk of a
// response moves the session to SPEAKING.
func (m *Manager) onAudio(sid uint64, pcm []byte) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}

	switch m.state {
	case StateListening, StateProcessing, StateSpeaking:
	default:
		// Chunks arriving mid-reconnect belong to a dead turn.
		m.mu.Unlock()
		return
	}

	if m.state != StateSpeaking {
		m.setStateLocked(StateSpeaking)
	}
	sched := m.sched
	m.mu.Unlock()

	// Transport callbacks are serialized per connection, so scheduling
	// outside the lock preserves chunk order.
	if _, _, err := sched.Schedule(pcm); err != nil {
		log.Warn("chunk not scheduled", "err", err)
	}
}

// onPlaybackIdle is the scheduler telling us the last chunk finished
// playing naturally.
func (m *Manager) onPlaybackIdle(sid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.guardLocked(sid) || m.state != StateSpeaking {
		return
	}
	m.setStateLocked(StateListening)
}

// onInterrupted handles the service's barge-in signal: the user spoke
// over the assistant, so in-flight audio is discarded immediately.
func (m *Manager) onInterrupted(sid uint64) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}
	m.rec.Record(diag.CategoryInterrupt, "assistant speech interrupted", nil)
	sched := m.sched
	m.mu.Unlock()

	sched.Interrupt()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.guardLocked(sid) && m.state == StateSpeaking {
		m.setStateLocked(StateListening)
	}
}

// onReconnecting marks the session degraded while the transport redials.
func (m *Manager) onReconnecting(sid uint64, attempt int, wait time.Duration) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}
	m.rec.Record(diag.CategoryConnection, "connection lost, retrying", map[string]any{
		"attempt": attempt,
		"waitMs":  wait.Milliseconds(),
	})
	m.setStateLocked(StateReconnecting)
	sched := m.sched
	m.mu.Unlock()

	// Whatever was queued belongs to the dead connection.
	sched.Interrupt()
}

// onClosed handles the transport's final word: clean closes end the
// session quietly, exhausted reconnection ends it in ERROR.
func (m *Manager) onClosed(sid uint64, clean bool) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}

	var release func()
	if clean {
		m.rec.Record(diag.CategorySystem, "connection closed", nil)
		release = m.teardownLocked(StateIdle)
	} else {
		err := &TransportError{Reason: "reconnect attempts exhausted"}
		m.lastErr = err
		m.rec.RecordFailure("connection failed permanently", err)
		release = m.teardownLocked(StateError)
	}
	m.mu.Unlock()

	release()
}

// onRemoteError handles a fatal error frame from the service.
func (m *Manager) onRemoteError(sid uint64, msg string) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}
	err := &TransportError{Reason: "service error: " + msg}
	m.lastErr = err
	m.rec.RecordFailure("service reported fatal error", err)
	release := m.teardownLocked(StateError)
	m.mu.Unlock()

	release()
}

// onCaptureError handles the microphone dying mid-session.
func (m *Manager) onCaptureError(sid uint64, err error) {
	m.mu.Lock()
	if !m.guardLocked(sid) {
		m.mu.Unlock()
		return
	}
	derr := &DeviceError{Err: err}
	m.lastErr = derr
	m.rec.RecordFailure("capture failed", err)
	release := m.teardownLocked(StateError)
	m.mu.Unlock()

	release()
}

// onProcessingTimeout returns the session to listening when the service
// never answered a committed turn.
func (m *Manager) onProcessingTimeout(sid uint64, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.guardLocked(sid) || epoch != m.procEpoch || m.state != StateProcessing {
		return
	}
	m.rec.Record(diag.CategorySystem, "no response within processing timeout", nil)
	m.setStateLocked(StateListening)
}

// onDecodeError logs a skipped inbound frame; the session carries on.
func (m *Manager) onDecodeError(sid uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.guardLocked(sid) {
		return
	}
	derr := &DecodeError{Err: err}
	m.rec.Record(diag.CategoryError, "audio frame dropped: "+derr.Error(), nil)
}

func (m *Manager) onSent(sid uint64, n int) {
	m.mu.Lock()
	rec := m.rec
	ok := m.guardLocked(sid)
	m.mu.Unlock()
	if ok && rec != nil {
		rec.AddBytesSent(n)
	}
}

func (m *Manager) onReceived(sid uint64, n int) {
	m.mu.Lock()
	rec := m.rec
	ok := m.guardLocked(sid)
	m.mu.Unlock()
	if ok && rec != nil {
		rec.AddBytesReceived(n)
	}
}

// Package diag implements the per-session diagnostics log: an append-only
// event recorder with byte/turn counters and a flat-text export, used for
// post-hoc debugging of dropped connections. Recording never blocks and
// never fails loudly; the audio and control paths must not pay for it.
package diag

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Category classifies a diagnostic event.
type Category string

const (
	CategoryInfo       Category = "INFO"
	CategoryState      Category = "STATE"
	CategoryConnection Category = "CONNECTION"
	CategorySend       Category = "SEND"
	CategoryRecv       Category = "RECV"
	CategoryError      Category = "ERROR"
	CategoryInterrupt  Category = "INTERRUPT"
	CategorySystem     Category = "SYSTEM"
)

// maxEvents bounds the in-memory event list; the oldest entries roll off.
const maxEvents = 10000

// Event is a single recorded diagnostic entry.
type Event struct {
	Timestamp time.Time
	Elapsed   time.Duration
	Category  Category
	Message   string
	Payload   string // pre-rendered JSON, empty if none
}

// Stats carries the cumulative session counters.
type Stats struct {
	BytesSent     int64
	BytesReceived int64
	TurnCount     int
	StartedAt     time.Time
	LastSendAt    time.Time
	LastRecvAt    time.Time
	LastState     string
}

// Recorder is the append-only session diagnostics log.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	stats  Stats
}

// NewRecorder returns a recorder stamped with the session start time.
func NewRecorder() *Recorder {
	r := &Recorder{
		stats: Stats{
			StartedAt: time.Now(),
			LastState: "INITIALIZING",
		},
	}
	r.Record(CategorySystem, "diagnostics recorder initialized", nil)
	return r
}

// Record appends an event. Payload marshal failures drop the payload, not
// the event; nothing here may panic or block the caller meaningfully.
func (r *Recorder) Record(cat Category, msg string, payload map[string]any) {
	var rendered string
	if len(payload) > 0 {
		if data, err := json.Marshal(payload); err == nil {
			rendered = string(data)
		}
	}

	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, Event{
		Timestamp: now,
		Elapsed:   now.Sub(r.stats.StartedAt),
		Category:  cat,
		Message:   msg,
		Payload:   rendered,
	})
	if len(r.events) > maxEvents {
		r.events = r.events[len(r.events)-maxEvents:]
	}
}

// RecordState appends a STATE event when the state actually changed.
func (r *Recorder) RecordState(newState string) {
	r.mu.Lock()
	last := r.stats.LastState
	if last == newState {
		r.mu.Unlock()
		return
	}
	r.stats.LastState = newState
	r.mu.Unlock()

	r.Record(CategoryState, fmt.Sprintf("state changed: %s -> %s", last, newState), nil)
}

// AddBytesSent accumulates outbound audio bytes. Individual sends are not
// logged as events; silence heartbeats would drown the log.
func (r *Recorder) AddBytesSent(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.BytesSent += int64(n)
	r.stats.LastSendAt = time.Now()
}

// AddBytesReceived accumulates inbound audio bytes and logs the chunk.
func (r *Recorder) AddBytesReceived(n int) {
	r.mu.Lock()
	r.stats.BytesReceived += int64(n)
	r.stats.LastRecvAt = time.Now()
	r.mu.Unlock()

	r.Record(CategoryRecv, fmt.Sprintf("audio chunk received (%d bytes)", n), nil)
}

// AddTurn increments the completed-turn counter.
func (r *Recorder) AddTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.TurnCount++
}

// RecordFailure appends an ERROR event with a context snapshot: uptime,
// counters, and time since the last send/receive, which is what matters
// when diagnosing idle-timeout disconnects.
func (r *Recorder) RecordFailure(msg string, err error) {
	r.mu.Lock()
	now := time.Now()
	payload := map[string]any{
		"uptime":          now.Sub(r.stats.StartedAt).Round(100 * time.Millisecond).String(),
		"turnCount":       r.stats.TurnCount,
		"bytesSent":       r.stats.BytesSent,
		"bytesReceived":   r.stats.BytesReceived,
		"msSinceLastSend": now.Sub(r.stats.LastSendAt).Milliseconds(),
		"msSinceLastRecv": now.Sub(r.stats.LastRecvAt).Milliseconds(),
		"lastState":       r.stats.LastState,
	}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.mu.Unlock()

	r.Record(CategoryError, msg, payload)
}

// Snapshot returns a copy of the cumulative counters.
func (r *Recorder) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Export renders the full log as a flat timestamped text report.
func (r *Recorder) Export() string {
	r.mu.Lock()
	events := append([]Event(nil), r.events...)
	stats := r.stats
	r.mu.Unlock()

	var b strings.Builder
	b.WriteString("OHANASHI SESSION DIAGNOSTICS\n")
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Session started: %s\n", stats.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total bytes sent: %d\n", stats.BytesSent)
	fmt.Fprintf(&b, "Total bytes received: %d\n", stats.BytesReceived)
	fmt.Fprintf(&b, "Total turns: %d\n", stats.TurnCount)
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	for _, e := range events {
		ts := e.Timestamp.Format("15:04:05.000")
		cat := fmt.Sprintf("[%s]", e.Category)
		fmt.Fprintf(&b, "[%s] (+%.3fs) %-12s %s\n", ts, e.Elapsed.Seconds(), cat, e.Message)
		if e.Payload != "" {
			fmt.Fprintf(&b, "    >>> %s\n", e.Payload)
		}
	}

	b.WriteString("\n" + strings.Repeat("=", 50) + "\n")
	b.WriteString("END OF LOG\n")
	return b.String()
}

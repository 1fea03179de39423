package diag

import (
	"errors"
	"strings"
	"testing"
)

func TestRecorderAppendsEvents(t *testing.T) {
	r := NewRecorder()
	r.Record(CategoryConnection, "websocket open", nil)
	r.Record(CategoryInfo, "with payload", map[string]any{"attempt": 2})

	out := r.Export()

	if !strings.Contains(out, "websocket open") {
		t.Error("export missing recorded message")
	}
	if !strings.Contains(out, `"attempt":2`) {
		t.Error("export missing rendered payload")
	}
	if !strings.Contains(out, "[CONNECTION]") {
		t.Error("export missing category tag")
	}
}

func TestRecordStateDeduplicates(t *testing.T) {
	r := NewRecorder()
	r.RecordState("LISTENING")
	r.RecordState("LISTENING")
	r.RecordState("SPEAKING")

	out := r.Export()

	if n := strings.Count(out, "state changed:"); n != 2 {
		t.Errorf("expected 2 state-change events, got %d", n)
	}
	if !strings.Contains(out, "LISTENING -> SPEAKING") {
		t.Error("missing second transition")
	}
}

func TestCounters(t *testing.T) {
	r := NewRecorder()
	r.AddBytesSent(100)
	r.AddBytesSent(50)
	r.AddBytesReceived(4800)
	r.AddTurn()
	r.AddTurn()

	stats := r.Snapshot()
	if stats.BytesSent != 150 {
		t.Errorf("expected 150 bytes sent, got %d", stats.BytesSent)
	}
	if stats.BytesReceived != 4800 {
		t.Errorf("expected 4800 bytes received, got %d", stats.BytesReceived)
	}
	if stats.TurnCount != 2 {
		t.Errorf("expected 2 turns, got %d", stats.TurnCount)
	}
}

func TestRecordFailureSnapshot(t *testing.T) {
	r := NewRecorder()
	r.AddBytesSent(10)
	r.RecordFailure("connection dropped", errors.New("close 1006"))

	out := r.Export()
	if !strings.Contains(out, "connection dropped") {
		t.Error("missing failure message")
	}
	if !strings.Contains(out, "close 1006") {
		t.Error("missing wrapped error text")
	}
	if !strings.Contains(out, "bytesSent") {
		t.Error("missing counter snapshot")
	}
}

func TestEventCap(t *testing.T) {
	r := NewRecorder()
	for i := 0; i < maxEvents+500; i++ {
		r.Record(CategoryInfo, "tick", nil)
	}

	r.mu.Lock()
	n := len(r.events)
	r.mu.Unlock()

	if n > maxEvents {
		t.Errorf("event list exceeded cap: %d", n)
	}
}

// Package playback implements the audio egress pipeline: a cursor-based
// scheduler that queues decoded chunks for gapless playback, and the sinks
// that render them.
package playback

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Sink renders scheduled PCM16 mono audio. Write order is playback order;
// the sink paces actual output. Reset drops any queued audio immediately
// (barge-in).
type Sink interface {
	Write(pcm []byte) error
	Reset() error
	Close() error
}

// ExecSink pipes PCM into an external player process (ffplay by default).
// The process is started lazily on first write and restarted after Reset,
// which is the cheapest way to flush an external player's buffer.
type ExecSink struct {
	command string
	rate    int

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	closed  bool
}

// NewExecSink returns a sink that plays rate-Hz PCM16 mono via command.
func NewExecSink(command string, rate int) *ExecSink {
	if command == "" {
		command = "ffplay"
	}
	return &ExecSink{command: command, rate: rate}
}

// Write streams PCM to the player, starting it if needed.
func (s *ExecSink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("playback: sink closed")
	}

	if !s.running {
		if err := s.startLocked(); err != nil {
			return fmt.Errorf("playback: start player: %w", err)
		}
	}

	if _, err := s.stdin.Write(pcm); err != nil {
		// Player died mid-write; tear down so the next write restarts it.
		s.stopLocked()
		return fmt.Errorf("playback: write to player: %w", err)
	}
	return nil
}

// Reset kills the player process, discarding buffered audio.
func (s *ExecSink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

// Close stops the player permanently.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.closed = true
	return nil
}

// startLocked launches the player process. Callers must hold mu.
func (s *ExecSink) startLocked() error {
	cmd := exec.Command(s.command,
		"-loglevel", "quiet",
		"-nodisp",
		"-f", "s16le",
		"-ar", strconv.Itoa(s.rate),
		"-ch_layout", "mono",
		"-i", "-",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	s.cmd = cmd
	s.stdin = stdin
	s.running = true

	go func() {
		_ = cmd.Wait()
	}()

	return nil
}

// stopLocked kills the player process. Callers must hold mu.
func (s *ExecSink) stopLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
		s.stdin = nil
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.running = false
}

// MemorySink buffers written audio in memory. Used by tests and by the
// session manager when no playback device is configured.
type MemorySink struct {
	mu     sync.Mutex
	chunks [][]byte
	resets int
}

// NewMemorySink returns an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Write appends a copy of the chunk.
func (s *MemorySink) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, append([]byte(nil), pcm...))
	return nil
}

// Reset drops buffered chunks.
func (s *MemorySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.resets++
	return nil
}

// Close is a no-op.
func (s *MemorySink) Close() error {
	return nil
}

// Chunks returns copies of the buffered chunks.
func (s *MemorySink) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = append([]byte(nil), c...)
	}
	return out
}

// Resets returns how many times the sink was reset.
func (s *MemorySink) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

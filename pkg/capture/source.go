// Package capture implements the audio ingress pipeline: it pulls raw
// microphone samples from a Source, downsamples them to the canonical
// 16kHz transport rate, and applies half-duplex gating before frames
// leave for the network.
package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
)

// Source delivers normalized float32 microphone samples at its native
// rate. Read blocks until the buffer is full, pacing the pipeline at
// capture speed.
type Source interface {
	Read(buf []float32) (int, error)
	Rate() int
	Close() error
}

// FFmpegConfig describes the microphone device for FFmpegSource.
type FFmpegConfig struct {
	Command string // ffmpeg binary, default "ffmpeg"
	Format  string // input format: pulse, alsa, avfoundation
	Device  string // input device name
	Rate    int    // native capture rate, default 48000
}

// FFmpegSource captures microphone audio through an ffmpeg child process
// emitting s16le on stdout.
type FFmpegSource struct {
	rate   int
	stdout io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer

	stopOnce sync.Once
	raw      []byte // scratch for Read
}

// NewFFmpegSource starts the capture process. A missing binary or device
// surfaces here, before any session state has been touched.
func NewFFmpegSource(cfg FFmpegConfig) (*FFmpegSource, error) {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.Format == "" {
		cfg.Format = "pulse"
	}
	if cfg.Device == "" {
		cfg.Device = "default"
	}
	if cfg.Rate <= 0 {
		cfg.Rate = 48000
	}

	cmd := exec.Command(cfg.Command,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.Format,
		"-i", cfg.Device,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.Rate),
		"-f", "s16le",
		"-",
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start ffmpeg: %w", err)
	}

	return &FFmpegSource{
		rate:   cfg.Rate,
		stdout: stdout,
		cmd:    cmd,
		stderr: &stderr,
	}, nil
}

// Read fills buf with normalized samples.
func (s *FFmpegSource) Read(buf []float32) (int, error) {
	need := len(buf) * 2
	if cap(s.raw) < need {
		s.raw = make([]byte, need)
	}
	raw := s.raw[:need]

	if _, err := io.ReadFull(s.stdout, raw); err != nil {
		if msg := bytes.TrimSpace(s.stderr.Bytes()); len(msg) > 0 {
			return 0, fmt.Errorf("capture: read: %w: %s", err, msg)
		}
		return 0, fmt.Errorf("capture: read: %w", err)
	}

	for i := range buf {
		buf[i] = float32(int16(uint16(raw[i*2])|uint16(raw[i*2+1])<<8)) / 32768.0
	}
	return len(buf), nil
}

// Rate returns the native capture rate.
func (s *FFmpegSource) Rate() int {
	return s.rate
}

// Close stops the capture process. Safe to call more than once.
func (s *FFmpegSource) Close() error {
	s.stopOnce.Do(func() {
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Signal(os.Interrupt)
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
		_ = s.stdout.Close()
	})
	return nil
}

// StaticSource replays a fixed sample buffer, then reports io.EOF. Used
// by tests and by the synthetic-input mode.
type StaticSource struct {
	rate    int
	samples []float32

	mu     sync.Mutex
	pos    int
	closed bool
}

// NewStaticSource returns a source that serves samples at rate.
func NewStaticSource(rate int, samples []float32) *StaticSource {
	return &StaticSource{rate: rate, samples: samples}
}

// Read copies the next block of samples into buf.
func (s *StaticSource) Read(buf []float32) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, errors.New("capture: source closed")
	}
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}

	n := copy(buf, s.samples[s.pos:])
	s.pos += n
	if n < len(buf) {
		// Partial tail: pad with silence so the last frame is full-size.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		n = len(buf)
		s.pos = len(s.samples)
	}
	return n, nil
}

// Rate returns the configured rate.
func (s *StaticSource) Rate() int {
	return s.rate
}

// Close marks the source closed.
func (s *StaticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// nativeFrameLen returns how many native-rate samples produce want
// samples at the ingress rate.
func nativeFrameLen(want, nativeRate int) int {
	return want * nativeRate / audio.IngressRate
}

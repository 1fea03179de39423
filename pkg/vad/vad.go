// Package vad implements energy-based voice activity monitoring for the
// microphone signal. It watches average frame magnitude and raises a
// single end-of-turn signal after a configurable stretch of silence.
package vad

import (
	"sync"
	"time"
)

// Default tuning for 16kHz ingress frames observed every capture tick.
const (
	DefaultThreshold = 0.012
	DefaultWindow    = 8 * time.Second
)

// Monitor tracks ingress signal energy while the user holds the turn.
// It is inert until SetActive(true); the session controller activates it
// only in the listening state, since "user silence" has no meaning while
// the agent is speaking or the remote side is thinking.
type Monitor struct {
	threshold float64
	window    time.Duration
	onSilence func()

	mu        sync.Mutex
	active    bool
	fired     bool
	lastVoice time.Time

	now func() time.Time // test hook
}

// New returns a monitor that calls onSilence once per silence episode.
func New(threshold float64, window time.Duration, onSilence func()) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{
		threshold: threshold,
		window:    window,
		onSilence: onSilence,
		now:       time.Now,
	}
}

// SetActive enables or disables monitoring. Activation starts a fresh
// silence episode anchored at now.
func (m *Monitor) SetActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active = active
	if active {
		m.fired = false
		m.lastVoice = m.now()
	}
}

// Observe feeds one frame of int16 samples. Voice above the threshold
// resets the silence clock; a full window of continuous silence fires the
// end-of-turn callback exactly once until voice resumes or the monitor is
// re-activated.
func (m *Monitor) Observe(samples []int16) {
	m.mu.Lock()

	if !m.active {
		m.mu.Unlock()
		return
	}

	if averageMagnitude(samples) >= m.threshold {
		m.lastVoice = m.now()
		m.fired = false
		m.mu.Unlock()
		return
	}

	if !m.fired && m.now().Sub(m.lastVoice) >= m.window {
		m.fired = true
		cb := m.onSilence
		m.mu.Unlock()
		if cb != nil {
			cb()
		}
		return
	}

	m.mu.Unlock()
}

// SilenceFor returns how long the signal has been continuously below the
// threshold. Pure read, safe to poll from the UI at any rate.
func (m *Monitor) SilenceFor() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return 0
	}
	return m.now().Sub(m.lastVoice)
}

// averageMagnitude computes the mean absolute amplitude normalized to
// [0, 1].
func averageMagnitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(samples)) / 32768.0
}

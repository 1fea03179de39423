package playback

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
)

// ErrClosed is returned when scheduling on a closed scheduler.
var ErrClosed = errors.New("playback: scheduler closed")

// Scheduler places decoded audio chunks back-to-back on a playback
// timeline. A single monotonically advancing cursor marks the next free
// slot; each chunk is scheduled at max(cursor, now) so nothing lands in
// the past, and the cursor advances by the chunk's duration so chunks
// never overlap. The set of not-yet-finished chunks is tracked by an id
// map with per-chunk completion timers.
type Scheduler struct {
	sink   Sink
	rate   int
	detune float64 // playback-rate multiplier, 1.0 = untouched
	onIdle func()  // fired when the last scheduled chunk finishes

	mu     sync.Mutex
	cursor time.Time
	active map[uint64]*time.Timer
	nextID uint64
	epoch  uint64
	closed bool

	now func() time.Time // test hook
}

// NewScheduler returns a scheduler that renders rate-Hz PCM16 through
// sink. detuneSemitones shifts playback pitch; onIdle is called from a
// timer goroutine when the active set empties through normal completion.
func NewScheduler(sink Sink, rate int, detuneSemitones float64, onIdle func()) *Scheduler {
	return &Scheduler{
		sink:   sink,
		rate:   rate,
		detune: math.Pow(2, detuneSemitones/12),
		onIdle: onIdle,
		active: make(map[uint64]*time.Timer),
		now:    time.Now,
	}
}

// Schedule queues one decoded PCM16 chunk for playback. It returns the
// slot the chunk was given on the timeline.
func (s *Scheduler) Schedule(pcm []byte) (start time.Time, dur time.Duration, err error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return time.Time{}, 0, ErrClosed
	}

	now := s.now()
	if s.cursor.Before(now) {
		// Underrun: the timeline fell behind the clock, snap forward.
		s.cursor = now
	}

	start = s.cursor
	dur = audio.Duration(len(pcm), s.rate)
	s.cursor = start.Add(dur)

	id := s.nextID
	s.nextID++
	epoch := s.epoch

	s.active[id] = time.AfterFunc(start.Add(dur).Sub(now), func() {
		s.complete(id, epoch)
	})

	// The sink paces real output; writes stay inside the lock so chunk
	// order on the device matches schedule order.
	writeErr := s.sink.Write(s.transform(pcm))
	s.mu.Unlock()

	return start, dur, writeErr
}

// complete removes a finished chunk from the active set.
func (s *Scheduler) complete(id, epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.closed {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	idle := len(s.active) == 0
	s.mu.Unlock()

	if idle && s.onIdle != nil {
		s.onIdle()
	}
}

// Interrupt stops every active chunk, clears the set, and resets the
// cursor to now. Bumping the epoch makes any in-flight completion timer a
// no-op, so a chunk racing with the interruption cannot resurrect a stale
// schedule. The caller owns the resulting state transition; onIdle does
// not fire.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.epoch++
	for _, timer := range s.active {
		timer.Stop()
	}
	s.active = make(map[uint64]*time.Timer)
	s.cursor = s.now()
	sink := s.sink
	s.mu.Unlock()

	_ = sink.Reset()
}

// Active reports whether any scheduled chunk has not finished playing.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active) > 0
}

// ActiveCount returns the number of unfinished chunks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the next free slot on the playback timeline.
func (s *Scheduler) Cursor() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Close stops all playback and releases the sink.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.epoch++
	for _, timer := range s.active {
		timer.Stop()
	}
	s.active = make(map[uint64]*time.Timer)
	sink := s.sink
	s.mu.Unlock()

	return sink.Close()
}

// transform applies the persona's detune as a playback-rate change. The
// scheduling duration is computed from the untransformed chunk, so the
// voice effect never perturbs the timeline math.
func (s *Scheduler) transform(pcm []byte) []byte {
	if s.detune == 1 {
		return pcm
	}
	samples := audio.BytesToInt16(pcm)
	shifted := audio.Resample(samples, int(float64(s.rate)*s.detune), s.rate)
	return audio.Int16ToBytes(shifted)
}

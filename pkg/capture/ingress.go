package capture

import (
	"sync"
	"sync/atomic"

	"github.com/philiaspaceai/philia-ohanashi/pkg/audio"
)

// DefaultFrameSamples is the per-frame sample count at the ingress rate,
// 4096 samples is 256ms at 16kHz.
const DefaultFrameSamples = 4096

// Pipeline reads native-rate samples from a Source, downsamples each
// block to the 16kHz ingress rate, quantizes it to PCM16, and hands the
// resulting frame to onFrame. While the gate is closed the real samples
// are replaced with an equally sized silent frame, so the uplink cadence
// never changes during assistant speech.
//
// Frames are produced one at a time and never queued: the Source paces
// the loop at capture speed, and a slow consumer simply loses frames at
// the transport's send buffer, not here.
type Pipeline struct {
	src     Source
	gate    *atomic.Bool // true = muted (half-duplex gate closed)
	onFrame func(audio.Frame)
	onError func(error) // capture failure after start, optional

	frameSamples int

	mu      sync.Mutex
	started bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewPipeline wires a source to a frame consumer. gate is owned by the
// session controller; the pipeline only reads it.
func NewPipeline(src Source, gate *atomic.Bool, onFrame func(audio.Frame)) *Pipeline {
	return &Pipeline{
		src:          src,
		gate:         gate,
		onFrame:      onFrame,
		frameSamples: DefaultFrameSamples,
		done:         make(chan struct{}),
	}
}

// OnError installs a callback for capture failures after startup. Must be
// called before Start.
func (p *Pipeline) OnError(fn func(error)) {
	p.onError = fn
}

// Start launches the capture loop.
func (p *Pipeline) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	p.wg.Add(1)
	go p.run()
}

// Stop closes the source and waits for the loop to exit. Idempotent,
// and safe on a pipeline that never started.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	started := p.started
	p.mu.Unlock()

	_ = p.src.Close()
	if started {
		p.wg.Wait()
	}
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	nativeLen := nativeFrameLen(p.frameSamples, p.src.Rate())
	buf := make([]float32, nativeLen)

	for {
		select {
		case <-p.done:
			return
		default:
		}

		if _, err := p.src.Read(buf); err != nil {
			select {
			case <-p.done:
				// Expected: Stop closed the source under us.
			default:
				if p.onError != nil {
					// Off this goroutine, so an error handler that
					// calls Stop cannot deadlock against wg.Wait.
					go p.onError(err)
				}
			}
			return
		}

		p.onFrame(p.makeFrame(buf))
	}
}

// makeFrame converts one native block into a transport-ready frame,
// honoring the half-duplex gate.
func (p *Pipeline) makeFrame(native []float32) audio.Frame {
	down := audio.DownsampleFloat32(native, p.src.Rate(), audio.IngressRate)

	if p.gate != nil && p.gate.Load() {
		return audio.Frame{
			PCM:       make([]byte, len(down)*2),
			Rate:      audio.IngressRate,
			IsSilence: true,
		}
	}

	return audio.Frame{
		PCM:  audio.Int16ToBytes(audio.Quantize(down)),
		Rate: audio.IngressRate,
	}
}

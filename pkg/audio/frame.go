package audio

import "time"

// Frame is one tick's worth of encoded ingress audio. Frames are transient:
// produced by the capture pipeline, handed to the transport, and discarded.
type Frame struct {
	// PCM holds little-endian PCM16 mono bytes at Rate.
	PCM []byte

	// Rate is the sample rate of PCM.
	Rate int

	// IsSilence is true when the half-duplex gate replaced this tick's
	// microphone audio with zeros.
	IsSilence bool
}

// Duration returns the play time of the frame.
func (f Frame) Duration() time.Duration {
	return Duration(len(f.PCM), f.Rate)
}

// Samples returns the frame's PCM as int16 samples.
func (f Frame) Samples() []int16 {
	return BytesToInt16(f.PCM)
}

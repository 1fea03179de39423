// Package audio provides PCM16 helpers shared by the ingress and egress
// pipelines: sample conversion, linear resampling, clamped quantization,
// and base64 wire payloads.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"time"
)

// Canonical sample rates on the wire.
const (
	IngressRate = 16000 // microphone frames sent to the service
	EgressRate  = 24000 // audio frames returned by the service
)

// BytesToInt16 converts little-endian PCM16 bytes to int16 samples.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes converts int16 samples to little-endian PCM16 bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Resample resamples int16 audio from srcRate to dstRate using linear
// interpolation between adjacent samples.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(dstRate) / float64(srcRate)
	newLen := int(float64(len(samples)) * ratio)
	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcIdx := float64(i) / ratio
		idx := int(srcIdx)
		if idx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			frac := srcIdx - float64(idx)
			result[i] = int16(float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac)
		}
	}

	return result
}

// DownsampleFloat32 resamples normalized float32 audio from srcRate to
// dstRate with linear interpolation. Naive decimation produces audible
// crackling; interpolating between adjacent source samples avoids it.
func DownsampleFloat32(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate == dstRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(srcRate) / float64(dstRate)
	newLen := int(float64(len(samples)) / ratio)
	result := make([]float32, newLen)

	for i := 0; i < newLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		if idx+1 < len(samples) {
			v1 := float64(samples[idx])
			v2 := float64(samples[idx+1])
			result[i] = float32(v1 + (v2-v1)*frac)
		} else {
			result[i] = samples[idx]
		}
	}

	return result
}

// Quantize converts normalized float32 samples to int16, hard-clamping to
// [-1, 1] first so out-of-range input wraps to full scale instead of
// aliasing across the sign boundary.
func Quantize(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// Normalize converts int16 samples to float32 in [-1, 1).
func Normalize(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Duration returns the play time of PCM16 mono bytes at the given rate.
func Duration(numBytes, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := numBytes / 2
	return time.Duration(samples) * time.Second / time.Duration(rate)
}

// SilentFrame returns d worth of zero PCM16 mono bytes at the given rate.
func SilentFrame(rate int, d time.Duration) []byte {
	samples := int(d * time.Duration(rate) / time.Second)
	return make([]byte, samples*2)
}

// EncodePayload encodes PCM16 bytes as a base64 wire payload.
func EncodePayload(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodePayload decodes a base64 wire payload to PCM16 bytes.
func DecodePayload(payload string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(payload)
}

// Package audio holds sample-level helpers shared by the segmenter, the
// pipeline stages and the wire codec: peak normalization, WAV wrapping and
// PCM16 conversion.
package audio

import (
	"math"
	"time"
)

// DefaultSampleRate is the capture rate clients are expected to stream at.
const DefaultSampleRate = 16000

// Chunk is a run of mono samples at a known rate. Peak records the gain that
// was divided out when the chunk was normalized; zero means the data is raw.
type Chunk struct {
	Data       []float32 `json:"data"`
	SampleRate int       `json:"sampleRate"`
	Peak       float64   `json:"peak,omitempty"`
}

// Duration reports how long the chunk plays for.
func (c Chunk) Duration() time.Duration {
	return FrameDuration(len(c.Data), c.SampleRate)
}

// Normalize scales frame by its peak absolute magnitude so the result lies in
// [-1, 1]. A frame whose peak is zero is returned unchanged (same slice).
// Otherwise a new slice is returned and frame is not modified.
func Normalize(frame []float32) []float32 {
	out, _ := NormalizePeak(frame)
	return out
}

// NormalizePeak is Normalize that also reports the peak it divided by.
func NormalizePeak(frame []float32) ([]float32, float64) {
	var peak float64
	for _, s := range frame {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return frame, 0
	}
	out := make([]float32, len(frame))
	for i, s := range frame {
		out[i] = float32(float64(s) / peak)
	}
	return out, peak
}

// FrameDuration is the playback length of n samples at sampleRate.
func FrameDuration(n, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// RMS returns the root-mean-square level of samples. Returns 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Package vad defines the voice activity detector contract consumed by the
// speech segmenter, plus a dependency-free energy detector.
//
// A Detector looks at one normalized chunk at a time and answers whether it
// carries voice. Detectors are shared across sessions and must be safe for
// concurrent use; any per-stream smoothing belongs in the caller.
package vad

import (
	"context"
	"errors"

	"github.com/ent0n29/cadence/internal/audio"
)

// Verdict is a detector's answer for one chunk.
type Verdict int

const (
	// NoVoice is the sentinel "no voice" verdict.
	NoVoice Verdict = iota
	// Voice means the chunk carries speech.
	Voice
)

func (v Verdict) String() string {
	if v == Voice {
		return "voice"
	}
	return "no_voice"
}

// Detector classifies audio chunks.
type Detector interface {
	Detect(ctx context.Context, chunk audio.Chunk) (Verdict, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, chunk audio.Chunk) (Verdict, error)

func (f DetectorFunc) Detect(ctx context.Context, chunk audio.Chunk) (Verdict, error) {
	return f(ctx, chunk)
}

// DefaultEnergyThreshold is the RMS level, on the raw client scale, above which
// a chunk counts as voice.
const DefaultEnergyThreshold = 0.02

// EnergyDetector classifies a chunk by RMS level. It is a stand-in for a
// model-backed detector and is good enough for push-to-talk style clients.
type EnergyDetector struct {
	threshold float64
}

// NewEnergyDetector builds an EnergyDetector. A non-positive threshold selects
// DefaultEnergyThreshold.
func NewEnergyDetector(threshold float64) *EnergyDetector {
	if threshold <= 0 {
		threshold = DefaultEnergyThreshold
	}
	return &EnergyDetector{threshold: threshold}
}

var errEmptyChunk = errors.New("vad: empty chunk")

// Detect implements Detector. Normalized chunks are measured at their
// original level by scaling the RMS back up by the recorded peak.
func (d *EnergyDetector) Detect(ctx context.Context, chunk audio.Chunk) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return NoVoice, err
	}
	if len(chunk.Data) == 0 {
		return NoVoice, errEmptyChunk
	}
	level := audio.RMS(chunk.Data)
	if chunk.Peak > 0 {
		level *= chunk.Peak
	}
	if level >= d.threshold {
		return Voice, nil
	}
	return NoVoice, nil
}

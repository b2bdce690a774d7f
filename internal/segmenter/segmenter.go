// Package segmenter turns a stream of client audio frames into utterances.
//
// A Segmenter is a small state machine driven by a voice activity detector:
// frames with voice are buffered, and once the accumulated silence after the
// last voiced frame exceeds the pause threshold the buffered speech is handed
// back as one utterance. A Segmenter is owned by a single connection loop and
// is not safe for concurrent use.
package segmenter

import (
	"context"
	"fmt"
	"time"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/vad"
)

// DefaultPauseThreshold is the silence needed after speech to close an utterance.
const DefaultPauseThreshold = time.Second

// State is the capture state of the current utterance.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCapturing:
		return "capturing"
	case StateFinalized:
		return "finalized"
	default:
		return "idle"
	}
}

// EventType tags what a Feed call produced.
type EventType int

const (
	EventNone EventType = iota
	EventStarted
	EventUtteranceReady
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventUtteranceReady:
		return "utterance_ready"
	default:
		return "none"
	}
}

// Event is the result of feeding one frame. Utterance is set only for
// EventUtteranceReady.
type Event struct {
	Type      EventType
	Utterance audio.Chunk
}

// Segmenter buffers voiced frames and emits utterances on long pauses.
type Segmenter struct {
	detector  vad.Detector
	threshold time.Duration

	state      State
	pause      time.Duration
	buffer     []float32
	sampleRate int
}

// New builds a Segmenter. A non-positive threshold selects DefaultPauseThreshold.
func New(detector vad.Detector, threshold time.Duration) *Segmenter {
	if threshold <= 0 {
		threshold = DefaultPauseThreshold
	}
	return &Segmenter{detector: detector, threshold: threshold}
}

// Feed normalizes frame, classifies it and advances the state machine.
// Buffered samples are the normalized frames, in arrival order.
func (s *Segmenter) Feed(ctx context.Context, frame []float32, sampleRate int) (Event, error) {
	if len(frame) == 0 {
		return Event{}, nil
	}
	if sampleRate <= 0 {
		sampleRate = audio.DefaultSampleRate
	}
	normalized, peak := audio.NormalizePeak(frame)
	verdict, err := s.detector.Detect(ctx, audio.Chunk{Data: normalized, SampleRate: sampleRate, Peak: peak})
	if err != nil {
		return Event{}, fmt.Errorf("detect voice: %w", err)
	}

	if verdict == vad.Voice {
		started := s.state != StateCapturing
		s.state = StateCapturing
		s.sampleRate = sampleRate
		s.buffer = append(s.buffer, normalized...)
		s.pause = 0
		if started {
			return Event{Type: EventStarted}, nil
		}
		return Event{}, nil
	}

	if s.state != StateCapturing {
		return Event{}, nil
	}
	s.pause += audio.FrameDuration(len(frame), sampleRate)
	if s.pause > s.threshold {
		return s.finalize(), nil
	}
	return Event{}, nil
}

// EndOfAudio finalizes the buffered utterance immediately. It returns
// EventNone when nothing was buffered.
func (s *Segmenter) EndOfAudio() Event {
	if len(s.buffer) == 0 {
		s.reset()
		return Event{}
	}
	return s.finalize()
}

// State reports where the segmenter is in the capture cycle. After an
// utterance is emitted it reads StateFinalized until the next voiced frame.
func (s *Segmenter) State() State {
	return s.state
}

// Buffered reports how much speech is waiting for a pause.
func (s *Segmenter) Buffered() time.Duration {
	return audio.FrameDuration(len(s.buffer), s.sampleRate)
}

func (s *Segmenter) finalize() Event {
	ev := Event{
		Type:      EventUtteranceReady,
		Utterance: audio.Chunk{Data: s.buffer, SampleRate: s.sampleRate},
	}
	s.buffer = nil
	s.pause = 0
	s.state = StateFinalized
	return ev
}

func (s *Segmenter) reset() {
	s.buffer = nil
	s.pause = 0
	s.state = StateIdle
}

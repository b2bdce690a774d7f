// Package provider defines the call contracts of the external engines the
// pipeline stages drive: a streaming text generator, a streaming speech
// synthesizer and a speech recognizer.
//
// Every call returns a lazy sequence. Nothing is requested from the remote
// engine beyond what the consumer pulls, and breaking out of the range loop
// releases the underlying connection. Implementations must be safe for
// concurrent use, since one instance is shared by every session.
package provider

import (
	"context"
	"iter"

	"github.com/ent0n29/cadence/internal/audio"
)

// Role tags a chat turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn sent to a Generator.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerationConfig tunes a generation request. Zero values leave the
// provider defaults in place.
type GenerationConfig struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

// Generator streams generated text.
type Generator interface {
	Generate(ctx context.Context, messages []Message, cfg GenerationConfig) (iter.Seq2[string, error], error)
}

// SpeechChunk pairs synthesized audio with the text it speaks.
type SpeechChunk struct {
	Text       string
	Audio      []float32
	SampleRate int
}

// Synthesizer streams speech for a piece of text.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (iter.Seq2[SpeechChunk, error], error)
}

// Recognizer transcribes a finished utterance.
type Recognizer interface {
	Recognize(ctx context.Context, utterance audio.Chunk) (iter.Seq2[string, error], error)
}

// Named is implemented by providers that report a stable name for logs and
// metrics.
type Named interface {
	Name() string
}

// NameOf returns p's name, or "unknown".
func NameOf(p any) string {
	if n, ok := p.(Named); ok {
		return n.Name()
	}
	return "unknown"
}

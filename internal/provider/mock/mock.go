// Package mock provides deterministic providers used when no remote engine is
// configured and in tests.
package mock

import (
	"context"
	"iter"
	"math"
	"strings"
	"sync"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/provider"
)

// Generator echoes the last user turn back word by word.
type Generator struct {
	// Reply, when set, replaces the echo.
	Reply string
	// FailAfter makes the stream fail after that many tokens when positive.
	FailAfter int
	Err       error

	mu    sync.Mutex
	calls [][]provider.Message
}

func NewGenerator() *Generator { return &Generator{} }

func (g *Generator) Name() string { return "mock" }

// Generate implements provider.Generator.
func (g *Generator) Generate(ctx context.Context, messages []provider.Message, _ provider.GenerationConfig) (iter.Seq2[string, error], error) {
	g.mu.Lock()
	g.calls = append(g.calls, append([]provider.Message(nil), messages...))
	g.mu.Unlock()

	reply := g.Reply
	if reply == "" {
		var last string
		for _, m := range messages {
			if m.Role == provider.RoleUser {
				last = m.Content
			}
		}
		reply = "I heard you: " + strings.TrimSpace(last)
	}
	tokens := strings.SplitAfter(reply, " ")

	return func(yield func(string, error) bool) {
		for i, tok := range tokens {
			if g.FailAfter > 0 && i == g.FailAfter {
				yield("", g.failure())
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			if !yield(tok, nil) {
				return
			}
		}
	}, nil
}

func (g *Generator) failure() error {
	if g.Err != nil {
		return g.Err
	}
	return errGenerationFailed
}

// Calls returns the message lists Generate was called with.
func (g *Generator) Calls() [][]provider.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([][]provider.Message(nil), g.calls...)
}

type mockError string

func (e mockError) Error() string { return string(e) }

const errGenerationFailed = mockError("mock: generation failed")

// Synthesizer returns a short tone per request, 10ms per character.
type Synthesizer struct {
	SampleRate int
	Err        error
}

func NewSynthesizer() *Synthesizer { return &Synthesizer{SampleRate: audio.DefaultSampleRate} }

func (s *Synthesizer) Name() string { return "mock" }

// Synthesize implements provider.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text, _ string) (iter.Seq2[provider.SpeechChunk, error], error) {
	if s.Err != nil {
		return nil, s.Err
	}
	rate := s.SampleRate
	if rate <= 0 {
		rate = audio.DefaultSampleRate
	}
	return func(yield func(provider.SpeechChunk, error) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		if err := ctx.Err(); err != nil {
			yield(provider.SpeechChunk{}, err)
			return
		}
		n := len(text) * rate / 100
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(0.2 * math.Sin(2*math.Pi*220*float64(i)/float64(rate)))
		}
		yield(provider.SpeechChunk{Text: text, Audio: samples, SampleRate: rate}, nil)
	}, nil
}

// Recognizer returns a fixed transcript for any utterance.
type Recognizer struct {
	Transcript string
}

func NewRecognizer() *Recognizer { return &Recognizer{Transcript: "simulated voice input"} }

func (r *Recognizer) Name() string { return "mock" }

// Recognize implements provider.Recognizer.
func (r *Recognizer) Recognize(_ context.Context, utterance audio.Chunk) (iter.Seq2[string, error], error) {
	return func(yield func(string, error) bool) {
		if len(utterance.Data) == 0 || r.Transcript == "" {
			return
		}
		yield(r.Transcript, nil)
	}, nil
}

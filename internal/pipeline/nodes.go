package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/prompt"
	"github.com/ent0n29/cadence/internal/protocol"
	"github.com/ent0n29/cadence/internal/provider"
	"github.com/ent0n29/cadence/internal/session"
)

func requestFrom(in []any) (Request, error) {
	if len(in) == 0 {
		return Request{}, fmt.Errorf("no input")
	}
	switch v := in[0].(type) {
	case Request:
		return v, nil
	case *Request:
		return *v, nil
	case State:
		return v.Request, nil
	default:
		return Request{}, fmt.Errorf("unexpected input %T", in[0])
	}
}

func audioInput(_ context.Context, in []any) (any, error) {
	return requestFrom(in)
}

func audioFilter(_ context.Context, in []any) (any, error) {
	req, err := requestFrom(in)
	if err != nil {
		return nil, err
	}
	if len(req.Audio.Data) == 0 {
		return nil, fmt.Errorf("request carries no audio")
	}
	return req.Audio, nil
}

// textInput merges the request with the recognized transcript. Inputs arrive
// in edge order: the request first, then the transcript.
func textInput(_ context.Context, in []any) (any, error) {
	req, err := requestFrom(in)
	if err != nil {
		return nil, err
	}
	req.Audio = audio.Chunk{}
	req.Text = ""
	if len(in) > 1 {
		text, _ := in[1].(string)
		req.Text = strings.TrimSpace(text)
	}
	return req, nil
}

type stt struct {
	recognizer provider.Recognizer
}

func (n stt) Process(ctx context.Context, in []any) (any, error) {
	chunk, ok := in[0].(audio.Chunk)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in[0])
	}
	seq, err := n.recognizer.Recognize(ctx, chunk)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	var b strings.Builder
	for text, err := range seq {
		if err != nil {
			return nil, fmt.Errorf("recognize: %w", err)
		}
		if b.Len() > 0 && !strings.HasPrefix(text, " ") {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// updateState records the user turn, echoes it to the client and returns the
// conversation state.
type updateState struct {
	sessions *session.Manager
}

func (n updateState) Process(_ context.Context, in []any) (any, error) {
	req, err := requestFrom(in)
	if err != nil {
		return nil, err
	}
	h := req.Session
	if h == nil {
		if h, err = n.sessions.Lookup(req.SessionKey); err != nil {
			return nil, err
		}
	}
	if err := h.AppendMessage(session.RoleUser, req.Text, req.InteractionID); err != nil {
		return nil, err
	}
	snap, err := h.Get()
	if err != nil {
		return nil, err
	}
	echo := protocol.NewText(req.Text, req.InteractionID, uuid.NewString(), protocol.UserSource(snap.UserName))
	if err := h.Send(echo); err != nil {
		return nil, fmt.Errorf("echo user text: %w", err)
	}
	return State{Request: req, Agent: snap.Agent, UserName: snap.UserName, Messages: snap.Messages}, nil
}

// dialogPrompt renders the whole conversation into a single user turn: the
// history is everything before the latest message, which becomes the query.
type dialogPrompt struct {
	renderer *prompt.Renderer
}

func (n dialogPrompt) Process(_ context.Context, in []any) (any, error) {
	state, ok := in[0].(State)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in[0])
	}
	if len(state.Messages) == 0 {
		return nil, fmt.Errorf("conversation is empty")
	}
	last := len(state.Messages) - 1
	history := make([]prompt.Turn, 0, last)
	for _, m := range state.Messages[:last] {
		speaker := state.Agent.Name
		if m.Role == session.RoleUser {
			speaker = state.UserName
		}
		history = append(history, prompt.Turn{Speaker: speaker, Utterance: m.Content})
	}
	text, err := n.renderer.Render(prompt.Data{
		Agent: prompt.Agent{
			Name:        state.Agent.Name,
			Description: state.Agent.Description,
			Motivation:  state.Agent.Motivation,
			Knowledge:   state.Agent.Knowledge,
		},
		History:   history,
		UserName:  state.UserName,
		UserQuery: state.Messages[last].Content,
	})
	if err != nil {
		return nil, err
	}
	return []provider.Message{{Role: provider.RoleUser, Content: text}}, nil
}

type llm struct {
	generator provider.Generator
	config    provider.GenerationConfig
}

func (n llm) Process(ctx context.Context, in []any) (any, error) {
	messages, ok := in[0].([]provider.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in[0])
	}
	seq, err := n.generator.Generate(ctx, messages, n.config)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return graph.NewStream(seq), nil
}

type textChunking struct{}

func (textChunking) Process(_ context.Context, in []any) (any, error) {
	tokens, ok := in[0].(*graph.Stream[string])
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in[0])
	}
	return graph.NewStream(func(yield func(string, error) bool) {
		var c phraseChunker
		for tok, err := range tokens.All() {
			if err != nil {
				yield("", err)
				return
			}
			for _, phrase := range c.Push(tok) {
				if !yield(phrase, nil) {
					return
				}
			}
		}
		for _, phrase := range c.Flush() {
			if !yield(phrase, nil) {
				return
			}
		}
	}), nil
}

// tts synthesizes each phrase and yields one chunk per phrase carrying the
// phrase text and all of its audio.
type tts struct {
	synthesizer provider.Synthesizer
	voiceID     string
}

func (n tts) Process(ctx context.Context, in []any) (any, error) {
	phrases, ok := in[0].(*graph.Stream[string])
	if !ok {
		return nil, fmt.Errorf("unexpected input %T", in[0])
	}
	return graph.NewStream(func(yield func(provider.SpeechChunk, error) bool) {
		for phrase, err := range phrases.All() {
			if err != nil {
				yield(provider.SpeechChunk{}, err)
				return
			}
			spoken := speakable(phrase)
			if spoken == "" {
				continue
			}
			chunk, err := n.synthesize(ctx, phrase, spoken)
			if err != nil {
				yield(provider.SpeechChunk{}, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}), nil
}

func (n tts) synthesize(ctx context.Context, text, spoken string) (provider.SpeechChunk, error) {
	seq, err := n.synthesizer.Synthesize(ctx, spoken, n.voiceID)
	if err != nil {
		return provider.SpeechChunk{}, fmt.Errorf("synthesize: %w", err)
	}
	out := provider.SpeechChunk{Text: text}
	for part, err := range seq {
		if err != nil {
			return provider.SpeechChunk{}, fmt.Errorf("synthesize: %w", err)
		}
		if out.SampleRate == 0 {
			out.SampleRate = part.SampleRate
		}
		out.Audio = append(out.Audio, part.Audio...)
	}
	if out.SampleRate == 0 {
		out.SampleRate = audio.DefaultSampleRate
	}
	return out, nil
}

// Package pipeline assembles the character conversation graphs.
//
// Two graphs are built at startup and shared by every session: one for text
// input and one for captured speech. Both end in the same chain:
//
//	update_state -> dialog_prompt -> llm -> text_chunking -> tts
//
// The speech graph prepends recognition:
//
//	audio_input -> text_input
//	audio_input -> audio_filter -> stt -> text_input
//	text_input -> update_state (only when something was recognized)
package pipeline

import (
	"errors"
	"strings"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/prompt"
	"github.com/ent0n29/cadence/internal/provider"
	"github.com/ent0n29/cadence/internal/session"
)

const (
	TextGraph  = "text"
	AudioGraph = "audio"
)

// Node ids.
const (
	NodeAudioInput   = "audio_input"
	NodeAudioFilter  = "audio_filter"
	NodeSTT          = "stt"
	NodeTextInput    = "text_input"
	NodeUpdateState  = "update_state"
	NodeDialogPrompt = "dialog_prompt"
	NodeLLM          = "llm"
	NodeTextChunking = "text_chunking"
	NodeTTS          = "tts"
)

// DefaultGeneration matches the tuning the character prompt was written for.
var DefaultGeneration = provider.GenerationConfig{
	MaxNewTokens: 500,
	Temperature:  0.1,
	TopP:         0.5,
}

// Request is the input of both graphs. Text is set for the text graph and
// Audio for the speech graph. Session, when set, pins the request to one
// session instance; otherwise SessionKey is resolved at update_state.
type Request struct {
	Session       *session.Handle `json:"-"`
	SessionKey    string          `json:"key"`
	InteractionID string      `json:"interactionId"`
	Text          string      `json:"text,omitempty"`
	Audio         audio.Chunk `json:"audio,omitzero"`
}

// State is the conversation state handed from update_state to the prompt
// builder.
type State struct {
	Request
	Agent    session.Agent
	UserName string
	Messages []session.Message
}

// Deps are the collaborators the nodes call into.
type Deps struct {
	Sessions    *session.Manager
	Prompt      *prompt.Renderer
	Generator   provider.Generator
	Synthesizer provider.Synthesizer
	Recognizer  provider.Recognizer
	VoiceID     string
	Generation  provider.GenerationConfig
}

func (d Deps) validate(needRecognizer bool) error {
	var errs []error
	if d.Sessions == nil {
		errs = append(errs, errors.New("pipeline: session manager is required"))
	}
	if d.Prompt == nil {
		errs = append(errs, errors.New("pipeline: prompt renderer is required"))
	}
	if d.Generator == nil {
		errs = append(errs, errors.New("pipeline: generator is required"))
	}
	if d.Synthesizer == nil {
		errs = append(errs, errors.New("pipeline: synthesizer is required"))
	}
	if needRecognizer && d.Recognizer == nil {
		errs = append(errs, errors.New("pipeline: recognizer is required"))
	}
	return errors.Join(errs...)
}

func (d Deps) tail() []graph.Node {
	return []graph.Node{
		{ID: NodeUpdateState, Inputs: []graph.Kind{graph.KindJSON}, Output: graph.KindJSON, Processor: updateState{sessions: d.Sessions}},
		{ID: NodeDialogPrompt, Inputs: []graph.Kind{graph.KindJSON}, Output: graph.KindChat, Processor: dialogPrompt{renderer: d.Prompt}},
		{ID: NodeLLM, Inputs: []graph.Kind{graph.KindChat}, Output: graph.KindTextStream, Processor: llm{generator: d.Generator, config: d.Generation}},
		{ID: NodeTextChunking, Inputs: []graph.Kind{graph.KindTextStream}, Output: graph.KindTextStream, Processor: textChunking{}},
		{ID: NodeTTS, Inputs: []graph.Kind{graph.KindTextStream}, Output: graph.KindSpeechStream, Processor: tts{synthesizer: d.Synthesizer, voiceID: d.VoiceID}},
	}
}

func tailEdges() []graph.Edge {
	return []graph.Edge{
		{From: NodeUpdateState, To: NodeDialogPrompt},
		{From: NodeDialogPrompt, To: NodeLLM},
		{From: NodeLLM, To: NodeTextChunking},
		{From: NodeTextChunking, To: NodeTTS},
	}
}

// BuildTextGraph builds the graph run for typed input. Its input is a
// Request with Text set.
func BuildTextGraph(d Deps) (*graph.Graph, error) {
	if err := d.validate(false); err != nil {
		return nil, err
	}
	return graph.Build(TextGraph, d.tail(), tailEdges(), NodeUpdateState, []string{NodeTTS})
}

// BuildAudioGraph builds the graph run for a captured utterance. Its input
// is a Request with Audio set.
func BuildAudioGraph(d Deps) (*graph.Graph, error) {
	if err := d.validate(true); err != nil {
		return nil, err
	}
	nodes := append([]graph.Node{
		{ID: NodeAudioInput, Inputs: []graph.Kind{graph.KindJSON}, Output: graph.KindJSON, Processor: graph.ProcessorFunc(audioInput)},
		{ID: NodeAudioFilter, Inputs: []graph.Kind{graph.KindJSON}, Output: graph.KindAudio, Processor: graph.ProcessorFunc(audioFilter)},
		{ID: NodeSTT, Inputs: []graph.Kind{graph.KindAudio}, Output: graph.KindText, Processor: stt{recognizer: d.Recognizer}},
		{ID: NodeTextInput, Inputs: []graph.Kind{graph.KindJSON, graph.KindText}, Output: graph.KindJSON, Processor: graph.ProcessorFunc(textInput)},
	}, d.tail()...)
	edges := append([]graph.Edge{
		{From: NodeAudioInput, To: NodeTextInput},
		{From: NodeAudioInput, To: NodeAudioFilter},
		{From: NodeAudioFilter, To: NodeSTT},
		{From: NodeSTT, To: NodeTextInput},
		{From: NodeTextInput, To: NodeUpdateState, Condition: hasText, Label: "recognized"},
	}, tailEdges()...)
	return graph.Build(AudioGraph, nodes, edges, NodeAudioInput, []string{NodeTTS})
}

func hasText(v any) bool {
	req, ok := v.(Request)
	return ok && strings.TrimSpace(req.Text) != ""
}

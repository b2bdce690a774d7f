package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Inbound.
	TypeText            MessageType = "text"
	TypeAudio           MessageType = "audio"
	TypeAudioSessionEnd MessageType = "audioSessionEnd"

	// Outbound.
	TypeTextEvent      MessageType = "TEXT"
	TypeAudioEvent     MessageType = "AUDIO"
	TypeErrorEvent     MessageType = "ERROR"
	TypeInteractionEnd MessageType = "INTERACTION_END"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type ClientText struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// ClientAudio carries one or more capture buffers. Each frame may be sent as
// a JSON array or as an object keyed by sample index, the shape a serialized
// Float32Array takes.
type ClientAudio struct {
	Type   MessageType `json:"type"`
	Frames []Frame     `json:"audio"`
}

// Samples concatenates every frame.
func (a ClientAudio) Samples() []float32 {
	n := 0
	for _, f := range a.Frames {
		n += len(f)
	}
	out := make([]float32, 0, n)
	for _, f := range a.Frames {
		out = append(out, f...)
	}
	return out
}

type ClientAudioSessionEnd struct {
	Type MessageType `json:"type"`
}

// Frame is a buffer of samples.
type Frame []float32

func (f *Frame) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		*f = nil
		return nil
	}
	if raw[0] == '[' {
		var samples []float32
		if err := json.Unmarshal(raw, &samples); err != nil {
			return fmt.Errorf("invalid audio frame: %w", err)
		}
		*f = samples
		return nil
	}

	var indexed map[string]float32
	if err := json.Unmarshal(raw, &indexed); err != nil {
		return fmt.Errorf("invalid audio frame: %w", err)
	}
	type sample struct {
		idx int
		v   float32
	}
	samples := make([]sample, 0, len(indexed))
	for k, v := range indexed {
		idx, err := strconv.Atoi(k)
		if err != nil || idx < 0 {
			return fmt.Errorf("invalid audio frame index %q", k)
		}
		samples = append(samples, sample{idx: idx, v: v})
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].idx < samples[j].idx })
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s.v
	}
	*f = out
	return nil
}

// PacketID correlates outbound events. UtteranceID is set on TEXT and AUDIO.
type PacketID struct {
	UtteranceID   string `json:"utteranceId,omitempty"`
	InteractionID string `json:"interactionId"`
}

// Source tags who an event speaks for.
type Source struct {
	IsAgent bool   `json:"isAgent"`
	IsUser  bool   `json:"isUser"`
	Name    string `json:"name,omitempty"`
}

type Routing struct {
	Source Source `json:"source"`
}

type TextBody struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type AudioBody struct {
	Chunk string `json:"chunk"`
}

type TextEvent struct {
	Type     MessageType `json:"type"`
	Text     TextBody    `json:"text"`
	Date     time.Time   `json:"date"`
	PacketID PacketID    `json:"packetId"`
	Routing  Routing     `json:"routing"`
}

type AudioEvent struct {
	Type     MessageType `json:"type"`
	Audio    AudioBody   `json:"audio"`
	Date     time.Time   `json:"date"`
	PacketID PacketID    `json:"packetId"`
	Routing  Routing     `json:"routing"`
}

type ErrorEvent struct {
	Type     MessageType `json:"type"`
	Error    string      `json:"error"`
	Date     time.Time   `json:"date"`
	PacketID PacketID    `json:"packetId"`
}

type InteractionEndEvent struct {
	Type     MessageType `json:"type"`
	Date     time.Time   `json:"date"`
	PacketID PacketID    `json:"packetId"`
}

var now = func() time.Time { return time.Now().UTC() }

// NewText builds a final TEXT event.
func NewText(text, interactionID, utteranceID string, source Source) TextEvent {
	return TextEvent{
		Type:     TypeTextEvent,
		Text:     TextBody{Text: text, Final: true},
		Date:     now(),
		PacketID: PacketID{UtteranceID: utteranceID, InteractionID: interactionID},
		Routing:  Routing{Source: source},
	}
}

// NewAudio builds an AUDIO event from a base64 WAV chunk. Audio always comes
// from the agent.
func NewAudio(chunk, interactionID, utteranceID string) AudioEvent {
	return AudioEvent{
		Type:     TypeAudioEvent,
		Audio:    AudioBody{Chunk: chunk},
		Date:     now(),
		PacketID: PacketID{UtteranceID: utteranceID, InteractionID: interactionID},
		Routing:  Routing{Source: Source{IsAgent: true}},
	}
}

func NewError(err error, interactionID string) ErrorEvent {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ErrorEvent{
		Type:     TypeErrorEvent,
		Error:    msg,
		Date:     now(),
		PacketID: PacketID{InteractionID: interactionID},
	}
}

func NewInteractionEnd(interactionID string) InteractionEndEvent {
	return InteractionEndEvent{
		Type:     TypeInteractionEnd,
		Date:     now(),
		PacketID: PacketID{InteractionID: interactionID},
	}
}

// AgentSource and UserSource build routing sources.
func AgentSource(name string) Source { return Source{IsAgent: true, Name: name} }
func UserSource(name string) Source  { return Source{IsUser: true, Name: name} }

// InteractionID returns the interaction id of an outbound event, or "" when
// msg is not one.
func InteractionID(msg any) string {
	switch m := msg.(type) {
	case TextEvent:
		return m.PacketID.InteractionID
	case AudioEvent:
		return m.PacketID.InteractionID
	case ErrorEvent:
		return m.PacketID.InteractionID
	case InteractionEndEvent:
		return m.PacketID.InteractionID
	default:
		return ""
	}
}

// TypeOf returns the type tag of an outbound event.
func TypeOf(msg any) MessageType {
	switch msg.(type) {
	case TextEvent:
		return TypeTextEvent
	case AudioEvent:
		return TypeAudioEvent
	case ErrorEvent:
		return TypeErrorEvent
	case InteractionEndEvent:
		return TypeInteractionEnd
	default:
		return ""
	}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeText:
		var msg ClientText
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudio:
		var msg ClientAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioSessionEnd:
		return ClientAudioSessionEnd{Type: env.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

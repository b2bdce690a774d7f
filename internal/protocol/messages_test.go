package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestParseClientMessageText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"text","text":"hello"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	text, ok := msg.(ClientText)
	if !ok {
		t.Fatalf("message type = %T, want ClientText", msg)
	}
	if text.Text != "hello" {
		t.Fatalf("Text = %q, want hello", text.Text)
	}
}

func TestParseClientMessageAudioArrays(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"audio","audio":[[0.1,0.2],[0.3]]}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	got := audio.Samples()
	if len(got) != 3 || got[0] != 0.1 || got[2] != 0.3 {
		t.Fatalf("Samples() = %v", got)
	}
}

func TestParseClientMessageAudioIndexedObjects(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"audio","audio":[{"2":0.3,"0":0.1,"1":0.2,"10":1}]}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	got := msg.(ClientAudio).Samples()
	want := []float32{0.1, 0.2, 0.3, 1}
	if len(got) != len(want) {
		t.Fatalf("Samples() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Samples()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestParseClientMessageAudioBadIndex(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"audio","audio":[{"x":0.3}]}`)); err == nil {
		t.Fatalf("ParseClientMessage() error = nil, want error")
	}
}

func TestParseClientMessageSessionEnd(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"audioSessionEnd"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if _, ok := msg.(ClientAudioSessionEnd); !ok {
		t.Fatalf("message type = %T, want ClientAudioSessionEnd", msg)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if _, err := ParseClientMessage([]byte(`not json`)); err == nil {
		t.Fatalf("ParseClientMessage(garbage) error = nil")
	}
}

func TestOutboundWireShapes(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prev := now
	now = func() time.Time { return fixed }
	defer func() { now = prev }()

	tests := []struct {
		name string
		msg  any
		want string
	}{
		{
			name: "text",
			msg:  NewText("hi", "i1", "u1", AgentSource("Ada")),
			want: `{"type":"TEXT","text":{"text":"hi","final":true},"date":"2026-01-02T03:04:05Z","packetId":{"utteranceId":"u1","interactionId":"i1"},"routing":{"source":{"isAgent":true,"isUser":false,"name":"Ada"}}}`,
		},
		{
			name: "audio",
			msg:  NewAudio("UklGRg==", "i1", "u1"),
			want: `{"type":"AUDIO","audio":{"chunk":"UklGRg=="},"date":"2026-01-02T03:04:05Z","packetId":{"utteranceId":"u1","interactionId":"i1"},"routing":{"source":{"isAgent":true,"isUser":false}}}`,
		},
		{
			name: "error",
			msg:  NewError(errors.New("boom"), "i1"),
			want: `{"type":"ERROR","error":"boom","date":"2026-01-02T03:04:05Z","packetId":{"interactionId":"i1"}}`,
		},
		{
			name: "interaction end",
			msg:  NewInteractionEnd("i1"),
			want: `{"type":"INTERACTION_END","date":"2026-01-02T03:04:05Z","packetId":{"interactionId":"i1"}}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(raw) != tt.want {
				t.Fatalf("wire = %s\nwant %s", raw, tt.want)
			}
			if InteractionID(tt.msg) != "i1" {
				t.Fatalf("InteractionID() = %q, want i1", InteractionID(tt.msg))
			}
		})
	}
}

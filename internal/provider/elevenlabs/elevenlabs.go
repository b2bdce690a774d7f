// Package elevenlabs provides a Synthesizer backed by the ElevenLabs
// stream-input WebSocket API.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/ent0n29/cadence/internal/audio"
	"github.com/ent0n29/cadence/internal/provider"
)

const (
	defaultEndpoint = "wss://api.elevenlabs.io"
	defaultModel    = "eleven_flash_v2_5"
	outputFormat    = "pcm_16000"
	outputRate      = 16000
)

// Synthesizer implements provider.Synthesizer.
type Synthesizer struct {
	apiKey   string
	model    string
	endpoint string
}

// Option configures a Synthesizer.
type Option func(*Synthesizer)

// WithModel sets the ElevenLabs model id.
func WithModel(model string) Option {
	return func(s *Synthesizer) {
		if model != "" {
			s.model = model
		}
	}
}

// WithEndpoint overrides the websocket origin, e.g. "ws://127.0.0.1:9000".
func WithEndpoint(endpoint string) Option {
	return func(s *Synthesizer) { s.endpoint = strings.TrimRight(endpoint, "/") }
}

// New builds a Synthesizer. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Synthesizer, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	s := &Synthesizer{apiKey: apiKey, model: defaultModel, endpoint: defaultEndpoint}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type initMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

type textMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Synthesizer) streamURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", s.model)
	q.Set("output_format", outputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s", s.endpoint, url.PathEscape(voiceID), q.Encode())
}

// Synthesize implements provider.Synthesizer. The socket is opened on the
// first pull; the first yielded chunk carries text, later chunks carry only
// audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceID string) (iter.Seq2[provider.SpeechChunk, error], error) {
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return func(func(provider.SpeechChunk, error) bool) {}, nil
	}

	return func(yield func(provider.SpeechChunk, error) bool) {
		conn, _, err := websocket.Dial(ctx, s.streamURL(voiceID), nil)
		if err != nil {
			yield(provider.SpeechChunk{}, fmt.Errorf("elevenlabs: dial: %w", err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		for _, msg := range []any{
			initMessage{Text: " ", VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}, XiAPIKey: s.apiKey},
			textMessage{Text: text + " ", TryTriggerGeneration: true},
			textMessage{Text: ""},
		} {
			payload, _ := json.Marshal(msg)
			if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
				yield(provider.SpeechChunk{}, fmt.Errorf("elevenlabs: write: %w", err))
				return
			}
		}

		first := true
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
					return
				}
				yield(provider.SpeechChunk{}, fmt.Errorf("elevenlabs: read: %w", err))
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			if resp.Error != "" {
				yield(provider.SpeechChunk{}, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message))
				return
			}
			if resp.Audio != "" {
				pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err != nil {
					continue
				}
				chunk := provider.SpeechChunk{Audio: audio.PCM16ToFloat(pcm), SampleRate: outputRate}
				if first {
					chunk.Text = text
					first = false
				}
				if !yield(chunk, nil) {
					return
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}, nil
}

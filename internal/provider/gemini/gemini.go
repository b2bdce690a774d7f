// Package gemini provides a Generator backed by the Google Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/ent0n29/cadence/internal/provider"
)

const DefaultModel = "gemini-2.5-flash"

// Generator implements provider.Generator.
type Generator struct {
	client *genai.Client
	model  string
}

// New builds a Generator. An empty model selects DefaultModel.
func New(ctx context.Context, apiKey, model string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Generator{client: gc, model: model}, nil
}

func (g *Generator) Name() string { return "gemini" }

// Generate implements provider.Generator.
func (g *Generator) Generate(ctx context.Context, messages []provider.Message, cfg provider.GenerationConfig) (iter.Seq2[string, error], error) {
	contents, system := convertMessages(messages)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no messages")
	}
	config := buildConfig(system, cfg)

	return func(yield func(string, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
			if err != nil {
				yield("", fmt.Errorf("gemini: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}, nil
}

func buildConfig(system string, cfg provider.GenerationConfig) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if cfg.MaxNewTokens > 0 {
		config.MaxOutputTokens = int32(cfg.MaxNewTokens)
	}
	if cfg.Temperature > 0 {
		temp := float32(cfg.Temperature)
		config.Temperature = &temp
	}
	if cfg.TopP > 0 {
		topP := float32(cfg.TopP)
		config.TopP = &topP
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	return config
}

// convertMessages maps chat turns to genai contents. System turns are joined
// into the system instruction.
func convertMessages(msgs []provider.Message) ([]*genai.Content, string) {
	var (
		contents []*genai.Content
		system   string
	)
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
		case provider.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}
	return contents, system
}

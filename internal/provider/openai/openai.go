// Package openai provides a Generator backed by the OpenAI chat completions
// API, or any server that speaks it.
package openai

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/ent0n29/cadence/internal/provider"
)

const DefaultModel = "gpt-4o-mini"

// Generator implements provider.Generator.
type Generator struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL string
	timeout time.Duration
}

// Option configures a Generator.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New builds a Generator. An empty model selects DefaultModel.
func New(apiKey, model string, opts ...Option) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Generator{client: oai.NewClient(reqOpts...), model: model}, nil
}

func (g *Generator) Name() string { return "openai" }

// Generate implements provider.Generator. The request is sent on the first
// pull of the returned sequence.
func (g *Generator) Generate(ctx context.Context, messages []provider.Message, cfg provider.GenerationConfig) (iter.Seq2[string, error], error) {
	params, err := g.buildParams(messages, cfg)
	if err != nil {
		return nil, err
	}
	return func(yield func(string, error) bool) {
		stream := g.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("openai: stream: %w", err))
		}
	}, nil
}

func (g *Generator) buildParams(messages []provider.Message, cfg provider.GenerationConfig) (oai.ChatCompletionNewParams, error) {
	if len(messages) == 0 {
		return oai.ChatCompletionNewParams{}, errors.New("openai: no messages")
	}
	converted := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		converted = append(converted, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(g.model),
		Messages: converted,
	}
	if cfg.Temperature > 0 {
		params.Temperature = param.NewOpt(cfg.Temperature)
	}
	if cfg.TopP > 0 {
		params.TopP = param.NewOpt(cfg.TopP)
	}
	if cfg.MaxNewTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(cfg.MaxNewTokens))
	}
	return params, nil
}

func convertMessage(m provider.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case provider.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case provider.RoleUser:
		return oai.UserMessage(m.Content), nil
	case provider.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ent0n29/cadence/internal/config"
	"github.com/ent0n29/cadence/internal/provider"
	"github.com/ent0n29/cadence/internal/provider/elevenlabs"
	"github.com/ent0n29/cadence/internal/provider/gemini"
	"github.com/ent0n29/cadence/internal/provider/mock"
	"github.com/ent0n29/cadence/internal/provider/openai"
	"github.com/ent0n29/cadence/internal/provider/whisper"
)

type providerSetup struct {
	generator   provider.Generator
	synthesizer provider.Synthesizer
	recognizer  provider.Recognizer
}

// resolveProviders picks one engine per stage. An explicit provider without
// its credentials is an error; auto falls back to the mock engine.
func resolveProviders(ctx context.Context, cfg config.Config) (providerSetup, error) {
	var (
		setup providerSetup
		err   error
	)
	if setup.generator, err = resolveGenerator(ctx, cfg); err != nil {
		return providerSetup{}, err
	}
	if setup.synthesizer, err = resolveSynthesizer(cfg); err != nil {
		return providerSetup{}, err
	}
	if setup.recognizer, err = resolveRecognizer(cfg); err != nil {
		return providerSetup{}, err
	}
	return setup, nil
}

func mode(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return config.ProviderAuto
	}
	return v
}

func resolveGenerator(ctx context.Context, cfg config.Config) (provider.Generator, error) {
	newOpenAI := func() (provider.Generator, error) {
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		return openai.New(cfg.OpenAIAPIKey, cfg.LLMModel, opts...)
	}
	newGemini := func() (provider.Generator, error) {
		return gemini.New(ctx, cfg.GeminiAPIKey, cfg.LLMModel)
	}

	switch m := mode(cfg.LLMProvider); m {
	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		return newOpenAI()
	case config.ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("LLM_PROVIDER=gemini but GEMINI_API_KEY is not set")
		}
		return newGemini()
	case config.ProviderMock:
		return mock.NewGenerator(), nil
	case config.ProviderAuto:
		if cfg.OpenAIAPIKey != "" && cfg.GeminiAPIKey != "" {
			primary, err := newOpenAI()
			if err != nil {
				return nil, err
			}
			fallback, err := newGemini()
			if err != nil {
				return nil, err
			}
			return provider.NewFailover(primary, fallback), nil
		}
		if cfg.OpenAIAPIKey != "" {
			return newOpenAI()
		}
		if cfg.GeminiAPIKey != "" {
			return newGemini()
		}
		slog.Warn("no language model credentials, using mock generator")
		return mock.NewGenerator(), nil
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|openai|gemini|mock)", m)
	}
}

func resolveSynthesizer(cfg config.Config) (provider.Synthesizer, error) {
	newElevenLabs := func() (provider.Synthesizer, error) {
		var opts []elevenlabs.Option
		if cfg.ElevenLabsModel != "" {
			opts = append(opts, elevenlabs.WithModel(cfg.ElevenLabsModel))
		}
		if cfg.ElevenLabsEndpoint != "" {
			opts = append(opts, elevenlabs.WithEndpoint(cfg.ElevenLabsEndpoint))
		}
		return elevenlabs.New(cfg.ElevenLabsAPIKey, opts...)
	}

	switch m := mode(cfg.TTSProvider); m {
	case config.ProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return nil, fmt.Errorf("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return newElevenLabs()
	case config.ProviderMock:
		return mock.NewSynthesizer(), nil
	case config.ProviderAuto:
		if cfg.ElevenLabsAPIKey != "" {
			return newElevenLabs()
		}
		slog.Warn("no speech synthesis credentials, using mock synthesizer")
		return mock.NewSynthesizer(), nil
	default:
		return nil, fmt.Errorf("invalid TTS_PROVIDER: %q (expected auto|elevenlabs|mock)", m)
	}
}

func resolveRecognizer(cfg config.Config) (provider.Recognizer, error) {
	newWhisper := func() (provider.Recognizer, error) {
		opts := []whisper.Option{whisper.WithMaxAttempts(cfg.WhisperMaxAttempts)}
		if cfg.WhisperLanguage != "" {
			opts = append(opts, whisper.WithLanguage(cfg.WhisperLanguage))
		}
		return whisper.New(cfg.WhisperServerURL, opts...)
	}

	switch m := mode(cfg.STTProvider); m {
	case config.ProviderWhisper:
		if cfg.WhisperServerURL == "" {
			return nil, fmt.Errorf("STT_PROVIDER=whisper but WHISPER_SERVER_URL is not set")
		}
		return newWhisper()
	case config.ProviderMock:
		return mock.NewRecognizer(), nil
	case config.ProviderAuto:
		if cfg.WhisperServerURL != "" {
			return newWhisper()
		}
		slog.Warn("no speech recognition server, using mock recognizer")
		return mock.NewRecognizer(), nil
	default:
		return nil, fmt.Errorf("invalid STT_PROVIDER: %q (expected auto|whisper|mock)", m)
	}
}

// Package app wires configuration into a running server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ent0n29/cadence/internal/config"
	"github.com/ent0n29/cadence/internal/graph"
	"github.com/ent0n29/cadence/internal/httpapi"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/orchestrator"
	"github.com/ent0n29/cadence/internal/pipeline"
	"github.com/ent0n29/cadence/internal/policy"
	"github.com/ent0n29/cadence/internal/prompt"
	"github.com/ent0n29/cadence/internal/provider"
	"github.com/ent0n29/cadence/internal/session"
	"github.com/ent0n29/cadence/internal/transcript"
	"github.com/ent0n29/cadence/internal/vad"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator
	Metrics      *observability.Metrics
	Graphs       []*graph.Graph
	Providers    httpapi.Providers

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

// Build assembles the server. The prompt watcher runs until ctx is done or
// Cleanup is called.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace, nil)
	return build(ctx, cfg, metrics)
}

func build(ctx context.Context, cfg config.Config, metrics *observability.Metrics) (*BuildResult, error) {
	renderer := prompt.NewDefault()
	if cfg.PromptTemplatePath != "" {
		r, err := prompt.Load(cfg.PromptTemplatePath)
		if err != nil {
			return nil, fmt.Errorf("prompt template: %w", err)
		}
		renderer = r
	}

	var opts []httpapi.Option
	if cfg.CharacterFile != "" {
		agent, err := config.LoadCharacter(cfg.CharacterFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, httpapi.WithDefaultAgent(agent))
	}

	providers, err := resolveProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}
	if cfg.RedactTranscripts {
		store = transcript.WithRedaction(store, policy.RedactPII)
	}

	sessions := session.NewManager()
	deps := pipeline.Deps{
		Sessions:    sessions,
		Prompt:      renderer,
		Generator:   providers.generator,
		Synthesizer: providers.synthesizer,
		Recognizer:  providers.recognizer,
		VoiceID:     cfg.VoiceID,
		Generation: provider.GenerationConfig{
			MaxNewTokens: cfg.MaxNewTokens,
			Temperature:  cfg.Temperature,
			TopP:         cfg.TopP,
		},
	}
	textGraph, err := pipeline.BuildTextGraph(deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	audioGraph, err := pipeline.BuildAudioGraph(deps)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	graphs := []*graph.Graph{textGraph, audioGraph}
	if cfg.GraphVisualization {
		for _, g := range graphs {
			path, err := writeDOT(os.TempDir(), g)
			if err != nil {
				slog.Warn("graph visualization failed", "graph", g.Name(), "error", err)
				continue
			}
			slog.Info("graph visualization written", "graph", g.Name(), "path", path)
		}
	}

	orch, err := orchestrator.New(sessions, textGraph, audioGraph, vad.NewEnergyDetector(cfg.VADEnergyThreshold),
		orchestrator.Config{
			SampleRate:               cfg.SampleRate,
			FramePerBuffer:           cfg.FramePerBuffer,
			PauseThreshold:           cfg.PauseThreshold,
			InteractionEndAfterError: cfg.InteractionEndAfterError,
			SendTimeout:              orchestrator.DefaultConfig().SendTimeout,
		},
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTranscripts(store),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	names := httpapi.Providers{
		LLM:        provider.NameOf(providers.generator),
		TTS:        provider.NameOf(providers.synthesizer),
		STT:        provider.NameOf(providers.recognizer),
		Transcript: transcript.Backend(cfg.DatabaseURL),
	}
	opts = append(opts,
		httpapi.WithGraphs(graphs...),
		httpapi.WithTranscripts(store),
		httpapi.WithProviders(names),
	)
	api := httpapi.New(cfg, sessions, orch, metrics, opts...)

	watchCtx, stopWatch := context.WithCancel(ctx)
	go func() {
		if err := renderer.Watch(watchCtx); err != nil {
			slog.Warn("prompt watcher stopped", "error", err)
		}
	}()

	cleanup := func() error {
		stopWatch()
		return errors.Join(orch.Shutdown(), store.Close())
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Orchestrator: orch,
		Metrics:      metrics,
		Graphs:       graphs,
		Providers:    names,
		Cleanup:      cleanup,
	}, nil
}

func writeDOT(dir string, g *graph.Graph) (string, error) {
	path := filepath.Join(dir, "cadence-"+g.Name()+".dot")
	if err := os.WriteFile(path, []byte(g.DOT()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

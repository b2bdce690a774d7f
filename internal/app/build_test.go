package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ent0n29/cadence/internal/config"
	"github.com/ent0n29/cadence/internal/observability"
	"github.com/ent0n29/cadence/internal/provider"
)

func TestResolveProvidersAutoFallsBackToMock(t *testing.T) {
	setup, err := resolveProviders(context.Background(), config.Config{})
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	for name, p := range map[string]any{"llm": setup.generator, "tts": setup.synthesizer, "stt": setup.recognizer} {
		if p == nil {
			t.Fatalf("%s provider is nil", name)
		}
	}
}

func TestResolveProvidersExplicitWithoutCredentials(t *testing.T) {
	cases := []config.Config{
		{LLMProvider: config.ProviderOpenAI},
		{LLMProvider: config.ProviderGemini},
		{TTSProvider: config.ProviderElevenLabs},
		{STTProvider: config.ProviderWhisper},
		{LLMProvider: "bogus"},
	}
	for _, cfg := range cases {
		if _, err := resolveProviders(context.Background(), cfg); err == nil {
			t.Fatalf("resolveProviders(%+v) error = nil, want error", cfg)
		}
	}
}

func TestResolveProvidersPicksConfiguredEngines(t *testing.T) {
	setup, err := resolveProviders(context.Background(), config.Config{
		OpenAIAPIKey:     "sk-test",
		ElevenLabsAPIKey: "el-test",
		WhisperServerURL: "http://127.0.0.1:8080",
	})
	if err != nil {
		t.Fatalf("resolveProviders() error = %v", err)
	}
	if got := setup.generator.(interface{ Name() string }).Name(); got != "openai" {
		t.Fatalf("generator = %q, want openai", got)
	}
	if got := setup.synthesizer.(interface{ Name() string }).Name(); got != "elevenlabs" {
		t.Fatalf("synthesizer = %q, want elevenlabs", got)
	}
	if got := setup.recognizer.(interface{ Name() string }).Name(); got != "whisper" {
		t.Fatalf("recognizer = %q, want whisper", got)
	}
}

func TestResolveGeneratorFailsOverWithBothKeys(t *testing.T) {
	g, err := resolveGenerator(context.Background(), config.Config{OpenAIAPIKey: "sk-test", GeminiAPIKey: "gm-test"})
	if err != nil {
		t.Fatalf("resolveGenerator() error = %v", err)
	}
	if got := provider.NameOf(g); got != "openai+gemini" {
		t.Fatalf("generator = %q, want openai+gemini", got)
	}
}

func TestBuildWiresServer(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         "test",
		SampleRate:               16000,
		FramePerBuffer:           1024,
		PauseThreshold:           time.Second,
		VADEnergyThreshold:       0.02,
		MaxNewTokens:             500,
		InteractionEndAfterError: true,
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := build(ctx, cfg, observability.NewMetrics("test", prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer res.Cleanup()

	if len(res.Graphs) != 2 {
		t.Fatalf("graphs = %d, want 2", len(res.Graphs))
	}
	if res.Providers.LLM != "mock" || res.Providers.Transcript != "memory" {
		t.Fatalf("providers = %+v", res.Providers)
	}
	if res.API == nil || res.API.Router() == nil {
		t.Fatalf("API not built")
	}
}

func TestWriteDOT(t *testing.T) {
	ctx := context.Background()
	res, err := build(ctx, config.Config{MetricsNamespace: "test", FramePerBuffer: 1, PauseThreshold: time.Second, VADEnergyThreshold: 0.02},
		observability.NewMetrics("test", prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer res.Cleanup()

	dir := t.TempDir()
	path, err := writeDOT(dir, res.Graphs[0])
	if err != nil {
		t.Fatalf("writeDOT() error = %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("path = %q, want inside %q", path, dir)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.HasPrefix(string(raw), "digraph") {
		t.Fatalf("DOT = %q", raw)
	}
}
